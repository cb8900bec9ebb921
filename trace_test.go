package reorder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventsOf turns intervals in ticks into a run/stop log
func eventsOf(intervals ...Interval) []ProcEvent {
	events := []ProcEvent{}
	for _, iv := range intervals {
		events = append(events,
			ProcEvent{Time: iv.Start, Kind: RunEvent, TaskID: iv.TaskID},
			ProcEvent{Time: iv.End, Kind: StopEvent, TaskID: iv.TaskID})
	}
	return events
}

func TestExtractIntervals(t *testing.T) {
	events := eventsOf(Interval{0, 20, 1}, Interval{20, 25, 2}, Interval{31, 38, 1})
	events = append(events, ProcEvent{Time: 40, Kind: RunEvent, TaskID: 3})

	// ticks are truncated to units of 10, the open run closes at the end
	intervals, err := ExtractIntervals(events, 57, 10)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{0, 2, 1}, {4, 5, 3}}, intervals)
}

func TestExtractIntervalsStrayStop(t *testing.T) {
	events := []ProcEvent{
		{Time: 0, Kind: StopEvent, TaskID: 1},
		{Time: 1, Kind: RunEvent, TaskID: 2},
		{Time: 3, Kind: StopEvent, TaskID: 2},
		{Time: 3, Kind: StopEvent, TaskID: 2},
	}
	intervals, err := ExtractIntervals(events, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, []Interval{{1, 3, 2}}, intervals)

	_, err = ExtractIntervals(append(eventsOf(), ProcEvent{0, RunEvent, 1}, ProcEvent{1, RunEvent, 2}), 10, 1)
	assert.Error(t, err)
}

func TestFoldSplitsAtBoundary(t *testing.T) {
	grid, err := FoldHyperperiods([][]Interval{{{Start: 3, End: 7, TaskID: 1}}}, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, Grid{{{0, 0, 0, 1, 1}, {1, 1, 0, 0, 0}}}, grid)
}

func TestFoldPadsAndTruncates(t *testing.T) {
	grid, err := FoldHyperperiods([][]Interval{{{0, 1, 2}, {12, 14, 1}}}, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, Grid{{
		{2, 0, 0, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 1, 1, 0},
		{0, 0, 0, 0, 0},
	}}, grid)

	grid, err = FoldHyperperiods([][]Interval{{{0, 1, 2}, {12, 14, 1}}}, 5, 1)
	require.NoError(t, err)
	assert.Equal(t, Grid{{{2, 0, 0, 0, 0}}}, grid)
}

func TestFoldErrors(t *testing.T) {
	_, err := FoldHyperperiods([][]Interval{{{0, 6, 1}}}, 5, 2)
	assert.ErrorIs(t, err, ErrIntervalTooLong)

	_, err = FoldHyperperiods([][]Interval{{}, {}}, 5, 2)
	assert.ErrorIs(t, err, ErrNoData)

	// activity past the last hyperperiod kept is no data either
	_, err = FoldHyperperiods([][]Interval{{{11, 12, 1}}}, 5, 2)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGridRoundTrip(t *testing.T) {
	perProc := [][]Interval{
		{{0, 2, 1}, {2, 3, 2}, {4, 9, 3}, {13, 15, 1}},
		{{1, 4, 4}, {8, 12, 2}},
		{},
	}
	grid, err := FoldHyperperiods(perProc, 5, 3)
	require.NoError(t, err)
	for proc, intervals := range perProc {
		assert.Equal(t, intervals, grid.Occupied(proc), "processor %d", proc)
	}

	// folding what was read back changes nothing
	again := make([][]Interval, len(perProc))
	for proc := range perProc {
		again[proc] = grid.Occupied(proc)
	}
	regrid, err := FoldHyperperiods(again, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, grid, regrid)
}

func TestTraceManagerFiles(t *testing.T) {
	tm := CreateTraceManager("trace", 2, 10)
	tm.AddName(1, "alpha")
	tm.AddName(2, "beta")
	assert.Panics(t, func() { tm.AddName(1, "gamma") })
	tm.AddEvent(0, RunEvent, 0, 1)
	tm.AddEvent(0, StopEvent, 25, 1)
	tm.AddEvent(1, RunEvent, 10, 2)
	tm.End = 50

	dir := t.TempDir()
	for _, name := range []string{"trace.yaml", "trace.json"} {
		filename := filepath.Join(dir, name)
		require.NoError(t, tm.WriteToFile(filename))

		read, err := ReadTraceManager(filename, UseYAML(filename), []byte{})
		require.NoError(t, err)
		assert.Equal(t, tm, read)

		perProc, err := read.Intervals()
		require.NoError(t, err)
		assert.Equal(t, [][]Interval{{{0, 2, 1}}, {{1, 5, 2}}}, perProc)

		grid, err := read.Grid(5, 1)
		require.NoError(t, err)
		assert.Equal(t, Grid{{{1, 1, 0, 0, 0}}, {{0, 2, 2, 2, 2}}}, grid)
	}

	assert.Error(t, tm.WriteToFile(filepath.Join(dir, "trace.txt")))
}
