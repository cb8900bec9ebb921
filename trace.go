package reorder

// trace.go gathers the run/stop events of every processor during a simulation
// and turns them, after the run, into execution intervals and into the
// hyperperiod occupancy grid the entropy metric reads.

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

var (
	// ErrNoData marks a run in which every processor stayed idle
	ErrNoData = errors.New("no usable trace data")

	// ErrIntervalTooLong marks an execution interval longer than a hyperperiod
	ErrIntervalTooLong = errors.New("execution interval longer than hyperperiod")
)

// ProcEventKind names what happened on a processor
type ProcEventKind string

const (
	RunEvent  ProcEventKind = "run"  // a job of the task was dispatched
	StopEvent ProcEventKind = "stop" // the running job was preempted, finished or aborted
)

// ProcEvent is one entry of a processor's monitor, time in ticks
type ProcEvent struct {
	Time   int64         `json:"time" yaml:"time"`
	Kind   ProcEventKind `json:"kind" yaml:"kind"`
	TaskID int           `json:"taskid" yaml:"taskid"`
}

// TraceManager gathers the processor events of one simulation run
type TraceManager struct {
	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// ticks per time unit of the run
	TicksPerUnit int64 `json:"ticksperunit" yaml:"ticksperunit"`

	// time the run ended, in ticks
	End int64 `json:"end" yaml:"end"`

	// number of processors, events are kept for ids 0..Processors-1
	Processors int `json:"processors" yaml:"processors"`

	// text name associated with each task id
	NameByID map[int]string `json:"namebyid" yaml:"namebyid"`

	// chronological events, by processor id
	Events map[int][]ProcEvent `json:"events" yaml:"events"`
}

// CreateTraceManager is a constructor
func CreateTraceManager(expName string, processors int, ticksPerUnit int64) *TraceManager {
	tm := new(TraceManager)
	tm.ExpName = expName
	tm.Processors = processors
	tm.TicksPerUnit = ticksPerUnit
	tm.NameByID = make(map[int]string)
	tm.Events = make(map[int][]ProcEvent)
	for idx := 0; idx < processors; idx++ {
		tm.Events[idx] = make([]ProcEvent, 0)
	}
	return tm
}

// AddEvent appends an event to the log of processor proc
func (tm *TraceManager) AddEvent(proc int, kind ProcEventKind, time int64, taskID int) {
	tm.Events[proc] = append(tm.Events[proc], ProcEvent{Time: time, Kind: kind, TaskID: taskID})
}

// AddName is used to add an element to the id -> name dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string) {
	_, present := tm.NameByID[id]
	if present {
		panic(fmt.Errorf("duplicated id %d in AddName", id))
	}
	tm.NameByID[id] = name
}

// WriteToFile stores the TraceManager struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) error {
	return writeDesc(filename, tm)
}

// ReadTraceManager deserializes a trace.  If dict is empty the bytes are read from filename
func ReadTraceManager(filename string, useYAML bool, dict []byte) (*TraceManager, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TraceManager{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// Intervals reconstructs the execution intervals of every processor, in time units
func (tm *TraceManager) Intervals() ([][]Interval, error) {
	perProc := make([][]Interval, tm.Processors)
	for idx := 0; idx < tm.Processors; idx++ {
		ivs, err := ExtractIntervals(tm.Events[idx], tm.End, tm.TicksPerUnit)
		if err != nil {
			return nil, fmt.Errorf("processor %d: %w", idx, err)
		}
		perProc[idx] = ivs
	}
	return perProc, nil
}

// Grid extracts the intervals and folds them into k hyperperiods of hpLen slots
func (tm *TraceManager) Grid(hpLen int64, k int) (Grid, error) {
	perProc, err := tm.Intervals()
	if err != nil {
		return nil, err
	}
	return FoldHyperperiods(perProc, hpLen, k)
}

// Interval is a stretch of time [Start, End) during which TaskID ran, in time units
type Interval struct {
	Start  int64 `json:"start" yaml:"start"`
	End    int64 `json:"end" yaml:"end"`
	TaskID int   `json:"taskid" yaml:"taskid"`
}

// ExtractIntervals pairs every run event with the stop event that follows it.
// A run still open at the end of the log is closed at end.  Ticks are converted
// to time units by truncation, and intervals that vanish under the conversion are dropped
func ExtractIntervals(events []ProcEvent, end, ticksPerUnit int64) ([]Interval, error) {
	if ticksPerUnit < 1 {
		ticksPerUnit = 1
	}
	intervals := []Interval{}
	open := false
	var start int64
	var taskID int

	closeAt := func(t int64) {
		iv := Interval{Start: start / ticksPerUnit, End: t / ticksPerUnit, TaskID: taskID}
		if iv.End > iv.Start {
			intervals = append(intervals, iv)
		}
		open = false
	}

	for _, evt := range events {
		switch evt.Kind {
		case RunEvent:
			if open {
				return nil, fmt.Errorf("task %d dispatched at %d while task %d runs", evt.TaskID, evt.Time, taskID)
			}
			open = true
			start = evt.Time
			taskID = evt.TaskID
		case StopEvent:
			if open {
				closeAt(evt.Time)
			}
		}
	}
	if open {
		closeAt(end)
	}
	return intervals, nil
}

// Grid holds, by processor, hyperperiod and slot, the id of the task occupying the slot (0 is idle)
type Grid [][][]int

// FoldHyperperiods writes time-ordered, non-overlapping intervals into hyperperiods
// of hpLen slots.  Every processor gets exactly k hyperperiods, padded with idle ones
// when the trace is short and truncated when it is long.  ErrNoData is returned
// if no processor ran anything
func FoldHyperperiods(perProc [][]Interval, hpLen int64, k int) (Grid, error) {
	if hpLen < 1 || k < 1 {
		return nil, fmt.Errorf("hyperperiod length %d and count %d must be positive", hpLen, k)
	}
	grid := make(Grid, len(perProc))
	busy := false

	for proc, intervals := range perProc {
		hps := [][]int{}
		var boundary int64
		for _, iv := range intervals {
			if iv.End-iv.Start > hpLen {
				return nil, fmt.Errorf("%w: [%d,%d) of task %d on processor %d",
					ErrIntervalTooLong, iv.Start, iv.End, iv.TaskID, proc)
			}
			for iv.Start >= boundary {
				hps = append(hps, make([]int, hpLen))
				boundary += hpLen
			}
			for t := iv.Start; t < min(iv.End, boundary); t++ {
				hps[len(hps)-1][t%hpLen] = iv.TaskID
			}
			// the interval crosses into the next hyperperiod
			if iv.End > boundary {
				hps = append(hps, make([]int, hpLen))
				for t := boundary; t < iv.End; t++ {
					hps[len(hps)-1][t%hpLen] = iv.TaskID
				}
				boundary += hpLen
			}
			if iv.TaskID != 0 && iv.End > iv.Start {
				busy = true
			}
		}

		if len(hps) > k {
			hps = hps[:k]
		}
		for len(hps) < k {
			hps = append(hps, make([]int, hpLen))
		}
		grid[proc] = hps
	}

	if !busy || grid.idle() {
		return nil, ErrNoData
	}
	return grid, nil
}

// idle is true if no slot of any processor is occupied
func (g Grid) idle() bool {
	for proc := range g {
		if g.procBusy(proc) {
			return false
		}
	}
	return true
}

// procBusy is true if some slot of processor proc is occupied
func (g Grid) procBusy(proc int) bool {
	for _, hp := range g[proc] {
		for _, id := range hp {
			if id != 0 {
				return true
			}
		}
	}
	return false
}

// Occupied reads back the occupied stretches of processor proc as maximal intervals
func (g Grid) Occupied(proc int) []Interval {
	intervals := []Interval{}
	var cur *Interval
	var t int64
	for _, hp := range g[proc] {
		for _, id := range hp {
			switch {
			case cur != nil && cur.TaskID == id:
				cur.End = t + 1
			case id == 0:
				cur = nil
			default:
				intervals = append(intervals, Interval{Start: t, End: t + 1, TaskID: id})
				cur = &intervals[len(intervals)-1]
			}
			t++
		}
	}
	return intervals
}

// writeDesc serializes desc to filename as yaml or json, selected by the extension
func writeDesc(filename string, desc any) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error

	switch pathExt {
	case ".yaml", ".YAML", ".yml":
		bytes, merr = yaml.Marshal(desc)
	case ".json", ".JSON":
		bytes, merr = json.MarshalIndent(desc, "", "\t")
	default:
		return fmt.Errorf("cannot infer serialization of %s from its extension", filename)
	}
	if merr != nil {
		return merr
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	_, werr := f.Write(bytes)
	if werr != nil {
		f.Close()
		return werr
	}
	return f.Close()
}
