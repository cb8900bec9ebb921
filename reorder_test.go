package reorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost records what a policy asks of its processor
type fakeHost struct {
	now     int64
	resched int

	armed bool
	delay int64
	fire  func()
}

func (fh *fakeHost) ID() int      { return 0 }
func (fh *fakeHost) Now() int64   { return fh.now }
func (fh *fakeHost) Resched()     { fh.resched += 1 }
func (fh *fakeHost) CancelTimer() { fh.armed = false; fh.fire = nil }

func (fh *fakeHost) ArmTimer(delay int64, fire func()) {
	fh.armed = true
	fh.delay = delay
	fh.fire = fire
}

// seqSource replays fixed samples, cycling
type seqSource struct {
	vals []float64
	idx  int
}

func (ss *seqSource) RandU01() float64 {
	v := ss.vals[ss.idx%len(ss.vals)]
	ss.idx += 1
	return v
}

// threeTasks has slacks 3, 5 and 3
func threeTasks() []*Task {
	return mkTasks([3]int64{1, 10, 10}, [3]int64{2, 20, 20}, [3]int64{2, 5, 5})
}

// activateAll releases one job of every task at time 0, in id order
func activateAll(t *testing.T, ro *Reorder, tasks []*Task) []*Job {
	jobs := []*Job{}
	for _, task := range tasks {
		job := createJob(task, 0, 0, task.Deadline, task.WCET)
		ro.OnActivate(job)
		jobs = append(jobs, job)
	}
	return jobs
}

func TestCreateReorderRejects(t *testing.T) {
	host := &fakeHost{}
	_, err := CreateReorder(host, mkTasks([3]int64{2, 5, 5}, [3]int64{4, 10, 10}, [3]int64{8, 20, 20}), 1, &seqSource{vals: []float64{0}})
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = CreateReorder(host, threeTasks(), 0, &seqSource{vals: []float64{0}})
	assert.Error(t, err)
}

func TestReorderInitialBudgets(t *testing.T) {
	host := &fakeHost{}
	ro, err := CreateReorder(host, threeTasks(), 10, &seqSource{vals: []float64{0}})
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{1: 7, 2: 15, 3: 2}, ro.WCRT())

	activateAll(t, ro, threeTasks())
	for id, want := range map[int]int64{1: 30, 2: 50, 3: 30} {
		rib, present := ro.RIB(id)
		require.True(t, present)
		assert.Equal(t, want, rib, "task %d", id)
	}

	// re-evaluation requests are merged until the scheduling point
	assert.Equal(t, 1, host.resched)
}

func TestReorderInversionArmsTimer(t *testing.T) {
	host := &fakeHost{}
	tasks := threeTasks()
	// candidates are taken in deadline order, the last one has deadline 20
	ro, err := CreateReorder(host, tasks, 1, &seqSource{vals: []float64{0.9}})
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	selected := ro.Schedule()
	require.Equal(t, jobs[1], selected)
	require.True(t, host.armed)
	assert.Equal(t, int64(3), host.delay)

	// the timer fires when the smallest earlier-deadline budget is spent
	host.now = 3
	host.fire()
	assert.Equal(t, 2, host.resched)

	selected = ro.Schedule()
	rib1, _ := ro.RIB(1)
	rib3, _ := ro.RIB(3)
	assert.Equal(t, int64(0), rib1)
	assert.Equal(t, int64(0), rib3)
	rib2, _ := ro.RIB(2)
	assert.Equal(t, int64(5), rib2)

	// hp has no budget left and must run
	assert.Equal(t, jobs[2], selected)
	assert.False(t, host.armed)
}

func TestReorderNoTimerWithoutInversion(t *testing.T) {
	host := &fakeHost{}
	tasks := threeTasks()
	ro, err := CreateReorder(host, tasks, 1, &seqSource{vals: []float64{0.1}})
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	assert.Equal(t, jobs[2], ro.Schedule())
	assert.False(t, host.armed)
}

func TestReorderExhaustedJobBoundsCandidates(t *testing.T) {
	host := &fakeHost{}
	tasks := threeTasks()
	ro, err := CreateReorder(host, tasks, 1, NewSeededSource(7))
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	// task 1 (deadline 10) can not be inverted: nothing with a later deadline may run
	ro.state[1].rib = 0
	seen := map[*Job]int{}
	for range 200 {
		selected := ro.Schedule()
		seen[selected] += 1
		if selected == jobs[0] {
			assert.True(t, host.armed)
			assert.Equal(t, int64(3), host.delay)
		}
	}
	assert.Zero(t, seen[jobs[1]])
	assert.Positive(t, seen[jobs[0]])
	assert.Positive(t, seen[jobs[2]])
}

func TestReorderTerminated(t *testing.T) {
	host := &fakeHost{}
	tasks := threeTasks()
	ro, err := CreateReorder(host, tasks, 1, &seqSource{vals: []float64{0.1}})
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	require.Equal(t, jobs[2], ro.Schedule())
	host.now = 2
	jobs[2].state = JobCompleted
	ro.OnTerminated(jobs[2])

	_, present := ro.RIB(3)
	assert.False(t, present)

	// the deadline 5 job ran [0,2) and charges nobody, budgets of later tasks are intact
	next := ro.Schedule()
	require.NotNil(t, next)
	assert.NotEqual(t, jobs[2], next)
	rib1, _ := ro.RIB(1)
	assert.Equal(t, int64(3), rib1)

	host.now = 4
	for _, job := range jobs[:2] {
		job.state = JobCompleted
		ro.OnTerminated(job)
	}
	assert.Nil(t, ro.Schedule())
}

func TestReorderTiesAreNotInversions(t *testing.T) {
	host := &fakeHost{}
	tasks := mkTasks([3]int64{1, 10, 10}, [3]int64{1, 10, 10})
	ro, err := CreateReorder(host, tasks, 1, &seqSource{vals: []float64{0.9}})
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	assert.Equal(t, jobs[1], ro.Schedule())
	assert.False(t, host.armed)

	host.now = 1
	jobs[1].state = JobCompleted
	ro.OnTerminated(jobs[1])
	assert.Equal(t, jobs[0], ro.Schedule())
	rib1, _ := ro.RIB(1)
	wcrt := ro.WCRT()
	assert.Equal(t, tasks[0].Deadline-wcrt[1], rib1)
}

func TestReorderChargeViolationPanics(t *testing.T) {
	host := &fakeHost{}
	tasks := threeTasks()
	ro, err := CreateReorder(host, tasks, 1, &seqSource{vals: []float64{0.9}})
	require.NoError(t, err)
	jobs := activateAll(t, ro, tasks)

	require.Equal(t, jobs[1], ro.Schedule())

	// the host ignored the timer and let the inversion run past the budget
	host.now = 4
	assert.Panics(t, func() { ro.Schedule() })
}

func TestEDFPolicy(t *testing.T) {
	host := &fakeHost{}
	edf := CreateEDF(host)
	tasks := threeTasks()
	jobs := []*Job{}
	for _, task := range tasks {
		job := createJob(task, 0, 0, task.Deadline, task.WCET)
		edf.OnActivate(job)
		jobs = append(jobs, job)
	}
	assert.Equal(t, 3, host.resched)
	assert.Equal(t, jobs[2], edf.Schedule())

	jobs[2].state = JobCompleted
	edf.OnTerminated(jobs[2])
	assert.Equal(t, jobs[0], edf.Schedule())
	assert.False(t, host.armed)
}

func TestCreatePolicyFactory(t *testing.T) {
	for _, name := range []string{"edf", "EDF", "reorder", "REORDER"} {
		factory, err := CreatePolicyFactory(name, 1, 3, "test")
		require.NoError(t, err)
		policy, err := factory(&fakeHost{}, threeTasks())
		require.NoError(t, err)
		assert.NotNil(t, policy)
	}
	_, err := CreatePolicyFactory("llf", 1, 3, "test")
	assert.Error(t, err)
}
