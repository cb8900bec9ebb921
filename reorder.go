package reorder

// reorder.go implements REORDER, a uniprocessor policy that runs jobs in a
// randomized order while keeping the EDF response-time guarantees.
//
// Every active task carries a remaining inversion budget (RIB), initialized at
// activation to (deadline - wcrt) scaled to ticks.  Whenever a job runs, every
// pending task with an earlier deadline is charged for the time it overlapped
// the interval.  At a scheduling point the earliest-deadline job hp must run if its
// budget is spent; otherwise any ready job is eligible up to the first later-deadline
// job whose budget is spent, and one is chosen uniformly at random.  When the choice
// inverts earlier-deadline jobs, a timer bounds the interval by the smallest of their
// budgets so the decision is revisited before any budget goes negative.

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// unbounded stands in for an open end of an interval or window
const unbounded int64 = math.MaxInt64

// taskState is what REORDER tracks per active task
type taskState struct {
	job      *Job
	rib      int64 // remaining inversion budget, ticks
	winStart int64 // release window of the pending job
	winEnd   int64
}

// dispatchRecord describes the last interval a job was dispatched for
type dispatchRecord struct {
	job   *Job
	start int64
	end   int64
	open  bool // end not yet known
}

// Reorder is the inversion-bounded randomized scheduler for one processor
type Reorder struct {
	host  Host
	scale int64 // ticks per time unit
	rs    RandSource

	wcrt  map[int]int64
	ready []*Job
	state map[int]*taskState
	last  *dispatchRecord

	reschedRequested bool
}

// CreateReorder is a constructor.  It checks feasibility of the tasks and runs
// the response-time analysis, so errors here are fatal preconditions for the run
func CreateReorder(host Host, tasks []*Task, scale int64, rs RandSource) (*Reorder, error) {
	if scale < 1 {
		return nil, fmt.Errorf("ticks per time unit must be positive, got %d", scale)
	}
	if err := CheckFeasible(tasks); err != nil {
		return nil, err
	}
	wcrt, err := ComputeWCRT(tasks)
	if err != nil {
		return nil, err
	}

	ro := new(Reorder)
	ro.host = host
	ro.scale = scale
	ro.rs = rs
	ro.wcrt = wcrt
	ro.ready = []*Job{}
	ro.state = make(map[int]*taskState)
	return ro, nil
}

// WCRT exposes the response-time table the budgets are derived from
func (ro *Reorder) WCRT() map[int]int64 {
	return ro.wcrt
}

// RIB reports the remaining inversion budget of an active task
func (ro *Reorder) RIB(taskID int) (int64, bool) {
	ts, present := ro.state[taskID]
	if !present {
		return 0, false
	}
	return ts.rib, true
}

func (ro *Reorder) requestResched() {
	if ro.reschedRequested {
		return
	}
	ro.reschedRequested = true
	ro.host.Resched()
}

func (ro *Reorder) OnActivate(job *Job) {
	task := job.Task
	ro.state[task.ID] = &taskState{
		job:      job,
		rib:      (task.Deadline - ro.wcrt[task.ID]) * ro.scale,
		winStart: ro.host.Now(),
		winEnd:   unbounded,
	}
	ro.ready = append(ro.ready, job)
	ro.requestResched()
}

func (ro *Reorder) OnTerminated(job *Job) {
	now := ro.host.Now()
	if ro.last != nil && ro.last.job == job && ro.last.open {
		ro.last.end = now
		ro.last.open = false
	}

	// the window closes with the job, and the task stops being tracked
	ts, present := ro.state[job.Task.ID]
	if present && ts.job == job {
		ts.winEnd = now
		delete(ro.state, job.Task.ID)
	}
	ro.ready = removeJob(ro.ready, job)
	ro.requestResched()
}

// charge bills the interval of rec to every tracked task with an earlier deadline
func (ro *Reorder) charge(rec *dispatchRecord) {
	for taskID, ts := range ro.state {
		if ts.job.AbsDeadline >= rec.job.AbsDeadline {
			continue
		}
		cost := overlap(ts.winStart, ts.winEnd, rec.start, rec.end)
		if cost <= 0 {
			continue
		}
		ts.rib -= cost
		if ts.rib < 0 {
			panic(fmt.Errorf("inversion budget of task %d driven to %d at time %d by %s",
				taskID, ts.rib, ro.host.Now(), rec.job))
		}
	}
}

// overlap is the length of the intersection of [s1,e1) and [s2,e2)
func overlap(s1, e1, s2, e2 int64) int64 {
	return max(0, min(e1, e2)-max(s1, s2))
}

func (ro *Reorder) rib(job *Job) int64 {
	return ro.state[job.Task.ID].rib
}

// Schedule is the scheduling point
func (ro *Reorder) Schedule() *Job {
	now := ro.host.Now()
	ro.reschedRequested = false
	ro.host.CancelTimer()

	if ro.last != nil {
		if ro.last.open {
			ro.last.end = now
			ro.last.open = false
		}
		ro.charge(ro.last)
		ro.last = nil
	}

	ready := make([]*Job, 0, len(ro.ready))
	for _, job := range ro.ready {
		if job.Active() {
			ready = append(ready, job)
		}
	}
	if len(ready) == 0 {
		return nil
	}

	hp := earliestDeadline(ready)
	selected := hp

	if ro.rib(hp) > 0 {
		// the first job at or after hp's deadline that cannot be inverted any
		// further bounds the candidates
		mthp := unbounded
		for _, job := range ready {
			if job == hp || job.AbsDeadline < hp.AbsDeadline {
				continue
			}
			if ro.rib(job) <= 0 && job.AbsDeadline < mthp {
				mthp = job.AbsDeadline
			}
		}

		candidates := make([]*Job, 0, len(ready))
		for _, job := range ready {
			if job.AbsDeadline <= mthp {
				candidates = append(candidates, job)
			}
		}
		slices.SortFunc(candidates, compareJobs)
		selected = candidates[pickIndex(ro.rs, len(candidates))]

		if selected.AbsDeadline != hp.AbsDeadline {
			vHat := unbounded
			for _, job := range ready {
				if job.AbsDeadline < selected.AbsDeadline {
					vHat = min(vHat, ro.rib(job))
				}
			}
			if vHat >= 0 {
				ro.host.ArmTimer(vHat, ro.requestResched)
			}
			logrus.Tracef("cpu %d t=%d: %s inverts %s, revisit in %d", ro.host.ID(), now, selected, hp, vHat)
		}
	}

	ro.last = &dispatchRecord{job: selected, start: now, open: true}
	return selected
}
