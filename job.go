package reorder

import "fmt"

// JobState tracks the liveness of a job
type JobState int

const (
	JobActive JobState = iota
	JobCompleted
	JobMissed
)

var jobStateToStr map[JobState]string = map[JobState]string{JobActive: "active", JobCompleted: "completed", JobMissed: "missed"}

func (js JobState) String() string {
	str, present := jobStateToStr[js]
	if !present {
		return "unknown"
	}
	return str
}

// Job is one activation of a task.  Jobs are created and owned by the host engine,
// policies only hold onto them while they are ready.  Times are in engine ticks
type Job struct {
	Task        *Task
	Number      int   // activation count of the task, starting at 0
	Release     int64 // release time
	AbsDeadline int64 // absolute deadline
	ExecTime    int64 // execution demand of this job, no greater than the scaled wcet

	remaining int64
	state     JobState
}

// createJob is a constructor
func createJob(task *Task, number int, release, absDeadline, execTime int64) *Job {
	job := new(Job)
	job.Task = task
	job.Number = number
	job.Release = release
	job.AbsDeadline = absDeadline
	job.ExecTime = execTime
	job.remaining = execTime
	job.state = JobActive
	return job
}

// Active is true while the job has neither completed nor missed its deadline
func (job *Job) Active() bool {
	return job.state == JobActive
}

// State reports the liveness state of the job
func (job *Job) State() JobState {
	return job.state
}

// Remaining is the execution demand not yet served
func (job *Job) Remaining() int64 {
	return job.remaining
}

func (job *Job) String() string {
	return fmt.Sprintf("%s#%d", job.Task.Name, job.Number)
}
