package reorder

// scheduler.go holds the host engine that executes periodic tasks on a set of
// processors, driven by an evtm event manager.  Each processor owns one policy
// instance and offers it the Host capability: the current time, requests for a
// scheduling point, and a one-shot timer.  The engine releases jobs, serves the
// job a policy dispatches, detects completions and deadline misses, and records
// every dispatch and stop in a TraceManager.
//
// One tick of engine time is one virtual second of the event manager.  Stale
// completion and timer events are recognized by generation numbers carried in
// the event data, so events never need to be removed from the event list.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/sirupsen/logrus"
)

// EngineCfg holds the parameters of one simulation run
type EngineCfg struct {
	ExpName      string
	Processors   int
	TicksPerUnit int64
	Duration     int64 // time units
}

// RunResult summarizes a finished run
type RunResult struct {
	Released     int
	Completed    int
	Misses       int
	MissesByTask map[int]int
	End          int64 // ticks
	Trace        *TraceManager
}

// Processor executes the jobs its policy dispatches, one at a time
type Processor struct {
	id     int
	eng    *Engine
	tasks  []*Task
	policy Policy

	running  *Job
	runStart int64 // time the running job was last charged for service
	gen      int   // completion generation, bumped on every dispatch change

	reschedPending bool

	timerGen  int
	timerFire func()

	jobCount map[int]int
	current  map[int]*Job // most recent job of each task
}

// Engine holds the processors of one run and the event manager driving them
type Engine struct {
	cfg       EngineCfg
	evtMgr    *evtm.EventManager
	procs     []*Processor
	execModel ExecTimeModel
	trace     *TraceManager
	end       int64

	released     int
	completed    int
	misses       int
	missesByTask map[int]int
	ran          bool
}

// CreateEngine is a constructor.  With more than one processor the tasks are
// partitioned by decreasing first-fit; each processor then builds its policy
// from the factory.  Errors from validation, packing or policy construction
// are returned before any event is scheduled
func CreateEngine(cfg EngineCfg, tasks []*Task, factory PolicyFactory, execModel ExecTimeModel) (*Engine, error) {
	if cfg.Processors < 1 {
		return nil, fmt.Errorf("engine needs at least one processor, got %d", cfg.Processors)
	}
	if cfg.TicksPerUnit < 1 {
		return nil, fmt.Errorf("ticks per time unit must be positive, got %d", cfg.TicksPerUnit)
	}
	if cfg.Duration < 1 {
		return nil, fmt.Errorf("run duration must be positive, got %d", cfg.Duration)
	}
	if err := ValidateTasks(tasks); err != nil {
		return nil, err
	}

	var parts [][]*Task
	if cfg.Processors == 1 {
		if err := CheckFeasible(tasks); err != nil {
			return nil, err
		}
		parts = [][]*Task{tasks}
	} else {
		var err error
		parts, err = PartitionDecreasingFirstFit(tasks, cfg.Processors)
		if err != nil {
			return nil, err
		}
	}

	eng := new(Engine)
	eng.cfg = cfg
	eng.evtMgr = evtm.New()
	eng.execModel = execModel
	eng.end = cfg.Duration * cfg.TicksPerUnit
	eng.missesByTask = make(map[int]int)
	eng.trace = CreateTraceManager(cfg.ExpName, cfg.Processors, cfg.TicksPerUnit)
	for _, task := range tasks {
		eng.trace.AddName(task.ID, task.Name)
	}

	for idx, part := range parts {
		proc := createProcessor(eng, idx, part)
		if len(part) == 0 {
			// nothing to schedule, an EDF instance keeps the processor idle
			proc.policy = CreateEDF(proc)
		} else {
			policy, err := factory(proc, part)
			if err != nil {
				return nil, fmt.Errorf("processor %d: %w", idx, err)
			}
			proc.policy = policy
		}
		eng.procs = append(eng.procs, proc)
		logrus.Debugf("%s: processor %d holds %d tasks, utilization %s",
			cfg.ExpName, idx, len(part), Utilization(part).FloatString(3))
	}
	return eng, nil
}

// createProcessor is a constructor
func createProcessor(eng *Engine, id int, tasks []*Task) *Processor {
	proc := new(Processor)
	proc.id = id
	proc.eng = eng
	proc.tasks = tasks
	proc.jobCount = make(map[int]int)
	proc.current = make(map[int]*Job)
	return proc
}

// Processor returns the processor with the given id
func (eng *Engine) Processor(id int) *Processor {
	return eng.procs[id]
}

// now is the current simulation time in ticks
func (eng *Engine) now() int64 {
	return int64(math.Round(eng.evtMgr.CurrentSeconds()))
}

// ticks turns a tick count into an event manager offset
func ticks(n int64) vrtime.Time {
	return vrtime.SecondsToTime(float64(n))
}

// Run schedules the first release of every task, runs the event manager to the
// end of the run and returns the summary.  A run can be executed once
func (eng *Engine) Run() *RunResult {
	if eng.ran {
		panic(fmt.Errorf("engine of %s already ran", eng.cfg.ExpName))
	}
	eng.ran = true

	scale := eng.cfg.TicksPerUnit
	for _, proc := range eng.procs {
		for _, task := range proc.tasks {
			if release := task.Activation * scale; release < eng.end {
				eng.evtMgr.Schedule(proc, task, releaseJob, ticks(release))
			}
		}
	}
	eng.evtMgr.Run(float64(eng.end))

	// events at the very end of the run may not have been delivered
	for _, proc := range eng.procs {
		proc.finish(eng.end)
	}

	return &RunResult{
		Released:     eng.released,
		Completed:    eng.completed,
		Misses:       eng.misses,
		MissesByTask: eng.missesByTask,
		End:          eng.end,
		Trace:        eng.trace,
	}
}

// ID identifies the processor
func (proc *Processor) ID() int {
	return proc.id
}

// Now is the current simulation time in ticks
func (proc *Processor) Now() int64 {
	return proc.eng.now()
}

// Policy returns the policy scheduling the processor
func (proc *Processor) Policy() Policy {
	return proc.policy
}

// Running returns the job in service, or nil
func (proc *Processor) Running() *Job {
	return proc.running
}

// Resched schedules a scheduling point at the current time, unless one is pending
func (proc *Processor) Resched() {
	if proc.reschedPending {
		return
	}
	proc.reschedPending = true
	proc.eng.evtMgr.Schedule(proc, nil, schedulingPoint, ticks(0))
}

// ArmTimer calls fire after delay ticks.  Arming replaces the outstanding timer
func (proc *Processor) ArmTimer(delay int64, fire func()) {
	if delay < 0 {
		panic(fmt.Errorf("processor %d timer armed with negative delay %d", proc.id, delay))
	}
	proc.timerGen += 1
	proc.timerFire = fire
	proc.eng.evtMgr.Schedule(proc, proc.timerGen, timerExpires, ticks(delay))
}

// CancelTimer voids the outstanding timer
func (proc *Processor) CancelTimer() {
	proc.timerGen += 1
	proc.timerFire = nil
}

// advance charges the running job for the service received up to now
func (proc *Processor) advance(now int64) {
	if proc.running != nil {
		proc.running.remaining -= now - proc.runStart
	}
	proc.runStart = now
}

// stopRunning takes the running job off the processor
func (proc *Processor) stopRunning(now int64) {
	proc.eng.trace.AddEvent(proc.id, StopEvent, now, proc.running.Task.ID)
	proc.running = nil
	proc.gen += 1
}

// dispatch applies the decision of a scheduling point
func (proc *Processor) dispatch(job *Job, now int64) {
	if job != nil && !job.Active() {
		panic(fmt.Errorf("processor %d dispatched terminated job %s", proc.id, job))
	}
	// same job keeps running, its completion event is still valid
	if job == proc.running {
		return
	}
	if proc.running != nil {
		proc.stopRunning(now)
	}
	if job == nil {
		return
	}
	proc.running = job
	proc.runStart = now
	proc.gen += 1
	proc.eng.trace.AddEvent(proc.id, RunEvent, now, job.Task.ID)
	proc.eng.evtMgr.Schedule(proc, proc.gen, jobCompletes, ticks(job.remaining))
}

// complete marks the job as done and tells the policy
func (proc *Processor) complete(job *Job, now int64) {
	job.state = JobCompleted
	job.remaining = 0
	if proc.running == job {
		proc.stopRunning(now)
	}
	proc.eng.completed += 1
	proc.policy.OnTerminated(job)
}

// miss aborts a job that reached its deadline unfinished
func (proc *Processor) miss(job *Job, now int64) {
	job.state = JobMissed
	if proc.running == job {
		proc.stopRunning(now)
	}
	proc.eng.misses += 1
	proc.eng.missesByTask[job.Task.ID] += 1
	logrus.Debugf("%s: processor %d, %s missed deadline %d with %d ticks left",
		proc.eng.cfg.ExpName, proc.id, job, job.AbsDeadline, job.remaining)
	proc.policy.OnTerminated(job)
}

// expire settles a job whose deadline has come.  A job whose service ends at
// this very instant completes, whatever the delivery order of the events
func (proc *Processor) expire(job *Job, now int64) {
	if !job.Active() {
		return
	}
	proc.advance(now)
	if job.remaining <= 0 {
		proc.complete(job, now)
		return
	}
	proc.miss(job, now)
}

// finish settles the jobs still pending when the run ends
func (proc *Processor) finish(end int64) {
	proc.advance(end)
	if job := proc.running; job != nil && job.remaining <= 0 {
		proc.complete(job, end)
	}
	for _, task := range proc.tasks {
		job := proc.current[task.ID]
		if job != nil && job.Active() && job.AbsDeadline <= end {
			proc.expire(job, end)
		}
	}
}

// past is true for events delivered after the end of the run
func (proc *Processor) past(now int64) bool {
	return now > proc.eng.end
}

// releaseJob is the event handler for the release of the next job of a task
func releaseJob(evtMgr *evtm.EventManager, context any, data any) any {
	proc := context.(*Processor)
	task := data.(*Task)
	now := proc.Now()
	if proc.past(now) {
		return nil
	}
	scale := proc.eng.cfg.TicksPerUnit

	// the previous job's deadline is no later than this release
	if prev := proc.current[task.ID]; prev != nil {
		proc.expire(prev, now)
	}

	execTime := proc.eng.execModel.Sample(task, scale)
	job := createJob(task, proc.jobCount[task.ID], now, now+task.Deadline*scale, execTime)
	proc.jobCount[task.ID] += 1
	proc.current[task.ID] = job
	proc.eng.released += 1

	if job.AbsDeadline <= proc.eng.end {
		evtMgr.Schedule(proc, job, jobDeadline, ticks(task.Deadline*scale))
	}
	if next := now + task.Period*scale; next < proc.eng.end {
		evtMgr.Schedule(proc, task, releaseJob, ticks(task.Period*scale))
	}

	proc.policy.OnActivate(job)
	return nil
}

// jobDeadline is the event handler for the absolute deadline of a job
func jobDeadline(evtMgr *evtm.EventManager, context any, data any) any {
	proc := context.(*Processor)
	job := data.(*Job)
	now := proc.Now()
	if proc.past(now) {
		return nil
	}
	proc.expire(job, now)
	return nil
}

// jobCompletes is the event handler for the end of service of the running job
func jobCompletes(evtMgr *evtm.EventManager, context any, data any) any {
	proc := context.(*Processor)
	gen := data.(int)
	if gen != proc.gen || proc.running == nil {
		return nil
	}
	now := proc.Now()
	if proc.past(now) {
		return nil
	}
	proc.advance(now)
	job := proc.running
	if job.remaining > 0 {
		panic(fmt.Errorf("processor %d: %s signalled complete with %d ticks left", proc.id, job, job.remaining))
	}
	proc.complete(job, now)
	return nil
}

// schedulingPoint is the event handler that asks the policy which job runs next
func schedulingPoint(evtMgr *evtm.EventManager, context any, data any) any {
	proc := context.(*Processor)
	now := proc.Now()
	if proc.past(now) {
		proc.reschedPending = false
		return nil
	}
	proc.advance(now)

	// service ended at this instant but the completion event is not yet delivered.
	// The policy is asked below, so its request for a scheduling point is absorbed
	if job := proc.running; job != nil && job.remaining <= 0 {
		proc.complete(job, now)
	}
	proc.reschedPending = false
	proc.dispatch(proc.policy.Schedule(), now)
	return nil
}

// timerExpires is the event handler for the one-shot policy timer
func timerExpires(evtMgr *evtm.EventManager, context any, data any) any {
	proc := context.(*Processor)
	gen := data.(int)
	if gen != proc.timerGen || proc.timerFire == nil {
		return nil
	}
	if proc.past(proc.Now()) {
		return nil
	}
	fire := proc.timerFire
	proc.timerFire = nil
	fire()
	return nil
}
