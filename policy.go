package reorder

// policy.go defines the contract between a scheduling policy and the host that
// executes jobs for it, and holds the deterministic EDF policy used as a baseline.

import (
	"cmp"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Host is the capability a processor offers to the policy that schedules it.
// Times and delays are in ticks
type Host interface {
	// ID identifies the processor
	ID() int

	// Now is the current simulation time
	Now() int64

	// Resched asks for a scheduling point on this processor at the current time.
	// Repeated requests before the scheduling point runs are merged
	Resched()

	// ArmTimer calls fire after delay ticks, replacing any timer already armed
	ArmTimer(delay int64, fire func())

	// CancelTimer voids the armed timer, if any
	CancelTimer()
}

// Policy receives job lifecycle events from its host and decides, at each
// scheduling point, which ready job the processor runs.  A nil decision idles the processor
type Policy interface {
	OnActivate(job *Job)
	OnTerminated(job *Job)
	Schedule() *Job
}

// PolicyFactory builds the policy for one processor from the tasks assigned to it
type PolicyFactory func(host Host, tasks []*Task) (Policy, error)

// policy names recognized by CreatePolicyFactory
const (
	EDFName     = "EDF"
	ReorderName = "REORDER"
)

// PolicyNames lists the policies CreatePolicyFactory can build
var PolicyNames []string = []string{EDFName, ReorderName}

// CreatePolicyFactory returns the factory for the named policy.  scale is the number
// of ticks per time unit, seed selects the random sources (0 means named streams,
// whose names are prefixed by tag)
func CreatePolicyFactory(name string, scale int64, seed uint64, tag string) (PolicyFactory, error) {
	switch strings.ToUpper(name) {
	case EDFName:
		return func(host Host, tasks []*Task) (Policy, error) {
			return CreateEDF(host), nil
		}, nil
	case ReorderName:
		return func(host Host, tasks []*Task) (Policy, error) {
			rsName := fmt.Sprintf("%s/reorder/cpu%d", tag, host.ID())
			return CreateReorder(host, tasks, scale, sourceFor(seed, rsName, 1000+host.ID()))
		}, nil
	}
	return nil, fmt.Errorf("unknown policy %q, expected one of %s", name, strings.Join(PolicyNames, ","))
}

// EDF always runs the ready job with the earliest absolute deadline
type EDF struct {
	host  Host
	ready []*Job
}

// CreateEDF is a constructor
func CreateEDF(host Host) *EDF {
	edf := new(EDF)
	edf.host = host
	edf.ready = []*Job{}
	return edf
}

func (edf *EDF) OnActivate(job *Job) {
	edf.ready = append(edf.ready, job)
	edf.host.Resched()
}

func (edf *EDF) OnTerminated(job *Job) {
	edf.ready = removeJob(edf.ready, job)
	edf.host.Resched()
}

func (edf *EDF) Schedule() *Job {
	return earliestDeadline(edf.ready)
}

// earliestDeadline returns the active job with minimum absolute deadline.  Ties go to
// the earlier release, then to the lower task id, so the choice does not depend on
// the order in which simultaneous releases were delivered
func earliestDeadline(jobs []*Job) *Job {
	var hp *Job
	for _, job := range jobs {
		if !job.Active() {
			continue
		}
		if hp == nil || before(job, hp) {
			hp = job
		}
	}
	return hp
}

// before orders jobs by deadline, release and task id
func before(a, b *Job) bool {
	return compareJobs(a, b) < 0
}

func compareJobs(a, b *Job) int {
	switch {
	case a.AbsDeadline != b.AbsDeadline:
		return cmp.Compare(a.AbsDeadline, b.AbsDeadline)
	case a.Release != b.Release:
		return cmp.Compare(a.Release, b.Release)
	}
	return cmp.Compare(a.Task.ID, b.Task.ID)
}

// removeJob deletes job from the list, if present
func removeJob(jobs []*Job, job *Job) []*Job {
	idx := slices.Index(jobs, job)
	if idx < 0 {
		return jobs
	}
	return slices.Delete(jobs, idx, idx+1)
}
