package reorder

// taskset.go holds the run-time representation of periodic tasks and the
// checks every task set has to pass before it is analyzed or simulated.
// All times here are integer time units; the engine multiplies them by its
// ticks-per-unit scale.

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	// ErrInfeasible is returned for task sets whose fields are malformed or whose
	// total utilization exceeds one
	ErrInfeasible = errors.New("infeasible task set")

	// ErrNoConvergence is returned when the busy-period fixed point does not converge
	ErrNoConvergence = errors.New("response-time analysis did not converge")
)

// Task is an immutable description of a periodic task
type Task struct {
	ID          int     // unique, >= 1.  0 is reserved for 'idle' in traces
	Name        string  // text name, used in traces and reports
	Period      int64   // inter-release time
	Deadline    int64   // relative deadline, <= Period
	WCET        int64   // worst-case execution time
	Activation  int64   // release time of the first job
	Variability float64 // standard deviation of execution time, as a proportion of WCET
}

// CreateTask is a constructor.  The returned task has not been validated,
// see Validate
func CreateTask(id int, name string, period, deadline, wcet int64) *Task {
	task := new(Task)
	task.ID = id
	task.Name = name
	task.Period = period
	task.Deadline = deadline
	task.WCET = wcet
	if len(name) == 0 {
		task.Name = fmt.Sprintf("task_%d", id)
	}
	return task
}

// Utilization returns wcet/period as an exact fraction
func (task *Task) Utilization() *big.Rat {
	return big.NewRat(task.WCET, task.Period)
}

// Validate checks the per-task invariants
func (task *Task) Validate() error {
	switch {
	case task.ID < 1:
		return fmt.Errorf("%w: task %q has id %d, ids start at 1", ErrInfeasible, task.Name, task.ID)
	case task.Period <= 0:
		return fmt.Errorf("%w: task %d has period %d", ErrInfeasible, task.ID, task.Period)
	case task.Deadline <= 0:
		return fmt.Errorf("%w: task %d has deadline %d", ErrInfeasible, task.ID, task.Deadline)
	case task.WCET <= 0:
		return fmt.Errorf("%w: task %d has wcet %d", ErrInfeasible, task.ID, task.WCET)
	case task.WCET > task.Deadline:
		return fmt.Errorf("%w: task %d has wcet %d beyond deadline %d", ErrInfeasible, task.ID, task.WCET, task.Deadline)
	case task.Deadline > task.Period:
		return fmt.Errorf("%w: task %d has deadline %d beyond period %d", ErrInfeasible, task.ID, task.Deadline, task.Period)
	case task.Activation < 0:
		return fmt.Errorf("%w: task %d has negative activation", ErrInfeasible, task.ID)
	}
	return nil
}

// Utilization returns the total utilization of the tasks, exactly
func Utilization(tasks []*Task) *big.Rat {
	total := new(big.Rat)
	for _, task := range tasks {
		total.Add(total, task.Utilization())
	}
	return total
}

// ValidateTasks checks every task and the uniqueness of the ids
func ValidateTasks(tasks []*Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no tasks", ErrInfeasible)
	}
	seen := make(map[int]bool)
	errs := []error{}
	for _, task := range tasks {
		errs = append(errs, task.Validate())
		if seen[task.ID] {
			errs = append(errs, fmt.Errorf("%w: task id %d used twice", ErrInfeasible, task.ID))
		}
		seen[task.ID] = true
	}
	if err := ReportErrs(errs); err != nil {
		return fmt.Errorf("%w: %s", ErrInfeasible, err.Error())
	}
	return nil
}

// CheckFeasible validates the tasks and checks that their total
// utilization is no greater than one
func CheckFeasible(tasks []*Task) error {
	if err := ValidateTasks(tasks); err != nil {
		return err
	}
	u := Utilization(tasks)
	if u.Cmp(big.NewRat(1, 1)) > 0 {
		return fmt.Errorf("%w: utilization %s exceeds 1", ErrInfeasible, u.FloatString(4))
	}
	return nil
}

// Hyperperiod returns the least common multiple of the task periods
func Hyperperiod(tasks []*Task) int64 {
	var hp int64 = 1
	for _, task := range tasks {
		hp = lcm(hp, task.Period)
	}
	return hp
}

// MaxTaskID returns the largest task id, which bounds the frequency tables of the entropy metric
func MaxTaskID(tasks []*Task) int {
	top := 0
	for _, task := range tasks {
		if task.ID > top {
			top = task.ID
		}
	}
	return top
}

// sortByID orders tasks by id, in place
func sortByID(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}
