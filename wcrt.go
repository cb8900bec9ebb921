package reorder

// wcrt.go computes worst-case response times for EDF-scheduled periodic tasks
// with constrained deadlines.  The difference deadline - wcrt of a task is the
// amount of priority inversion it can absorb, which is what the REORDER policy spends.

import (
	"fmt"
)

// maxRHatIterations bounds the busy-period fixed point iteration
const maxRHatIterations = 1000

// intCeil is ceil(x/y) for non-negative x and positive y
func intCeil(x, y int64) int64 {
	return (x + y - 1) / y
}

// workload is the demand of the jobs of task released in [0, a]
func workload(task *Task, a int64) int64 {
	return (a/task.Period + 1) * task.WCET
}

// RHatTrace returns the successive iterates of the busy-period fixed point
// r_{k+1} = sum_j ceil(r_k/T_j) C_j starting from r_0 = sum_j C_j.  The last
// element is the fixed point.  ErrNoConvergence is returned when the iteration
// count exceeds maxRHatIterations
func RHatTrace(tasks []*Task) ([]int64, error) {
	var r0 int64
	for _, task := range tasks {
		r0 += task.WCET
	}
	trace := []int64{r0}

	for iterations := 1; ; iterations++ {
		var r1 int64
		for _, task := range tasks {
			r1 += intCeil(r0, task.Period) * task.WCET
		}
		if r1 == r0 {
			return trace, nil
		}
		if iterations >= maxRHatIterations {
			return trace, fmt.Errorf("%w: r_hat still moving after %d iterations", ErrNoConvergence, iterations)
		}
		trace = append(trace, r1)
		r0 = r1
	}
}

// RHat returns the busy-period bound r̂
func RHat(tasks []*Task) (int64, error) {
	trace, err := RHatTrace(tasks)
	if err != nil {
		return 0, err
	}
	return trace[len(trace)-1], nil
}

// interference bounds the demand of the jobs of task j that can have
// deadlines no later than a + D_i
func interference(task, other *Task, a int64) int64 {
	byPeriod := intCeil(task.Deadline, other.Period) + 1
	byOffset := 1 + (a+task.Deadline-other.Deadline)/other.Period + 1
	return min(byPeriod, byOffset) * other.WCET
}

// ComputeWCRT maps each task id to an upper bound on the response time of its jobs
// under EDF.  Every offset a in [0, r̂) is examined; offsets a >= r̂ - C_i carry
// no new information for task i
func ComputeWCRT(tasks []*Task) (map[int]int64, error) {
	rHat, err := RHat(tasks)
	if err != nil {
		return nil, err
	}

	wcrt := make(map[int]int64)
	for _, task := range tasks {
		wcrt[task.ID] = task.WCET
	}

	for a := int64(0); a < rHat; a++ {
		for _, task := range tasks {
			if a >= rHat-task.WCET {
				continue
			}
			var intf int64
			for _, other := range tasks {
				if other.ID == task.ID || other.Deadline > a+task.Deadline {
					continue
				}
				intf += interference(task, other, a)
			}
			wcrt[task.ID] = max(wcrt[task.ID], workload(task, a)-a+intf)
		}
	}
	return wcrt, nil
}

// Slack returns deadline - wcrt for every task.  Negative values are legal
// and mean the task can never be inverted
func Slack(tasks []*Task, wcrt map[int]int64) map[int]int64 {
	slack := make(map[int]int64)
	for _, task := range tasks {
		slack[task.ID] = task.Deadline - wcrt[task.ID]
	}
	return slack
}
