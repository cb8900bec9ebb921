package reorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFeasible(t *testing.T) {
	for _, tc := range []struct {
		name  string
		tasks []*Task
		ok    bool
	}{
		{"single", mkTasks([3]int64{2, 5, 5}), true},
		{"full utilization", mkTasks([3]int64{1, 2, 2}, [3]int64{2, 4, 4}), true},
		{"overloaded", mkTasks([3]int64{2, 5, 5}, [3]int64{4, 10, 10}, [3]int64{8, 20, 20}), false},
		{"wcet beyond deadline", mkTasks([3]int64{4, 10, 3}), false},
		{"deadline beyond period", mkTasks([3]int64{1, 10, 12}), false},
		{"zero wcet", mkTasks([3]int64{0, 10, 10}), false},
		{"zero period", mkTasks([3]int64{1, 0, 0}), false},
		{"empty", []*Task{}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckFeasible(tc.tasks)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInfeasible)
		})
	}
}

func TestCheckFeasibleIDs(t *testing.T) {
	tasks := mkTasks([3]int64{1, 10, 10}, [3]int64{1, 10, 10})
	tasks[1].ID = 1
	assert.ErrorIs(t, CheckFeasible(tasks), ErrInfeasible)

	tasks[1].ID = 0
	assert.ErrorIs(t, CheckFeasible(tasks), ErrInfeasible)

	tasks[1].ID = 7
	assert.NoError(t, CheckFeasible(tasks))
	assert.Equal(t, 7, MaxTaskID(tasks))
}

func TestUtilizationExact(t *testing.T) {
	// 1/3 + 1/3 + 1/3 is exactly one, and feasible
	tasks := mkTasks([3]int64{1, 3, 3}, [3]int64{2, 6, 6}, [3]int64{3, 9, 9})
	assert.Equal(t, "1", Utilization(tasks).RatString())
	assert.NoError(t, CheckFeasible(tasks))

	tasks[0].WCET = 2
	assert.ErrorIs(t, CheckFeasible(tasks), ErrInfeasible)
}

func TestHyperperiod(t *testing.T) {
	assert.Equal(t, int64(20), Hyperperiod(mkTasks([3]int64{2, 5, 5}, [3]int64{1, 10, 10}, [3]int64{2, 20, 20})))
	assert.Equal(t, int64(60), Hyperperiod(mkTasks([3]int64{1, 4, 4}, [3]int64{1, 6, 6}, [3]int64{1, 10, 10})))
}

func TestCreateTaskName(t *testing.T) {
	task := CreateTask(3, "", 10, 10, 1)
	assert.Equal(t, "task_3", task.Name)
	require.NoError(t, task.Validate())

	job := createJob(task, 2, 0, 10, 1)
	assert.Equal(t, "task_3#2", job.String())
	assert.True(t, job.Active())
	assert.Equal(t, "active", job.State().String())
}

func TestPartitionDecreasingFirstFit(t *testing.T) {
	tasks := mkTasks([3]int64{3, 10, 10}, [3]int64{5, 10, 10}, [3]int64{6, 10, 10}, [3]int64{4, 10, 10})

	parts, err := PartitionDecreasingFirstFit(tasks, 2)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	ids := func(part []*Task) []int {
		out := []int{}
		for _, task := range part {
			out = append(out, task.ID)
		}
		return out
	}
	// 0.6 and 0.4 fill the first processor, 0.5 and 0.3 go to the second
	assert.Equal(t, []int{3, 4}, ids(parts[0]))
	assert.Equal(t, []int{1, 2}, ids(parts[1]))

	// input order is untouched
	assert.Equal(t, []int{1, 2, 3, 4}, ids(tasks))

	_, err = PartitionDecreasingFirstFit(tasks, 1)
	assert.ErrorIs(t, err, ErrPackingFailed)

	parts, err = PartitionDecreasingFirstFit(tasks, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, ids(parts[0]))
	assert.Equal(t, []int{1, 2}, ids(parts[1]))
	assert.Empty(t, parts[2])
	assert.Empty(t, parts[3])
}
