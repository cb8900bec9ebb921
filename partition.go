package reorder

import (
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/exp/slices"
)

// ErrPackingFailed is returned when some task fits on no processor
var ErrPackingFailed = errors.New("packing failed")

// PartitionDecreasingFirstFit assigns tasks to processors.  Tasks are taken in
// decreasing order of utilization (ties by id) and each is placed on the first
// processor whose utilization stays no greater than one.  The result is indexed by processor
func PartitionDecreasingFirstFit(tasks []*Task, processors int) ([][]*Task, error) {
	if processors < 1 {
		return nil, fmt.Errorf("%w: %d processors", ErrPackingFailed, processors)
	}
	order := slices.Clone(tasks)
	slices.SortStableFunc(order, func(a, b *Task) int {
		if c := b.Utilization().Cmp(a.Utilization()); c != 0 {
			return c
		}
		return a.ID - b.ID
	})

	one := big.NewRat(1, 1)
	load := make([]*big.Rat, processors)
	parts := make([][]*Task, processors)
	for idx := range load {
		load[idx] = new(big.Rat)
		parts[idx] = []*Task{}
	}

	for _, task := range order {
		placed := false
		for idx := range parts {
			trial := new(big.Rat).Add(load[idx], task.Utilization())
			if trial.Cmp(one) <= 0 {
				load[idx] = trial
				parts[idx] = append(parts[idx], task)
				placed = true
				break
			}
		}
		if !placed {
			return nil, fmt.Errorf("%w: task %d (utilization %s) on %d processors",
				ErrPackingFailed, task.ID, task.Utilization().FloatString(3), processors)
		}
	}

	for _, part := range parts {
		sortByID(part)
	}
	return parts, nil
}
