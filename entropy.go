package reorder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Entropy scores the variability of a schedule, in bits.  For every slot of the
// hyperperiod the tasks seen in that slot across all hyperperiods and all used
// processors are counted; idle is left out of the mass, so a slot that is mostly
// idle scores less than one that is always busy.  The score is the sum over the slots.
// A processor is used if it runs anything at all in the grid
func Entropy(grid Grid, taskCount, processorCount int) float64 {
	procs := min(processorCount, len(grid))
	used := []int{}
	for proc := 0; proc < procs; proc++ {
		if grid.procBusy(proc) {
			used = append(used, proc)
		}
	}
	if len(used) == 0 {
		return 0.0
	}

	k := len(grid[used[0]])
	hpLen := len(grid[used[0]][0])
	samples := float64(k * len(used))

	var score float64
	counts := make([]float64, taskCount)
	for slot := 0; slot < hpLen; slot++ {
		clear(counts)
		for _, proc := range used {
			for _, hp := range grid[proc] {
				id := hp[slot]
				if id == 0 {
					continue
				}
				if id < 0 || id > taskCount {
					panic(fmt.Errorf("task id %d in slot %d of processor %d outside 1..%d", id, slot, proc, taskCount))
				}
				counts[id-1] += 1
			}
		}
		for idx := range counts {
			counts[idx] /= samples
		}
		score += stat.Entropy(counts) / math.Ln2
	}
	return score
}
