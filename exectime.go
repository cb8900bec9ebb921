package reorder

// exectime.go holds the models that draw the execution demand of each job.
// Every model returns a demand in ticks within (0, wcet*ticksPerUnit]

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"
)

// ExecTimeModel samples the execution demand of a job of task
type ExecTimeModel interface {
	Sample(task *Task, ticksPerUnit int64) int64
}

// execTimeFunc draws a demand from a U01 sample u and the scaled
// wcet and deviation of the task
type execTimeFunc func(u01 float64, wcet, sigma float64) float64

// execModel combines a sampling function with the random stream it reads
type execModel struct {
	name   string
	sample execTimeFunc
	rs     RandSource
}

// CreateExecTimeModel returns the named model.  "wcet" always uses the worst case,
// "pacet" draws from a normal with mean wcet and standard deviation
// variability*wcet, truncated to the legal range
func CreateExecTimeModel(name string, rs RandSource) (ExecTimeModel, error) {
	em := new(execModel)
	em.rs = rs
	switch strings.ToLower(name) {
	case "", "wcet", "const", "constant":
		em.name = "wcet"
		em.sample = sampleWCET
	case "pacet", "acet", "normal":
		em.name = "pacet"
		em.sample = sampleNormal
	default:
		return nil, fmt.Errorf("unknown execution time model %q", name)
	}
	return em, nil
}

func (em *execModel) Sample(task *Task, ticksPerUnit int64) int64 {
	wcet := task.WCET * ticksPerUnit
	if em.name == "wcet" || task.Variability <= 0 {
		return wcet
	}
	sigma := task.Variability * float64(wcet)
	demand := int64(math.Round(em.sample(em.rs.RandU01(), float64(wcet), sigma)))
	return min(max(demand, 1), wcet)
}

// sampleWCET has the execTimeFunc signature and returns the worst case
func sampleWCET(u01 float64, wcet, sigma float64) float64 {
	return wcet
}

// sampleNormal inverts the normal distribution function at u01
func sampleNormal(u01 float64, wcet, sigma float64) float64 {
	if u01 <= 0.0 || u01 >= 1.0 {
		return wcet
	}
	return distuv.Normal{Mu: wcet, Sigma: sigma}.Quantile(u01)
}
