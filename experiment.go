package reorder

// experiment.go runs one task set under one or more policies and scores
// the resulting schedules.

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrDeadlineMiss marks a run in which some job missed its deadline
var ErrDeadlineMiss = errors.New("deadline missed")

// Outcome is the result of running one task set under one policy.  Err carries
// the recoverable failures, ErrDeadlineMiss and ErrNoData; an outcome with a
// non-nil Err is left out of comparisons
type Outcome struct {
	Policy     string
	Processors int
	Entropy    float64
	Misses     int
	Err        error
}

// Fatal is true for errors that reject the task set or the configuration
// as a whole, as opposed to failures of a single run
func Fatal(err error) bool {
	return err != nil && !errors.Is(err, ErrDeadlineMiss) && !errors.Is(err, ErrNoData)
}

// RunExperiment simulates tasks under the named policy with the parameters of cfg.
// The returned error is fatal (bad configuration, infeasible set, failed packing,
// trace inconsistency); recoverable failures are reported in the Outcome
func RunExperiment(cfg *ExpCfg, tasks []*Task, policy string) (*Outcome, *TraceManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	factory, err := CreatePolicyFactory(policy, cfg.TicksPerUnit, cfg.Seed, cfg.Name)
	if err != nil {
		return nil, nil, err
	}

	// every policy sees the same demand sequence when the source is seeded
	rs := sourceFor(cfg.Seed, fmt.Sprintf("%s/exectime/%s", cfg.Name, policy), 0)
	execModel, err := CreateExecTimeModel(cfg.ExecModel, rs)
	if err != nil {
		return nil, nil, err
	}

	engCfg := EngineCfg{
		ExpName:      fmt.Sprintf("%s/%s", cfg.Name, policy),
		Processors:   cfg.Processors,
		TicksPerUnit: cfg.TicksPerUnit,
		Duration:     cfg.Duration(),
	}
	eng, err := CreateEngine(engCfg, tasks, factory, execModel)
	if err != nil {
		return nil, nil, err
	}
	res := eng.Run()

	outcome := &Outcome{Policy: policy, Processors: cfg.Processors, Misses: res.Misses}
	grid, err := res.Trace.Grid(cfg.HyperperiodLen, cfg.Hyperperiods)
	switch {
	case errors.Is(err, ErrNoData):
		outcome.Err = err
	case err != nil:
		return nil, res.Trace, err
	default:
		outcome.Entropy = Entropy(grid, MaxTaskID(tasks), cfg.Processors)
	}
	if res.Misses > 0 {
		outcome.Err = errors.Join(outcome.Err, fmt.Errorf("%w: %d of %d jobs", ErrDeadlineMiss, res.Misses, res.Released))
	}

	logrus.Debugf("%s: released %d, completed %d, missed %d, entropy %.4f",
		engCfg.ExpName, res.Released, res.Completed, res.Misses, outcome.Entropy)
	return outcome, res.Trace, nil
}

// CompareSchedulers runs tasks under every policy of cfg.  The boolean is false
// if any of the runs failed recoverably, in which case the set must be left
// out of cross-scheduler comparison
func CompareSchedulers(cfg *ExpCfg, tasks []*Task) ([]*Outcome, bool, error) {
	outcomes := make([]*Outcome, 0, len(cfg.Policies))
	comparable := true
	for _, policy := range cfg.Policies {
		outcome, _, err := RunExperiment(cfg, tasks, policy)
		if err != nil {
			return nil, false, fmt.Errorf("%s under %s: %w", cfg.Name, policy, err)
		}
		if outcome.Err != nil {
			comparable = false
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, comparable, nil
}
