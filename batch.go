package reorder

// batch.go evaluates bucketed task sets under every policy and processor count,
// running experiments concurrently, and aggregates the entropy scores.

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// BucketResult holds the scores of one (scheduler, processor count, bucket) cell
type BucketResult struct {
	Scheduler  string    `json:"scheduler" yaml:"scheduler"`
	Processors int       `json:"processors" yaml:"processors"`
	Bucket     int       `json:"bucket" yaml:"bucket"`
	Low        float64   `json:"low" yaml:"low"`
	High       float64   `json:"high" yaml:"high"`
	Count      int       `json:"count" yaml:"count"`
	Mean       float64   `json:"mean" yaml:"mean"`
	Scores     []float64 `json:"scores" yaml:"scores"`
}

// BatchResults is the persisted outcome of a batch
type BatchResults struct {
	ExpName string         `json:"expname" yaml:"expname"`
	Results []BucketResult `json:"results" yaml:"results"`

	// runs with a deadline miss, and runs that produced no trace, by scheduler
	Missed map[string]int `json:"missed" yaml:"missed"`
	NoData map[string]int `json:"nodata" yaml:"nodata"`

	// task set instances left out because some scheduler failed on them
	Excluded int `json:"excluded" yaml:"excluded"`
}

// WriteToFile stores the BatchResults struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (br *BatchResults) WriteToFile(filename string) error {
	return writeDesc(filename, br)
}

// ReadBatchResults deserializes BatchResults from dict, or from the named file if dict is empty
func ReadBatchResults(filename string, useYAML bool, dict []byte) (*BatchResults, error) {
	example := BatchResults{}
	if err := readDesc(filename, "batch results", useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// cellKey indexes the aggregation
type cellKey struct {
	scheduler  string
	processors int
	bucket     int
}

// batchRun is one task set instance on one processor count
type batchRun struct {
	bucket     int
	cfg        ExpCfg
	tsd        *TaskSetDesc
	outcomes   []*Outcome
	comparable bool
}

// add folds the outcomes of run into the results
func (br *BatchResults) add(run *batchRun, scores map[cellKey][]float64) {
	for _, outcome := range run.outcomes {
		switch {
		case errors.Is(outcome.Err, ErrDeadlineMiss):
			br.Missed[outcome.Policy] += 1
		case errors.Is(outcome.Err, ErrNoData):
			br.NoData[outcome.Policy] += 1
		}
	}
	if !run.comparable {
		br.Excluded += 1
		return
	}
	for _, outcome := range run.outcomes {
		key := cellKey{scheduler: outcome.Policy, processors: outcome.Processors, bucket: run.bucket}
		scores[key] = append(scores[key], outcome.Entropy)
	}
}

// RunBatch runs every task set of buckets under the policies of cfg, once for each
// processor count, with at most workers experiments in flight.  Every run gets its own
// seeded random sources, derived from cfg.Seed and the position of the run, so results
// do not depend on the order in which workers pick runs up.  A fatal error in any
// run stops the batch
func RunBatch(ctx context.Context, cfg *ExpCfg, buckets *BucketsDesc, processors []int, workers int) (*BatchResults, error) {
	if len(processors) == 0 {
		processors = []int{cfg.Processors}
	}
	if workers < 1 {
		workers = 1
	}

	runs := []*batchRun{}
	for _, bucket := range buckets.Buckets {
		for sdx := range bucket.Sets {
			for _, m := range processors {
				run := &batchRun{bucket: bucket.Index, cfg: *cfg, tsd: &bucket.Sets[sdx]}
				run.cfg.Name = fmt.Sprintf("%s/b%d/s%d/m%d", cfg.Name, bucket.Index, sdx, m)
				run.cfg.Processors = m
				run.cfg.Seed = cfg.Seed + uint64(len(runs)+1)*0x9e3779b97f4a7c15
				if run.cfg.Seed == 0 {
					run.cfg.Seed = 1
				}
				runs = append(runs, run)
			}
		}
	}

	// each goroutine writes only the run it was handed
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, run := range runs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes, comparable, err := CompareSchedulers(&run.cfg, run.tsd.Quantize())
			if err != nil {
				return err
			}
			run.outcomes = outcomes
			run.comparable = comparable
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &BatchResults{
		ExpName: cfg.Name,
		Results: []BucketResult{},
		Missed:  make(map[string]int),
		NoData:  make(map[string]int),
	}
	scores := make(map[cellKey][]float64)
	for _, run := range runs {
		res.add(run, scores)
	}

	for key, cell := range scores {
		low, high := BucketRange(key.bucket)
		res.Results = append(res.Results, BucketResult{
			Scheduler:  key.scheduler,
			Processors: key.processors,
			Bucket:     key.bucket,
			Low:        low,
			High:       high,
			Count:      len(cell),
			Mean:       stat.Mean(cell, nil),
			Scores:     cell,
		})
	}
	sort.Slice(res.Results, func(i, j int) bool {
		ri, rj := res.Results[i], res.Results[j]
		if ri.Scheduler != rj.Scheduler {
			return ri.Scheduler < rj.Scheduler
		}
		if ri.Processors != rj.Processors {
			return ri.Processors < rj.Processors
		}
		return ri.Bucket < rj.Bucket
	})

	logrus.Infof("%s: %d runs, %d cells, %d sets excluded",
		cfg.Name, len(runs), len(res.Results), res.Excluded)
	return res, nil
}
