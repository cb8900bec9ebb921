package reorder

// desc-taskset.go holds the serializable descriptions of task sets, of the
// buckets of task sets a batch runs over, and of experiment parameters,
// along with the file checks used by the command line tools.

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// TaskDesc is the serializable description of a periodic task.  Times may be
// fractional, they are mapped to integer time units by TaskSetDesc.Quantize
type TaskDesc struct {
	Name        string  `json:"name" yaml:"name"`
	ID          int     `json:"id" yaml:"id"`
	Period      float64 `json:"period" yaml:"period"`
	Deadline    float64 `json:"deadline" yaml:"deadline"`
	Activation  float64 `json:"activation" yaml:"activation"`
	WCET        float64 `json:"wcet" yaml:"wcet"`
	Variability float64 `json:"variability" yaml:"variability"`
}

// TaskSetDesc describes a set of tasks that are scheduled together
type TaskSetDesc struct {
	Name string `json:"name" yaml:"name"`

	// Resolution is the number of integer time units per unit of the descriptor
	// times.  Zero is read as 1
	Resolution float64 `json:"resolution" yaml:"resolution"`

	Tasks []TaskDesc `json:"tasks" yaml:"tasks"`
}

// CreateTaskSetDesc is a constructor
func CreateTaskSetDesc(name string) *TaskSetDesc {
	tsd := new(TaskSetDesc)
	tsd.Name = name
	tsd.Resolution = 1.0
	tsd.Tasks = make([]TaskDesc, 0)
	return tsd
}

// AddTask appends a task with deadline equal to period.  The id is the
// position of the task in the set, starting at 1
func (tsd *TaskSetDesc) AddTask(name string, period, wcet float64) *TaskDesc {
	td := TaskDesc{Name: name, ID: len(tsd.Tasks) + 1, Period: period, Deadline: period, WCET: wcet}
	tsd.Tasks = append(tsd.Tasks, td)
	return &tsd.Tasks[len(tsd.Tasks)-1]
}

// Quantize maps the descriptions to tasks with integer times.  Period and deadline
// are truncated and the wcet is rounded up, so the resulting set is never easier
// to schedule than the described one.  Tasks without an id are numbered by position
func (tsd *TaskSetDesc) Quantize() []*Task {
	res := tsd.Resolution
	if res <= 0.0 {
		res = 1.0
	}
	// product with res may carry representation error, absorb it before rounding
	const eps = 1e-9
	floor := func(v float64) int64 { return int64(math.Floor(v*res + eps)) }
	ceil := func(v float64) int64 { return int64(math.Ceil(v*res - eps)) }

	tasks := make([]*Task, 0, len(tsd.Tasks))
	for idx, td := range tsd.Tasks {
		id := td.ID
		if id == 0 {
			id = idx + 1
		}
		deadline := td.Deadline
		if deadline == 0.0 {
			deadline = td.Period
		}
		task := CreateTask(id, td.Name, floor(td.Period), floor(deadline), ceil(td.WCET))
		task.Activation = floor(td.Activation)
		task.Variability = td.Variability
		tasks = append(tasks, task)
	}
	return tasks
}

// Utilization of the described set, before quantization
func (tsd *TaskSetDesc) Utilization() float64 {
	var u float64
	for _, td := range tsd.Tasks {
		if td.Period > 0 {
			u += td.WCET / td.Period
		}
	}
	return u
}

// WriteToFile stores the TaskSetDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tsd *TaskSetDesc) WriteToFile(filename string) error {
	return writeDesc(filename, tsd)
}

// ReadTaskSetDesc deserializes a byte slice holding a representation of a TaskSetDesc.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.
func ReadTaskSetDesc(filename string, useYAML bool, dict []byte) (*TaskSetDesc, error) {
	example := TaskSetDesc{}
	if err := readDesc(filename, "task set", useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// BucketRange is the utilization interval bucket idx stands for
func BucketRange(idx int) (float64, float64) {
	return 0.01 + 0.1*float64(idx), 0.1 + 0.1*float64(idx)
}

// BucketDesc holds the task sets in one utilization bucket
type BucketDesc struct {
	Index int           `json:"index" yaml:"index"`
	Sets  []TaskSetDesc `json:"sets" yaml:"sets"`
}

// BucketsDesc holds the task sets a batch evaluates, grouped by utilization
type BucketsDesc struct {
	Name    string       `json:"name" yaml:"name"`
	Buckets []BucketDesc `json:"buckets" yaml:"buckets"`
}

// CreateBucketsDesc is a constructor
func CreateBucketsDesc(name string) *BucketsDesc {
	bd := new(BucketsDesc)
	bd.Name = name
	bd.Buckets = make([]BucketDesc, 0)
	return bd
}

// AddSet places tsd in the bucket with the given index, creating the bucket if needed
func (bd *BucketsDesc) AddSet(idx int, tsd *TaskSetDesc) {
	for bdx := range bd.Buckets {
		if bd.Buckets[bdx].Index == idx {
			bd.Buckets[bdx].Sets = append(bd.Buckets[bdx].Sets, *tsd)
			return
		}
	}
	bd.Buckets = append(bd.Buckets, BucketDesc{Index: idx, Sets: []TaskSetDesc{*tsd}})
}

// WriteToFile stores the BucketsDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (bd *BucketsDesc) WriteToFile(filename string) error {
	return writeDesc(filename, bd)
}

// ReadBucketsDesc deserializes a BucketsDesc from dict, or from the named file if dict is empty
func ReadBucketsDesc(filename string, useYAML bool, dict []byte) (*BucketsDesc, error) {
	example := BucketsDesc{}
	if err := readDesc(filename, "buckets", useYAML, dict, &example); err != nil {
		return nil, err
	}
	return &example, nil
}

// ExpCfg holds the parameters of an experiment
type ExpCfg struct {
	// Name labels the experiment, and prefixes the names of its random streams
	Name string `json:"expname" yaml:"expname"`

	// Processors the task set is partitioned over
	Processors int `json:"processors" yaml:"processors"`

	// HyperperiodLen is the number of time units folded into one row of the entropy grid
	HyperperiodLen int64 `json:"hyperperiodlen" yaml:"hyperperiodlen"`

	// Hyperperiods is the number of rows of the entropy grid.  The simulation
	// runs for HyperperiodLen*Hyperperiods time units
	Hyperperiods int `json:"hyperperiods" yaml:"hyperperiods"`

	// TicksPerUnit is the resolution of the simulation clock
	TicksPerUnit int64 `json:"ticksperunit" yaml:"ticksperunit"`

	// ExecModel names the execution time model, "wcet" or "pacet"
	ExecModel string `json:"execmodel" yaml:"execmodel"`

	// Seed of the random sources.  Zero selects named rngstream streams
	Seed uint64 `json:"seed" yaml:"seed"`

	// Policies to run the task set under
	Policies []string `json:"policies" yaml:"policies"`
}

// default experiment parameters
const (
	defaultHyperperiodLen int64 = 100
	defaultHyperperiods   int   = 100
)

// CreateExpCfg is a constructor.  All parameters have their default values
func CreateExpCfg(name string) *ExpCfg {
	expcfg := new(ExpCfg)
	expcfg.Name = name
	expcfg.FillDefaults()
	return expcfg
}

// FillDefaults replaces every zero-valued parameter by its default
func (expcfg *ExpCfg) FillDefaults() {
	if len(expcfg.Name) == 0 {
		expcfg.Name = "exp"
	}
	if expcfg.Processors == 0 {
		expcfg.Processors = 1
	}
	if expcfg.HyperperiodLen == 0 {
		expcfg.HyperperiodLen = defaultHyperperiodLen
	}
	if expcfg.Hyperperiods == 0 {
		expcfg.Hyperperiods = defaultHyperperiods
	}
	if expcfg.TicksPerUnit == 0 {
		expcfg.TicksPerUnit = 1
	}
	if len(expcfg.ExecModel) == 0 {
		expcfg.ExecModel = "wcet"
	}
	if len(expcfg.Policies) == 0 {
		expcfg.Policies = []string{EDFName, ReorderName}
	}
}

// Validate checks the parameters, reporting every problem found
func (expcfg *ExpCfg) Validate() error {
	errs := []error{}
	if expcfg.Processors < 1 {
		errs = append(errs, fmt.Errorf("processors must be positive, got %d", expcfg.Processors))
	}
	if expcfg.HyperperiodLen < 1 {
		errs = append(errs, fmt.Errorf("hyperperiod length must be positive, got %d", expcfg.HyperperiodLen))
	}
	if expcfg.Hyperperiods < 1 {
		errs = append(errs, fmt.Errorf("hyperperiod count must be positive, got %d", expcfg.Hyperperiods))
	}
	if expcfg.TicksPerUnit < 1 {
		errs = append(errs, fmt.Errorf("ticks per unit must be positive, got %d", expcfg.TicksPerUnit))
	}
	if _, err := CreateExecTimeModel(expcfg.ExecModel, nil); err != nil {
		errs = append(errs, err)
	}
	for _, name := range expcfg.Policies {
		if _, err := CreatePolicyFactory(name, 1, 0, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return ReportErrs(errs)
}

// Duration is the simulated time of the experiment, in time units
func (expcfg *ExpCfg) Duration() int64 {
	return expcfg.HyperperiodLen * int64(expcfg.Hyperperiods)
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (expcfg *ExpCfg) WriteToFile(filename string) error {
	return writeDesc(filename, expcfg)
}

// ReadExpCfg deserializes an ExpCfg from dict, or from the named file if dict is empty.
// Parameters absent from the description take their default values
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	example := ExpCfg{}
	if err := readDesc(filename, "experiment configuration", useYAML, dict, &example); err != nil {
		return nil, err
	}
	example.FillDefaults()
	return &example, nil
}

// UseYAML is true if the file extension selects yaml serialization
func UseYAML(filename string) bool {
	switch filepath.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return true
	}
	return false
}

// readDesc fills example from dict, reading dict from filename first if it is empty
func readDesc(filename, what string, useYAML bool, dict []byte, example any) error {
	var err error

	// read from the file only if the byte slice is empty
	if len(dict) == 0 {
		fileInfo, serr := os.Stat(filename)
		if os.IsNotExist(serr) || (serr == nil && fileInfo.IsDir()) {
			return fmt.Errorf("%s %s does not exist or cannot be read", what, filename)
		}
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}

	if useYAML {
		err = yaml.Unmarshal(dict, example)
	} else {
		err = json.Unmarshal(dict, example)
	}
	return err
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}

// CheckReadableFiles probes the file system to ensure that every
// one of the argument filenames exists and is readable
func CheckReadableFiles(names []string) (bool, error) {
	return CheckFiles(names, true)
}

// CheckOutputFiles probes the file system to ensure that every
// argument filename can be written.
func CheckOutputFiles(names []string) (bool, error) {
	return CheckFiles(names, false)
}

// CheckFiles probes the file system for permitted access to all the
// argument filenames, optionally checking also for the existence
// of those files for the purposes of reading them.
func CheckFiles(names []string, checkExistence bool) (bool, error) {
	errs := make([]error, 0)

	for _, name := range names {
		// skip empty names, those are options left unset
		if len(name) == 0 {
			continue
		}

		// the directory of each named file has to exist
		directory, _ := filepath.Split(name)
		if len(directory) > 0 {
			if _, err := os.Stat(directory); err != nil {
				errs = append(errs, err)
			}
		}

		if checkExistence {
			if _, err := os.Stat(name); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) == 0 {
		return true, nil
	}
	return false, ReportErrs(errs)
}
