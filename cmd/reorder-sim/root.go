package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iti/reorder"
)

var (
	logLevel     string   // Log verbosity level
	taskSetPath  string   // Task set descriptor
	expCfgPath   string   // Experiment configuration
	policies     []string // Policies to run, overriding the configuration
	tracePath    string   // Where to save the trace of the last policy run
	bucketsPath  string   // Bucketed task sets for a batch
	outPath      string   // Batch results file
	processors   []int    // Processor counts of a batch
	workers      int      // Experiments in flight during a batch
	seed         uint64   // Seed of the random sources, overriding the configuration
	hyperperiods int      // Number of hyperperiods, overriding the configuration
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "reorder-sim",
	Short: "Analyze and simulate inversion-bounded randomized EDF scheduling",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// wcrtCmd prints the response-time analysis of a task set
var wcrtCmd = &cobra.Command{
	Use:   "wcrt",
	Short: "Print worst-case response times and slack of a task set",
	Run: func(cmd *cobra.Command, args []string) {
		tasks := readTasks()
		if err := reorder.CheckFeasible(tasks); err != nil {
			logrus.Fatalf("%v", err)
		}
		rHat, err := reorder.RHat(tasks)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		wcrt, err := reorder.ComputeWCRT(tasks)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		slack := reorder.Slack(tasks, wcrt)

		fmt.Printf("utilization %s, r_hat %d, hyperperiod %d\n",
			reorder.Utilization(tasks).FloatString(4), rHat, reorder.Hyperperiod(tasks))
		fmt.Printf("%-16s %6s %8s %8s %6s %6s %6s\n", "task", "id", "period", "deadline", "wcet", "wcrt", "slack")
		for _, task := range tasks {
			fmt.Printf("%-16s %6d %8d %8d %6d %6d %6d\n", task.Name, task.ID,
				task.Period, task.Deadline, task.WCET, wcrt[task.ID], slack[task.ID])
		}
	},
}

// runCmd simulates one task set under each policy
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Simulate a task set and report schedule entropy",
	Run: func(cmd *cobra.Command, args []string) {
		tasks := readTasks()
		cfg := readExpCfg(cmd)

		for _, policy := range cfg.Policies {
			outcome, trace, err := reorder.RunExperiment(cfg, tasks, policy)
			if err != nil {
				logrus.Fatalf("%s: %v", policy, err)
			}
			status := "ok"
			if outcome.Err != nil {
				status = outcome.Err.Error()
			}
			fmt.Printf("%-8s processors %d  entropy %10.4f  misses %d  %s\n",
				outcome.Policy, outcome.Processors, outcome.Entropy, outcome.Misses, status)

			if len(tracePath) > 0 && trace != nil {
				if err := trace.WriteToFile(policyFile(tracePath, policy)); err != nil {
					logrus.Fatalf("writing trace: %v", err)
				}
			}
		}
		logrus.Info("Simulation complete.")
	},
}

// batchCmd evaluates bucketed task sets and writes aggregated results
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run bucketed task sets under every policy and aggregate entropy",
	Run: func(cmd *cobra.Command, args []string) {
		if len(bucketsPath) == 0 || len(outPath) == 0 {
			logrus.Fatalf("batch needs --buckets and --out")
		}
		if ok, err := reorder.CheckReadableFiles([]string{bucketsPath, expCfgPath}); !ok {
			logrus.Fatalf("%v", err)
		}
		if ok, err := reorder.CheckOutputFiles([]string{outPath}); !ok {
			logrus.Fatalf("%v", err)
		}
		buckets, err := reorder.ReadBucketsDesc(bucketsPath, reorder.UseYAML(bucketsPath), []byte{})
		if err != nil {
			logrus.Fatalf("reading buckets: %v", err)
		}
		cfg := readExpCfg(cmd)

		res, err := reorder.RunBatch(context.Background(), cfg, buckets, processors, workers)
		if err != nil {
			logrus.Fatalf("batch aborted: %v", err)
		}
		if err := res.WriteToFile(outPath); err != nil {
			logrus.Fatalf("writing results: %v", err)
		}

		for _, cell := range res.Results {
			fmt.Printf("%-8s m=%d  u=[%.2f,%.2f]  n=%4d  mean %10.4f\n",
				cell.Scheduler, cell.Processors, cell.Low, cell.High, cell.Count, cell.Mean)
		}
		names := make([]string, 0, len(res.Missed))
		for name := range res.Missed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("%s missed deadlines in %d runs\n", name, res.Missed[name])
		}
		logrus.Infof("Results written to %s", outPath)
	},
}

// readTasks reads and quantizes the task set named by --taskset
func readTasks() []*reorder.Task {
	if len(taskSetPath) == 0 {
		logrus.Fatalf("no task set given, use --taskset")
	}
	if ok, err := reorder.CheckReadableFiles([]string{taskSetPath}); !ok {
		logrus.Fatalf("%v", err)
	}
	tsd, err := reorder.ReadTaskSetDesc(taskSetPath, reorder.UseYAML(taskSetPath), []byte{})
	if err != nil {
		logrus.Fatalf("reading task set: %v", err)
	}
	return tsd.Quantize()
}

// readExpCfg reads --exp if given and applies the flags that override it
func readExpCfg(cmd *cobra.Command) *reorder.ExpCfg {
	cfg := reorder.CreateExpCfg("exp")
	if len(expCfgPath) > 0 {
		var err error
		cfg, err = reorder.ReadExpCfg(expCfgPath, reorder.UseYAML(expCfgPath), []byte{})
		if err != nil {
			logrus.Fatalf("reading experiment configuration: %v", err)
		}
	}
	if cmd.Flags().Changed("policy") {
		cfg.Policies = policies
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("hyperperiods") {
		cfg.Hyperperiods = hyperperiods
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("experiment configuration: %v", err)
	}
	return cfg
}

// policyFile inserts the policy name before the extension of filename
func policyFile(filename, policy string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return filename + "-" + policy
	}
	return filename[:idx] + "-" + policy + filename[idx:]
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	wcrtCmd.Flags().StringVar(&taskSetPath, "taskset", "", "Task set descriptor (yaml or json)")

	runCmd.Flags().StringVar(&taskSetPath, "taskset", "", "Task set descriptor (yaml or json)")
	runCmd.Flags().StringVar(&expCfgPath, "exp", "", "Experiment configuration (yaml or json)")
	runCmd.Flags().StringSliceVar(&policies, "policy", []string{}, "Policies to run (EDF, REORDER), repeatable")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "File to save the processor trace of each policy to")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Seed of the random sources (0 selects named streams)")
	runCmd.Flags().IntVar(&hyperperiods, "hyperperiods", 0, "Number of hyperperiods to simulate")

	batchCmd.Flags().StringVar(&bucketsPath, "buckets", "", "Bucketed task sets (yaml or json)")
	batchCmd.Flags().StringVar(&expCfgPath, "exp", "", "Experiment configuration (yaml or json)")
	batchCmd.Flags().StringVar(&outPath, "out", "", "Results file (yaml or json)")
	batchCmd.Flags().IntSliceVar(&processors, "processors", []int{1}, "Comma-separated processor counts")
	batchCmd.Flags().IntVar(&workers, "workers", 4, "Experiments run concurrently")
	batchCmd.Flags().StringSliceVar(&policies, "policy", []string{}, "Policies to run (EDF, REORDER), repeatable")
	batchCmd.Flags().Uint64Var(&seed, "seed", 0, "Base seed of the random sources")
	batchCmd.Flags().IntVar(&hyperperiods, "hyperperiods", 0, "Number of hyperperiods to simulate")

	rootCmd.AddCommand(wcrtCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(batchCmd)
}
