package cmd

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/distsim/distsim/sim"
	"github.com/distsim/distsim/sim/comm"
)

var (
	// CLI flags for run control
	networkFile string // YAML network description path
	steps       int    // number of simulation steps
	logLevel    string // log verbosity level
	progress    bool   // periodic progress logging
	timingLog   string // per-step timing CSV path ("" disables collection)

	// CLI flags for process topology
	rank        int    // this process's rank
	addrs       string // comma-separated rank-indexed TCP addresses ("" = single process)
	coordinator int    // coordinator rank for setup and probe gather
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "distsim",
	Short: "Distributed stepped-dataflow simulation engine",
}

// openCommunicator builds the transport for this process: a TCP network
// when an address list is given, otherwise a single-rank in-process group.
func openCommunicator() (comm.Communicator, error) {
	if addrs == "" {
		comms, err := comm.NewGroup(1)
		if err != nil {
			return nil, err
		}
		return comms[0], nil
	}
	list := strings.Split(addrs, ",")
	return comm.NewNetwork(rank, list)
}

// runCmd executes one rank of a simulation run from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run this rank's partition of a simulation",
	Run: func(cmd *cobra.Command, args []string) {
		// Set up logging
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		if networkFile == "" {
			logrus.Fatalf("Network description not provided. Exiting.")
		}

		c, err := openCommunicator()
		if err != nil {
			logrus.Fatalf("Communicator setup failed: %v", err)
		}
		defer c.Close()

		s, err := sim.NewSimulator(c, coordinator)
		if err != nil {
			logrus.Fatalf("Simulator setup failed: %v", err)
		}
		defer s.Close()

		if err := s.FromFile(networkFile); err != nil {
			logrus.Fatalf("Build failed: %v", err)
		}
		if err := s.FinalizeBuild(); err != nil {
			logrus.Fatalf("Finalize failed: %v", err)
		}

		logrus.Infof("rank %d: running %d steps", s.Rank(), steps)
		if err := s.RunNSteps(steps, progress, timingLog); err != nil {
			logrus.Fatalf("Run aborted: %v", err)
		}

		if err := s.GatherProbeData(); err != nil {
			logrus.Fatalf("Probe gather failed: %v", err)
		}
		if s.IsCoordinator() {
			for _, key := range s.GetProbeKeys() {
				data, err := s.GetProbeData(key)
				if err != nil {
					logrus.Fatalf("Probe readout failed: %v", err)
				}
				logrus.Infof("probe %d: %d snapshots", key, len(data))
			}
		}
		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	runCmd.Flags().StringVar(&networkFile, "network", "", "YAML network description file")
	runCmd.Flags().IntVar(&steps, "steps", 1, "Number of simulation steps")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
	runCmd.Flags().BoolVar(&progress, "progress", false, "Log periodic progress")
	runCmd.Flags().StringVar(&timingLog, "timing-log", "", "Write per-step timing CSV to this path")

	// Process topology
	runCmd.Flags().IntVar(&rank, "rank", 0, "This process's rank")
	runCmd.Flags().StringVar(&addrs, "addrs", "", "Comma-separated rank-indexed TCP addresses (empty = single process)")
	runCmd.Flags().IntVar(&coordinator, "coordinator", 0, "Coordinator rank for setup and probe gather")

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
