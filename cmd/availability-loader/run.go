package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	avail "github.com/CovidWA/covidwa-availability"
)

var runContinuously bool

var runCmd = &cobra.Command{
	Use:   "run [source pattern...]",
	Short: "Run sources once (or continuously) and save the results",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runs, err := selectSources(args)
		if err != nil {
			return err
		}

		runner, err := avail.NewRunner(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "init runner")
		}
		defer runner.Close()

		if runContinuously {
			return runner.RunContinuously(ctx, runs)
		}
		return runner.RunOnce(ctx, runs)
	},
}

func init() {
	runCmd.Flags().BoolVar(&runContinuously, "continuous", false, "keep running each source every poll_interval seconds")
	rootCmd.AddCommand(runCmd)
}

func selectSources(patterns []string) ([]*avail.SourceRun, error) {
	runs, err := avail.CreateSources(cfg)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return runs, nil
	}

	selected := make([]*avail.SourceRun, 0)
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		matched, err := avail.FilterSources(runs, pattern)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			return nil, eris.Errorf("Source not found: %s", pattern)
		}
		for _, run := range matched {
			if !seen[run.Name] {
				seen[run.Name] = true
				selected = append(selected, run)
			}
		}
	}
	return selected, nil
}
