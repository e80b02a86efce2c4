package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	avail "github.com/CovidWA/covidwa-availability"
)

var testCmd = &cobra.Command{
	Use:   "test <source pattern>",
	Short: "Run matching sources once without saving anything",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.TestMode = true
		avail.Log.SetLevel("debug")

		runs, err := selectSources(args)
		if err != nil {
			avail.Log.Warnf("%v", err)
			os.Exit(2)
		}

		runner, err := avail.NewRunner(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer runner.Close()
		runner.Retries = 0

		runErr := runner.RunOnce(cmd.Context(), runs)
		for _, run := range runs {
			status := "ok"
			if run.Err != nil {
				status = run.Err.Error()
			}
			fmt.Printf("%s: %d location(s), %s\n", run.Name, len(run.Locations), status)
		}
		if runErr != nil {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(testCmd)
}
