package main

import (
	"os"

	"github.com/spf13/cobra"

	avail "github.com/CovidWA/covidwa-availability"
)

var configPath string
var cfg *avail.Config

var rootCmd = &cobra.Command{
	Use:   "availability-loader",
	Short: "Load vaccine availability from scheduling systems",
	Long:  "Loads appointment availability from upstream scheduling feeds, reconciles it against known locations, and serves the update API.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := avail.NewConfig(cmd.Context(), configPath)
		if err != nil {
			avail.Log.Errorf("Can't read config: %v", err)
			return err
		}
		cfg = c
		return nil
	},
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", avail.DefaultConfigPath, "path to the YAML config file")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
