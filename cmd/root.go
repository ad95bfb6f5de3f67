package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/NolanFox/rhodesli/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "rhodesli",
	Short: "Identity resolution for a family photo archive",
	Long: `Rhodesli groups faces detected in archive photos into identities.

It keeps the identity registry and photo index, ranks likely matches between
identities using face embeddings, and refuses merges that would put two faces
from the same photo into one person.

Storage, embeddings and calibration are configured through environment
variables (a .env file in the working directory is loaded when present).`,
	SilenceUsage:       true,
	PersistentPostRunE: writeMetricsTextfile,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().Bool("allow-empty", true, "Start with empty registries when no snapshot has been written yet")
	rootCmd.PersistentFlags().String("actor", defaultActor(), "Name recorded in identity history")
	rootCmd.PersistentFlags().String("metrics-textfile", "", "Write Prometheus metrics to this file when the command finishes")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
	metrics.Register()
}

func defaultActor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "cli"
}

// writeMetricsTextfile dumps the default registry in the node_exporter
// textfile collector format.
func writeMetricsTextfile(cmd *cobra.Command, _ []string) error {
	path := mustGetString(cmd, "metrics-textfile")
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
