// Package main provides the tierq command line entry point.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tierq/tierq/internal/config"
	"github.com/tierq/tierq/pkg/engine"
)

var (
	// Version as provided by goreleaser.
	Version = "dev"
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile    string
	statsInterval time.Duration

	rootCmd = &cobra.Command{
		Use:           "tierq",
		Short:         "Adaptive multi-tier cache and task scheduling engine",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and serve the metrics endpoint",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			if CommitSHA != "" {
				fmt.Printf("tierq %s (%s)\n", Version, CommitSHA)
				return
			}
			fmt.Printf("tierq %s\n", Version)
		},
	}
)

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a tierq.yaml config file")
	serveCmd.Flags().DurationVar(&statsInterval, "stats-interval", time.Minute, "how often to log engine stats")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig)
			return eng.Close()
		case <-ticker.C:
			logStats(eng)
		}
	}
}

func logStats(eng *engine.Engine) {
	cs := eng.CacheStats()
	sm := eng.Metrics()

	log.Info("cache",
		"hit_rate", fmt.Sprintf("%.1f%%", cs.HitRate()*100),
		"fast_entries", cs.FastEntries,
		"capacity_entries", cs.CapacityCount,
		"stored", humanize.Bytes(uint64(cs.BytesStored)),
		"evictions", cs.Evictions,
		"rss", humanize.Bytes(cs.ProcessRSS))

	log.Info("scheduler",
		"queued", sm.QueueDepth,
		"running", sm.TasksRunning,
		"completed", sm.TasksCompleted,
		"failed", sm.TasksFailed,
		"workers_active", sm.ActiveWorkers,
		"workers_idle", sm.IdleWorkers,
		"avg_latency", sm.AvgLatency,
		"throughput", fmt.Sprintf("%.1f/s", sm.Throughput))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error("tierq failed", "error", err)
		os.Exit(1)
	}
}
