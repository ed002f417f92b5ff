package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/network"
	"github.com/weaviate/pose-descriptors/internal/report"
	"github.com/weaviate/pose-descriptors/internal/train"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Train a descriptor network",
	Long:  `Build the template, train and test pools, train the descriptor network on triplet batches and evaluate it periodically`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "train"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runTraining(ctx, cfg); err != nil {
			fatal(err)
		}
	},
}

func initTrain() {
	rootCmd.AddCommand(trainCommand)
	defaults := train.DefaultConfig()

	addDatasetFlags(trainCommand)
	addParallelFlag(trainCommand)
	addReportFlags(trainCommand)
	addOutputFlags(trainCommand)
	trainCommand.PersistentFlags().StringVarP(&globalConfig.Checkpoint,
		"checkpoint", "m", "", "Where to save the trained model (default <results>/runs/<run id>/model.ckpt)")
	trainCommand.PersistentFlags().IntVarP(&globalConfig.Epochs,
		"epochs", "e", defaults.Epochs, "Number of training epochs")
	trainCommand.PersistentFlags().IntVarP(&globalConfig.Iterations,
		"iterations", "i", defaults.Iterations, "Optimizer steps per epoch")
	trainCommand.PersistentFlags().IntVarP(&globalConfig.BatchSize,
		"batchSize", "b", defaults.BatchSize, "Triples per batch")
	trainCommand.PersistentFlags().IntVar(&globalConfig.LogEvery,
		"logEvery", defaults.LogEvery, "Record train and validation loss every n steps, 0 disables")
	trainCommand.PersistentFlags().IntVar(&globalConfig.EvalEvery,
		"evalEvery", defaults.EvalEvery, "Evaluate retrieval every n steps, 0 disables")
	trainCommand.PersistentFlags().IntVar(&globalConfig.SamplerWorkers,
		"samplerWorkers", defaults.SamplerWorkers, "Number of goroutines prefetching batches")
	trainCommand.PersistentFlags().Int64Var(&globalConfig.Seed,
		"seed", defaults.Seed, "Seed for weight init and batch sampling")
	trainCommand.PersistentFlags().Float64Var(&globalConfig.LearningRate,
		"learningRate", defaults.Adam.LearningRate, "Adam learning rate")
	trainCommand.PersistentFlags().BoolVar(&globalConfig.MemoryMonitoringEnabled,
		"memoryMonitoring", false, "Sample heap usage while training")
	trainCommand.PersistentFlags().IntVar(&globalConfig.MemoryMonitoringInterval,
		"memoryMonitoringInterval", 5, "Heap sampling interval in seconds")
}

func (c Config) trainConfig() train.Config {
	tc := train.DefaultConfig()
	tc.Epochs = c.Epochs
	tc.Iterations = c.Iterations
	tc.BatchSize = c.BatchSize
	tc.LogEvery = c.LogEvery
	tc.EvalEvery = c.EvalEvery
	tc.Parallel = c.Parallel
	tc.SamplerWorkers = c.SamplerWorkers
	tc.Seed = c.Seed
	tc.Adam.LearningRate = c.LearningRate
	return tc
}

func (c Config) architecture() network.Architecture {
	arch := network.DefaultArchitecture()
	arch.Height = c.Height
	arch.Width = c.Width
	arch.Channels = c.Channels
	return arch
}

func runTraining(ctx context.Context, cfg Config) error {
	runID := newRunID()
	runDir := filepath.Join(cfg.ResultsDir, "runs", runID)
	if cfg.Checkpoint == "" {
		cfg.Checkpoint = filepath.Join(runDir, "model.ckpt")
	}
	for _, dir := range []string{runDir, filepath.Dir(cfg.Checkpoint)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create run directory")
		}
	}

	ds, err := loadDataset(cfg)
	if err != nil {
		return err
	}

	net, err := network.New(cfg.architecture(), cfg.Seed)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := report.NewRunMetrics(registry, runLabels(cfg, runID))

	trainer, err := train.New(cfg.trainConfig(), net, ds, metrics)
	if err != nil {
		return err
	}

	var monitor *report.MemoryMonitor
	if cfg.MemoryMonitoringEnabled {
		monitor = report.NewMemoryMonitor(time.Duration(cfg.MemoryMonitoringInterval)*time.Second,
			filepath.Join(runDir, "memory_metrics.json"), metrics.SetMemory)
		monitor.Start(ctx)
	}

	log.WithFields(log.Fields{
		"run_id": runID,
		"steps":  cfg.trainConfig().Steps(),
		"batch":  cfg.BatchSize,
	}).Info("Starting training")

	start := time.Now()
	history, trainErr := trainer.Run(ctx)
	took := time.Since(start)

	if monitor != nil {
		if err := monitor.Stop(); err != nil {
			log.WithError(err).Warn("Failed to write memory metrics")
		}
	}

	if history == nil {
		return trainErr
	}
	if trainErr != nil {
		// keep what was learned so far
		log.WithError(trainErr).Warn("Training stopped early")
	}

	history.RunID = runID
	if err := net.SaveFile(cfg.Checkpoint); err != nil {
		return err
	}
	log.WithField("file", cfg.Checkpoint).Info("Saved checkpoint")

	historyPath := filepath.Join(runDir, "history.json")
	if err := history.WriteFile(historyPath); err != nil {
		return err
	}
	log.WithField("file", historyPath).Info("Wrote history")

	if history.Final != nil {
		if err := printResult(cfg, history.Final, history.Confusion); err != nil {
			return err
		}

		s := report.NewSummary(runID, cfg.Mode, history.Final)
		s.Checkpoint = cfg.Checkpoint
		s.Templates = ds.TemplatesPerClass() * len(ds.Classes)
		s.Steps = history.Steps
		s.TrainTime = took.Seconds()
		if monitor != nil {
			peak := monitor.Peak()
			s.HeapAlloc = peak.HeapAllocBytes
			s.HeapInuse = peak.HeapInuseBytes
			s.HeapSys = peak.HeapSysBytes
		}
		metrics.TrainTime.Set(s.TrainTime)

		if err := publishSummary(context.Background(), cfg, registry, s); err != nil {
			return err
		}
	}

	return errors.Wrap(trainErr, "training")
}

// printResult writes the evaluation in the configured format; text output
// includes the angle histogram and, when given, the confusion matrix.
func printResult(cfg Config, res *evaluate.Result, confusion *evaluate.Confusion) error {
	return writeOutput(cfg, func(w io.Writer) error {
		if cfg.OutputFormat == "json" {
			_, err := res.WriteJSONTo(w)
			return err
		}

		if _, err := res.WriteTextTo(w); err != nil {
			return err
		}
		if err := res.Histogram(w); err != nil {
			return err
		}
		if confusion == nil {
			return nil
		}
		return confusion.WriteTextTo(w)
	})
}
