package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/annfile"
	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/report"
	"github.com/weaviate/pose-descriptors/internal/train"
)

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate descriptors by nearest template retrieval",
	Long: `Embed the template and test pools with a checkpoint, or read an exported
descriptor file, and report class accuracy and pose error thresholds`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "evaluate"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		if err := runEvaluation(context.Background(), cfg); err != nil {
			fatal(err)
		}
	},
}

func initEvaluate() {
	rootCmd.AddCommand(evaluateCommand)
	addDatasetFlags(evaluateCommand)
	addCheckpointFlag(evaluateCommand)
	addParallelFlag(evaluateCommand)
	addOutputFlags(evaluateCommand)
	addReportFlags(evaluateCommand)
	evaluateCommand.PersistentFlags().StringVarP(&globalConfig.BenchmarkFile,
		"vectors", "v", "", "Path to an exported hdf5 descriptor file, replaces checkpoint and dataset")
}

func runEvaluation(ctx context.Context, cfg Config) error {
	var (
		templates, test evaluate.Set
		source          string
	)

	if cfg.BenchmarkFile != "" {
		f, err := annfile.Read(cfg.BenchmarkFile)
		if err != nil {
			return err
		}
		templates, test = f.Templates, f.Test
		source = filepath.Base(cfg.BenchmarkFile)
	} else {
		ds, err := loadDataset(cfg)
		if err != nil {
			return err
		}
		net, err := loadCheckpoint(cfg)
		if err != nil {
			return err
		}
		templates, test, err = train.EmbedSets(ctx, net, ds, cfg.Parallel)
		if err != nil {
			return err
		}
		source = filepath.Base(cfg.DataDir)
	}

	res, err := evaluate.Run(templates, test)
	if err != nil {
		return err
	}

	labels := classLabels(cfg.ClassList, templates.Classes())
	confusion, err := evaluate.ConfusionMatrix(res.TrueClasses, res.PredictedClasses, labels)
	if err != nil {
		return err
	}

	if err := printResult(cfg, res, confusion); err != nil {
		return err
	}

	runID := newRunID()
	registry := prometheus.NewRegistry()
	report.NewRunMetrics(registry, runLabels(cfg, runID)).SetResult(res)

	s := report.NewSummary(runID, cfg.Mode, res)
	s.Dataset = source
	s.Checkpoint = cfg.Checkpoint
	s.Templates = len(templates.Embeddings)

	log.WithFields(log.Fields{
		"source":   source,
		"accuracy": res.Accuracy,
	}).Info("Evaluation finished")

	cfg.ClassList = labels
	return publishSummary(ctx, cfg, registry, s)
}

// classLabels returns names for n classes, falling back to class<i> when
// the configured names do not cover them.
func classLabels(names []string, n int) []string {
	if len(names) == n {
		return names
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("class%d", i)
	}
	return labels
}
