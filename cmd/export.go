package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/annfile"
	"github.com/weaviate/pose-descriptors/internal/train"
)

var exportCommand = &cobra.Command{
	Use:   "export",
	Short: "Export template and test descriptors to an hdf5 file",
	Long:  `Embed the template and test pools and write them in the ann-benchmarks hdf5 layout with exact neighbors`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "export"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ds, err := loadDataset(cfg)
		if err != nil {
			fatal(err)
		}
		net, err := loadCheckpoint(cfg)
		if err != nil {
			fatal(err)
		}

		templates, test, err := train.EmbedSets(context.Background(), net, ds, cfg.Parallel)
		if err != nil {
			fatal(err)
		}

		if err := annfile.Write(cfg.BenchmarkFile, templates, test, cfg.Neighbors); err != nil {
			fatal(err)
		}

		log.WithFields(log.Fields{
			"file":      cfg.BenchmarkFile,
			"templates": len(templates.Embeddings),
			"test":      len(test.Embeddings),
			"neighbors": cfg.Neighbors,
		}).Info("Exported descriptors")
	},
}

func initExport() {
	rootCmd.AddCommand(exportCommand)
	addDatasetFlags(exportCommand)
	addCheckpointFlag(exportCommand)
	addParallelFlag(exportCommand)
	exportCommand.PersistentFlags().StringVarP(&globalConfig.BenchmarkFile,
		"vectors", "v", "", "Path of the hdf5 file to write")
	exportCommand.PersistentFlags().IntVarP(&globalConfig.Neighbors,
		"neighbors", "k", 10, "Number of exact nearest templates stored per test sample")
}
