package cmd

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/network"
	"github.com/weaviate/pose-descriptors/internal/templateindex"
	"github.com/weaviate/pose-descriptors/internal/train"
)

var publishCommand = &cobra.Command{
	Use:   "publish",
	Short: "Import template descriptors into Weaviate",
	Long:  `Embed every template view and import it into a Weaviate collection for nearest template search`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "publish"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ctx := context.Background()

		ds, err := loadDataset(cfg)
		if err != nil {
			fatal(err)
		}
		net, err := loadCheckpoint(cfg)
		if err != nil {
			fatal(err)
		}

		templates, err := embedTemplates(ctx, net, ds, cfg.Parallel)
		if err != nil {
			fatal(err)
		}

		icfg := cfg.templateIndexConfig()
		if err := templateindex.CreateSchema(ctx, icfg); err != nil {
			fatal(err)
		}

		imported, err := templateindex.Import(ctx, icfg, templates)
		if err != nil {
			fatal(err)
		}
		if imported != len(templates) {
			fatal(errors.Errorf("imported %d of %d templates", imported, len(templates)))
		}

		infof("Imported %d templates into %s", imported, cfg.ClassName)
	},
}

func initPublish() {
	rootCmd.AddCommand(publishCommand)
	addDatasetFlags(publishCommand)
	addCheckpointFlag(publishCommand)
	addParallelFlag(publishCommand)
	addWeaviateFlags(publishCommand)
	publishCommand.PersistentFlags().IntVarP(&globalConfig.ImportBatchSize,
		"batchSize", "b", 1000, "Batch size for insert operations")
}

func (c Config) templateIndexConfig() templateindex.Config {
	batchSize := c.ImportBatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	parallel := c.Parallel
	if parallel <= 0 {
		parallel = 1
	}
	return templateindex.Config{
		Origin:     c.Origin,
		HTTPOrigin: c.HttpOrigin,
		HTTPScheme: c.HttpScheme,
		ClassName:  c.ClassName,
		HTTPAuth:   c.HttpAuth,
		BatchSize:  batchSize,
		Parallel:   parallel,
	}
}

// embedTemplates embeds the template pools of ds in class order.
func embedTemplates(ctx context.Context, net *network.Network, ds *dataset.Dataset, workers int) ([]templateindex.Template, error) {
	var out []templateindex.Template
	for class, pool := range ds.Templates {
		embeddings, err := net.EmbedBatch(ctx, train.Float32s(pool.Images), workers)
		if err != nil {
			return nil, errors.Wrapf(err, "embed %s templates", ds.Classes[class])
		}
		for i, e := range embeddings {
			out = append(out, templateindex.Template{
				Class:     class,
				ClassName: ds.Classes[class],
				Index:     i,
				Image:     pool.Names[i],
				Pose:      pool.Poses[i],
				Embedding: e,
			})
		}
	}

	log.WithField("templates", len(out)).Debug("Embedded templates")
	return out, nil
}
