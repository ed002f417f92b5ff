package cmd

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/network"
)

func loadDataset(cfg Config) (*dataset.Dataset, error) {
	src := dataset.NewDirSource(cfg.DataDir)

	split, err := src.SplitList()
	if err != nil {
		return nil, err
	}

	ds, err := dataset.Build(src, cfg.ClassList, split, cfg.imageShape())
	if err != nil {
		return nil, errors.Wrapf(err, "load dataset from %s", cfg.DataDir)
	}

	fields := log.Fields{"dir": cfg.DataDir, "classes": len(ds.Classes)}
	for k, v := range ds.Summary() {
		fields[k] = v
	}
	log.WithFields(fields).Info("Loaded dataset")
	return ds, nil
}

// loadCheckpoint restores a network and checks that it accepts the images
// of the configured shape.
func loadCheckpoint(cfg Config) (*network.Network, error) {
	net, err := network.LoadFile(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}

	arch := net.Architecture()
	if cfg.Height > 0 && (arch.Height != cfg.Height || arch.Width != cfg.Width || arch.Channels != cfg.Channels) {
		return nil, errors.Errorf("checkpoint expects %dx%dx%d images, configured %dx%dx%d",
			arch.Width, arch.Height, arch.Channels, cfg.Width, cfg.Height, cfg.Channels)
	}

	log.WithFields(log.Fields{
		"checkpoint": cfg.Checkpoint,
		"descriptor": arch.Descriptor,
	}).Info("Loaded checkpoint")
	return net, nil
}
