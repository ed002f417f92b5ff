package cmd

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/report"
)

func newRunID() string {
	return uuid.New().String()
}

// runLabels combines the user supplied labels with the run identity.
func runLabels(cfg Config, runID string) prometheus.Labels {
	labels := prometheus.Labels{"run_id": runID, "mode": cfg.Mode}
	for k, v := range cfg.LabelMap {
		labels[k] = v
	}
	return labels
}

// publishSummary writes s into the results directory and hands it to the
// configured Prometheus and InfluxDB sinks. Sink failures are logged, only a
// failed summary write is returned.
func publishSummary(ctx context.Context, cfg Config, registry *prometheus.Registry, s *report.Summary) error {
	s.Labels = cfg.LabelMap
	s.Classes = cfg.ClassList
	if s.Dataset == "" && cfg.DataDir != "" {
		s.Dataset = filepath.Base(cfg.DataDir)
	}

	if cfg.ResultsDir != "" {
		path, err := report.WriteSummary(cfg.ResultsDir, s)
		if err != nil {
			return err
		}
		log.WithField("file", path).Info("Wrote summary")
	}

	if registry != nil {
		if err := report.PushMetricsToPrometheus(cfg.PrometheusConfig, registry, s.RunID); err != nil {
			log.WithError(err).Warn("Prometheus export failed")
		}
	}

	if err := report.PushMetricsToInfluxDB(ctx, cfg.InfluxDBConfig, s); err != nil {
		log.WithError(err).Warn("InfluxDB export failed")
	}
	return nil
}
