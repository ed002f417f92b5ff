package report

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	exporterLabels  = []string{"run_id", "mode", "dataset", "checkpoint"}
	thresholdLabels = []string{"run_id", "mode", "dataset", "checkpoint", "threshold"}
)

// Exporter republishes the summaries found in a results directory as
// Prometheus gauges.
type Exporter struct {
	registry *prometheus.Registry
	metrics  map[string]*prometheus.GaugeVec
}

func NewExporter() *Exporter {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	metricNames := []struct {
		name   string
		help   string
		labels []string
	}{
		{"accuracy", "Share of test samples classified correctly", exporterLabels},
		{"threshold_fraction", "Share of test samples classified correctly within the pose error threshold", thresholdLabels},
		{"steps", "Optimizer steps of the evaluated checkpoint", exporterLabels},
		{"train_time_seconds", "Wall time spent training", exporterLabels},
		{"heap_alloc_bytes", "Heap alloc bytes", exporterLabels},
		{"heap_inuse_bytes", "Heap inuse bytes", exporterLabels},
		{"heap_sys_bytes", "Heap sys bytes", exporterLabels},
	}

	e := &Exporter{registry: registry, metrics: make(map[string]*prometheus.GaugeVec)}
	for _, metric := range metricNames {
		e.metrics[metric.name] = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      metric.name,
				Help:      metric.help,
			},
			metric.labels,
		)
	}
	return e
}

// Handler serves the exporter's gauges.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ProcessFile replaces the exported gauges with the summaries in path.
func (e *Exporter) ProcessFile(path string) error {
	summaries, err := ReadSummaries(path)
	if err != nil {
		return err
	}

	for _, metric := range e.metrics {
		metric.Reset()
	}

	for _, s := range summaries {
		labels := prometheus.Labels{
			"run_id":     s.RunID,
			"mode":       s.Mode,
			"dataset":    s.Dataset,
			"checkpoint": s.Checkpoint,
		}

		e.metrics["accuracy"].With(labels).Set(s.Accuracy)
		e.metrics["steps"].With(labels).Set(float64(s.Steps))
		e.metrics["train_time_seconds"].With(labels).Set(s.TrainTime)
		e.metrics["heap_alloc_bytes"].With(labels).Set(s.HeapAlloc)
		e.metrics["heap_inuse_bytes"].With(labels).Set(s.HeapInuse)
		e.metrics["heap_sys_bytes"].With(labels).Set(s.HeapSys)

		for i, t := range s.Thresholds {
			if i >= len(s.Fractions) {
				break
			}
			withThreshold := prometheus.Labels{"threshold": thresholdLabel(t)}
			for k, v := range labels {
				withThreshold[k] = v
			}
			e.metrics["threshold_fraction"].With(withThreshold).Set(s.Fractions[i])
		}
	}

	log.WithField("file", path).Info("Processed results file")
	return nil
}

// Watch processes the JSON files already in dir, oldest first so the newest
// one ends up exported, then every JSON file that is created or written until
// ctx is cancelled.
func (e *Exporter) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "error creating watcher")
	}

	files, err := existingResults(dir)
	if err != nil {
		watcher.Close()
		return err
	}
	for _, fullPath := range files {
		if err := e.ProcessFile(fullPath); err != nil {
			log.WithError(err).WithField("file", fullPath).Warn("Error processing existing file")
		}
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return errors.Wrap(err, "error adding directory to watcher")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && filepath.Ext(event.Name) == ".json" {
					if err := e.ProcessFile(event.Name); err != nil {
						log.WithError(err).WithField("file", event.Name).Warn("Error processing file")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("Error watching directory")
			}
		}
	}()

	return nil
}

// existingResults lists the JSON files in dir by modification time, oldest
// first.
func existingResults(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "error reading directory")
	}

	type result struct {
		path    string
		modTime time.Time
	}
	var results []result
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		results = append(results, result{filepath.Join(dir, entry.Name()), info.ModTime()})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].modTime.Before(results[j].modTime)
	})

	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.path
	}
	return paths, nil
}
