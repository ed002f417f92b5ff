package report

import (
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/train"
)

const namespace = "pose_descriptors"

// PrometheusConfig holds configuration for Prometheus metrics reporting
type PrometheusConfig struct {
	Enabled bool
	PushURL string
	JobName string
	// Textfile, when set, receives the registry in the text exposition
	// format, e.g. for the node exporter textfile collector.
	Textfile string
}

// RunMetrics holds the gauges of one training or evaluation run.
type RunMetrics struct {
	Accuracy  prometheus.Gauge
	Fractions *prometheus.GaugeVec
	Loss      *prometheus.GaugeVec
	Step      prometheus.Gauge
	TrainTime prometheus.Gauge
	HeapAlloc prometheus.Gauge
	HeapInuse prometheus.Gauge
	HeapSys   prometheus.Gauge
}

// NewRunMetrics creates and registers the run gauges.
func NewRunMetrics(registry *prometheus.Registry, labels prometheus.Labels) *RunMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &RunMetrics{
		Accuracy: gauge("accuracy", "Share of test samples whose nearest template has the right class"),
		Fractions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "threshold_fraction",
			Help:        "Share of test samples classified correctly within the pose error threshold",
			ConstLabels: labels,
		}, []string{"threshold"}),
		Loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "loss",
			Help:        "Latest batch loss",
			ConstLabels: labels,
		}, []string{"split", "term"}),
		Step:      gauge("step", "Latest optimizer step"),
		TrainTime: gauge("train_time_seconds", "Wall time spent training"),
		HeapAlloc: gauge("heap_alloc_bytes", "Heap allocation in bytes"),
		HeapInuse: gauge("heap_inuse_bytes", "Heap in use in bytes"),
		HeapSys:   gauge("heap_sys_bytes", "Heap system in bytes"),
	}

	registry.MustRegister(
		m.Accuracy,
		m.Fractions,
		m.Loss,
		m.Step,
		m.TrainTime,
		m.HeapAlloc,
		m.HeapInuse,
		m.HeapSys,
	)
	return m
}

// SetResult records an evaluation.
func (m *RunMetrics) SetResult(res *evaluate.Result) {
	m.Accuracy.Set(res.Accuracy)
	for i, t := range res.Thresholds {
		m.Fractions.WithLabelValues(thresholdLabel(t)).Set(res.Fractions[i])
	}
}

// SetMemory records a memory sample.
func (m *RunMetrics) SetMemory(e MemoryMetricEntry) {
	m.HeapAlloc.Set(e.HeapAllocBytes)
	m.HeapInuse.Set(e.HeapInuseBytes)
	m.HeapSys.Set(e.HeapSysBytes)
}

// ObserveLoss implements train.Observer.
func (m *RunMetrics) ObserveLoss(split string, p train.LossPoint) {
	m.Step.Set(float64(p.Step))
	m.Loss.WithLabelValues(split, "pair").Set(p.Pair)
	m.Loss.WithLabelValues(split, "triplet").Set(p.Triplet)
	m.Loss.WithLabelValues(split, "total").Set(p.Total)
}

// ObserveEval implements train.Observer.
func (m *RunMetrics) ObserveEval(p train.EvalPoint, res *evaluate.Result) {
	m.Step.Set(float64(p.Step))
	m.SetResult(res)
}

// PushMetricsToPrometheus pushes the registry to a Prometheus pushgateway
// and writes the textfile when configured.
func PushMetricsToPrometheus(cfg PrometheusConfig, registry *prometheus.Registry, runID string) error {
	if cfg.Textfile != "" {
		if err := WriteTextfile(cfg.Textfile, registry); err != nil {
			return err
		}
	}

	if !cfg.Enabled || cfg.PushURL == "" {
		return nil
	}

	pusher := push.New(cfg.PushURL, cfg.JobName).
		Grouping("run_id", runID).
		Gatherer(registry)

	if err := pusher.Push(); err != nil {
		log.WithError(err).Error("Failed to push metrics to Prometheus")
		return err
	}

	log.WithFields(log.Fields{
		"url":    cfg.PushURL,
		"job":    cfg.JobName,
		"run_id": runID,
	}).Info("Successfully pushed metrics to Prometheus")
	return nil
}

// WriteTextfile writes every metric family of g to path in the text
// exposition format.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			f.Close()
			return errors.Wrapf(err, "encode %s", mf.GetName())
		}
	}
	return f.Close()
}
