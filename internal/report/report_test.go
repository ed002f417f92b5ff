package report

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/train"
)

func sampleResult() *evaluate.Result {
	return &evaluate.Result{
		Accuracy:   0.75,
		Thresholds: []float64{10, 20, 40, 180},
		Fractions:  []float64{0.25, 0.5, 0.5, 0.75},
		Total:      8,
		Correct:    6,
	}
}

// exposition renders g in the text format.
func exposition(t *testing.T, g prometheus.Gatherer) string {
	t.Helper()
	families, err := g.Gather()
	require.Nil(t, err)

	var buf bytes.Buffer
	for _, mf := range families {
		_, err := expfmt.MetricFamilyToText(&buf, mf)
		require.Nil(t, err)
	}
	return buf.String()
}

func TestSummaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewSummary("abc", "evaluate", sampleResult())
	s.Dataset = "linemod"
	s.Labels = map[string]string{"host": "ci"}

	path, err := WriteSummary(filepath.Join(dir, "results"), s)
	require.Nil(t, err)
	assert.Equal(t, "evaluate_abc.json", filepath.Base(path))

	got, err := ReadSummaries(path)
	require.Nil(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *s, got[0])
}

func TestRunMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewRunMetrics(registry, prometheus.Labels{"run_id": "abc"})

	m.ObserveLoss("train", train.LossPoint{Step: 10, Pair: 1, Triplet: 0.5, Total: 1.5})
	m.ObserveEval(train.EvalPoint{Step: 20}, sampleResult())
	m.SetMemory(MemoryMetricEntry{HeapAllocBytes: 42})

	text := exposition(t, registry)
	assert.Contains(t, text, `pose_descriptors_accuracy{run_id="abc"} 0.75`)
	assert.Contains(t, text, `pose_descriptors_step{run_id="abc"} 20`)
	assert.Contains(t, text, `pose_descriptors_threshold_fraction{run_id="abc",threshold="20"} 0.5`)
	assert.Contains(t, text, `pose_descriptors_loss{run_id="abc",split="train",term="total"} 1.5`)
	assert.Contains(t, text, `pose_descriptors_heap_alloc_bytes{run_id="abc"} 42`)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.Nil(t, PushMetricsToPrometheus(PrometheusConfig{Textfile: path}, registry, "abc"))

	content, err := os.ReadFile(path)
	require.Nil(t, err)
	assert.Contains(t, string(content), `pose_descriptors_threshold_fraction{run_id="abc",threshold="180"} 0.75`)
}

func TestSummaryPoint(t *testing.T) {
	s := NewSummary("abc", "train", sampleResult())
	s.Labels = map[string]string{"host": "ci"}
	p := SummaryPoint(s)

	assert.Equal(t, "pose_descriptors", p.Name())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 0.75, fields["accuracy"])
	assert.Equal(t, 0.25, fields["fraction_10"])
	assert.Equal(t, 0.75, fields["fraction_180"])

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "ci", tags["host"])
	assert.Equal(t, "train", tags["mode"])
}

func TestInfluxDisabled(t *testing.T) {
	assert.Nil(t, PushMetricsToInfluxDB(context.Background(), InfluxDBConfig{}, &Summary{}))
}

func TestMemoryMonitor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	var sunk int
	m := NewMemoryMonitor(time.Millisecond, path, func(MemoryMetricEntry) { sunk++ })

	m.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	require.Nil(t, m.Stop())

	entries := m.Entries()
	assert.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, len(entries), sunk)
	assert.Greater(t, m.Peak().HeapSysBytes, 0.0)

	_, err := os.Stat(path)
	assert.Nil(t, err)
}

func TestExporter(t *testing.T) {
	dir := t.TempDir()
	s := NewSummary("run1", "evaluate", sampleResult())
	s.Dataset = "linemod"
	_, err := WriteSummary(dir, s)
	require.Nil(t, err)

	e := NewExporter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Nil(t, e.Watch(ctx, dir))

	assert.Contains(t, exposition(t, e.registry),
		`pose_descriptors_accuracy{checkpoint="",dataset="linemod",mode="evaluate",run_id="run1"} 0.75`)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(body), "pose_descriptors_threshold_fraction"))

	s2 := NewSummary("run2", "evaluate", sampleResult())
	s2.Accuracy = 0.5
	_, err = WriteSummary(dir, s2)
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		text := exposition(t, e.registry)
		return strings.Contains(text, `pose_descriptors_accuracy{checkpoint="",dataset="",mode="evaluate",run_id="run2"} 0.5`) &&
			!strings.Contains(text, `run_id="run1"`)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestExporterStartsWithNewestResult(t *testing.T) {
	dir := t.TempDir()

	newer := NewSummary("a", "evaluate", sampleResult())
	newer.Accuracy = 0.9
	newerPath, err := WriteSummary(dir, newer)
	require.Nil(t, err)

	// sorts after the newer file by name
	older := NewSummary("z", "evaluate", sampleResult())
	older.Accuracy = 0.1
	olderPath, err := WriteSummary(dir, older)
	require.Nil(t, err)

	now := time.Now()
	require.Nil(t, os.Chtimes(olderPath, now.Add(-time.Hour), now.Add(-time.Hour)))
	require.Nil(t, os.Chtimes(newerPath, now, now))

	paths, err := existingResults(dir)
	require.Nil(t, err)
	assert.Equal(t, []string{olderPath, newerPath}, paths)

	e := NewExporter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.Nil(t, e.Watch(ctx, dir))

	text := exposition(t, e.registry)
	assert.Contains(t, text, `pose_descriptors_accuracy{checkpoint="",dataset="",mode="evaluate",run_id="a"} 0.9`)
	assert.NotContains(t, text, `run_id="z"`)
}
