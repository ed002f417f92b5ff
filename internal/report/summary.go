// Package report publishes training and evaluation results: JSON summaries
// in a results directory, Prometheus gauges (pushgateway, textfile or a
// directory watching exporter) and InfluxDB points.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
)

// Summary is the persisted record of one evaluation.
type Summary struct {
	RunID      string            `json:"run_id"`
	Timestamp  string            `json:"timestamp"`
	Mode       string            `json:"mode"`
	Dataset    string            `json:"dataset"`
	Checkpoint string            `json:"checkpoint"`
	Classes    []string          `json:"classes"`
	Accuracy   float64           `json:"accuracy"`
	Thresholds []float64         `json:"thresholds"`
	Fractions  []float64         `json:"fractions"`
	Templates  int               `json:"templates"`
	Test       int               `json:"test"`
	Steps      int               `json:"steps"`
	TrainTime  float64           `json:"trainTime"`
	HeapAlloc  float64           `json:"heap_alloc_bytes"`
	HeapInuse  float64           `json:"heap_inuse_bytes"`
	HeapSys    float64           `json:"heap_sys_bytes"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// NewSummary fills the evaluation fields of a Summary from res.
func NewSummary(runID, mode string, res *evaluate.Result) *Summary {
	return &Summary{
		RunID:      runID,
		Timestamp:  time.Now().Format(time.RFC3339),
		Mode:       mode,
		Accuracy:   res.Accuracy,
		Thresholds: res.Thresholds,
		Fractions:  res.Fractions,
		Test:       res.Total,
	}
}

// WriteSummary stores s as a one element JSON array in dir, the format the
// exporter reads.
func WriteSummary(dir string, s *Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create results directory")
	}

	data, err := json.MarshalIndent([]*Summary{s}, "", "    ")
	if err != nil {
		return "", errors.Wrap(err, "marshal summary")
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.json", s.Mode, s.RunID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write summary")
	}
	return path, nil
}

// ReadSummaries parses a file written by WriteSummary.
func ReadSummaries(path string) ([]Summary, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var out []Summary
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return out, nil
}

// thresholdLabel names a threshold bucket, e.g. "40".
func thresholdLabel(t float64) string {
	return fmt.Sprintf("%g", t)
}
