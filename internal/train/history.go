package train

import (
	"encoding/json"
	"io"
	"os"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
)

// LossPoint is the loss of one batch at a given step.
type LossPoint struct {
	Step    int     `json:"step"`
	Pair    float64 `json:"pair"`
	Triplet float64 `json:"triplet"`
	Total   float64 `json:"total"`
}

// EvalPoint is a retrieval evaluation at a given step.
type EvalPoint struct {
	Step      int       `json:"step"`
	Accuracy  float64   `json:"accuracy"`
	Fractions []float64 `json:"fractions"`
}

// History collects everything recorded during a run.
type History struct {
	RunID       string              `json:"runId"`
	Classes     []string            `json:"classes"`
	Thresholds  []float64           `json:"thresholds"`
	Train       []LossPoint         `json:"train"`
	Validation  []LossPoint         `json:"validation"`
	Evaluations []EvalPoint         `json:"evaluations"`
	Final       *evaluate.Result    `json:"final,omitempty"`
	Confusion   *evaluate.Confusion `json:"confusion,omitempty"`
	Steps       int                 `json:"steps"`
}

// WriteJSONTo writes the history as indented JSON.
func (h *History) WriteJSONTo(w io.Writer) (int, error) {
	bytes, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return 0, err
	}
	return w.Write(bytes)
}

// WriteFile writes the history JSON to path.
func (h *History) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := h.WriteJSONTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadHistory loads a history written by WriteFile.
func ReadHistory(path string) (*History, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(bytes, &h); err != nil {
		return nil, err
	}
	return &h, nil
}
