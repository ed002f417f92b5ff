package evaluate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// WriteTextTo prints accuracy and the cumulative threshold fractions.
func (r *Result) WriteTextTo(w io.Writer) (int64, error) {
	b := strings.Builder{}
	for i, limit := range r.Thresholds {
		b.WriteString(fmt.Sprintf("<= %3.0f deg: %f\n", limit, r.Fractions[i]))
	}

	n, err := w.Write([]byte(fmt.Sprintf(
		"Results\nTest samples: %d\nCorrect: %d\nAccuracy: %f\n%s",
		r.Total, r.Correct, r.Accuracy, b.String())))
	return int64(n), err
}

// WriteJSONTo writes the result as indented JSON.
func (r *Result) WriteJSONTo(w io.Writer) (int, error) {
	bytes, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return 0, err
	}
	return w.Write(bytes)
}

const histogramWidth = 50

// Histogram renders the threshold fractions as horizontal bars.
func (r *Result) Histogram(w io.Writer) error {
	for i, limit := range r.Thresholds {
		bar := int(r.Fractions[i]*histogramWidth + 0.5)
		if _, err := fmt.Fprintf(w, "%4.0f | %-*s %5.1f%%\n", limit, histogramWidth,
			strings.Repeat("#", bar), r.Fractions[i]*100); err != nil {
			return err
		}
	}
	return nil
}
