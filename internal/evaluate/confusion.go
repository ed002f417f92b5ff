package evaluate

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
)

// Confusion counts predictions per (true class, predicted class).
type Confusion struct {
	Labels []string `json:"labels"`
	Counts [][]int  `json:"counts"`
}

// ConfusionMatrix tallies aligned true and predicted class ids.
func ConfusionMatrix(trueClasses, predicted []int, labels []string) (*Confusion, error) {
	if len(trueClasses) != len(predicted) {
		return nil, errors.Errorf("%d true classes but %d predictions", len(trueClasses), len(predicted))
	}

	c := &Confusion{Labels: labels, Counts: make([][]int, len(labels))}
	for i := range c.Counts {
		c.Counts[i] = make([]int, len(labels))
	}

	for i, t := range trueClasses {
		p := predicted[i]
		if t < 0 || t >= len(labels) || p < 0 || p >= len(labels) {
			return nil, errors.Errorf("sample %d: class pair (%d, %d) outside %d labels", i, t, p, len(labels))
		}
		c.Counts[t][p]++
	}
	return c, nil
}

// Normalized returns every row as a percentage of its total. Empty rows stay
// zero.
func (c *Confusion) Normalized() [][]float64 {
	out := make([][]float64, len(c.Counts))
	for i, row := range c.Counts {
		out[i] = make([]float64, len(row))
		total := 0
		for _, v := range row {
			total += v
		}
		if total == 0 {
			continue
		}
		for j, v := range row {
			out[i][j] = float64(v) / float64(total) * 100
		}
	}
	return out
}

// WriteTextTo prints the row normalized matrix, true classes down and
// predictions across.
func (c *Confusion) WriteTextTo(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t\n", strings.Join(c.Labels, "\t"))
	for i, row := range c.Normalized() {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprintf("%.2f", v)
		}
		fmt.Fprintf(tw, "%s\t%s\t\n", c.Labels[i], strings.Join(cells, "\t"))
	}
	return tw.Flush()
}
