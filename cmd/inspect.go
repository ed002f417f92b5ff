package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/sampler"
)

var inspectCommand = &cobra.Command{
	Use:   "inspect",
	Short: "Print pool sizes and pose coverage of a dataset",
	Long:  `Load the dataset and print, per class, the pool sizes and how far training poses are from their nearest template`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "inspect"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ds, err := loadDataset(cfg)
		if err != nil {
			fatal(err)
		}

		stats := inspectDataset(ds)
		if err := writeOutput(cfg, func(w io.Writer) error { return writeClassStats(w, stats) }); err != nil {
			fatal(err)
		}
	},
}

func initInspect() {
	rootCmd.AddCommand(inspectCommand)
	addDatasetFlags(inspectCommand)
	addOutputFlags(inspectCommand)
}

// classStats describes one class: pool sizes and the angle from each
// training pose to its puller template.
type classStats struct {
	Class     string
	Templates int
	Train     int
	Test      int
	// Missing counts training images without a template above the puller
	// threshold.
	Missing int
	Mean    float64
	Median  float64
	Max     float64
}

func inspectDataset(ds *dataset.Dataset) []classStats {
	out := make([]classStats, len(ds.Classes))
	for c, class := range ds.Classes {
		s := classStats{
			Class:     class,
			Templates: ds.Templates[c].Len(),
			Train:     ds.Train[c].Len(),
			Test:      ds.Test[c].Len(),
		}

		angles := make([]float64, 0, s.Train)
		for _, q := range ds.Train[c].Poses {
			_, angle, err := sampler.NearestTemplate(ds.Templates[c].Poses, q)
			if err != nil {
				s.Missing++
				continue
			}
			angles = append(angles, angle)
		}

		if len(angles) > 0 {
			slices.Sort(angles)
			s.Mean = stat.Mean(angles, nil)
			s.Median = stat.Quantile(0.5, stat.Empirical, angles, nil)
			s.Max = angles[len(angles)-1]
		}
		out[c] = s
	}
	return out
}

func writeClassStats(w io.Writer, stats []classStats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "class\ttemplates\ttrain\ttest\tno puller\tmean deg\tmedian deg\tmax deg\t")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t\n",
			s.Class, s.Templates, s.Train, s.Test, s.Missing, s.Mean, s.Median, s.Max)
	}
	return tw.Flush()
}
