package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/network"
	"github.com/weaviate/pose-descriptors/internal/pose"
	"github.com/weaviate/pose-descriptors/internal/templateindex"
)

var predictCommand = &cobra.Command{
	Use:   "predict [images...]",
	Short: "Predict class and pose of images",
	Long:  `Embed each image and look up its nearest templates, either locally or in a Weaviate collection`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "predict"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ctx := context.Background()
		net, err := loadCheckpoint(cfg)
		if err != nil {
			fatal(err)
		}

		var search templateSearch
		switch cfg.Backend {
		case "weaviate":
			s, err := newWeaviateSearch(ctx, cfg)
			if err != nil {
				fatal(err)
			}
			defer s.Close()
			search = s
		default:
			ds, err := loadDataset(cfg)
			if err != nil {
				fatal(err)
			}
			templates, err := embedTemplates(ctx, net, ds, cfg.Parallel)
			if err != nil {
				fatal(err)
			}
			search = newLocalSearch(templates)
		}

		predictions, err := predict(ctx, net, search, args, cfg.Limit)
		if err != nil {
			fatal(err)
		}

		err = writeOutput(cfg, func(w io.Writer) error {
			if cfg.OutputFormat == "json" {
				return writePredictionsJSON(w, predictions)
			}
			return writePredictionsText(w, predictions)
		})
		if err != nil {
			fatal(err)
		}
	},
}

func initPredict() {
	rootCmd.AddCommand(predictCommand)
	addDatasetFlags(predictCommand)
	addCheckpointFlag(predictCommand)
	addParallelFlag(predictCommand)
	addOutputFlags(predictCommand)
	addWeaviateFlags(predictCommand)
	predictCommand.PersistentFlags().StringVar(&globalConfig.Backend,
		"backend", "local", "Where templates are searched, one of [local, weaviate]")
	predictCommand.PersistentFlags().IntVar(&globalConfig.Limit,
		"limit", 1, "Number of nearest templates reported per image")
}

type templateMatch struct {
	Class     int              `json:"class"`
	ClassName string           `json:"className,omitempty"`
	Index     int              `json:"templateIndex"`
	Image     string           `json:"image,omitempty"`
	Pose      *pose.Quaternion `json:"pose,omitempty"`
	Distance  float64          `json:"distance"`
}

type prediction struct {
	Image   string          `json:"image"`
	Matches []templateMatch `json:"matches"`
}

// templateSearch finds the templates nearest to one descriptor.
type templateSearch interface {
	Nearest(ctx context.Context, vec []float64, limit int) ([]templateMatch, error)
}

// localSearch answers single nearest queries from a kd-tree and falls back
// to exhaustive search for larger limits.
type localSearch struct {
	templates  []templateindex.Template
	embeddings [][]float64
	index      *evaluate.Index
}

func newLocalSearch(templates []templateindex.Template) *localSearch {
	embeddings := make([][]float64, len(templates))
	for i, t := range templates {
		embeddings[i] = t.Embedding
	}
	return &localSearch{templates: templates, embeddings: embeddings, index: evaluate.NewIndex(embeddings)}
}

func (s *localSearch) Nearest(ctx context.Context, vec []float64, limit int) ([]templateMatch, error) {
	var neighbors []evaluate.Neighbor
	if limit == 1 {
		if idx, dist := s.index.Nearest(vec); idx >= 0 {
			neighbors = []evaluate.Neighbor{{Index: idx, Distance: dist}}
		}
	} else {
		neighbors = evaluate.KNearest(s.embeddings, [][]float64{vec}, limit)[0]
	}

	out := make([]templateMatch, len(neighbors))
	for i, n := range neighbors {
		t := s.templates[n.Index]
		q := t.Pose
		out[i] = templateMatch{
			Class:     t.Class,
			ClassName: t.ClassName,
			Index:     t.Index,
			Image:     t.Image,
			Pose:      &q,
			Distance:  n.Distance,
		}
	}
	return out, nil
}

type weaviateSearch struct {
	searcher *templateindex.Searcher
	classes  []string
}

func newWeaviateSearch(ctx context.Context, cfg Config) (*weaviateSearch, error) {
	searcher, err := templateindex.NewSearcher(ctx, cfg.templateIndexConfig())
	if err != nil {
		return nil, err
	}
	return &weaviateSearch{searcher: searcher, classes: cfg.ClassList}, nil
}

func (s *weaviateSearch) Close() error {
	return s.searcher.Close()
}

func (s *weaviateSearch) Nearest(ctx context.Context, vec []float64, limit int) ([]templateMatch, error) {
	matches, err := s.searcher.Nearest(ctx, vec, limit)
	if err != nil {
		return nil, err
	}

	out := make([]templateMatch, len(matches))
	for i, m := range matches {
		// the collection stores squared distances
		out[i] = templateMatch{Class: m.Class, Index: m.Index, Distance: math.Sqrt(float64(m.Distance))}
		if m.Class >= 0 && m.Class < len(s.classes) {
			out[i].ClassName = s.classes[m.Class]
		}
	}
	return out, nil
}

func predict(ctx context.Context, net *network.Network, search templateSearch, images []string, limit int) ([]prediction, error) {
	arch := net.Architecture()
	shape := dataset.ImageShape{Height: arch.Height, Width: arch.Width, Channels: arch.Channels}

	out := make([]prediction, 0, len(images))
	for _, path := range images {
		img, err := dataset.LoadImageFile(path, shape)
		if err != nil {
			return nil, err
		}
		vec, err := net.Embed(img)
		if err != nil {
			return nil, errors.Wrapf(err, "embed %s", path)
		}
		matches, err := search.Nearest(ctx, vec, limit)
		if err != nil {
			return nil, errors.Wrapf(err, "search %s", path)
		}
		out = append(out, prediction{Image: filepath.Base(path), Matches: matches})
	}
	return out, nil
}

func writePredictionsJSON(w io.Writer, predictions []prediction) error {
	bytes, err := json.MarshalIndent(predictions, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(bytes)
	return err
}

func writePredictionsText(w io.Writer, predictions []prediction) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "image\trank\tclass\ttemplate\tdistance\tpose")
	for _, p := range predictions {
		for rank, m := range p.Matches {
			poseText := "-"
			if m.Pose != nil {
				poseText = fmt.Sprintf("%.4f %.4f %.4f %.4f", m.Pose[0], m.Pose[1], m.Pose[2], m.Pose[3])
			}
			name := m.ClassName
			if name == "" {
				name = fmt.Sprintf("%d", m.Class)
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%.4f\t%s\n", p.Image, rank+1, name, m.Index, m.Distance, poseText)
		}
	}
	return tw.Flush()
}
