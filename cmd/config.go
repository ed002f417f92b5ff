package cmd

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/report"
)

type Config struct {
	Mode string

	// dataset
	DataDir   string
	Classes   string
	ClassList []string
	Height    int
	Width     int
	Channels  int

	// training
	Epochs         int
	Iterations     int
	BatchSize      int
	LogEvery       int
	EvalEvery      int
	Parallel       int
	SamplerWorkers int
	Seed           int64
	LearningRate   float64

	// artifacts
	Checkpoint    string
	ResultsDir    string
	BenchmarkFile string
	Neighbors     int
	OutputFormat  string
	OutputFile    string

	// weaviate
	Origin          string
	HttpOrigin      string
	HttpScheme      string
	HttpAuth        string
	ClassName       string
	ImportBatchSize int
	Backend         string
	Limit           int

	// reporting
	Labels                   string
	LabelMap                 map[string]string
	PrometheusConfig         report.PrometheusConfig
	InfluxDBConfig           report.InfluxDBConfig
	MemoryMonitoringEnabled  bool
	MemoryMonitoringInterval int
	Port                     int
}

func (c *Config) Validate() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	switch c.Mode {
	case "train":
		return c.validateTrain()
	case "evaluate":
		return c.validateEvaluate()
	case "export":
		return c.validateExport()
	case "publish":
		return c.validatePublish()
	case "predict":
		return c.validatePredict()
	case "inspect":
		return c.validateDataset()
	case "serve-metrics":
		return c.validateServeMetrics()
	default:
		return errors.Errorf("unrecognized mode %q", c.Mode)
	}
}

func (c *Config) validateCommon() error {
	switch c.OutputFormat {
	case "text", "":
		c.OutputFormat = "text"
	case "json":
	default:
		return errors.Errorf("unsupported output format %q, must be one of [text, json]",
			c.OutputFormat)
	}

	httpAuth, httpAuthPresent := os.LookupEnv("HTTP_AUTH")
	if httpAuthPresent {
		c.HttpAuth = httpAuth
	}

	c.parseLabels()
	c.parseClasses()
	return nil
}

func (c Config) validateDataset() error {
	if c.DataDir == "" {
		return errors.Errorf("a dataset directory must be provided")
	}
	if len(c.ClassList) == 0 {
		return errors.Errorf("at least one class must be provided")
	}
	if c.Height <= 0 || c.Width <= 0 {
		return errors.Errorf("image size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return errors.Errorf("channels must be 1 or 3, got %d", c.Channels)
	}
	return nil
}

func (c Config) validateTrain() error {
	if err := c.validateDataset(); err != nil {
		return err
	}
	if c.ResultsDir == "" {
		return errors.Errorf("a results directory must be provided")
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive")
	}
	return nil
}

// validateEvaluate accepts either a checkpoint with a dataset or an
// exported descriptor file.
func (c Config) validateEvaluate() error {
	if c.BenchmarkFile != "" {
		return nil
	}
	if c.Checkpoint == "" {
		return errors.Errorf("either a checkpoint or a descriptor file must be provided")
	}
	return c.validateDataset()
}

func (c Config) validateExport() error {
	if c.Checkpoint == "" {
		return errors.Errorf("a checkpoint must be provided")
	}
	if c.BenchmarkFile == "" {
		return errors.Errorf("an output descriptor file must be provided")
	}
	if c.Neighbors <= 0 {
		return errors.Errorf("neighbors must be positive, got %d", c.Neighbors)
	}
	return c.validateDataset()
}

func (c Config) validatePublish() error {
	if c.Checkpoint == "" {
		return errors.Errorf("a checkpoint must be provided")
	}
	if c.Origin == "" {
		return errors.Errorf("origin must be set")
	}
	if c.ClassName == "" {
		return errors.Errorf("class name must be set")
	}
	return c.validateDataset()
}

func (c Config) validatePredict() error {
	if c.Checkpoint == "" {
		return errors.Errorf("a checkpoint must be provided")
	}
	if c.Limit <= 0 {
		return errors.Errorf("limit must be positive, got %d", c.Limit)
	}
	switch c.Backend {
	case "local":
		return c.validateDataset()
	case "weaviate":
		if c.Origin == "" || c.ClassName == "" {
			return errors.Errorf("origin and class name must be set for the weaviate backend")
		}
		return nil
	default:
		return errors.Errorf("unsupported backend %q, must be one of [local, weaviate]", c.Backend)
	}
}

func (c Config) validateServeMetrics() error {
	if c.ResultsDir == "" {
		return errors.Errorf("a results directory must be provided")
	}
	if c.Port <= 0 {
		return errors.Errorf("port must be positive, got %d", c.Port)
	}
	return nil
}

func (c *Config) parseLabels() {
	result := make(map[string]string)
	pairs := strings.Split(c.Labels, ",")

	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2) // SplitN to make sure we only split on the first "="
		if len(kv) == 2 {
			result[kv[0]] = kv[1]
		}
	}

	c.LabelMap = result
}

// parseClasses turns the comma separated class flag into a list, keeping
// the given order since class ids are positions in this list.
func (c *Config) parseClasses() {
	var classes []string
	for _, class := range strings.Split(c.Classes, ",") {
		class = strings.TrimSpace(class)
		if class != "" && !slices.Contains(classes, class) {
			classes = append(classes, class)
		}
	}
	c.ClassList = classes
}

func (c Config) imageShape() dataset.ImageShape {
	return dataset.ImageShape{Height: c.Height, Width: c.Width, Channels: c.Channels}
}
