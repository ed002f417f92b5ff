package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(mode string) Config {
	return Config{
		Mode:            mode,
		DataDir:         "/data",
		Classes:         "ape,duck",
		Height:          64,
		Width:           64,
		Channels:        3,
		ResultsDir:      "./results",
		LearningRate:    1e-3,
		Checkpoint:      "model.ckpt",
		BenchmarkFile:   "out.hdf5",
		Neighbors:       10,
		Origin:          "localhost:50051",
		ClassName:       "PoseTemplate",
		ImportBatchSize: 100,
		Backend:         "local",
		Limit:           1,
		Port:            2112,
	}
}

func TestParseLabels(t *testing.T) {
	cfg := Config{Labels: "team=vision,run=a=b,broken,,"}
	cfg.parseLabels()

	assert.Equal(t, map[string]string{"team": "vision", "run": "a=b"}, cfg.LabelMap)
}

func TestParseClasses(t *testing.T) {
	cfg := Config{Classes: " duck, ape,,duck ,cat"}
	cfg.parseClasses()

	assert.Equal(t, []string{"duck", "ape", "cat"}, cfg.ClassList)
}

func TestValidate(t *testing.T) {
	for _, mode := range []string{"train", "evaluate", "export", "publish", "predict", "inspect", "serve-metrics"} {
		t.Run(mode, func(t *testing.T) {
			cfg := validConfig(mode)
			require.Nil(t, cfg.Validate())
			assert.Equal(t, "text", cfg.OutputFormat)
		})
	}

	tests := []struct {
		name   string
		mode   string
		mutate func(*Config)
	}{
		{"unknown mode", "fly", func(c *Config) {}},
		{"output format", "inspect", func(c *Config) { c.OutputFormat = "yaml" }},
		{"no data dir", "train", func(c *Config) { c.DataDir = "" }},
		{"no classes", "inspect", func(c *Config) { c.Classes = " , " }},
		{"bad channels", "inspect", func(c *Config) { c.Channels = 2 }},
		{"no results dir", "train", func(c *Config) { c.ResultsDir = "" }},
		{"no learning rate", "train", func(c *Config) { c.LearningRate = 0 }},
		{"no checkpoint or vectors", "evaluate", func(c *Config) { c.Checkpoint, c.BenchmarkFile = "", "" }},
		{"no neighbors", "export", func(c *Config) { c.Neighbors = 0 }},
		{"no class name", "publish", func(c *Config) { c.ClassName = "" }},
		{"bad backend", "predict", func(c *Config) { c.Backend = "faiss" }},
		{"no limit", "predict", func(c *Config) { c.Limit = 0 }},
		{"no port", "serve-metrics", func(c *Config) { c.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(tt.mode)
			tt.mutate(&cfg)
			assert.NotNil(t, cfg.Validate())
		})
	}
}

func TestValidateEvaluateFromVectorsOnly(t *testing.T) {
	cfg := Config{Mode: "evaluate", BenchmarkFile: "descriptors.hdf5"}
	assert.Nil(t, cfg.Validate())
}

func TestValidateHTTPAuthFromEnvironment(t *testing.T) {
	t.Setenv("HTTP_AUTH", "secret")

	cfg := validConfig("publish")
	require.Nil(t, cfg.Validate())
	assert.Equal(t, "secret", cfg.HttpAuth)
	assert.Equal(t, "secret", cfg.templateIndexConfig().HTTPAuth)
}

func TestTemplateIndexConfigDefaults(t *testing.T) {
	cfg := validConfig("publish")
	cfg.ImportBatchSize = 0
	cfg.Parallel = 0

	icfg := cfg.templateIndexConfig()
	assert.Equal(t, 1000, icfg.BatchSize)
	assert.Equal(t, 1, icfg.Parallel)
	assert.Nil(t, icfg.Validate())
}

func TestTrainConfig(t *testing.T) {
	cfg := validConfig("train")
	cfg.Epochs, cfg.Iterations, cfg.BatchSize = 2, 7, 16
	cfg.Parallel, cfg.SamplerWorkers = 2, 1
	cfg.LearningRate = 0.01

	tc := cfg.trainConfig()
	require.Nil(t, tc.Validate())
	assert.Equal(t, 14, tc.Steps())
	assert.Equal(t, 0.01, tc.Adam.LearningRate)

	arch := cfg.architecture()
	assert.Equal(t, 64*64*3, arch.InputSize())
	assert.Nil(t, arch.Validate())
}

func TestRunLabels(t *testing.T) {
	cfg := Config{Mode: "train", LabelMap: map[string]string{"team": "vision"}}

	labels := runLabels(cfg, "run-1")
	assert.Equal(t, "run-1", labels["run_id"])
	assert.Equal(t, "train", labels["mode"])
	assert.Equal(t, "vision", labels["team"])
	assert.NotEqual(t, newRunID(), newRunID())
}
