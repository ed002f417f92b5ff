package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/train"
)

// Flag groups shared by several commands. Every command binds the same
// Config field with the same default.

func addDatasetFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&globalConfig.DataDir,
		"data", "d", "", "Dataset root containing coarse/, fine/ and real/")
	cmd.PersistentFlags().StringVar(&globalConfig.Classes,
		"classes", strings.Join(dataset.DefaultClasses, ","), "Comma separated class names, in class id order")
	cmd.PersistentFlags().IntVar(&globalConfig.Height,
		"height", 64, "Image height the network expects")
	cmd.PersistentFlags().IntVar(&globalConfig.Width,
		"width", 64, "Image width the network expects")
	cmd.PersistentFlags().IntVar(&globalConfig.Channels,
		"channels", 3, "Image channels, 1 or 3")
}

func addCheckpointFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&globalConfig.Checkpoint,
		"checkpoint", "m", "", "Path to the model checkpoint")
}

func addParallelFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().IntVarP(&globalConfig.Parallel,
		"parallel", "p", train.DefaultConfig().Parallel, "Set the number of goroutines computing embeddings")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&globalConfig.OutputFormat,
		"format", "f", "text", "Output format, one of [text, json]")
	cmd.PersistentFlags().StringVarP(&globalConfig.OutputFile,
		"output", "o", "", "Filename for an output file. If none provided, output to stdout only")
}

func addReportFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&globalConfig.Labels,
		"labels", "l", "", "Labels of format key1=value1,key2=value2,...")
	cmd.PersistentFlags().StringVarP(&globalConfig.ResultsDir,
		"results", "r", "./results", "Directory receiving run summaries and histories")
	cmd.PersistentFlags().BoolVar(&globalConfig.PrometheusConfig.Enabled,
		"prometheus", false, "Push metrics to a Prometheus pushgateway")
	cmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.PushURL,
		"prometheus-url", "http://localhost:9091", "Prometheus pushgateway URL")
	cmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.JobName,
		"prometheus-job", "pose_descriptors", "Prometheus job name")
	cmd.PersistentFlags().StringVar(&globalConfig.PrometheusConfig.Textfile,
		"prometheus-textfile", "", "Write the metrics in the text exposition format to this file")
	cmd.PersistentFlags().BoolVar(&globalConfig.InfluxDBConfig.Enabled,
		"influxdb", false, "Write results to InfluxDB")
	cmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.URL,
		"influxdb-url", "http://localhost:8086", "InfluxDB URL")
	cmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Token,
		"influxdb-token", "", "InfluxDB token")
	cmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Org,
		"influxdb-org", "", "InfluxDB organization")
	cmd.PersistentFlags().StringVar(&globalConfig.InfluxDBConfig.Bucket,
		"influxdb-bucket", "pose_descriptors", "InfluxDB bucket")
}

func addWeaviateFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&globalConfig.Origin,
		"origin", "u", "localhost:50051", "The gRPC origin that Weaviate is running at")
	cmd.PersistentFlags().StringVar(&globalConfig.HttpOrigin,
		"httpOrigin", "localhost:8080", "The HTTP origin that Weaviate is running at")
	cmd.PersistentFlags().StringVar(&globalConfig.HttpScheme,
		"httpScheme", "http", "Scheme of the HTTP origin, one of [http, https]")
	cmd.PersistentFlags().StringVarP(&globalConfig.ClassName,
		"className", "c", "PoseTemplate", "Class name holding the templates")
}
