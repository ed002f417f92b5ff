package report

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	log "github.com/sirupsen/logrus"
)

// InfluxDBConfig holds configuration for InfluxDB metrics reporting
type InfluxDBConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

const measurement = "pose_descriptors"

// SummaryPoint converts s into one InfluxDB point. Threshold fractions
// become fields named fraction_<threshold>.
func SummaryPoint(s *Summary) *write.Point {
	p := influxdb2.NewPointWithMeasurement(measurement).
		AddTag("run_id", s.RunID).
		AddTag("mode", s.Mode).
		AddTag("dataset", s.Dataset).
		AddTag("checkpoint", s.Checkpoint).
		AddField("accuracy", s.Accuracy).
		AddField("test", s.Test).
		AddField("templates", s.Templates).
		AddField("steps", s.Steps).
		AddField("train_time", s.TrainTime).
		AddField("heap_alloc_bytes", s.HeapAlloc).
		AddField("heap_inuse_bytes", s.HeapInuse).
		AddField("heap_sys_bytes", s.HeapSys).
		SetTime(time.Now())

	for key, value := range s.Labels {
		p.AddTag(key, value)
	}
	for i, t := range s.Thresholds {
		p.AddField("fraction_"+thresholdLabel(t), s.Fractions[i])
	}
	return p
}

// PushMetricsToInfluxDB writes the summary to an InfluxDB bucket.
func PushMetricsToInfluxDB(ctx context.Context, cfg InfluxDBConfig, s *Summary) error {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	defer client.Close()

	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	if err := writeAPI.WritePoint(ctx, SummaryPoint(s)); err != nil {
		log.WithError(err).Error("Failed to push metrics to InfluxDB")
		return err
	}

	log.WithFields(log.Fields{
		"url":     cfg.URL,
		"bucket":  cfg.Bucket,
		"run_id":  s.RunID,
		"dataset": s.Dataset,
	}).Info("Successfully pushed metrics to InfluxDB")
	return nil
}
