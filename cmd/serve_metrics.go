package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weaviate/pose-descriptors/internal/report"
)

var serveMetricsCommand = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Expose result summaries as Prometheus metrics",
	Long:  `Watch the results directory and serve the latest evaluation summary on /metrics`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := globalConfig
		cfg.Mode = "serve-metrics"

		if err := cfg.Validate(); err != nil {
			fatal(err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := serveMetrics(ctx, cfg); err != nil {
			fatal(err)
		}
	},
}

func initServeMetrics() {
	rootCmd.AddCommand(serveMetricsCommand)
	serveMetricsCommand.PersistentFlags().StringVarP(&globalConfig.ResultsDir,
		"results", "r", "./results", "Directory receiving run summaries and histories")
	serveMetricsCommand.PersistentFlags().IntVar(&globalConfig.Port,
		"port", 2112, "Port to serve metrics on")
}

func serveMetrics(ctx context.Context, cfg Config) error {
	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		return errors.Wrap(err, "create results directory")
	}

	exporter := report.NewExporter()
	if err := exporter.Watch(ctx, cfg.ResultsDir); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{
		"port": cfg.Port,
		"dir":  cfg.ResultsDir,
	}).Info("Starting metrics server")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "serve metrics")
	}
	return nil
}
