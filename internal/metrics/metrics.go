package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/pkg/models"
)

var (
	// Training metrics
	samplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainsession_samples_total",
			Help: "Total number of training samples consumed in this process",
		},
	)

	minibatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainsession_minibatches_total",
			Help: "Total number of trained minibatches in this process",
		},
	)

	trainingCriterion = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trainsession_training_criterion",
			Help: "Per-sample criterion value over the last reporting period",
		},
		[]string{"criterion"}, // "loss" or "metric"
	)

	summaryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trainsession_summary_period_seconds",
			Help:    "Wall time of each training summary period",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15), // 10ms to ~160s
		},
	)

	// Cross-validation metrics
	cvErrorPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trainsession_cv_error_percent",
			Help: "Average error of the last cross-validation round",
		},
	)

	cvRoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trainsession_cv_rounds_total",
			Help: "Total number of cross-validation rounds reported",
		},
	)

	// Checkpoint metrics
	checkpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trainsession_checkpoint_writes_total",
			Help: "Total number of checkpoint generations written",
		},
		[]string{"kind"}, // "indexed" or "base"
	)
)

// Collector is a progress listener that exports training events to Prometheus
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger.With("component", "metrics"),
	}
}

func (c *Collector) OnTrainingUpdate(u progress.TrainingUpdate) {
	samplesTotal.Add(float64(u.Samples.Delta()))
	minibatchesTotal.Add(float64(u.Updates.Delta()))
}

func (c *Collector) OnTrainingSummary(s progress.TrainingSummary) {
	trainingCriterion.WithLabelValues("loss").Set(s.AverageLoss())
	trainingCriterion.WithLabelValues("metric").Set(s.AverageMetric())
	summaryDuration.Observe(s.Elapsed.Seconds())
}

func (c *Collector) OnTestSummary(s progress.TestSummary) {
	cvErrorPercent.Set(s.AverageError())
	cvRoundsTotal.Inc()
}

func (c *Collector) OnCheckpoint(info *models.CheckpointInfo) {
	kind := "base"
	if info.Indexed {
		kind = "indexed"
	}
	checkpointWrites.WithLabelValues(kind).Inc()
}

// Serve exposes /metrics on addr until ctx is cancelled
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	c.logger.Info("Metrics endpoint listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down metrics server: %w", err)
		}
		return nil
	}
}
