package metrics

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/pkg/models"
)

func TestCollectorRecordsEvents(t *testing.T) {
	c := NewCollector(slog.New(slog.NewTextHandler(io.Discard, nil)))

	beforeSamples := testutil.ToFloat64(samplesTotal)
	beforeRounds := testutil.ToFloat64(cvRoundsTotal)
	beforeIndexed := testutil.ToFloat64(checkpointWrites.WithLabelValues("indexed"))

	c.OnTrainingUpdate(progress.TrainingUpdate{
		Samples: progress.Range{Start: 0, End: 11},
		Updates: progress.Range{Start: 0, End: 2},
	})
	c.OnTrainingSummary(progress.TrainingSummary{
		Samples: progress.Range{Start: 0, End: 10},
		Loss:    progress.Aggregate{Start: 0, End: 5, Sum: 5},
		Metric:  progress.Aggregate{Start: 0, End: 2, Sum: 2},
		Elapsed: time.Second,
	})
	c.OnTestSummary(progress.TestSummary{Samples: 25, ErrorSum: 23})
	c.OnCheckpoint(&models.CheckpointInfo{Indexed: true})

	if got := testutil.ToFloat64(samplesTotal) - beforeSamples; got != 11 {
		t.Errorf("expected 11 samples recorded, got %v", got)
	}
	if got := testutil.ToFloat64(trainingCriterion.WithLabelValues("loss")); got != 0.5 {
		t.Errorf("expected loss gauge 0.5, got %v", got)
	}
	if got := testutil.ToFloat64(cvErrorPercent); got != 92 {
		t.Errorf("expected cv error 92, got %v", got)
	}
	if got := testutil.ToFloat64(cvRoundsTotal) - beforeRounds; got != 1 {
		t.Errorf("expected one cv round, got %v", got)
	}
	if got := testutil.ToFloat64(checkpointWrites.WithLabelValues("indexed")) - beforeIndexed; got != 1 {
		t.Errorf("expected one indexed checkpoint, got %v", got)
	}

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "trainsession_samples_total") {
		t.Error("scrape output is missing trainsession_samples_total")
	}
}
