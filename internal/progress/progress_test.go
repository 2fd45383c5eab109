package progress

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/lamim/trainsession/pkg/models"
)

type recorder struct {
	updates     []TrainingUpdate
	summaries   []TrainingSummary
	tests       []TestSummary
	checkpoints int
}

func (r *recorder) OnTrainingUpdate(u TrainingUpdate) { r.updates = append(r.updates, u) }
func (r *recorder) OnTrainingSummary(s TrainingSummary) { r.summaries = append(r.summaries, s) }
func (r *recorder) OnTestSummary(s TestSummary) { r.tests = append(r.tests, s) }
func (r *recorder) OnCheckpoint(*models.CheckpointInfo) { r.checkpoints++ }

// minibatch sizes of a 60-sample run over sequences of 7 and 2 samples with size 4
var traceSizes = []uint64{7, 4, 4, 4, 4, 2, 7, 4, 4, 4, 4, 2, 7, 2, 2}

func replay(r *Reporter, sizes []uint64) {
	for _, n := range sizes {
		r.Record(models.MinibatchResult{Samples: n, Loss: float64(n) * 0.5, Metric: float64(n)})
	}
}

func TestReporterSummariesPerSampleFrequency(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(1, 10, rec)
	r.Start(0)
	replay(r, traceSizes)
	r.Finish()

	if len(rec.summaries) != 6 {
		t.Fatalf("expected 6 summaries, got %d", len(rec.summaries))
	}
	wantEnds := []uint64{11, 23, 32, 40, 50, 61}
	for i, s := range rec.summaries {
		if s.Index != i {
			t.Errorf("summary %d has index %d", i, s.Index)
		}
		if s.Samples.End != wantEnds[i] {
			t.Errorf("summary %d: expected end %d, got %d", i, wantEnds[i], s.Samples.End)
		}
		if i > 0 && s.Samples.Start != rec.summaries[i-1].Samples.End {
			t.Errorf("summary %d does not continue the previous range", i)
		}
	}
	if len(rec.updates) != len(traceSizes) {
		t.Errorf("expected one update per minibatch, got %d", len(rec.updates))
	}
	if r.Summaries() != 6 {
		t.Errorf("Summaries() = %d, want 6", r.Summaries())
	}
}

func TestReporterFinishClosesOpenPeriod(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(0, 0, rec)
	r.Start(0)
	replay(r, []uint64{4, 4, 4})
	r.Finish()
	r.Finish()

	if len(rec.updates) != 0 {
		t.Errorf("updates disabled, got %d", len(rec.updates))
	}
	if len(rec.summaries) != 1 {
		t.Fatalf("expected one summary at finish, got %d", len(rec.summaries))
	}
	s := rec.summaries[0]
	if s.Samples != (Range{0, 12}) || s.Updates.Delta() != 3 {
		t.Errorf("unexpected summary ranges: %+v", s)
	}
	if s.AverageLoss() != 0.5 || s.AverageMetric() != 1 {
		t.Errorf("unexpected averages: loss %v metric %v", s.AverageLoss(), s.AverageMetric())
	}
}

func TestReporterUpdateFrequency(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(3, 0, rec)
	r.Start(36)
	replay(r, []uint64{4, 4, 4, 4, 4})
	r.Finish()

	if len(rec.updates) != 2 {
		t.Fatalf("expected a full update and a flushed partial one, got %d", len(rec.updates))
	}
	if rec.updates[0].Samples != (Range{36, 48}) || rec.updates[1].Samples != (Range{48, 56}) {
		t.Errorf("unexpected update ranges: %+v", rec.updates)
	}
	if rec.summaries[0].Samples.Start != 36 {
		t.Errorf("summary should start at the restored count, got %d", rec.summaries[0].Samples.Start)
	}
}

func TestReporterTestAndCheckpoint(t *testing.T) {
	rec := &recorder{}
	r := NewReporter(1, 0, rec)

	for i := 0; i < 2; i++ {
		got := r.Test(TestSummary{Samples: 25, Minibatches: 13, ErrorSum: 23})
		if got.Index != i {
			t.Errorf("expected round index %d, got %d", i, got.Index)
		}
	}
	if len(rec.tests) != 2 || rec.tests[1].AverageError() != 92 {
		t.Errorf("unexpected test summaries: %+v", rec.tests)
	}

	r.Checkpoint(&models.CheckpointInfo{})
	if rec.checkpoints != 1 {
		t.Errorf("expected checkpoint to be forwarded, got %d", rec.checkpoints)
	}
}

func TestStatusFileListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sl := NewStatusFileListener(path, 60, logger)

	r := NewReporter(1, 10, sl)
	r.Start(0)
	replay(r, traceSizes[:2])
	r.Test(TestSummary{Samples: 25, ErrorSum: 23})
	if err := sl.Complete("done"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read status: %v", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("failed to parse status: %v", err)
	}
	if st.CurrentSamples != 11 || st.Summaries != 1 || st.CVRounds != 1 {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.MaxSamples == nil || *st.MaxSamples != 60 {
		t.Errorf("expected max samples 60, got %v", st.MaxSamples)
	}
	if st.Metrics["cv_error_pct"] != 92 || st.Message != "done" {
		t.Errorf("unexpected metrics or message: %+v", st)
	}
}

func TestLogAndBarListeners(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	bar := NewBarListener(io.Discard, 60, 0)
	r := NewReporter(1, 10, NewLogListener(logger, 0), bar)
	r.Start(0)
	replay(r, traceSizes)
	r.Test(TestSummary{Samples: 25, ErrorSum: 1})
	r.Checkpoint(&models.CheckpointInfo{BlobPath: "model"})
	r.Finish()
	if err := bar.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestReporterAveragesIndependentOfStart(t *testing.T) {
	results := []models.MinibatchResult{
		{Samples: 7, Loss: 123.456789, Metric: 3},
		{Samples: 4, Loss: 7.1234567, Metric: 1},
		{Samples: 4, Loss: 6.7654321, Metric: 2},
	}

	full := &recorder{}
	r := NewReporter(1, 0, full)
	r.Start(0)
	for _, res := range results {
		r.Record(res)
	}

	resumed := &recorder{}
	r = NewReporter(1, 0, resumed)
	r.Start(results[0].Samples)
	for _, res := range results[1:] {
		r.Record(res)
	}

	for i, got := range resumed.updates {
		want := full.updates[i+1]
		if got.Samples != want.Samples {
			t.Errorf("update %d: samples %+v, want %+v", i, got.Samples, want.Samples)
		}
		if got.AverageLoss() != want.AverageLoss() || got.AverageMetric() != want.AverageMetric() {
			t.Errorf("update %d: loss %v metric %v, want loss %v metric %v", i,
				got.AverageLoss(), got.AverageMetric(), want.AverageLoss(), want.AverageMetric())
		}
	}
	if got, want := resumed.updates[0].AverageLoss(), 7.1234567/4; got != want {
		t.Errorf("first resumed update loss = %v, want %v", got, want)
	}
}

func TestBarListenerStartsAtRestoredCount(t *testing.T) {
	bar := NewBarListener(io.Discard, 60, 0)
	r := NewReporter(1, 0, bar)

	r.Start(36)
	if got := bar.Position(); got != 36 {
		t.Fatalf("bar position after Start(36) = %d, want 36", got)
	}
	r.Record(models.MinibatchResult{Samples: 4, Loss: 2})
	if got := bar.Position(); got != 40 {
		t.Errorf("bar position after one minibatch = %d, want 40", got)
	}
	if err := bar.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
