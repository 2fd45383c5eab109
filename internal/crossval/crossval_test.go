package crossval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lamim/trainsession/internal/feed"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/internal/trainer"
	"github.com/lamim/trainsession/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// one sequence of 7 samples followed by nine of 2 (25 samples per sweep)
func cvFeed(t *testing.T) *feed.SequenceFeed {
	t.Helper()
	lens := []int{7, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	seqs := make([]models.Sequence, len(lens))
	for i, n := range lens {
		samples := make([]models.Sample, n)
		for j := range samples {
			samples[j] = models.Sample{Indices: []int{j}, Values: []float32{1}}
		}
		seqs[i] = models.Sequence{ID: uint64(i), Streams: map[string][]models.Sample{"labels": samples}}
	}
	f, err := feed.NewSequenceFeed(seqs, feed.FullDataSweep, testLogger())
	if err != nil {
		t.Fatalf("NewSequenceFeed failed: %v", err)
	}
	return f
}

type fixedEvaluator struct {
	rate  float64
	calls int
	err   error
}

func (e *fixedEvaluator) TestMinibatch(mb *models.Minibatch, device trainer.Device) (float64, error) {
	e.calls++
	return e.rate, e.err
}

type testRecorder struct {
	tests []progress.TestSummary
}

func (r *testRecorder) OnTrainingUpdate(progress.TrainingUpdate) {}
func (r *testRecorder) OnTrainingSummary(progress.TrainingSummary) {}
func (r *testRecorder) OnTestSummary(s progress.TestSummary) { r.tests = append(r.tests, s) }

func TestFeedModeEvaluatesOneEpochPerRound(t *testing.T) {
	tests := []struct {
		name            string
		size            schedule.Schedule[uint64]
		wantMinibatches uint64
	}{
		{"default size 1", schedule.Schedule[uint64]{}, 10},
		{"size 2", schedule.Constant[uint64](2), 10},
		{"size 9", schedule.Constant[uint64](9), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &testRecorder{}
			ev := &fixedEvaluator{rate: 1}
			r, err := NewRunner(Config{
				Feed:          cvFeed(t),
				Inputs:        map[string]string{"y": "labels"},
				MinibatchSize: tt.size,
			}, ev, progress.NewReporter(0, 0, rec), testLogger())
			if err != nil {
				t.Fatalf("NewRunner failed: %v", err)
			}

			for round := 0; round < 3; round++ {
				cont, err := r.Run(context.Background(), trainer.CPU())
				if err != nil {
					t.Fatalf("round %d failed: %v", round, err)
				}
				if !cont {
					t.Fatalf("feed mode should always continue")
				}
			}

			if len(rec.tests) != 3 || r.Rounds() != 3 {
				t.Fatalf("expected 3 rounds, got %d reported and %d counted", len(rec.tests), r.Rounds())
			}
			for i, s := range rec.tests {
				if s.Index != i || s.Samples != 25 || s.Minibatches != tt.wantMinibatches {
					t.Errorf("round %d: unexpected summary %+v", i, s)
				}
				if s.AverageError() != 100 {
					t.Errorf("round %d: expected 100%% error, got %v", i, s.AverageError())
				}
			}
		})
	}
}

func TestFeedModeErrors(t *testing.T) {
	boom := errors.New("device lost")
	r, err := NewRunner(Config{Feed: cvFeed(t), Inputs: map[string]string{"y": "labels"}},
		&fixedEvaluator{err: boom}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if _, err := r.Run(context.Background(), trainer.CPU()); !errors.Is(err, boom) {
		t.Errorf("expected evaluator error, got %v", err)
	}

	r, err = NewRunner(Config{Feed: cvFeed(t), Inputs: map[string]string{"y": "missing"}},
		&fixedEvaluator{}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	if _, err := r.Run(context.Background(), trainer.CPU()); !errors.Is(err, feed.ErrUnknownStream) {
		t.Errorf("expected feed error, got %v", err)
	}
}

func TestCallbackMode(t *testing.T) {
	var seen []int
	cb := func(index int, avg float64, samples, minibatches uint64) (bool, error) {
		if avg != 0 || samples != 0 || minibatches != 0 {
			t.Errorf("callback expected zero values, got %v %d %d", avg, samples, minibatches)
		}
		seen = append(seen, index)
		return index < 1, nil
	}

	r, err := NewRunner(Config{Callback: cb}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	for i, want := range []bool{true, false} {
		cont, err := r.Run(context.Background(), trainer.CPU())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if cont != want {
			t.Errorf("round %d: expected continue=%v", i, want)
		}
	}
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 1 {
		t.Errorf("unexpected callback indices: %v", seen)
	}
}

func TestCallbackErrorAborts(t *testing.T) {
	boom := errors.New("bad callback")
	r, err := NewRunner(Config{Callback: func(int, float64, uint64, uint64) (bool, error) {
		return true, boom
	}}, nil, nil, testLogger())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}

	_, err = r.Run(context.Background(), trainer.CPU())
	if !errors.Is(err, ErrCallback) || !errors.Is(err, boom) {
		t.Errorf("expected wrapped callback error, got %v", err)
	}
	if r.Rounds() != 0 {
		t.Errorf("failed round should not count, got %d", r.Rounds())
	}
}

func TestNewRunnerValidation(t *testing.T) {
	cb := func(int, float64, uint64, uint64) (bool, error) { return true, nil }

	if _, err := NewRunner(Config{}, nil, nil, nil); err == nil {
		t.Error("expected error without feed or callback")
	}
	if _, err := NewRunner(Config{Feed: cvFeed(t), Callback: cb}, &fixedEvaluator{}, nil, nil); err == nil {
		t.Error("expected error with both feed and callback")
	}
	if _, err := NewRunner(Config{Feed: cvFeed(t)}, nil, nil, nil); err == nil {
		t.Error("expected error for feed mode without evaluator")
	}
}
