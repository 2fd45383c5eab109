package trainer

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/pkg/models"
)

func labelBatch(labels ...int) *models.Minibatch {
	seq := make([]models.Sample, len(labels))
	for i, l := range labels {
		seq[i] = models.Sample{Indices: []int{l}, Values: []float32{1}}
	}
	return &models.Minibatch{
		Inputs:       map[string]*models.StreamData{"labels": {Sequences: [][]models.Sample{seq}}},
		NumSamples:   uint64(len(labels)),
		NumSequences: 1,
	}
}

func newTestTrainer(t *testing.T) *PriorTrainer {
	t.Helper()
	p, err := NewPriorTrainer("labels", 4, schedule.Constant(0.5))
	if err != nil {
		t.Fatalf("NewPriorTrainer failed: %v", err)
	}
	return p
}

func TestPriorTrainerLearnsMajorityLabel(t *testing.T) {
	p := newTestTrainer(t)
	mb := labelBatch(2, 2, 2, 1)

	first, err := p.TrainMinibatch(mb, CPU())
	if err != nil {
		t.Fatalf("TrainMinibatch failed: %v", err)
	}
	if first.Samples != 4 {
		t.Errorf("expected 4 samples, got %d", first.Samples)
	}

	var last models.MinibatchResult
	for i := 0; i < 20; i++ {
		last, err = p.TrainMinibatch(mb, CPU())
		if err != nil {
			t.Fatalf("TrainMinibatch failed: %v", err)
		}
	}
	if last.Loss >= first.Loss {
		t.Errorf("loss did not decrease: first %v, last %v", first.Loss, last.Loss)
	}
	if last.Metric != 1 {
		t.Errorf("expected one misclassified sample once label 2 dominates, got %v", last.Metric)
	}
	if p.TotalSamplesSeen() != 84 {
		t.Errorf("expected 84 samples seen, got %d", p.TotalSamplesSeen())
	}

	rate, err := p.TestMinibatch(labelBatch(2, 2, 0, 1), CPU())
	if err != nil {
		t.Fatalf("TestMinibatch failed: %v", err)
	}
	if rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %v", rate)
	}
}

func TestPriorTrainerCheckpointRoundTrip(t *testing.T) {
	p := newTestTrainer(t)
	for i := 0; i < 3; i++ {
		if _, err := p.TrainMinibatch(labelBatch(0, 3, 3), CPU()); err != nil {
			t.Fatalf("TrainMinibatch failed: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "model")
	if err := p.SaveCheckpoint(path); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	restored := newTestTrainer(t)
	if err := restored.RestoreFromCheckpoint(path); err != nil {
		t.Fatalf("RestoreFromCheckpoint failed: %v", err)
	}
	if restored.TotalSamplesSeen() != p.TotalSamplesSeen() {
		t.Errorf("samples seen mismatch: %d vs %d", restored.TotalSamplesSeen(), p.TotalSamplesSeen())
	}
	want, got := p.Weights(), restored.Weights()
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("weight %d: want %v, got %v", i, want[i], got[i])
		}
	}

	other, err := NewPriorTrainer("labels", 5, schedule.Constant(0.1))
	if err != nil {
		t.Fatalf("NewPriorTrainer failed: %v", err)
	}
	if err := other.RestoreFromCheckpoint(path); err == nil {
		t.Error("expected error restoring into a model with a different dimension")
	}
}

func TestPriorTrainerErrors(t *testing.T) {
	p := newTestTrainer(t)

	if _, err := p.TrainMinibatch(labelBatch(1), Device{Kind: DeviceGPU}); !errors.Is(err, ErrUnsupportedDevice) {
		t.Errorf("expected ErrUnsupportedDevice, got %v", err)
	}
	if _, err := p.TrainMinibatch(labelBatch(9), CPU()); err == nil {
		t.Error("expected error for out-of-range label")
	}
	if _, err := p.TrainMinibatch(&models.Minibatch{}, CPU()); err == nil {
		t.Error("expected error for missing label input")
	}
	if _, err := NewPriorTrainer("", 3, schedule.Constant(0.1)); err == nil {
		t.Error("expected error for empty label input")
	}
	if _, err := NewPriorTrainer("labels", 3, schedule.Schedule[float64]{}); err == nil {
		t.Error("expected error for missing learning rate")
	}
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in      string
		want    Device
		wantErr bool
	}{
		{"cpu", Device{Kind: DeviceCPU}, false},
		{"GPU:1", Device{Kind: DeviceGPU, ID: 1}, false},
		{"cpu:0", Device{Kind: DeviceCPU}, false},
		{"tpu", Device{}, true},
		{"gpu:x", Device{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDevice(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDevice(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
