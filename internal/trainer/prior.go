package trainer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/pkg/models"
)

// PriorTrainer learns a softmax distribution over label classes.
// It ignores features; it exists to exercise sessions end to end and
// mirrors the bias-only models used in framework smoke tests.
type PriorTrainer struct {
	labelInput   string
	weights      []float64
	learningRate schedule.Schedule[float64]
	samplesSeen  uint64
	updates      uint64
}

// priorState is the on-disk form of a PriorTrainer
type priorState struct {
	LabelInput  string    `json:"label_input"`
	Weights     []float64 `json:"weights"`
	SamplesSeen uint64    `json:"samples_seen"`
	Updates     uint64    `json:"updates"`
}

// NewPriorTrainer creates a trainer over dim label classes read from labelInput.
// The learning rate is per sample and indexed by samples seen.
func NewPriorTrainer(labelInput string, dim int, learningRate schedule.Schedule[float64]) (*PriorTrainer, error) {
	if labelInput == "" {
		return nil, fmt.Errorf("label input is required")
	}
	if dim < 1 {
		return nil, fmt.Errorf("label dimension must be at least 1 (got %d)", dim)
	}
	if learningRate.IsZero() {
		return nil, fmt.Errorf("learning rate schedule is required")
	}
	return &PriorTrainer{
		labelInput:   labelInput,
		weights:      make([]float64, dim),
		learningRate: learningRate,
	}, nil
}

// TrainMinibatch applies one gradient step of the cross-entropy criterion
func (p *PriorTrainer) TrainMinibatch(mb *models.Minibatch, device Device) (models.MinibatchResult, error) {
	if device.Kind != DeviceCPU {
		return models.MinibatchResult{}, fmt.Errorf("%w: %s", ErrUnsupportedDevice, device)
	}
	labels, err := p.labels(mb)
	if err != nil {
		return models.MinibatchResult{}, err
	}

	probs := softmax(p.weights)
	predicted := argmax(p.weights)
	grad := make([]float64, len(p.weights))

	var res models.MinibatchResult
	for _, label := range labels {
		res.Loss -= math.Log(math.Max(probs[label], 1e-12))
		if predicted != label {
			res.Metric++
		}
		for i, pr := range probs {
			grad[i] += pr
		}
		grad[label]--
	}
	res.Samples = uint64(len(labels))

	lr := p.learningRate.ValueAt(p.samplesSeen)
	for i := range p.weights {
		p.weights[i] -= lr * grad[i]
	}
	p.samplesSeen += res.Samples
	p.updates++

	return res, nil
}

// TestMinibatch returns the classification error rate of the current prior
func (p *PriorTrainer) TestMinibatch(mb *models.Minibatch, device Device) (float64, error) {
	if device.Kind != DeviceCPU {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDevice, device)
	}
	labels, err := p.labels(mb)
	if err != nil {
		return 0, err
	}
	if len(labels) == 0 {
		return 0, nil
	}

	predicted := argmax(p.weights)
	wrong := 0
	for _, label := range labels {
		if label != predicted {
			wrong++
		}
	}
	return float64(wrong) / float64(len(labels)), nil
}

// TotalSamplesSeen returns the number of trained samples
func (p *PriorTrainer) TotalSamplesSeen() uint64 {
	return p.samplesSeen
}

// Weights returns a copy of the label weights
func (p *PriorTrainer) Weights() []float64 {
	return append([]float64(nil), p.weights...)
}

// SaveCheckpoint writes the trainer state as JSON
func (p *PriorTrainer) SaveCheckpoint(path string) error {
	data, err := json.MarshalIndent(priorState{
		LabelInput:  p.labelInput,
		Weights:     p.weights,
		SamplesSeen: p.samplesSeen,
		Updates:     p.updates,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trainer state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write trainer state: %w", err)
	}
	return nil
}

// RestoreFromCheckpoint loads state written by SaveCheckpoint
func (p *PriorTrainer) RestoreFromCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trainer state: %w", err)
	}
	var st priorState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal trainer state: %w", err)
	}
	if len(st.Weights) != len(p.weights) {
		return fmt.Errorf("trainer state has %d classes, model has %d", len(st.Weights), len(p.weights))
	}
	if st.LabelInput != p.labelInput {
		return fmt.Errorf("trainer state is for label input %q, model uses %q", st.LabelInput, p.labelInput)
	}

	copy(p.weights, st.Weights)
	p.samplesSeen = st.SamplesSeen
	p.updates = st.Updates
	return nil
}

func (p *PriorTrainer) labels(mb *models.Minibatch) ([]int, error) {
	data := mb.Input(p.labelInput)
	if data == nil {
		return nil, fmt.Errorf("minibatch has no input %q", p.labelInput)
	}
	labels := make([]int, 0, data.NumSamples())
	for _, seq := range data.Sequences {
		for _, s := range seq {
			label := s.ArgMax()
			if label < 0 || label >= len(p.weights) {
				return nil, fmt.Errorf("label %d out of range for %d classes", label, len(p.weights))
			}
			labels = append(labels, label)
		}
	}
	return labels, nil
}

func softmax(w []float64) []float64 {
	maxW := math.Inf(-1)
	for _, v := range w {
		maxW = math.Max(maxW, v)
	}
	out := make([]float64, len(w))
	var sum float64
	for i, v := range w {
		out[i] = math.Exp(v - maxW)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(w []float64) int {
	best := 0
	for i, v := range w {
		if v > w[best] {
			best = i
		}
	}
	return best
}
