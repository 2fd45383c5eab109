package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lamim/trainsession/internal/feed"
	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/internal/trainer"
)

// Epoch modes for the training feed
const (
	EpochModeSweep    = "sweep"    // one pass over the data per epoch
	EpochModeInfinite = "infinite" // the feed never reports exhaustion
	EpochModeSamples  = "samples"  // epoch_size samples per epoch
)

// Config represents the complete application configuration
type Config struct {
	Data              DataConfig            `toml:"data" yaml:"data"`
	Training          TrainingConfig        `toml:"training" yaml:"training"`
	Checkpoint        CheckpointConfig      `toml:"checkpoint" yaml:"checkpoint"`
	CrossValidation   CrossValidationConfig `toml:"cross_validation" yaml:"cross_validation"`
	Progress          ProgressConfig        `toml:"progress" yaml:"progress"`
	Metrics           MetricsConfig         `toml:"metrics" yaml:"metrics"`
	HuggingFace       HuggingFaceConfig     `toml:"huggingface" yaml:"huggingface"`
	ResumeFromSession string                `toml:"resume_from_session" yaml:"resume_from_session"` // Session directory to resume from (e.g., "session_2026-10-19T12-34-56")
}

// DataConfig describes the text-format input files and their streams
type DataConfig struct {
	TrainFile string            `toml:"train_file" yaml:"train_file"`
	CVFile    string            `toml:"cv_file" yaml:"cv_file"` // Optional cross-validation data
	Streams   []feed.StreamDef  `toml:"streams" yaml:"streams"`
	Inputs    map[string]string `toml:"inputs" yaml:"inputs"`         // Model input name -> stream name
	EpochMode string            `toml:"epoch_mode" yaml:"epoch_mode"` // sweep, infinite or samples (default: sweep)
	EpochSize uint64            `toml:"epoch_size" yaml:"epoch_size"` // Samples per epoch for epoch_mode=samples
}

// TrainingConfig holds the training loop and reference trainer settings
type TrainingConfig struct {
	MinibatchSize     []uint64  `toml:"minibatch_size" yaml:"minibatch_size"`           // One value, or one per schedule epoch
	LearningRate      []float64 `toml:"learning_rate" yaml:"learning_rate"`             // One value, or one per schedule epoch
	ScheduleEpochSize uint64    `toml:"schedule_epoch_size" yaml:"schedule_epoch_size"` // Samples per schedule entry, required with more than one value
	MaxSamples        uint64    `toml:"max_samples" yaml:"max_samples"`                 // 0 = until the feed is exhausted
	LabelInput        string    `toml:"label_input" yaml:"label_input"`                 // Input carrying one-hot labels
	LabelDim          int       `toml:"label_dim" yaml:"label_dim"`
	Device            string    `toml:"device" yaml:"device"` // e.g. "cpu" or "cpu:0" (default: cpu)
}

// CheckpointConfig controls checkpoint files inside the session directory
type CheckpointConfig struct {
	Filename    string `toml:"filename" yaml:"filename"`         // Base name B (default: model)
	Frequency   uint64 `toml:"frequency" yaml:"frequency"`       // Samples between checkpoints (0 = final only)
	PreserveAll bool   `toml:"preserve_all" yaml:"preserve_all"` // Keep B0, B1, ... instead of overwriting B
	Restore     bool   `toml:"restore" yaml:"restore"`           // Restore from B before training (implied by resume_from_session)
	Disabled    bool   `toml:"disabled" yaml:"disabled"`
}

// CrossValidationConfig controls evaluation on data.cv_file
type CrossValidationConfig struct {
	Frequency     uint64 `toml:"frequency" yaml:"frequency"`           // Samples between rounds (0 = one round at the end)
	MinibatchSize uint64 `toml:"minibatch_size" yaml:"minibatch_size"` // default: 1
}

// ProgressConfig controls console and file progress reporting
type ProgressConfig struct {
	Frequency        uint64  `toml:"frequency" yaml:"frequency"`                   // Samples between summaries (0 = one at the end)
	UpdateFrequency  uint64  `toml:"update_frequency" yaml:"update_frequency"`     // Minibatches between updates (default: 1)
	UpdatesPerSecond float64 `toml:"updates_per_second" yaml:"updates_per_second"` // Log rate limit for per-minibatch updates (default: 2)
	ShowBar          bool    `toml:"show_bar" yaml:"show_bar"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"` // e.g. ":9090", empty disables
}

// HuggingFaceConfig holds Hugging Face Hub settings
type HuggingFaceConfig struct {
	RepoID   string `toml:"repo_id" yaml:"repo_id"`
	Endpoint string `toml:"endpoint" yaml:"endpoint"` // default: https://huggingface.co
	Branch   string `toml:"branch" yaml:"branch"`     // default: main
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	HuggingFaceToken string
}

const (
	// MaxLabelDim is the maximum allowed label dimension
	MaxLabelDim = 1 << 20
	// MaxMinibatchSize is the maximum allowed minibatch size
	MaxMinibatchSize = 1 << 24
	// MaxLearningRate is the largest accepted learning rate
	MaxLearningRate = 10.0
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Data.TrainFile == "" {
		return fmt.Errorf("data.train_file is required")
	}
	if len(c.Data.Streams) == 0 {
		return fmt.Errorf("data.streams must define at least one stream")
	}
	names := make(map[string]bool, len(c.Data.Streams))
	fields := make(map[string]bool, len(c.Data.Streams))
	for i, s := range c.Data.Streams {
		if s.Name == "" || s.Field == "" {
			return fmt.Errorf("data.streams[%d] needs a name and a field", i)
		}
		if names[s.Name] {
			return fmt.Errorf("data.streams: duplicate stream name %q", s.Name)
		}
		if fields[s.Field] {
			return fmt.Errorf("data.streams: duplicate field %q", s.Field)
		}
		if s.Dim < 0 {
			return fmt.Errorf("data.streams[%d].dim must not be negative", i)
		}
		names[s.Name] = true
		fields[s.Field] = true
	}

	if len(c.Data.Inputs) == 0 {
		return fmt.Errorf("data.inputs must bind at least one model input")
	}
	for input, stream := range c.Data.Inputs {
		if !names[stream] {
			return fmt.Errorf("data.inputs.%s is bound to unknown stream %q", input, stream)
		}
	}

	switch c.Data.EpochMode {
	case EpochModeSweep, EpochModeInfinite:
	case EpochModeSamples:
		if c.Data.EpochSize == 0 {
			return fmt.Errorf("data.epoch_size is required for epoch_mode=%s", EpochModeSamples)
		}
	default:
		return fmt.Errorf("data.epoch_mode must be one of: sweep, infinite, samples (got %s)", c.Data.EpochMode)
	}

	if err := c.validateTraining(); err != nil {
		return err
	}

	if !c.Checkpoint.Disabled && c.Checkpoint.Filename == "" {
		return fmt.Errorf("checkpoint.filename is required")
	}
	if c.Checkpoint.Disabled && c.Checkpoint.Restore {
		return fmt.Errorf("checkpoint.restore requires checkpoints to be enabled")
	}

	if c.Data.CVFile == "" && c.CrossValidation.Frequency > 0 {
		return fmt.Errorf("cross_validation.frequency requires data.cv_file")
	}
	if c.CrossValidation.MinibatchSize > MaxMinibatchSize {
		return fmt.Errorf("cross_validation.minibatch_size must not exceed %d (got %d)", MaxMinibatchSize, c.CrossValidation.MinibatchSize)
	}

	if c.Progress.UpdatesPerSecond < 0 {
		return fmt.Errorf("progress.updates_per_second must not be negative")
	}

	return nil
}

func (c *Config) validateTraining() error {
	t := c.Training
	if len(t.MinibatchSize) == 0 {
		return fmt.Errorf("training.minibatch_size is required")
	}
	for _, v := range t.MinibatchSize {
		if v < 1 || v > MaxMinibatchSize {
			return fmt.Errorf("training.minibatch_size values must be between 1 and %d (got %d)", MaxMinibatchSize, v)
		}
	}
	if len(t.LearningRate) == 0 {
		return fmt.Errorf("training.learning_rate is required")
	}
	for _, v := range t.LearningRate {
		if v < 0 || v > MaxLearningRate {
			return fmt.Errorf("training.learning_rate values must be between 0 and %g (got %g)", MaxLearningRate, v)
		}
	}
	if (len(t.MinibatchSize) > 1 || len(t.LearningRate) > 1) && t.ScheduleEpochSize == 0 {
		return fmt.Errorf("training.schedule_epoch_size is required for per-epoch schedules")
	}

	if t.LabelInput == "" {
		return fmt.Errorf("training.label_input is required")
	}
	if _, ok := c.Data.Inputs[t.LabelInput]; !ok {
		return fmt.Errorf("training.label_input %q is not a bound input", t.LabelInput)
	}
	if t.LabelDim < 1 || t.LabelDim > MaxLabelDim {
		return fmt.Errorf("training.label_dim must be between 1 and %d (got %d)", MaxLabelDim, t.LabelDim)
	}
	if _, err := trainer.ParseDevice(t.Device); err != nil {
		return fmt.Errorf("training.device: %w", err)
	}
	return nil
}

// FeedEpochSize maps the epoch mode to the feed's epoch size
func (d DataConfig) FeedEpochSize() uint64 {
	switch d.EpochMode {
	case EpochModeInfinite:
		return feed.InfinitelyRepeat
	case EpochModeSamples:
		return d.EpochSize
	default:
		return feed.FullDataSweep
	}
}

// MinibatchSchedule builds the training minibatch-size schedule
func (t TrainingConfig) MinibatchSchedule() (schedule.Schedule[uint64], error) {
	return buildSchedule(t.MinibatchSize, t.ScheduleEpochSize)
}

// LearningRateSchedule builds the learning-rate schedule
func (t TrainingConfig) LearningRateSchedule() (schedule.Schedule[float64], error) {
	return buildSchedule(t.LearningRate, t.ScheduleEpochSize)
}

func buildSchedule[V schedule.Value](values []V, epochSize uint64) (schedule.Schedule[V], error) {
	if len(values) == 1 {
		return schedule.Constant(values[0]), nil
	}
	return schedule.PerEpoch(values, epochSize)
}

// HashParts returns the settings that must match between a checkpoint and the
// run restoring it
func (c *Config) HashParts() []string {
	parts := []string{
		"label_input=" + c.Training.LabelInput,
		"label_dim=" + strconv.Itoa(c.Training.LabelDim),
	}
	for _, s := range c.Data.Streams {
		parts = append(parts, fmt.Sprintf("stream=%s:%s:%d:%t", s.Name, s.Field, s.Dim, s.Sparse))
	}
	return parts
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	return &Secrets{
		HuggingFaceToken: strings.TrimSpace(os.Getenv("HUGGING_FACE_TOKEN")),
	}, nil
}
