package session

import (
	"errors"
	"fmt"

	"github.com/lamim/trainsession/internal/crossval"
	"github.com/lamim/trainsession/internal/feed"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/schedule"
)

// ErrInvalidConfig is returned by Validate for unusable session settings
var ErrInvalidConfig = errors.New("invalid session config")

// CheckpointPolicy controls checkpoint writes and restore
type CheckpointPolicy struct {
	Frequency   uint64 // samples between periodic checkpoints, 0 for final only
	Filename    string // base path B of the checkpoint files
	PreserveAll bool   // keep B{i} for every write instead of replacing B
	Restore     bool   // resume from B before training
}

// CrossValidationPolicy controls cross-validation rounds.
// Exactly one of Feed and Callback must be set.
type CrossValidationPolicy struct {
	Frequency     uint64 // samples between rounds, 0 for a single round at the end
	Feed          feed.MinibatchFeed
	Inputs        map[string]string         // defaults to the training inputs
	MinibatchSize schedule.Schedule[uint64] // defaults to 1
	Callback      crossval.Callback
}

// ProgressPolicy controls progress reporting
type ProgressPolicy struct {
	Listeners       []progress.Listener
	Frequency       uint64 // samples between training summaries, 0 for one at the end
	UpdateFrequency uint64 // minibatches between training updates, 0 means every minibatch
}

// Config is the immutable description of a training session
type Config struct {
	Feed          feed.MinibatchFeed
	Inputs        map[string]string // model input -> feed stream
	MinibatchSize schedule.Schedule[uint64]
	MaxSamples    uint64 // 0 trains until the feed is exhausted

	Checkpoint      *CheckpointPolicy
	CrossValidation *CrossValidationPolicy
	Progress        *ProgressPolicy

	// ConfigHash is recorded in checkpoints and must match on restore
	ConfigHash string
}

// Validate checks the config for missing or conflicting settings
func (c *Config) Validate() error {
	if c.Feed == nil {
		return fmt.Errorf("%w: a training feed is required", ErrInvalidConfig)
	}
	if len(c.Inputs) == 0 {
		return fmt.Errorf("%w: at least one input binding is required", ErrInvalidConfig)
	}
	if c.MinibatchSize.IsZero() {
		return fmt.Errorf("%w: a minibatch size schedule is required", ErrInvalidConfig)
	}

	if cp := c.Checkpoint; cp != nil && cp.Filename == "" {
		return fmt.Errorf("%w: checkpoint filename is required", ErrInvalidConfig)
	}

	if cv := c.CrossValidation; cv != nil {
		if cv.Feed == nil && cv.Callback == nil {
			return fmt.Errorf("%w: cross-validation needs a feed or a callback", ErrInvalidConfig)
		}
		if cv.Feed != nil && cv.Callback != nil {
			return fmt.Errorf("%w: cross-validation feed and callback are mutually exclusive", ErrInvalidConfig)
		}
	}

	return nil
}
