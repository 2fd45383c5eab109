package crossval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/trainsession/internal/feed"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/internal/trainer"
	"github.com/lamim/trainsession/pkg/models"
)

// ErrCallback wraps errors returned by a cross-validation callback
var ErrCallback = errors.New("cross-validation callback failed")

// Callback is invoked once per round in callback mode. The trailing values are
// zero because the runner does not evaluate; the callback may do so itself.
// Returning false stops training after this round.
type Callback func(index int, averageError float64, samples, minibatches uint64) (bool, error)

// Evaluator computes the error rate of a minibatch without training on it
type Evaluator interface {
	TestMinibatch(mb *models.Minibatch, device trainer.Device) (float64, error)
}

// Config selects feed mode (Feed set) or callback mode (Callback set)
type Config struct {
	Feed          feed.MinibatchFeed
	Inputs        map[string]string
	MinibatchSize schedule.Schedule[uint64] // zero value means size 1
	Callback      Callback
}

// Runner executes cross-validation rounds
type Runner struct {
	cfg       Config
	evaluator Evaluator
	reporter  *progress.Reporter
	logger    *slog.Logger
	index     int
}

// NewRunner creates a runner. Exactly one of cfg.Feed and cfg.Callback must be set.
func NewRunner(cfg Config, evaluator Evaluator, reporter *progress.Reporter, logger *slog.Logger) (*Runner, error) {
	if (cfg.Feed == nil) == (cfg.Callback == nil) {
		return nil, fmt.Errorf("cross-validation needs exactly one of a feed or a callback")
	}
	if cfg.Feed != nil && evaluator == nil {
		return nil, fmt.Errorf("cross-validation feed mode needs an evaluator")
	}
	if cfg.MinibatchSize.IsZero() {
		cfg.MinibatchSize = schedule.Constant[uint64](1)
	}
	if reporter == nil {
		reporter = progress.NewReporter(0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:       cfg,
		evaluator: evaluator,
		reporter:  reporter,
		logger:    logger.With("component", "crossval"),
	}, nil
}

// Rounds returns the number of completed rounds
func (r *Runner) Rounds() int {
	return r.index
}

// Run executes one round and reports whether training should continue
func (r *Runner) Run(ctx context.Context, device trainer.Device) (bool, error) {
	if r.cfg.Callback != nil {
		return r.runCallback()
	}
	if err := r.runFeed(ctx, device); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Runner) runCallback() (bool, error) {
	index := r.index
	cont, err := r.cfg.Callback(index, 0, 0, 0)
	if err != nil {
		return false, fmt.Errorf("%w: round %d: %w", ErrCallback, index, err)
	}
	r.index++
	if !cont {
		r.logger.Info("Cross-validation callback requested stop", "round", index)
	}
	return cont, nil
}

// runFeed evaluates the feed from its current position until it signals the
// end of an epoch. The position is not reset afterwards.
func (r *Runner) runFeed(ctx context.Context, device trainer.Device) error {
	start := time.Now()
	var sum progress.TestSummary

	for {
		size := r.cfg.MinibatchSize.ValueAt(sum.Samples)
		mb, err := r.cfg.Feed.NextMinibatch(ctx, size, r.cfg.Inputs)
		if err != nil {
			return fmt.Errorf("failed to read cross-validation minibatch: %w", err)
		}
		if mb == nil {
			break
		}
		errorRate, err := r.evaluator.TestMinibatch(mb, device)
		if err != nil {
			return fmt.Errorf("failed to evaluate cross-validation minibatch: %w", err)
		}
		sum.ErrorSum += errorRate * float64(mb.NumSamples)
		sum.Samples += mb.NumSamples
		sum.Minibatches++
	}

	sum.Elapsed = time.Since(start)
	reported := r.reporter.Test(sum)
	r.index++

	r.logger.Debug("Cross-validation round complete",
		"round", reported.Index,
		"samples", sum.Samples,
		"error_pct", sum.AverageError())
	return nil
}
