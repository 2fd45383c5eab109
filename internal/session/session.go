package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lamim/trainsession/internal/checkpoint"
	"github.com/lamim/trainsession/internal/crossval"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/internal/trainer"
	"github.com/lamim/trainsession/pkg/models"
)

// Phase is a state of the session controller
type Phase string

const (
	PhaseInitializing    Phase = "initializing"
	PhaseRunning         Phase = "running"
	PhaseCrossValidating Phase = "cross_validating"
	PhaseCheckpointing   Phase = "checkpointing"
	PhaseFinalizing      Phase = "finalizing"
	PhaseDone            Phase = "done"
)

// StopReason records why the training loop ended
type StopReason string

const (
	StopMaxSamples      StopReason = "max_samples"
	StopFeedExhausted   StopReason = "feed_exhausted"
	StopCrossValidation StopReason = "cross_validation"
)

// Session drives one training run: it pulls minibatches, trains on them and
// fires checkpoints, cross-validation and progress at sample boundaries.
// All work happens on the goroutine that calls Train.
type Session struct {
	trainer  trainer.Trainer
	cfg      Config
	store    *checkpoint.Store
	cv       *crossval.Runner
	reporter *progress.Reporter
	logger   *slog.Logger

	state  models.SessionState
	phase  Phase
	reason StopReason

	checkpointed     bool   // a checkpoint was written in this run
	lastCheckpointAt uint64 // total samples at the last checkpoint write
	cvRan            bool
	lastCVAt         uint64
}

// New validates cfg and creates a session for t
func New(t trainer.Trainer, cfg Config, logger *slog.Logger) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: a trainer is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		trainer: t,
		cfg:     cfg,
		logger:  logger.With("component", "session"),
		phase:   PhaseInitializing,
	}

	s.reporter = progress.NewReporter(1, 0)
	if p := cfg.Progress; p != nil {
		updates := p.UpdateFrequency
		if updates == 0 {
			updates = 1
		}
		s.reporter = progress.NewReporter(updates, p.Frequency, p.Listeners...)
	}

	if cfg.Checkpoint != nil {
		s.store = checkpoint.NewStore(cfg.ConfigHash, logger)
	}

	if cv := cfg.CrossValidation; cv != nil {
		inputs := cv.Inputs
		if len(inputs) == 0 {
			inputs = cfg.Inputs
		}
		runner, err := crossval.NewRunner(crossval.Config{
			Feed:          cv.Feed,
			Inputs:        inputs,
			MinibatchSize: cv.MinibatchSize,
			Callback:      cv.Callback,
		}, t, s.reporter, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		s.cv = runner
	}

	return s, nil
}

// State returns the session counters
func (s *Session) State() models.SessionState {
	return s.state
}

// Phase returns the current controller phase
func (s *Session) Phase() Phase {
	return s.phase
}

// StopReason returns why the training loop ended, empty until it has
func (s *Session) StopReason() StopReason {
	return s.reason
}

// Train runs the session to completion on device. It returns ctx.Err() if
// the context is cancelled between minibatches; no final checkpoint is
// written in that case.
func (s *Session) Train(ctx context.Context, device trainer.Device) error {
	if s.phase != PhaseInitializing {
		return fmt.Errorf("session already started (phase %s)", s.phase)
	}
	if err := s.initialize(); err != nil {
		return err
	}

	start := time.Now()
	s.logger.Info("Training started",
		"device", device.String(),
		"total_samples", s.state.TotalSamplesSeen,
		"max_samples", s.cfg.MaxSamples)

	if err := s.run(ctx, device); err != nil {
		return err
	}
	if err := s.finalize(ctx, device); err != nil {
		return err
	}

	s.logger.Info("Training finished",
		"reason", s.reason,
		"total_samples", s.state.TotalSamplesSeen,
		"cv_rounds", s.state.CrossValidationIndex,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Session) initialize() error {
	s.state.TotalSamplesSeen = s.trainer.TotalSamplesSeen()

	if cp := s.cfg.Checkpoint; cp != nil && cp.Restore {
		meta, err := s.store.Restore(s.trainer, cp.Filename)
		if err != nil {
			return fmt.Errorf("failed to restore session: %w", err)
		}
		if meta.FeedPosition != nil {
			if err := s.cfg.Feed.SetPosition(*meta.FeedPosition); err != nil {
				return fmt.Errorf("failed to restore feed position: %w", err)
			}
		}
		if got := s.trainer.TotalSamplesSeen(); got != meta.TotalSamplesSeen {
			s.logger.Warn("Trainer sample count differs from checkpoint metadata",
				"trainer", got, "checkpoint", meta.TotalSamplesSeen)
		}
		s.state.TotalSamplesSeen = meta.TotalSamplesSeen
		s.state.RestartIndex = meta.RestartIndex + 1
	}

	s.reporter.Start(s.state.TotalSamplesSeen)
	s.phase = PhaseRunning
	return nil
}

func (s *Session) run(ctx context.Context, device trainer.Device) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.maxReached() {
			s.reason = StopMaxSamples
			return nil
		}

		size := s.cfg.MinibatchSize.ValueAt(s.state.TotalSamplesSeen)
		if s.cfg.MaxSamples > 0 {
			size = min(size, s.cfg.MaxSamples-s.state.TotalSamplesSeen)
		}
		mb, err := s.cfg.Feed.NextMinibatch(ctx, size, s.cfg.Inputs)
		if err != nil {
			return fmt.Errorf("failed to read training minibatch: %w", err)
		}
		if mb == nil {
			s.reason = StopFeedExhausted
			return nil
		}

		res, err := s.trainer.TrainMinibatch(mb, device)
		if err != nil {
			return fmt.Errorf("failed to train minibatch: %w", err)
		}
		res.Samples = mb.NumSamples
		prev := s.state.TotalSamplesSeen
		s.state.TotalSamplesSeen += mb.NumSamples
		s.reporter.Record(res)

		if s.maxReached() {
			s.reason = StopMaxSamples
			return nil
		}

		if cp := s.cfg.Checkpoint; cp != nil && schedule.Crossed(prev, s.state.TotalSamplesSeen, cp.Frequency) {
			if err := s.checkpoint(); err != nil {
				return err
			}
		}

		if cv := s.cfg.CrossValidation; cv != nil && schedule.Crossed(prev, s.state.TotalSamplesSeen, cv.Frequency) {
			cont, err := s.crossValidate(ctx, device)
			if err != nil {
				return err
			}
			if !cont {
				s.reason = StopCrossValidation
				return nil
			}
		}
	}
}

func (s *Session) maxReached() bool {
	return s.cfg.MaxSamples > 0 && s.state.TotalSamplesSeen >= s.cfg.MaxSamples
}

// checkpoint writes a periodic checkpoint and consumes one restart index
func (s *Session) checkpoint() error {
	s.phase = PhaseCheckpointing
	defer func() { s.phase = PhaseRunning }()

	cp := s.cfg.Checkpoint
	pos := s.cfg.Feed.Position()
	info, err := s.store.Save(s.trainer, cp.Filename, s.state, &pos, cp.PreserveAll)
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	s.wrote(info)
	s.state.RestartIndex++
	return nil
}

func (s *Session) wrote(info *models.CheckpointInfo) {
	s.checkpointed = true
	s.lastCheckpointAt = s.state.TotalSamplesSeen
	s.reporter.Checkpoint(info)
}

func (s *Session) crossValidate(ctx context.Context, device trainer.Device) (bool, error) {
	s.phase = PhaseCrossValidating
	defer func() { s.phase = PhaseRunning }()

	cont, err := s.cv.Run(ctx, device)
	if err != nil {
		return false, fmt.Errorf("cross-validation round %d failed: %w", s.state.CrossValidationIndex, err)
	}
	s.state.CrossValidationIndex++
	s.cvRan = true
	s.lastCVAt = s.state.TotalSamplesSeen
	return cont, nil
}

// finalize closes the reporting period, runs a last cross-validation round if
// none ran at the final sample count, and writes the final checkpoint
func (s *Session) finalize(ctx context.Context, device trainer.Device) error {
	s.phase = PhaseFinalizing
	s.reporter.Finish()

	if s.cv != nil && !(s.cvRan && s.lastCVAt == s.state.TotalSamplesSeen) {
		if _, err := s.crossValidate(ctx, device); err != nil {
			return err
		}
		s.phase = PhaseFinalizing
	}

	if cp := s.cfg.Checkpoint; cp != nil {
		if err := s.finalCheckpoint(cp); err != nil {
			return err
		}
	}

	s.phase = PhaseDone
	return nil
}

// finalCheckpoint always writes B. Unless a checkpoint was already written at
// this sample count, the write consumes a restart index and, with
// PreserveAll, also produces the indexed copy B{i}.
func (s *Session) finalCheckpoint(cp *CheckpointPolicy) error {
	pos := s.cfg.Feed.Position()
	state := s.state

	if s.checkpointed && s.lastCheckpointAt == s.state.TotalSamplesSeen {
		state.RestartIndex--
	} else {
		if cp.PreserveAll {
			info, err := s.store.Save(s.trainer, cp.Filename, state, &pos, true)
			if err != nil {
				return fmt.Errorf("failed to write final indexed checkpoint: %w", err)
			}
			s.wrote(info)
		}
		s.state.RestartIndex++
	}

	info, err := s.store.SaveFinal(s.trainer, cp.Filename, state, &pos)
	if err != nil {
		return fmt.Errorf("failed to write final checkpoint: %w", err)
	}
	s.wrote(info)
	return nil
}
