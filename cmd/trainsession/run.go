package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lamim/trainsession/internal/checkpoint"
	"github.com/lamim/trainsession/internal/config"
	"github.com/lamim/trainsession/internal/feed"
	"github.com/lamim/trainsession/internal/hfhub"
	"github.com/lamim/trainsession/internal/metrics"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/schedule"
	"github.com/lamim/trainsession/internal/session"
	"github.com/lamim/trainsession/internal/trainer"
	"github.com/lamim/trainsession/internal/writer"
)

// runtime is everything a training run wires together
type runtime struct {
	session   *session.Session
	trainer   *trainer.PriorTrainer
	device    trainer.Device
	status    *progress.StatusFileListener
	bar       *progress.BarListener
	collector *metrics.Collector
}

func runTraining(ctx context.Context, opts *runOptions, console io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Load environment variables from file if it exists
	if opts.envFile != "" {
		if err := loadEnvFile(opts.envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}

	cfg, secrets, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.resume != "" {
		cfg.ResumeFromSession = opts.resume
		cfg.Checkpoint.Restore = true
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}

	sessionMgr, err := writer.NewSessionManager(slog.Default(), opts.outputDir, cfg.ResumeFromSession)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel, console)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logFile.Sync()
		_ = logFile.Close()
	}()

	logger.Info("trainsession starting",
		"version", Version,
		"config", opts.configPath,
		"session_dir", sessionMgr.GetSessionDir(),
		"resume_mode", cfg.ResumeFromSession != "")

	// A resumed session keeps the config backup of its first run
	backupPath := findConfigBackup(sessionMgr.GetSessionDir())
	if cfg.ResumeFromSession == "" {
		if backupPath, err = sessionMgr.BackupConfig(opts.configPath); err != nil {
			return fmt.Errorf("failed to backup config: %w", err)
		}
	}

	rt, err := buildRuntime(cfg, sessionMgr, logger, console)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		go func() {
			if err := rt.collector.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error("Metrics endpoint stopped", "error", err)
			}
		}()
	}

	err = rt.session.Train(ctx, rt.device)
	if rt.bar != nil {
		_ = rt.bar.Close()
		fmt.Fprintln(console)
	}
	if err != nil {
		_ = rt.status.Complete("failed: " + err.Error())
		if errors.Is(err, context.Canceled) {
			sessionDir := filepath.Base(sessionMgr.GetSessionDir())
			logger.Warn("Training interrupted - resume from the last checkpoint",
				"session_dir", sessionDir,
				"resume_command", fmt.Sprintf("trainsession checkpoint resume %s", sessionDir))
			return fmt.Errorf("training interrupted (resume with: trainsession checkpoint resume %s)", sessionDir)
		}
		return fmt.Errorf("training failed: %w", err)
	}

	state := rt.session.State()
	if err := rt.status.Complete(fmt.Sprintf("completed: %s", rt.session.StopReason())); err != nil {
		logger.Warn("Failed to write final status", "error", err)
	}
	logger.Info("Training complete",
		"reason", rt.session.StopReason(),
		"total_samples", state.TotalSamplesSeen,
		"cv_rounds", state.CrossValidationIndex,
		"session_dir", sessionMgr.GetSessionDir())

	if opts.publish {
		if cfg.Checkpoint.Disabled {
			return fmt.Errorf("--publish needs checkpoints enabled")
		}
		repoID := opts.hfRepoID
		if repoID == "" {
			repoID = cfg.HuggingFace.RepoID
		}
		if repoID == "" {
			return fmt.Errorf("--hf-repo-id or huggingface.repo_id must be specified when using --publish")
		}
		if secrets.HuggingFaceToken == "" {
			return fmt.Errorf("HUGGING_FACE_TOKEN environment variable must be set for uploads")
		}

		info, err := checkpoint.Inspect(sessionMgr.GetCheckpointBase(cfg.Checkpoint.Filename))
		if err != nil {
			return fmt.Errorf("failed to read final checkpoint: %w", err)
		}
		publisher := hfhub.NewPublisher(hfhub.Options{
			Token:    secrets.HuggingFaceToken,
			Endpoint: cfg.HuggingFace.Endpoint,
			Branch:   cfg.HuggingFace.Branch,
		}, logger)
		if err := publisher.PublishCheckpoint(ctx, repoID, info, backupPath); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
	}

	logger.Info("All done!")
	return nil
}

// buildRuntime loads the data and assembles trainer, listeners and session
func buildRuntime(cfg *config.Config, sessionMgr *writer.SessionManager, logger *slog.Logger, console io.Writer) (*runtime, error) {
	trainSeqs, err := feed.LoadCTF(cfg.Data.TrainFile, cfg.Data.Streams)
	if err != nil {
		return nil, fmt.Errorf("failed to load training data: %w", err)
	}
	trainFeed, err := feed.NewSequenceFeed(trainSeqs, cfg.Data.FeedEpochSize(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create training feed: %w", err)
	}
	logger.Info("Loaded training data",
		"file", cfg.Data.TrainFile,
		"sequences", len(trainSeqs),
		"samples_per_sweep", trainFeed.SweepSamples())

	minibatchSize, err := cfg.Training.MinibatchSchedule()
	if err != nil {
		return nil, fmt.Errorf("invalid minibatch schedule: %w", err)
	}
	learningRate, err := cfg.Training.LearningRateSchedule()
	if err != nil {
		return nil, fmt.Errorf("invalid learning rate schedule: %w", err)
	}
	device, err := trainer.ParseDevice(cfg.Training.Device)
	if err != nil {
		return nil, err
	}
	tr, err := trainer.NewPriorTrainer(cfg.Training.LabelInput, cfg.Training.LabelDim, learningRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create trainer: %w", err)
	}

	rt := &runtime{
		trainer:   tr,
		device:    device,
		status:    progress.NewStatusFileListener(sessionMgr.GetProgressPath(), cfg.Training.MaxSamples, logger),
		collector: metrics.NewCollector(logger),
	}
	listeners := []progress.Listener{
		progress.NewLogListener(logger, cfg.Progress.UpdatesPerSecond),
		rt.status,
		rt.collector,
	}
	if cfg.Progress.ShowBar {
		// Reporter.Start moves the bar to the restored sample count
		rt.bar = progress.NewBarListener(console, cfg.Training.MaxSamples, 0)
		listeners = append(listeners, rt.bar)
	}

	scfg := session.Config{
		Feed:          trainFeed,
		Inputs:        cfg.Data.Inputs,
		MinibatchSize: minibatchSize,
		MaxSamples:    cfg.Training.MaxSamples,
		Progress: &session.ProgressPolicy{
			Listeners:       listeners,
			Frequency:       cfg.Progress.Frequency,
			UpdateFrequency: cfg.Progress.UpdateFrequency,
		},
		ConfigHash: checkpoint.ComputeConfigHash(cfg.HashParts()...),
	}

	if !cfg.Checkpoint.Disabled {
		scfg.Checkpoint = &session.CheckpointPolicy{
			Frequency:   cfg.Checkpoint.Frequency,
			Filename:    sessionMgr.GetCheckpointBase(cfg.Checkpoint.Filename),
			PreserveAll: cfg.Checkpoint.PreserveAll,
			Restore:     cfg.Checkpoint.Restore,
		}
	}

	if cfg.Data.CVFile != "" {
		cvSeqs, err := feed.LoadCTF(cfg.Data.CVFile, cfg.Data.Streams)
		if err != nil {
			return nil, fmt.Errorf("failed to load cross-validation data: %w", err)
		}
		cvFeed, err := feed.NewSequenceFeed(cvSeqs, feed.FullDataSweep, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create cross-validation feed: %w", err)
		}
		scfg.CrossValidation = &session.CrossValidationPolicy{
			Frequency:     cfg.CrossValidation.Frequency,
			Feed:          cvFeed,
			MinibatchSize: schedule.Constant(cfg.CrossValidation.MinibatchSize),
		}
	}

	s, err := session.New(tr, scfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	rt.session = s
	return rt, nil
}
