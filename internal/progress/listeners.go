package progress

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/lamim/trainsession/pkg/models"
)

// LogListener writes progress events to a structured logger.
// Minibatch updates are throttled; summaries are always logged.
type LogListener struct {
	logger  *slog.Logger
	limiter *rate.Limiter
}

// NewLogListener creates a log listener emitting at most updatesPerSecond
// minibatch updates (0 means unthrottled)
func NewLogListener(logger *slog.Logger, updatesPerSecond float64) *LogListener {
	limit := rate.Inf
	if updatesPerSecond > 0 {
		limit = rate.Limit(updatesPerSecond)
	}
	return &LogListener{
		logger:  logger.With("component", "progress"),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (l *LogListener) OnTrainingUpdate(u TrainingUpdate) {
	if !l.limiter.Allow() {
		return
	}
	l.logger.Debug("Minibatch",
		"samples", fmt.Sprintf("[%d, %d)", u.Samples.Start, u.Samples.End),
		"updates", u.Updates.Delta(),
		"loss", u.AverageLoss(),
		"metric", u.AverageMetric())
}

func (l *LogListener) OnTrainingSummary(s TrainingSummary) {
	l.logger.Info("Training summary",
		"period", s.Index,
		"samples", s.Samples.Delta(),
		"total_samples", s.Samples.End,
		"minibatches", s.Updates.Delta(),
		"loss", s.AverageLoss(),
		"metric", s.AverageMetric(),
		"elapsed", s.Elapsed.Round(time.Millisecond))
}

func (l *LogListener) OnTestSummary(s TestSummary) {
	l.logger.Info("Cross-validation",
		"round", s.Index,
		"samples", s.Samples,
		"minibatches", s.Minibatches,
		"error_pct", s.AverageError(),
		"elapsed", s.Elapsed.Round(time.Millisecond))
}

func (l *LogListener) OnCheckpoint(info *models.CheckpointInfo) {
	l.logger.Info("Checkpoint written",
		"path", info.BlobPath,
		"restart_index", info.Meta.RestartIndex,
		"total_samples", info.Meta.TotalSamplesSeen)
}

// BarListener renders a terminal progress bar over training samples
type BarListener struct {
	bar *progressbar.ProgressBar
	pos int64
}

// NewBarListener creates a bar over maxSamples starting at startSamples.
// maxSamples 0 renders an unbounded spinner.
func NewBarListener(w io.Writer, maxSamples, startSamples uint64) *BarListener {
	total := int64(-1)
	if maxSamples > 0 {
		total = int64(maxSamples)
	}
	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("samples"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	b := &BarListener{bar: bar}
	b.set(startSamples)
	return b
}

// OnStart moves the bar to the sample count a restored run resumes from
func (b *BarListener) OnStart(totalSamples uint64) {
	b.set(totalSamples)
}

func (b *BarListener) OnTrainingUpdate(u TrainingUpdate) {
	b.set(u.Samples.End)
}

func (b *BarListener) OnTrainingSummary(s TrainingSummary) {
	b.bar.Describe(fmt.Sprintf("Training (loss %.4f)", s.AverageLoss()))
	b.set(s.Samples.End)
}

func (b *BarListener) OnTestSummary(s TestSummary) {
	b.bar.Describe(fmt.Sprintf("Training (cv %.2f%%)", s.AverageError()))
}

// Position returns the sample count the bar shows
func (b *BarListener) Position() uint64 {
	return uint64(b.pos)
}

func (b *BarListener) set(samples uint64) {
	b.pos = int64(samples)
	_ = b.bar.Set64(b.pos)
}

// Close completes the bar
func (b *BarListener) Close() error {
	return b.bar.Finish()
}
