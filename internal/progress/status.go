package progress

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Status is the progress document written by StatusFileListener
type Status struct {
	CurrentSamples uint64  `json:"current_samples"`
	MaxSamples     *uint64 `json:"max_samples,omitempty"`
	Summaries      int     `json:"summaries"`
	CVRounds       int     `json:"cv_rounds"`
	Message        string  `json:"message,omitempty"`

	TrainingMetrics map[string]float64 `json:"training_metrics,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`

	Timestamp int64 `json:"timestamp"`
	StartTime int64 `json:"start_time"`
}

// StatusFileListener keeps a JSON status file current so external tools can
// poll training progress. The file is replaced atomically on every summary.
type StatusFileListener struct {
	path   string
	status Status
	logger *slog.Logger
}

// NewStatusFileListener creates a listener writing to path
func NewStatusFileListener(path string, maxSamples uint64, logger *slog.Logger) *StatusFileListener {
	st := Status{
		StartTime:       time.Now().Unix(),
		TrainingMetrics: make(map[string]float64),
		Metrics:         make(map[string]float64),
	}
	if maxSamples > 0 {
		st.MaxSamples = &maxSamples
	}
	return &StatusFileListener{
		path:   path,
		status: st,
		logger: logger.With("component", "status_file"),
	}
}

func (s *StatusFileListener) OnTrainingUpdate(u TrainingUpdate) {
	s.status.CurrentSamples = u.Samples.End
}

func (s *StatusFileListener) OnTrainingSummary(sum TrainingSummary) {
	s.status.CurrentSamples = sum.Samples.End
	s.status.Summaries = sum.Index + 1
	s.status.TrainingMetrics["loss"] = sum.AverageLoss()
	s.status.TrainingMetrics["metric"] = sum.AverageMetric()
	s.status.Message = fmt.Sprintf("trained %d samples", sum.Samples.End)
	s.flush()
}

func (s *StatusFileListener) OnTestSummary(t TestSummary) {
	s.status.CVRounds = t.Index + 1
	s.status.Metrics["cv_error_pct"] = t.AverageError()
	s.flush()
}

// Complete marks the run finished and writes the final status
func (s *StatusFileListener) Complete(message string) error {
	s.status.Message = message
	return s.write()
}

// Status returns the last recorded status
func (s *StatusFileListener) Status() Status {
	return s.status
}

func (s *StatusFileListener) flush() {
	if err := s.write(); err != nil {
		s.logger.Warn("Failed to write status file", "path", s.path, "error", err)
	}
}

func (s *StatusFileListener) write() error {
	s.status.Timestamp = time.Now().Unix()
	data, err := json.MarshalIndent(s.status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp status: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename status: %w", err)
	}
	return nil
}
