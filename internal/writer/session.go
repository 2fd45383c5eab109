package writer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOutputDir holds one directory per training session
const DefaultOutputDir = "output"

// SessionManager manages session directories and files
type SessionManager struct {
	sessionDir string
	logger     *slog.Logger
}

// NewSessionManager creates a new session directory under outputDir, or
// reopens resumeFromSession when it is set
func NewSessionManager(logger *slog.Logger, outputDir, resumeFromSession string) (*SessionManager, error) {
	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	// Create output directory if it doesn't exist
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var sessionDir string
	if resumeFromSession != "" {
		if err := ValidateSessionPath(outputDir, resumeFromSession); err != nil {
			return nil, err
		}
		// Resume mode: use existing session directory
		sessionDir = filepath.Join(outputDir, resumeFromSession)
		if _, err := os.Stat(sessionDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory not found: %s", sessionDir)
		}
		logger.Info("Resuming from existing session", "path", sessionDir)
	} else {
		dir, err := createRunDir(outputDir, time.Now())
		if err != nil {
			return nil, err
		}
		sessionDir = dir

		logger.Info("Created new session directory", "path", sessionDir)
	}

	return &SessionManager{
		sessionDir: sessionDir,
		logger:     logger,
	}, nil
}

// GetSessionDir returns the session directory path
func (sm *SessionManager) GetSessionDir() string {
	return sm.sessionDir
}

// GetLogPath returns the full path to the session log file
func (sm *SessionManager) GetLogPath() string {
	return filepath.Join(sm.sessionDir, "session.log")
}

// GetProgressPath returns the full path to the progress status file
func (sm *SessionManager) GetProgressPath() string {
	return filepath.Join(sm.sessionDir, "progress.json")
}

// GetCheckpointBase returns the checkpoint base path B for filename
func (sm *SessionManager) GetCheckpointBase(filename string) string {
	return filepath.Join(sm.sessionDir, filename)
}

// GetConfigBackupPath returns the full path to the config backup for a
// config file with the given extension
func (sm *SessionManager) GetConfigBackupPath(ext string) string {
	ext = strings.ToLower(ext)
	if ext == "" {
		ext = ".toml"
	}
	return filepath.Join(sm.sessionDir, "config"+ext+".bak")
}

// BackupConfig copies the config file to the session directory
func (sm *SessionManager) BackupConfig(configPath string) (string, error) {
	source, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to read config file: %w", err)
	}

	backupPath := sm.GetConfigBackupPath(filepath.Ext(configPath))
	if err := os.WriteFile(backupPath, source, 0644); err != nil {
		return "", fmt.Errorf("failed to write config backup: %w", err)
	}

	sm.logger.Info("Backed up config file", "path", backupPath)
	return backupPath, nil
}

// maxRunsPerSecond bounds the _N suffixes tried for one timestamp
const maxRunsPerSecond = 1000

// createRunDir creates session_<ts> under outputDir, appending _N when a run
// directory for the same second already exists
func createRunDir(outputDir string, now time.Time) (string, error) {
	name := "session_" + now.Format("2006-01-02T15-04-05")
	for n := 1; n <= maxRunsPerSecond; n++ {
		candidate := name
		if n > 1 {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		dir := filepath.Join(outputDir, candidate)
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return "", fmt.Errorf("failed to create session directory: %d runs already started at %s", maxRunsPerSecond, name)
}
