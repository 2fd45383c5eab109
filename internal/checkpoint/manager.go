package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/trainsession/pkg/models"
)

// SidecarSuffix is appended to a blob path to name its metadata file
const SidecarSuffix = ".ckp"

const tempSuffix = ".tmp"

var (
	// ErrNotFound is returned when a checkpoint sidecar or blob does not exist
	ErrNotFound = errors.New("checkpoint not found")
	// ErrCorruptState is returned when a sidecar cannot be parsed or does not match its blob
	ErrCorruptState = errors.New("checkpoint state is corrupt")
	// ErrConfigMismatch is returned when a checkpoint was written under different settings
	ErrConfigMismatch = errors.New("checkpoint config mismatch")
)

// Snapshotter saves and restores trainer state to a single file
type Snapshotter interface {
	SaveCheckpoint(path string) error
	RestoreFromCheckpoint(path string) error
}

// Store writes and reads checkpoint generations. Every artifact is written to a
// temporary file and renamed into place, the blob before its sidecar.
type Store struct {
	sessionID  string
	configHash string
	logger     *slog.Logger
}

// NewStore creates a store for one training run. configHash is recorded in
// every sidecar and checked on restore when both sides are non-empty.
func NewStore(configHash string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessionID:  uuid.New().String(),
		configHash: configHash,
		logger:     logger.With("component", "checkpoint"),
	}
}

// SessionID returns the run id recorded in sidecars
func (s *Store) SessionID() string {
	return s.sessionID
}

// BlobPath returns the blob path for a generation: base+index when indexed, base otherwise
func BlobPath(base string, index uint32, indexed bool) string {
	if !indexed {
		return base
	}
	return base + strconv.FormatUint(uint64(index), 10)
}

// SidecarPath returns the metadata path for a blob
func SidecarPath(blobPath string) string {
	return blobPath + SidecarSuffix
}

// Save writes a periodic checkpoint. With preserveAll it writes base{index},
// otherwise it replaces the rolling checkpoint at base.
func (s *Store) Save(t Snapshotter, base string, state models.SessionState, pos *models.Cursor, preserveAll bool) (*models.CheckpointInfo, error) {
	return s.write(t, BlobPath(base, state.RestartIndex, preserveAll), preserveAll, state, pos)
}

// SaveFinal writes the end-of-session checkpoint at base
func (s *Store) SaveFinal(t Snapshotter, base string, state models.SessionState, pos *models.Cursor) (*models.CheckpointInfo, error) {
	return s.write(t, base, false, state, pos)
}

func (s *Store) write(t Snapshotter, blobPath string, indexed bool, state models.SessionState, pos *models.Cursor) (*models.CheckpointInfo, error) {
	if dir := filepath.Dir(blobPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	tempBlob := blobPath + tempSuffix
	if err := t.SaveCheckpoint(tempBlob); err != nil {
		os.Remove(tempBlob)
		return nil, fmt.Errorf("failed to save trainer state: %w", err)
	}
	size, sum, err := syncAndHash(tempBlob)
	if err != nil {
		os.Remove(tempBlob)
		return nil, err
	}
	if err := os.Rename(tempBlob, blobPath); err != nil {
		os.Remove(tempBlob)
		return nil, fmt.Errorf("failed to rename trainer state: %w", err)
	}

	meta := models.CheckpointMeta{
		Version:          models.SidecarVersion,
		SessionID:        s.sessionID,
		SavedAt:          time.Now().UTC(),
		ConfigHash:       s.configHash,
		TotalSamplesSeen: state.TotalSamplesSeen,
		RestartIndex:     state.RestartIndex,
		FeedPosition:     pos,
		BlobSize:         size,
		BlobSHA256:       sum,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}
	sidecar := SidecarPath(blobPath)
	if err := writeFileAtomic(sidecar, data); err != nil {
		return nil, err
	}

	s.logger.Debug("Checkpoint saved",
		"path", blobPath,
		"restart_index", state.RestartIndex,
		"total_samples", state.TotalSamplesSeen)

	return &models.CheckpointInfo{
		BlobPath:    blobPath,
		SidecarPath: sidecar,
		Indexed:     indexed,
		Meta:        meta,
	}, nil
}

// syncAndHash flushes a file to disk and returns its size and SHA-256
func syncAndHash(path string) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open trainer state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, "", fmt.Errorf("failed to sync trainer state: %w", err)
	}
	f.Close()
	return hashFile(path)
}

// writeFileAtomic writes data to path via a synced temp file and rename
func writeFileAtomic(path string, data []byte) error {
	tempPath := path + tempSuffix
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
