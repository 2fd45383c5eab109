package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lamim/trainsession/pkg/models"
)

// Inspect reads and verifies the checkpoint stored at blobPath
func Inspect(blobPath string) (*models.CheckpointInfo, error) {
	sidecar := SidecarPath(blobPath)
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, sidecar)
		}
		return nil, fmt.Errorf("failed to read checkpoint metadata: %w", err)
	}

	var meta models.CheckpointMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, sidecar, err)
	}
	if meta.Version != models.SidecarVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %q", ErrCorruptState, sidecar, meta.Version)
	}

	size, sum, err := hashFile(blobPath)
	if err != nil {
		return nil, err
	}
	if size != meta.BlobSize || sum != meta.BlobSHA256 {
		return nil, fmt.Errorf("%w: %s does not match its metadata", ErrCorruptState, blobPath)
	}

	return &models.CheckpointInfo{
		BlobPath:    blobPath,
		SidecarPath: sidecar,
		Meta:        meta,
	}, nil
}

// Restore verifies the checkpoint at base and loads it into t.
// The returned metadata holds the counters to resume from.
func (s *Store) Restore(t Snapshotter, base string) (*models.CheckpointMeta, error) {
	info, err := Inspect(base)
	if err != nil {
		return nil, err
	}
	if err := ValidateCheckpoint(&info.Meta, s.configHash); err != nil {
		return nil, err
	}
	if err := t.RestoreFromCheckpoint(base); err != nil {
		return nil, fmt.Errorf("failed to restore trainer state: %w", err)
	}

	s.logger.Info("Checkpoint restored",
		"path", base,
		"written_by", info.Meta.SessionID,
		"total_samples", info.Meta.TotalSamplesSeen,
		"restart_index", info.Meta.RestartIndex)

	return &info.Meta, nil
}

// ValidateCheckpoint verifies a checkpoint is compatible with the current settings
func ValidateCheckpoint(meta *models.CheckpointMeta, configHash string) error {
	if meta.ConfigHash != "" && configHash != "" && meta.ConfigHash != configHash {
		return fmt.Errorf("%w: checkpoint hash %s, current %s", ErrConfigMismatch, meta.ConfigHash, configHash)
	}
	return nil
}

// List returns the checkpoints written for base: indexed generations in
// restart-index order followed by the unindexed checkpoint. Files whose
// metadata cannot be verified are skipped.
func List(base string) ([]models.CheckpointInfo, error) {
	dir, prefix := filepath.Split(base)
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var infos []models.CheckpointInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, SidecarSuffix) {
			continue
		}
		suffix := strings.TrimSuffix(strings.TrimPrefix(name, prefix), SidecarSuffix)
		if !isDigits(suffix) {
			continue
		}

		info, err := Inspect(filepath.Join(dir, strings.TrimSuffix(name, SidecarSuffix)))
		if err != nil {
			continue
		}
		info.Indexed = suffix != ""
		infos = append(infos, *info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Indexed != infos[j].Indexed {
			return infos[i].Indexed
		}
		return infos[i].Meta.RestartIndex < infos[j].Meta.RestartIndex
	})
	return infos, nil
}

// ComputeConfigHash hashes the settings that must not change across a resume
func ComputeConfigHash(parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%x", hash[:8])
}

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return 0, "", fmt.Errorf("failed to open trainer state: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash trainer state: %w", err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
