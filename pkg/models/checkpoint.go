package models

import "time"

// SidecarVersion is the format version written into checkpoint sidecars
const SidecarVersion = "1"

// CheckpointMeta is the companion metadata saved next to a trainer-state blob
// (the ".ckp" file). It carries everything needed for exact resumption.
type CheckpointMeta struct {
	Version   string    `json:"version"`
	SessionID string    `json:"session_id"` // UUID of the run that wrote it
	SavedAt   time.Time `json:"saved_at"`

	// Hash of the settings that must match for a resume (empty skips the check)
	ConfigHash string `json:"config_hash,omitempty"`

	TotalSamplesSeen uint64 `json:"total_samples_seen"`
	RestartIndex     uint32 `json:"restart_index"` // index of the write that produced this file

	// Training feed position at save time (nil if the feed was not recorded)
	FeedPosition *Cursor `json:"feed_position,omitempty"`

	// Integrity of the trainer-state blob
	BlobSize   int64  `json:"blob_size"`
	BlobSHA256 string `json:"blob_sha256"`
}

// CheckpointInfo describes one checkpoint generation found on disk
type CheckpointInfo struct {
	BlobPath    string
	SidecarPath string
	Indexed     bool // false for the rolling/final "B" checkpoint
	Meta        CheckpointMeta
}
