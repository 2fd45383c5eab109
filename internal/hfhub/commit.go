package hfhub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// DefaultLFSThreshold is the size from which files go through LFS (10MB)
const DefaultLFSThreshold = 10 * 1024 * 1024

// CommitOperation represents a single file added by a commit
type CommitOperation struct {
	Path    string       // Path in repository
	Content string       // base64 content for small files
	LFSFile *LFSFileInfo // set instead of Content for large files
}

// LFSFileInfo contains information about an LFS file
type LFSFileInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// PrepareFileOperation hashes localPath and embeds it when it is smaller than
// threshold, otherwise it is marked for LFS upload
func PrepareFileOperation(localPath, pathInRepo string, threshold int64) (*CommitOperation, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	op := &CommitOperation{Path: pathInRepo}
	if info.Size() < threshold {
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, err
		}
		op.Content = base64.StdEncoding.EncodeToString(data)
		return op, nil
	}

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return nil, err
	}
	op.LFSFile = &LFSFileInfo{SHA256: hex.EncodeToString(hasher.Sum(nil)), Size: size}
	return op, nil
}

// ContentOperation creates an embedded operation from in-memory data
func ContentOperation(pathInRepo string, data []byte) CommitOperation {
	return CommitOperation{Path: pathInRepo, Content: base64.StdEncoding.EncodeToString(data)}
}

type ndjsonLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type commitHeader struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

type commitFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type commitLFSFile struct {
	Path string `json:"path"`
	Algo string `json:"algo"`
	OID  string `json:"oid"`
	Size int64  `json:"size"`
}

// buildCommitPayload encodes the commit as NDJSON: one header line followed
// by one line per file
func buildCommitPayload(operations []CommitOperation, summary, description string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if err := enc.Encode(ndjsonLine{Key: "header", Value: commitHeader{Summary: summary, Description: description}}); err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	for _, op := range operations {
		line := ndjsonLine{Key: "file", Value: commitFile{Path: op.Path, Content: op.Content, Encoding: "base64"}}
		if op.LFSFile != nil {
			line = ndjsonLine{Key: "lfsFile", Value: commitLFSFile{Path: op.Path, Algo: "sha256", OID: op.LFSFile.SHA256, Size: op.LFSFile.Size}}
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("failed to marshal file %s: %w", op.Path, err)
		}
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
