package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/lamim/trainsession/pkg/models"
)

const (
	// DefaultEndpoint is the public Hugging Face Hub
	DefaultEndpoint = "https://huggingface.co"
	// DefaultTimeout is the default timeout for general API operations
	DefaultTimeout = 300 * time.Second
	// LFSUploadTimeout is the timeout for actual LFS file uploads
	LFSUploadTimeout = 600 * time.Second
	// LogPreviewLength is the maximum length for log previews
	LogPreviewLength = 500
	// DefaultMaxRetries is the number of retries for LFS operations
	DefaultMaxRetries = 3
)

// Options configures a Publisher. Zero values select the defaults.
type Options struct {
	Token        string
	Endpoint     string
	Branch       string
	LFSThreshold int64
	MaxRetries   int
	RetryBackoff time.Duration
}

// File maps a local file to its path in the repository
type File struct {
	LocalPath  string
	PathInRepo string
}

// Publisher uploads checkpoints to a Hugging Face model repository
type Publisher struct {
	token           string
	endpoint        string
	branch          string
	lfsThreshold    int64
	maxRetries      int
	retryBackoff    time.Duration
	httpClient      *http.Client // repo and commit calls
	preuploadClient *http.Client
	lfsClient       *http.Client
	logger          *slog.Logger
}

// NewPublisher creates a publisher
func NewPublisher(opts Options, logger *slog.Logger) *Publisher {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.LFSThreshold <= 0 {
		opts.LFSThreshold = DefaultLFSThreshold
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	return &Publisher{
		token:           opts.Token,
		endpoint:        strings.TrimRight(opts.Endpoint, "/"),
		branch:          opts.Branch,
		lfsThreshold:    opts.LFSThreshold,
		maxRetries:      opts.MaxRetries,
		retryBackoff:    opts.RetryBackoff,
		httpClient:      &http.Client{Timeout: DefaultTimeout},
		preuploadClient: &http.Client{Timeout: DefaultTimeout},
		lfsClient:       &http.Client{Timeout: LFSUploadTimeout},
		logger:          logger.With("component", "hf_publisher"),
	}
}

// RepoURL returns the browsable URL of a model repository
func (p *Publisher) RepoURL(repoID string) string {
	return fmt.Sprintf("%s/%s", p.endpoint, repoID)
}

// PublishCheckpoint uploads a checkpoint blob, its sidecar, the config backup
// and a generated model card in one commit
func (p *Publisher) PublishCheckpoint(ctx context.Context, repoID string, info *models.CheckpointInfo, configBackup string) error {
	files := []File{
		{LocalPath: info.BlobPath, PathInRepo: "checkpoint/" + filepath.Base(info.BlobPath)},
		{LocalPath: info.SidecarPath, PathInRepo: "checkpoint/" + filepath.Base(info.SidecarPath)},
	}
	if configBackup != "" {
		// config.toml.bak -> trainsession.toml
		ext := filepath.Ext(strings.TrimSuffix(configBackup, ".bak"))
		files = append(files, File{LocalPath: configBackup, PathInRepo: "trainsession" + ext})
	}

	card := ContentOperation("README.md", modelCard(repoID, info))
	message := fmt.Sprintf("Upload checkpoint at %d samples (session %s)", info.Meta.TotalSamplesSeen, info.Meta.SessionID)
	return p.publish(ctx, repoID, files, []CommitOperation{card}, message)
}

// Publish uploads files to repoID in one commit
func (p *Publisher) Publish(ctx context.Context, repoID string, files []File, message string) error {
	return p.publish(ctx, repoID, files, nil, message)
}

func (p *Publisher) publish(ctx context.Context, repoID string, files []File, extra []CommitOperation, message string) error {
	p.logger.Info("Starting upload to Hugging Face Hub", "repo_id", repoID, "files", len(files))

	if err := p.ensureRepo(ctx, repoID); err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}

	operations := append([]CommitOperation(nil), extra...)
	var lfsFiles []LFSPointer
	filePaths := make(map[string]string) // oid -> local path

	for _, f := range files {
		op, err := PrepareFileOperation(f.LocalPath, f.PathInRepo, p.lfsThreshold)
		if err != nil {
			return fmt.Errorf("failed to prepare %s: %w", f.LocalPath, err)
		}
		operations = append(operations, *op)

		if op.LFSFile != nil {
			if _, seen := filePaths[op.LFSFile.SHA256]; !seen {
				lfsFiles = append(lfsFiles, LFSPointer{OID: op.LFSFile.SHA256, Size: op.LFSFile.Size})
				filePaths[op.LFSFile.SHA256] = f.LocalPath
			}
			p.logger.Debug("File will use LFS", "file", f.PathInRepo, "size", op.LFSFile.Size)
		} else {
			p.logger.Debug("File will be embedded", "file", f.PathInRepo)
		}
	}

	if len(operations) == 0 {
		return fmt.Errorf("no files to upload")
	}

	if len(lfsFiles) > 0 {
		p.logger.Info("Uploading LFS files", "count", len(lfsFiles))

		var uploadMap map[string]*LFSUploadInfo
		err := p.withRetry(ctx, "LFS preupload", func() error {
			var err error
			uploadMap, err = p.PreuploadLFS(ctx, repoID, lfsFiles)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to preupload LFS: %w", err)
		}

		for oid, uploadInfo := range uploadMap {
			localPath, ok := filePaths[oid]
			if !ok {
				return fmt.Errorf("LFS batch returned unknown object %s", oid)
			}
			err := p.withRetry(ctx, "LFS file upload", func() error {
				return p.UploadLFSFile(ctx, uploadInfo, localPath)
			})
			if err != nil {
				return fmt.Errorf("failed to upload LFS file %s: %w", localPath, err)
			}
		}
	}

	if err := p.createCommit(ctx, repoID, operations, message); err != nil {
		return fmt.Errorf("failed to create commit: %w", err)
	}

	p.logger.Info("Upload completed successfully", "repo_id", repoID, "url", p.RepoURL(repoID))
	return nil
}

// ensureRepo creates the model repository unless it already exists
func (p *Publisher) ensureRepo(ctx context.Context, repoID string) error {
	owner, name, ok := strings.Cut(repoID, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid repo_id format, expected 'owner/name', got '%s'", repoID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/models/%s", p.endpoint, repoID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			p.logger.Info("Repository already exists", "repo_id", repoID)
			return nil
		}
	}

	body, err := json.Marshal(map[string]any{
		"name":         name,
		"organization": owner,
		"private":      false,
	})
	if err != nil {
		return err
	}

	createURL := p.endpoint + "/api/repos/create"
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	p.logger.Debug("Creating repository", "url", createURL, "name", name)

	resp, err = p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// 409 means someone created it in between
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create repo failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	p.logger.Info("Repository created", "repo_id", repoID)
	return nil
}

func (p *Publisher) createCommit(ctx context.Context, repoID string, operations []CommitOperation, message string) error {
	url := fmt.Sprintf("%s/api/models/%s/commit/%s", p.endpoint, repoID, p.branch)

	payload, err := buildCommitPayload(operations, message, "")
	if err != nil {
		return err
	}

	preview := string(payload)
	if len(preview) > LogPreviewLength {
		preview = preview[:LogPreviewLength] + "..."
	}
	p.logger.Debug("Commit payload (NDJSON)", "preview", preview)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("commit failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	p.logger.Info("Commit created successfully", "branch", p.branch, "operations", len(operations))
	return nil
}

// modelCard renders README.md for a published checkpoint
func modelCard(repoID string, info *models.CheckpointInfo) []byte {
	var b strings.Builder
	meta := info.Meta
	fmt.Fprintf(&b, "---\ntags:\n- trainsession\n---\n\n# %s\n\n", repoID)
	b.WriteString("Checkpoint published by trainsession. Restore it by placing both files\n")
	b.WriteString("of `checkpoint/` in a session directory and resuming that session.\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Session | `%s` |\n", meta.SessionID)
	fmt.Fprintf(&b, "| Samples seen | %d |\n", meta.TotalSamplesSeen)
	fmt.Fprintf(&b, "| Restart index | %d |\n", meta.RestartIndex)
	fmt.Fprintf(&b, "| Saved at | %s |\n", meta.SavedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "| Blob size | %d bytes |\n", meta.BlobSize)
	fmt.Fprintf(&b, "| Blob SHA-256 | `%s` |\n", meta.BlobSHA256)
	return []byte(b.String())
}
