package hfhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"
)

// LFSPointer identifies an LFS object to upload
type LFSPointer struct {
	OID  string `json:"oid"`  // SHA256 hash
	Size int64  `json:"size"` // File size in bytes
}

// LFSUploadInfo contains upload information for an LFS file
type LFSUploadInfo struct {
	OID       string
	Size      int64
	UploadURL string            // empty when the server already has the object
	Header    map[string]string // chunk_size and part URLs for multipart uploads
}

// LFSBatchObject represents an object in the LFS batch request/response
type LFSBatchObject struct {
	OID     string      `json:"oid"`
	Size    int64       `json:"size"`
	Actions *LFSActions `json:"actions,omitempty"` // nil if the object exists
}

// LFSActions contains upload and verify actions
type LFSActions struct {
	Upload *LFSAction `json:"upload,omitempty"`
	Verify *LFSAction `json:"verify,omitempty"`
}

// LFSAction represents an upload or verify action
type LFSAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

// LFSBatchRequest is the request to the LFS batch endpoint
type LFSBatchRequest struct {
	Operation string           `json:"operation"`
	Transfers []string         `json:"transfers"`
	Objects   []LFSBatchObject `json:"objects"`
	HashAlgo  string           `json:"hash_algo"`
}

// LFSBatchResponse is the response from the LFS batch endpoint
type LFSBatchResponse struct {
	Objects  []LFSBatchObject `json:"objects"`
	Transfer string           `json:"transfer,omitempty"`
}

// PreuploadLFS requests upload URLs for files through the Git LFS batch API
func (p *Publisher) PreuploadLFS(ctx context.Context, repoID string, files []LFSPointer) (map[string]*LFSUploadInfo, error) {
	if len(files) == 0 {
		return map[string]*LFSUploadInfo{}, nil
	}

	url := fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", p.endpoint, repoID)

	objects := make([]LFSBatchObject, len(files))
	for i, file := range files {
		objects[i] = LFSBatchObject{OID: file.OID, Size: file.Size}
	}
	jsonData, err := json.Marshal(LFSBatchRequest{
		Operation: "upload",
		Transfers: []string{"basic", "multipart"},
		Objects:   objects,
		HashAlgo:  "sha256",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	p.logger.Debug("LFS batch request", "url", url, "file_count", len(files))

	resp, err := p.preuploadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("LFS batch failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var batchResp LFSBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode LFS batch response: %w", err)
	}

	uploadMap := make(map[string]*LFSUploadInfo, len(batchResp.Objects))
	for _, obj := range batchResp.Objects {
		info := &LFSUploadInfo{OID: obj.OID, Size: obj.Size}
		if obj.Actions != nil && obj.Actions.Upload != nil {
			info.UploadURL = obj.Actions.Upload.Href
			info.Header = obj.Actions.Upload.Header
		}
		uploadMap[obj.OID] = info
	}

	p.logger.Info("LFS batch completed", "objects", len(uploadMap), "transfer", batchResp.Transfer)
	return uploadMap, nil
}

// UploadLFSFile uploads a file using either basic or multipart LFS protocol
func (p *Publisher) UploadLFSFile(ctx context.Context, uploadInfo *LFSUploadInfo, filePath string) error {
	if uploadInfo.UploadURL == "" {
		p.logger.Debug("LFS file already exists on server", "oid", uploadInfo.OID)
		return nil
	}
	if chunkSize, ok := uploadInfo.Header["chunk_size"]; ok {
		return p.uploadLFSFileMultipart(ctx, uploadInfo, filePath, chunkSize)
	}
	return p.uploadLFSFileBasic(ctx, uploadInfo, filePath)
}

// uploadLFSFileBasic uploads a file with a single PUT
func (p *Publisher) uploadLFSFileBasic(ctx context.Context, uploadInfo *LFSUploadInfo, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	fileInfo, err := file.Stat()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadInfo.UploadURL, file)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = fileInfo.Size()
	for key, value := range uploadInfo.Header {
		if key != "chunk_size" && !isNumericKey(key) {
			req.Header.Set(key, value)
		}
	}

	resp, err := p.lfsClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LFS upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	p.logger.Info("LFS file uploaded (basic)", "oid", uploadInfo.OID, "size", fileInfo.Size())
	return nil
}

type completedPart struct {
	PartNumber int    `json:"partNumber"`
	ETag       string `json:"etag"`
}

type multipartCompletion struct {
	OID   string          `json:"oid"`
	Parts []completedPart `json:"parts"`
}

// uploadLFSFileMultipart PUTs each chunk to its part URL and then posts the
// collected ETags to the upload URL
func (p *Publisher) uploadLFSFileMultipart(ctx context.Context, uploadInfo *LFSUploadInfo, filePath, chunkSizeStr string) error {
	chunkSize, err := strconv.ParseInt(chunkSizeStr, 10, 64)
	if err != nil || chunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %s", chunkSizeStr)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	fileInfo, err := file.Stat()
	if err != nil {
		return err
	}

	partURLs := extractPartURLs(uploadInfo.Header)
	if len(partURLs) == 0 {
		return fmt.Errorf("no part URLs found in multipart upload response")
	}
	partNums := make([]int, 0, len(partURLs))
	for n := range partURLs {
		partNums = append(partNums, n)
	}
	sort.Ints(partNums)

	p.logger.Debug("Uploading LFS file (multipart)",
		"oid", uploadInfo.OID,
		"size", fileInfo.Size(),
		"chunk_size", chunkSize,
		"parts", len(partNums))

	parts := make([]completedPart, 0, len(partNums))
	for _, partNum := range partNums {
		offset := int64(partNum-1) * chunkSize
		length := min(chunkSize, fileInfo.Size()-offset)
		if length <= 0 {
			return fmt.Errorf("part %d starts beyond the end of the file", partNum)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPut, partURLs[partNum], io.NewSectionReader(file, offset, length))
		if err != nil {
			return fmt.Errorf("failed to create request for part %d: %w", partNum, err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = length

		resp, err := p.lfsClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to upload part %d: %w", partNum, err)
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("part %d upload failed with status %d: %s", partNum, resp.StatusCode, string(bodyBytes))
		}

		etag := resp.Header.Get("ETag")
		if etag == "" {
			return fmt.Errorf("no ETag returned for part %d", partNum)
		}
		parts = append(parts, completedPart{PartNumber: partNum, ETag: etag})
	}

	completionJSON, err := json.Marshal(multipartCompletion{OID: uploadInfo.OID, Parts: parts})
	if err != nil {
		return fmt.Errorf("failed to marshal completion payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadInfo.UploadURL, bytes.NewReader(completionJSON))
	if err != nil {
		return fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/vnd.git-lfs+json")
	req.Header.Set("Accept", "application/vnd.git-lfs+json")

	resp, err := p.lfsClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send completion request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("completion request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	p.logger.Info("LFS file uploaded (multipart)", "oid", uploadInfo.OID, "size", fileInfo.Size(), "parts", len(parts))
	return nil
}

// extractPartURLs extracts part URLs from header map (keys like "1", "2", "3"...)
func extractPartURLs(header map[string]string) map[int]string {
	partURLs := make(map[int]string)
	for key, value := range header {
		if !isNumericKey(key) {
			continue
		}
		if n, err := strconv.Atoi(key); err == nil && n > 0 {
			partURLs[n] = value
		}
	}
	return partURLs
}

// isNumericKey checks if a string is a numeric key (used for multipart part numbers)
func isNumericKey(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// withRetry runs fn up to maxRetries+1 times with exponential backoff
func (p *Publisher) withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	backoff := p.retryBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Warn("Retrying "+what,
				"attempt", attempt,
				"max_retries", p.maxRetries,
				"backoff", backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				p.logger.Info(what+" succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		p.logger.Warn(what+" failed", "attempt", attempt, "error", err)
	}

	return fmt.Errorf("%s failed after %d attempts: %w", what, p.maxRetries+1, lastErr)
}
