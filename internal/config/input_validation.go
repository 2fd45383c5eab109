package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxPathLength is the maximum allowed length for file paths
	MaxPathLength = 4096

	// MaxNameLength is the maximum allowed length for stream and input names
	MaxNameLength = 100
)

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateInputs performs additional security validation on user-controllable fields.
// Paths and names end up in file names and log lines.
func (c *Config) ValidateInputs() error {
	for key, path := range map[string]string{
		"data.train_file":     c.Data.TrainFile,
		"data.cv_file":        c.Data.CVFile,
		"resume_from_session": c.ResumeFromSession,
	} {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if err := validateCheckpointName(c.Checkpoint.Filename); err != nil {
		return fmt.Errorf("invalid checkpoint.filename: %w", err)
	}

	for _, s := range c.Data.Streams {
		if err := validateName(s.Name); err != nil {
			return fmt.Errorf("invalid stream name %q: %w", s.Name, err)
		}
	}
	for input := range c.Data.Inputs {
		if err := validateName(input); err != nil {
			return fmt.Errorf("invalid input name %q: %w", input, err)
		}
	}

	if c.HuggingFace.RepoID != "" && !repoIDPattern.MatchString(c.HuggingFace.RepoID) {
		return fmt.Errorf("huggingface.repo_id must look like owner/name (got %q)", c.HuggingFace.RepoID)
	}
	if err := validateBaseURL(c.HuggingFace.Endpoint); err != nil {
		return fmt.Errorf("invalid huggingface.endpoint: %w", err)
	}

	return nil
}

// validatePath checks a file path for length and control characters
func validatePath(path string) error {
	if len(path) > MaxPathLength {
		return fmt.Errorf("exceeds maximum length of %d characters (got %d)", MaxPathLength, len(path))
	}
	if containsControlChars(path) {
		return fmt.Errorf("contains invalid control characters")
	}
	return nil
}

// validateCheckpointName requires a bare file name; checkpoints always live
// in the session directory
func validateCheckpointName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("must be a file name without directories (got %q)", name)
	}
	return nil
}

// validateName checks a short identifier
func validateName(name string) error {
	if len(name) > MaxNameLength {
		return fmt.Errorf("exceeds maximum length of %d (got %d)", MaxNameLength, len(name))
	}
	if containsControlChars(name) || strings.ContainsAny(name, "\n\t\r") {
		return fmt.Errorf("contains invalid control characters")
	}
	return nil
}

// validateBaseURL checks that the URL is properly formatted and safe
func validateBaseURL(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https scheme (got %s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("must have a host")
	}
	return nil
}

// containsControlChars checks if a string contains control characters
// (excluding newlines, tabs, and carriage returns which are acceptable)
func containsControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
