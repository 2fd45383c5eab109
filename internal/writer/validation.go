package writer

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidSessionName is returned for session names that could open
// anything other than a run directory directly under the output directory
var ErrInvalidSessionName = errors.New("invalid session name")

// Run directories are session_<local time>, with _N appended when several
// runs start within the same second
var sessionNameRegex = regexp.MustCompile(`^session_\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}(_[1-9]\d{0,3})?$`)

// ValidateSessionPath checks that sessionName names a run directory inside
// outputDir (CWE-22)
func ValidateSessionPath(outputDir, sessionName string) error {
	switch {
	case sessionName == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionName)
	case strings.Contains(sessionName, ".."):
		return fmt.Errorf("%w: %q refers to a parent directory", ErrInvalidSessionName, sessionName)
	case filepath.IsAbs(sessionName):
		return fmt.Errorf("%w: %q is an absolute path", ErrInvalidSessionName, sessionName)
	case strings.ContainsAny(sessionName, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSessionName, sessionName)
	case !sessionNameRegex.MatchString(sessionName):
		return fmt.Errorf("%w: %q is not a run directory (want session_YYYY-MM-DDTHH-MM-SS)", ErrInvalidSessionName, sessionName)
	}

	if outputDir == "" {
		outputDir = DefaultOutputDir
	}
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	dir, err := filepath.Abs(filepath.Join(outputDir, sessionName))
	if err != nil {
		return fmt.Errorf("failed to resolve session directory: %w", err)
	}
	if filepath.Dir(dir) != root {
		return fmt.Errorf("%w: %q resolves outside %s", ErrInvalidSessionName, sessionName, outputDir)
	}
	return nil
}
