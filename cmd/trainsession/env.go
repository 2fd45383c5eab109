package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lamim/trainsession/internal/config"
)

// loadEnvFile loads KEY=VALUE lines into the environment. Existing variables
// win over the file.
func loadEnvFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	for _, line := range strings.FieldsFunc(string(data), func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = trimQuotes(strings.TrimSpace(value))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}

	return nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// writeExampleConfig writes config.ExampleTOML to path
func writeExampleConfig(out io.Writer, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(config.ExampleTOML), 0644); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}
	fmt.Fprintf(out, "Wrote example configuration to %s\n", path)
	return nil
}
