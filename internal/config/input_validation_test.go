package config

import (
	"strings"
	"testing"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string // substring of expected error, empty means valid
	}{
		{"relative", "data/train.ctf", ""},
		{"absolute", "/srv/data/cv.ctf", ""},
		{"empty", "", ""},
		{"too_long", strings.Repeat("a", MaxPathLength+1), "exceeds maximum length"},
		{"null_byte", "train\x00.ctf", "invalid control characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePath(tt.input)
			if tt.want == "" {
				if err != nil {
					t.Errorf("validatePath(%q) returned unexpected error: %v", tt.input, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validatePath(%q) error = %v, want substring %q", tt.input, err, tt.want)
			}
		})
	}
}

func TestValidateCheckpointName(t *testing.T) {
	valid := []string{"model", "checkpoint_save_all", "run.v2"}
	for _, name := range valid {
		if err := validateCheckpointName(name); err != nil {
			t.Errorf("validateCheckpointName(%q) returned unexpected error: %v", name, err)
		}
	}

	invalid := []string{"../model", "dir/model", `dir\model`, "..", "model\ttab", strings.Repeat("m", MaxNameLength+1)}
	for _, name := range invalid {
		if err := validateCheckpointName(name); err == nil {
			t.Errorf("validateCheckpointName(%q) expected error", name)
		}
	}
}

func TestValidateBaseURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://huggingface.co", false},
		{"http://localhost:8080", false},
		{"ftp://example.com", true},
		{"https://", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := validateBaseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateBaseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateInputs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"valid repo id", func(c *Config) { c.HuggingFace.RepoID = "lamim/phoneme-prior" }, false},
		{"repo id without owner", func(c *Config) { c.HuggingFace.RepoID = "phoneme-prior" }, true},
		{"repo id traversal", func(c *Config) { c.HuggingFace.RepoID = "../../etc" }, true},
		{"bad endpoint", func(c *Config) { c.HuggingFace.Endpoint = "file:///tmp" }, true},
		{"checkpoint path", func(c *Config) { c.Checkpoint.Filename = "/tmp/model" }, true},
		{"control char in cv file", func(c *Config) { c.Data.CVFile = "cv\x07.ctf" }, true},
		{"newline in input name", func(c *Config) { c.Data.Inputs["a\nb"] = "labels" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.ValidateInputs()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInputs() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
