package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lamim/trainsession/internal/checkpoint"
	"github.com/lamim/trainsession/internal/config"
	"github.com/lamim/trainsession/internal/hfhub"
	"github.com/lamim/trainsession/internal/progress"
	"github.com/lamim/trainsession/internal/writer"
	"github.com/spf13/cobra"
)

const defaultCheckpointName = "model"

func newCheckpointCmd() *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "List, inspect and resume the checkpoints of training sessions",
	}

	var outputDir, name string

	listCmd := &cobra.Command{
		Use:   "list [session-dir]",
		Short: "List sessions, or the checkpoint generations of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return listSessions(cmd.OutOrStdout(), outputDir, name)
			}
			return listGenerations(cmd.OutOrStdout(), outputDir, args[0], name)
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect <session-dir>",
		Short: "Inspect a checkpoint",
		Long:  "Verify and display the latest checkpoint of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspectCheckpoint(cmd.OutOrStdout(), outputDir, args[0], name)
		},
	}

	for _, c := range []*cobra.Command{listCmd, inspectCmd} {
		c.Flags().StringVar(&outputDir, "output-dir", writer.DefaultOutputDir, "Directory holding session directories")
		c.Flags().StringVar(&name, "name", defaultCheckpointName, "Checkpoint base name")
	}

	opts := &runOptions{}
	resumeCmd := &cobra.Command{
		Use:   "resume <session-dir>",
		Short: "Resume a session from its checkpoint",
		Long:  "Resume training from the latest checkpoint of a session, after checking it matches the configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkResumable(opts, args[0]); err != nil {
				return err
			}
			opts.resume = args[0]
			fmt.Fprintf(cmd.OutOrStdout(), "Resuming training from session: %s\n", args[0])
			return runTraining(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	addRunFlags(resumeCmd, opts)

	checkpointCmd.AddCommand(listCmd, inspectCmd, resumeCmd)
	return checkpointCmd
}

// sessionDir validates sessionName and returns its path under outputDir
func sessionDir(outputDir, sessionName string) (string, error) {
	// SECURITY: Validate session path to prevent path traversal (CWE-22)
	if err := writer.ValidateSessionPath(outputDir, sessionName); err != nil {
		return "", fmt.Errorf("invalid session directory: %w", err)
	}
	fullPath := filepath.Join(outputDir, sessionName)
	if _, err := os.Stat(fullPath); os.IsNotExist(err) {
		return "", fmt.Errorf("session directory not found: %s", sessionName)
	}
	return fullPath, nil
}

func listSessions(out io.Writer, outputDir, name string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "No output directory found. Run a training session first.")
			return nil
		}
		return fmt.Errorf("failed to read output directory: %w", err)
	}

	type sessionRow struct {
		name    string
		samples string
		restart string
		status  string
	}
	var rows []sessionRow
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "session_") {
			continue
		}
		dir := filepath.Join(outputDir, entry.Name())
		row := sessionRow{name: entry.Name(), samples: "-", restart: "-", status: "-"}

		if info, err := checkpoint.Inspect(filepath.Join(dir, name)); err == nil {
			row.samples = fmt.Sprintf("%d", info.Meta.TotalSamplesSeen)
			row.restart = fmt.Sprintf("%d", info.Meta.RestartIndex)
		}
		if st, err := readStatus(filepath.Join(dir, "progress.json")); err == nil && st.Message != "" {
			row.status = st.Message
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		fmt.Fprintln(out, "No session directories found.")
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].name < rows[j].name })

	fmt.Fprintln(out, "Available sessions:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%-35s %-10s %-8s %s\n", "SESSION", "SAMPLES", "RESTART", "STATUS")
	fmt.Fprintln(out, strings.Repeat("-", 80))
	for _, r := range rows {
		fmt.Fprintf(out, "%-35s %-10s %-8s %s\n", r.name, r.samples, r.restart, r.status)
	}
	return nil
}

func listGenerations(out io.Writer, outputDir, sessionName, name string) error {
	dir, err := sessionDir(outputDir, sessionName)
	if err != nil {
		return err
	}
	infos, err := checkpoint.List(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintf(out, "No checkpoints named %q in %s.\n", name, sessionName)
		return nil
	}

	fmt.Fprintf(out, "%-24s %-8s %-10s %s\n", "FILE", "RESTART", "SAMPLES", "SAVED AT")
	fmt.Fprintln(out, strings.Repeat("-", 70))
	for _, info := range infos {
		fmt.Fprintf(out, "%-24s %-8d %-10d %s\n",
			filepath.Base(info.BlobPath),
			info.Meta.RestartIndex,
			info.Meta.TotalSamplesSeen,
			info.Meta.SavedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func inspectCheckpoint(out io.Writer, outputDir, sessionName, name string) error {
	dir, err := sessionDir(outputDir, sessionName)
	if err != nil {
		return err
	}
	info, err := checkpoint.Inspect(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	meta := info.Meta

	fmt.Fprintf(out, "Checkpoint Information for: %s\n", sessionName)
	fmt.Fprintln(out, strings.Repeat("=", 80))
	fmt.Fprintf(out, "Session ID:          %s\n", meta.SessionID)
	fmt.Fprintf(out, "Saved At:            %s\n", meta.SavedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Config Hash:         %s\n", meta.ConfigHash)
	fmt.Fprintf(out, "Total Samples:       %d\n", meta.TotalSamplesSeen)
	fmt.Fprintf(out, "Restart Index:       %d\n", meta.RestartIndex)
	if meta.FeedPosition != nil {
		pos := meta.FeedPosition
		fmt.Fprintf(out, "Feed Position:       sweep %d, sequence %d, epoch %d (+%d samples)\n",
			pos.Sweep, pos.Sequence, pos.Epoch, pos.InEpoch)
	}
	fmt.Fprintf(out, "Blob:                %s (%d bytes, sha256 %s)\n", filepath.Base(info.BlobPath), meta.BlobSize, meta.BlobSHA256)
	fmt.Fprintln(out)

	if st, err := readStatus(filepath.Join(dir, "progress.json")); err == nil && st.Message != "" {
		fmt.Fprintf(out, "Last Status:         %s\n", st.Message)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "To resume this session, run:")
	fmt.Fprintf(out, "  Set resume_from_session = \"%s\" in config.toml\n", sessionName)
	fmt.Fprintf(out, "  OR use: trainsession checkpoint resume %s\n", sessionName)
	return nil
}

// checkResumable verifies the session checkpoint against the configuration
// before any new output is written
func checkResumable(opts *runOptions, sessionName string) error {
	dir, err := sessionDir(opts.outputDir, sessionName)
	if err != nil {
		return err
	}
	if opts.envFile != "" {
		if err := loadEnvFile(opts.envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}
	cfg, _, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Checkpoint.Disabled {
		return fmt.Errorf("cannot resume with checkpoint.disabled = true")
	}

	info, err := checkpoint.Inspect(filepath.Join(dir, cfg.Checkpoint.Filename))
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := checkpoint.ValidateCheckpoint(&info.Meta, checkpoint.ComputeConfigHash(cfg.HashParts()...)); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}
	return nil
}

func newPublishCmd() *cobra.Command {
	var (
		outputDir string
		name      string
		repoID    string
		endpoint  string
		branch    string
		envFile   string
	)

	cmd := &cobra.Command{
		Use:   "publish <session-dir>",
		Short: "Publish a session checkpoint to Hugging Face Hub",
		Long: `Upload the latest checkpoint of a session, its metadata and the
session's config backup to a Hugging Face model repository.
The HUGGING_FACE_TOKEN environment variable must be set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := loadEnvFile(envFile); err != nil && !os.IsNotExist(err) {
					fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
				}
			}
			secrets, err := config.LoadSecrets()
			if err != nil {
				return err
			}
			if secrets.HuggingFaceToken == "" {
				return fmt.Errorf("HUGGING_FACE_TOKEN environment variable must be set for uploads")
			}
			if repoID == "" {
				return fmt.Errorf("--hf-repo-id must be specified")
			}

			dir, err := sessionDir(outputDir, args[0])
			if err != nil {
				return err
			}
			info, err := checkpoint.Inspect(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("failed to load checkpoint: %w", err)
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			publisher := hfhub.NewPublisher(hfhub.Options{
				Token:    secrets.HuggingFaceToken,
				Endpoint: endpoint,
				Branch:   branch,
			}, logger)
			if err := publisher.PublishCheckpoint(cmd.Context(), repoID, info, findConfigBackup(dir)); err != nil {
				return fmt.Errorf("publish failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %s\n", filepath.Base(info.BlobPath), publisher.RepoURL(repoID))
			return nil
		},
	}

	cmd.Flags().StringVar(&outputDir, "output-dir", writer.DefaultOutputDir, "Directory holding session directories")
	cmd.Flags().StringVar(&name, "name", defaultCheckpointName, "Checkpoint base name")
	cmd.Flags().StringVar(&repoID, "hf-repo-id", "", "Hugging Face repository ID (e.g., username/model-name)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "https://huggingface.co", "Hugging Face Hub endpoint")
	cmd.Flags().StringVar(&branch, "branch", "main", "Branch to commit to")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	return cmd
}

// findConfigBackup returns the config backup in a session directory, or ""
func findConfigBackup(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "config.*.bak"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func readStatus(path string) (*progress.Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st progress.Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
