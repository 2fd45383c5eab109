package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// runOptions are shared by run and checkpoint resume
type runOptions struct {
	configPath string
	envFile    string
	outputDir  string
	resume     string
	publish    bool
	hfRepoID   string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trainsession",
		Short: "trainsession - checkpointed training session runner",
		Long: `trainsession drives a training loop over text-format data with
periodic checkpoints, cross-validation and progress reporting, and can
resume an interrupted session exactly where it stopped.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	opts := &runOptions{}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a training session",
		Long: `Run a training session:
1. Load training (and optional cross-validation) data
2. Train until max_samples or the end of the data
3. Write checkpoints, cross-validation rounds and progress as configured
4. Optional: Publish the final checkpoint to Hugging Face Hub`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraining(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
	addRunFlags(runCmd, opts)
	runCmd.Flags().BoolVar(&opts.publish, "publish", false, "Publish the final checkpoint to Hugging Face Hub")
	runCmd.Flags().StringVar(&opts.hfRepoID, "hf-repo-id", "", "Hugging Face repository ID (e.g., username/model-name)")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "config.toml"
			if len(args) == 1 {
				path = args[0]
			}
			return writeExampleConfig(cmd.OutOrStdout(), path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	rootCmd.AddCommand(runCmd, initCmd, newCheckpointCmd(), newPublishCmd())
	return rootCmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().StringVar(&opts.configPath, "config", "config.toml", "Path to configuration file (.toml or .yaml)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "Path to environment file")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "output", "Directory holding session directories")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
}
