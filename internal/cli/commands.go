package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/service"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	analyzeName     string
	analyzeConfig   string
	importConfig    string
	processMode     string
	noProgress      bool
	analyzeAndWatch bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file-key>",
	Short: "Create an import job and stage an export",
	Long: `Create an import job for an uploaded export and analyze it: the JSON is
streamed into staging, datasets are summarized and a mapping configuration is
suggested unless one is given with --config.

The file key is resolved against the configured blob store (BLOB_BACKEND).

Examples:
  tmimport analyze exports/acme.json
  tmimport analyze exports/acme.json --config mapping.yaml`,
	Args: exactArgs(1),
	RunE: runAnalyze,
}

var importCmd = &cobra.Command{
	Use:   "import <job-id>",
	Short: "Import an analyzed job into the destination",
	Long: `Import the staged rows of an analyzed job. With --config the mapping
configuration (YAML or JSON) replaces the one stored on the job first.

Examples:
  tmimport import abc123
  tmimport import abc123 --config mapping.yaml`,
	Args: exactArgs(1),
	RunE: runImportJob,
}

var processCmd = &cobra.Command{
	Use:   "process <job-id>",
	Short: "Run queued work for a job",
	Long: `Run one unit of work the way the job queue does. Jobs that are already
completed, failed or canceled are left alone. Interrupted jobs resume.

Examples:
  tmimport process abc123 --mode analyze
  tmimport process abc123 --mode import`,
	Args: exactArgs(1),
	RunE: runProcess,
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress",
	Args:  exactArgs(1),
	RunE:  runWatch,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Request cancellation of a job. A job that is not running is canceled
immediately; a running job stops after its current chunk.`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		job, err := o.RequestCancel(ctx, args[0])
		if err != nil {
			return err
		}
		if job.Status == models.StatusCanceled {
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s canceled\n", job.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s; it stops after the current chunk\n", job.ID)
		}
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Make a failed job runnable again",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		job, err := o.Retry(ctx, args[0])
		if err != nil {
			return err
		}
		next := "import"
		if job.Phase == models.PhaseAnalyzing {
			next = "analyze"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s is %s again; run 'tmimport process %s --mode %s'\n", job.ID, job.Status, job.ID, next)
		return nil
	},
}

var resetFailedCmd = &cobra.Command{
	Use:   "reset-failed <job-id>",
	Short: "Make rows that failed eligible for the next import",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		n, err := o.ResetFailedRows(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed rows\n", n)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <job-id>",
	Short: "Delete the staging data of a finished job",
	Args:  exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		o, err := getOrchestrator(ctx, false)
		if err != nil {
			return err
		}
		if err := o.Cleanup(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Staging data of %s deleted\n", args[0])
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeName, "name", "", "display name for the job (default: file name)")
	analyzeCmd.Flags().StringVarP(&analyzeConfig, "config", "c", "", "mapping configuration file (YAML or JSON)")
	analyzeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "print plain progress lines")
	analyzeCmd.Flags().BoolVar(&analyzeAndWatch, "import", false, "import right after analyze")

	importCmd.Flags().StringVarP(&importConfig, "config", "c", "", "mapping configuration file (YAML or JSON)")
	importCmd.Flags().BoolVar(&noProgress, "no-progress", false, "print plain progress lines")

	processCmd.Flags().StringVarP(&processMode, "mode", "m", "", "analyze or import")
	_ = processCmd.MarkFlagRequired("mode")

	rootCmd.AddCommand(analyzeCmd, importCmd, processCmd, watchCmd, cancelCmd, retryCmd, resetFailedCmd, cleanupCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	o, err := getOrchestrator(ctx, analyzeAndWatch)
	if err != nil {
		return err
	}

	var raw map[string]any
	if analyzeConfig != "" {
		if raw, err = readConfigFile(analyzeConfig); err != nil {
			return err
		}
	}
	name := analyzeName
	if name == "" {
		name = filepath.Base(args[0])
	}
	job, err := o.CreateJob(ctx, args[0], name, raw)
	if err != nil {
		return withCode(exitDB, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created job %s\n", job.ID)

	if err := runWithProgress(cmd, o, job.ID, service.ModeAnalyze); err != nil {
		return err
	}
	if !analyzeAndWatch {
		return nil
	}
	return runWithProgress(cmd, o, job.ID, service.ModeImport)
}

func runImportJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	o, err := getOrchestrator(ctx, true)
	if err != nil {
		return err
	}
	if importConfig != "" {
		raw, err := readConfigFile(importConfig)
		if err != nil {
			return err
		}
		cfg, err := o.SaveConfiguration(ctx, args[0], raw)
		if err != nil {
			return err
		}
		if n := cfg.Pending(); n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved (%d decisions to apply)\n", n)
		}
	}
	return runWithProgress(cmd, o, args[0], service.ModeImport)
}

func runProcess(cmd *cobra.Command, args []string) error {
	mode, err := service.ParseMode(processMode)
	if err != nil {
		return withCode(exitUsage, err)
	}
	ctx := cmd.Context()
	o, err := getOrchestrator(ctx, mode == service.ModeImport)
	if err != nil {
		return err
	}
	return o.Process(ctx, args[0], mode)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	o, err := getOrchestrator(ctx, false)
	if err != nil {
		return err
	}
	id := args[0]
	fetch := func(ctx context.Context) (*models.ImportJob, error) { return o.Job(ctx, id) }
	if _, err := fetch(ctx); err != nil {
		return err
	}
	return RunJobProgress(ctx, cmd.OutOrStdout(), id, fetch, nil)
}

func runWithProgress(cmd *cobra.Command, o *service.Orchestrator, id string, mode service.Mode) error {
	ctx := cmd.Context()
	fetch := func(ctx context.Context) (*models.ImportJob, error) { return o.Job(ctx, id) }
	run := func(ctx context.Context) error { return o.Process(ctx, id, mode) }
	if noProgress {
		return runPlain(ctx, cmd.OutOrStdout(), id, fetch, run)
	}
	return RunJobProgress(ctx, cmd.OutOrStdout(), id, fetch, run)
}

// readConfigFile decodes a mapping configuration. YAML is a superset of
// JSON, so both formats go through the YAML decoder.
func readConfigFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("read configuration: %w", err))
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, withCode(exitConfig, fmt.Errorf("parse configuration %s: %w", path, err))
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
