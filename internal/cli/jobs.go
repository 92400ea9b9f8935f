package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/spf13/cobra"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List import jobs",
	Long: `List the most recent import jobs.

Examples:
  tmimport jobs            # List the last 20 jobs
  tmimport jobs -n 100     # List the last 100 jobs`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

var activityLines int

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show an import job",
	Long: `Show the state, counters and recent activity of an import job.

Examples:
  tmimport status abc123
  tmimport status abc123 --activity 50`,
	Args: exactArgs(1),
	RunE: runStatus,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets <job-id>",
	Short: "List the datasets found by analyze",
	Args:  exactArgs(1),
	RunE:  runDatasets,
}

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of jobs to list")
	statusCmd.Flags().IntVar(&activityLines, "activity", 10, "number of activity log entries to show")
	rootCmd.AddCommand(jobsCmd, statusCmd, datasetsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, err := getOrchestrator(ctx, false)
	if err != nil {
		return err
	}
	jobs, err := o.Jobs(ctx, jobsLimit)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("list jobs: %w", err))
	}

	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-12s %-10s %-14s %-20s %s\n", "ID", "PHASE", "STATUS", "PROGRESS", "CREATED", "FILE")
	fmt.Fprintln(out, "----------------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Fprintf(out, "%-10s %-12s %-10s %-14s %-20s %s\n",
			job.ID, job.Phase, job.Status, progressText(&job), job.CreatedAt.Local().Format("2006-01-02 15:04:05"), fileLabel(&job))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, err := getOrchestrator(ctx, false)
	if err != nil {
		return err
	}
	job, err := o.Job(ctx, args[0])
	if err != nil {
		return err
	}
	printJob(cmd.OutOrStdout(), job, activityLines)
	return nil
}

func runDatasets(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	o, err := getOrchestrator(ctx, false)
	if err != nil {
		return err
	}
	datasets, err := o.Datasets(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(datasets) == 0 {
		fmt.Fprintln(out, "No datasets staged")
		return nil
	}
	fmt.Fprintf(out, "%-28s %10s %10s %10s  %s\n", "DATASET", "ROWS", "STAGED", "FILTERED", "SCHEMA")
	for _, d := range datasets {
		schema := d.SchemaSource
		if d.Truncated {
			schema += " (samples truncated)"
		}
		fmt.Fprintf(out, "%-28s %10d %10d %10d  %s\n", d.Name, d.RowCount, d.StagedCount(), d.FilteredCount, schema)
	}
	return nil
}

// printJob writes a human-readable job summary.
func printJob(out io.Writer, job *models.ImportJob, activity int) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  File: %s\n", fileLabel(job))
	fmt.Fprintf(out, "  Phase: %s\n", job.Phase)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	if job.CancelRequested && !job.Status.IsFinal() {
		fmt.Fprintln(out, "  Cancel requested: yes")
	}
	if job.Analyze != nil && job.Phase == models.PhaseAnalyzing {
		fmt.Fprintf(out, "  Read: %s / %s (%.0f%%)\n", byteSize(job.Analyze.BytesRead), byteSize(job.Analyze.TotalBytes), job.Analyze.Percentage)
	}
	if job.TotalCount > 0 {
		fmt.Fprintf(out, "  Progress: %s\n", progressText(job))
		fmt.Fprintf(out, "  Errors: %d  Skipped: %d\n", job.ErrorCount, job.SkippedCount)
	}
	if job.ProcessingRate != nil {
		fmt.Fprintf(out, "  Rate: %.1f/s\n", *job.ProcessingRate)
	}
	if job.EstimatedTimeRemaining != nil && !job.Status.IsFinal() {
		fmt.Fprintf(out, "  ETA: %s\n", (time.Duration(*job.EstimatedTimeRemaining) * time.Second).Round(time.Second))
	}
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil && job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
	}
	if job.Error != nil && *job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", *job.Error)
	}

	if len(job.EntityProgress) > 0 {
		fmt.Fprintln(out, "\nEntities:")
		names := make([]string, 0, len(job.EntityProgress))
		for name := range job.EntityProgress {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			p := job.EntityProgress[name]
			fmt.Fprintf(out, "  %-24s %6d total %6d created %6d mapped\n", name, p.Total, p.Created, p.Mapped)
		}
	}

	if activity > 0 && len(job.ActivityLog) > 0 {
		entries := job.ActivityLog[max(0, len(job.ActivityLog)-activity):]
		fmt.Fprintf(out, "\nActivity (last %d of %d):\n", len(entries), len(job.ActivityLog))
		for _, e := range entries {
			fmt.Fprintf(out, "  %s %-5s %s\n", e.Time.Local().Format("15:04:05"), e.Level, activityText(e))
		}
	}
}

func activityText(e models.ActivityEntry) string {
	prefix := ""
	if e.Entity != "" {
		prefix = e.Entity
		if e.SourceID != nil {
			prefix += fmt.Sprintf(" %d", *e.SourceID)
		}
		prefix += ": "
	}
	return prefix + e.Message
}

func progressText(job *models.ImportJob) string {
	if job.TotalCount == 0 {
		return ""
	}
	return fmt.Sprintf("%d/%d", job.ProcessedCount, job.TotalCount)
}

func fileLabel(job *models.ImportJob) string {
	if job.FileName != "" {
		return job.FileName
	}
	return job.FileKey
}

func byteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
