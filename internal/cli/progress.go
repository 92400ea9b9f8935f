package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/tmimport/internal/models"
	"golang.org/x/term"
)

const (
	pollInterval      = time.Second
	plainPollInterval = 5 * time.Second
)

// errInterrupted is returned when the user stops a job running in this
// process. The job stays resumable.
var errInterrupted = errors.New("interrupted")

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// fetchFunc loads the current job record.
type fetchFunc func(ctx context.Context) (*models.ImportJob, error)

// tickMsg triggers polling the job status
type tickMsg time.Time

// jobUpdateMsg carries the updated job data
type jobUpdateMsg struct {
	job *models.ImportJob
	err error
}

// jobDoneMsg is sent when a job running in this process returns.
type jobDoneMsg struct {
	job *models.ImportJob
	err error
}

// progressModel is the bubbletea model for job progress.
type progressModel struct {
	fetch     fetchFunc
	jobID     string
	job       *models.ImportJob
	progress  progress.Model
	theme     Theme
	inProcess bool
	done      bool
	quitting  bool
	err       error
}

// newProgressModel creates a new progress model.
func newProgressModel(jobID string, fetch fetchFunc, inProcess bool) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return progressModel{
		fetch:     fetch,
		jobID:     jobID,
		progress:  prog,
		theme:     defaultTheme,
		inProcess: inProcess,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJob(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchJob()

	case jobUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch job status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.job = msg.job
		// A job running here ends with jobDoneMsg; a watched one ends when
		// it stops running.
		if !m.inProcess && settled(m.job) {
			m.done = true
			m.err = jobError(m.job)
			return m, tea.Quit
		}
		return m, tickCmd()

	case jobDoneMsg:
		if msg.job != nil {
			m.job = msg.job
		}
		m.done = true
		m.err = msg.err
		if m.err == nil {
			m.err = jobError(m.job)
		}
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}
	if m.job == nil {
		return "Loading job status...\n"
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s %s]", m.job.Phase, m.job.Status))
	pct, counts := jobProgress(m.job)
	bar := m.progress.ViewAs(pct)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", status, bar, counts)
	if line := lastActivity(m.job); line != "" {
		b.WriteString(line + "\n")
	}
	hint := "Press Ctrl+C to stop watching"
	if m.inProcess {
		hint = "Press Ctrl+C to interrupt (the job can be resumed)"
	}
	b.WriteString(m.theme.hintStyle().Render(hint) + "\n")
	return b.String()
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		if m.inProcess {
			return m.theme.hintStyle().Render(fmt.Sprintf("\nJob %s interrupted.\nUse 'tmimport process %s --mode <analyze|import>' to resume.\n", m.jobID, m.jobID))
		}
		return m.theme.hintStyle().Render(fmt.Sprintf("\nStopped watching %s.\nUse 'tmimport status %s' to check status.\n", m.jobID, m.jobID))
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Job failed: %s\n", m.err))
	}
	return finalSummary(m.theme, m.job)
}

func finalSummary(theme Theme, job *models.ImportJob) string {
	if job == nil {
		return theme.completedStyle().Render("✓ Done") + "\n"
	}
	var b strings.Builder
	switch job.Status {
	case models.StatusReady:
		b.WriteString(theme.completedStyle().Render("✓ Analyzed") + "\n\n")
		fmt.Fprintf(&b, "  Review the configuration: tmimport config suggest %s\n", job.ID)
		fmt.Fprintf(&b, "  Then import:              tmimport import %s\n", job.ID)
	case models.StatusCanceled:
		b.WriteString(theme.hintStyle().Render("Canceled") + "\n")
	default:
		b.WriteString(theme.completedStyle().Render("✓ Completed") + "\n\n")
		fmt.Fprintf(&b, "  Processed: %d/%d\n", job.ProcessedCount, job.TotalCount)
		fmt.Fprintf(&b, "  Errors:    %d\n", job.ErrorCount)
		fmt.Fprintf(&b, "  Skipped:   %d\n", job.SkippedCount)
	}
	return b.String()
}

// fetchJob fetches the current job status.
// Runs in a separate goroutine (command) to avoid blocking Update().
func (m progressModel) fetchJob() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		job, err := m.fetch(ctx)
		return jobUpdateMsg{job: job, err: err}
	}
}

// tickCmd returns a command that sends a tick after the poll interval.
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// settled reports whether a job no longer makes progress on its own.
func settled(job *models.ImportJob) bool {
	return job.Status.IsFinal() || job.Status == models.StatusReady
}

func jobError(job *models.ImportJob) error {
	if job == nil || job.Status != models.StatusFailed {
		return nil
	}
	if job.Error != nil {
		return errors.New(*job.Error)
	}
	return errors.New("job failed with unknown error")
}

func jobProgress(job *models.ImportJob) (float64, string) {
	if job.Phase == models.PhaseAnalyzing {
		if job.Analyze == nil {
			return 0, ""
		}
		counts := byteSize(job.Analyze.BytesRead)
		if job.Analyze.TotalBytes > 0 {
			counts += " / " + byteSize(job.Analyze.TotalBytes)
		}
		return job.Analyze.Percentage / 100, counts
	}
	if job.TotalCount == 0 {
		return 0, ""
	}
	counts := fmt.Sprintf("%d/%d", job.ProcessedCount, job.TotalCount)
	if job.EstimatedTimeRemaining != nil {
		counts += fmt.Sprintf(" ETA %s", (time.Duration(*job.EstimatedTimeRemaining) * time.Second).Round(time.Second))
	}
	return float64(job.ProcessedCount) / float64(job.TotalCount), counts
}

func lastActivity(job *models.ImportJob) string {
	if len(job.ActivityLog) == 0 {
		return ""
	}
	return activityText(job.ActivityLog[len(job.ActivityLog)-1])
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// RunJobProgress shows a job's progress until it settles. When run is not
// nil the job is executed here and the display ends with it; Ctrl+C then
// interrupts the job. Without a terminal, progress is printed as plain lines.
func RunJobProgress(ctx context.Context, out io.Writer, jobID string, fetch fetchFunc, run func(ctx context.Context) error) error {
	if !isTerminal() {
		return runPlain(ctx, out, jobID, fetch, run)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := newProgressModel(jobID, fetch, run != nil)
	p := tea.NewProgram(model)

	finished := make(chan error, 1)
	if run != nil {
		go func() {
			err := run(ctx)
			job, _ := fetch(context.WithoutCancel(ctx))
			p.Send(jobDoneMsg{job: job, err: err})
			finished <- err
		}()
	}

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	m, ok := finalModel.(progressModel)
	if !ok {
		return nil
	}
	if m.quitting {
		if run == nil {
			return nil
		}
		cancel()
		<-finished
		return errInterrupted
	}
	return m.err
}

func runPlain(ctx context.Context, out io.Writer, jobID string, fetch fetchFunc, run func(ctx context.Context) error) error {
	report := func() *models.ImportJob {
		job, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			fmt.Fprintf(out, "%s: failed to fetch job status: %v\n", jobID, err)
			return nil
		}
		pct, counts := jobProgress(job)
		fmt.Fprintf(out, "%s %s/%s %3.0f%% %s\n", jobID, job.Phase, job.Status, pct*100, counts)
		return job
	}

	if run == nil {
		ticker := time.NewTicker(plainPollInterval)
		defer ticker.Stop()
		for {
			if job := report(); job != nil && settled(job) {
				fmt.Fprint(out, finalSummary(defaultTheme, job))
				return jobError(job)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}

	done := make(chan error, 1)
	go func() { done <- run(ctx) }()
	ticker := time.NewTicker(plainPollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			job := report()
			if err != nil {
				return err
			}
			fmt.Fprint(out, finalSummary(defaultTheme, job))
			return jobError(job)
		case <-ticker.C:
			report()
		}
	}
}
