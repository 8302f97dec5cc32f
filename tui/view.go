package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"video-compressor/encoder"
)

// Color palette
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Violet
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Emerald
	colorError     = lipgloss.Color("#EF4444") // Red
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorMuted     = lipgloss.Color("#6B7280") // Gray
	colorText      = lipgloss.Color("#F9FAFB") // White
	colorTextDim   = lipgloss.Color("#9CA3AF") // Light gray
	colorBorder    = lipgloss.Color("#374151") // Dark gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 2).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true).
				MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2).
			MarginTop(1)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(10)

	statValueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	statUnitStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	fileBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2).
			MarginTop(1)

	fileLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(8)

	filePathStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			MarginTop(1)

	percentLowStyle = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	percentMidStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)

	percentHighStyle = lipgloss.NewStyle().
				Foreground(colorSuccess).
				Bold(true)
)

// formatSpeed shows a placeholder until ffmpeg reports a speed
func formatSpeed(speed float64) string {
	if speed <= 0 {
		return "—"
	}
	return fmt.Sprintf("%.2fx", speed)
}

// formatETADisplay handles unavailable ETA gracefully
func formatETADisplay(eta time.Duration, available bool) string {
	if !available || eta < 0 {
		return "—"
	}
	return formatDuration(eta)
}

// formatPercentage shows "..." until the first stats line arrives
func formatPercentage(pct int, started bool) string {
	if !started {
		return "..."
	}
	pct = max(0, min(pct, 100))
	return fmt.Sprintf("%d%%", pct)
}

// getPercentageStyle returns appropriate style based on progress
func getPercentageStyle(pct int) lipgloss.Style {
	if pct < 33 {
		return percentLowStyle
	} else if pct < 66 {
		return percentMidStyle
	}
	return percentHighStyle
}

// formatSizeDisplay renders a size in MB, or a placeholder when unknown
func formatSizeDisplay(mb float64) string {
	if mb <= 0 {
		return "—"
	}
	return formatBytes(int64(mb * 1024 * 1024))
}

// formatReduction describes how much smaller after is than before
func formatReduction(beforeMB, afterMB float64) string {
	if beforeMB <= 0 {
		return "—"
	}
	saved := (1 - afterMB/beforeMB) * 100
	if saved < 0 {
		return fmt.Sprintf("%.1f%% larger", -saved)
	}
	return fmt.Sprintf("%.1f%% smaller", saved)
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render(" ▶ Video Compressor ")
	b.WriteString(title + "\n")

	switch m.State {
	case StateIdle:
		b.WriteString(m.renderIdleView())
	case StateCompressing, StateCancelling:
		b.WriteString(m.renderCompressingView())
	case StateDone:
		b.WriteString(m.renderDoneView())
	case StateError:
		b.WriteString(m.renderErrorView())
	case StateCancelled:
		b.WriteString(m.renderCancelledView())
	}

	help := "  [L] Toggle logs  •  [Q] Cancel"
	if m.finished() {
		help = "  [L] Toggle logs  •  [Q] Quit"
	}
	b.WriteString("\n" + helpStyle.Render(help) + "\n")

	return b.String()
}

func (m Model) renderIdleView() string {
	return "\n" + statValueStyle.Render("  Starting compression...") + "\n"
}

func (m Model) renderCompressingView() string {
	var b strings.Builder
	snap := m.Snapshot

	// CurrentLine is reset at the start of every attempt
	started := snap.CurrentLine != "" && snap.Progress > 0

	b.WriteString("\n")

	ratio := float64(snap.Progress) / 100
	if !started {
		ratio = 0.01
	}
	pctStr := formatPercentage(snap.Progress, started)
	b.WriteString("  " + m.Progress.ViewAs(ratio) + "  " + getPercentageStyle(snap.Progress).Render(pctStr) + "\n")

	if m.State == StateCancelling {
		b.WriteString(warningStyle.Render("  Cancelling, waiting for ffmpeg to exit...") + "\n")
	}

	b.WriteString(statsBoxStyle.Render(m.buildStatsGrid(snap)))
	b.WriteString("\n")
	b.WriteString(fileBoxStyle.Render(m.buildFilesSection()))

	if m.ShowLogs {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render("  ffmpeg Output") + "\n")
		b.WriteString(logBoxStyle.Render(m.LogViewport.View()))
	}

	return b.String()
}

func (m Model) buildStatsGrid(snap encoder.Snapshot) string {
	var lines []string

	attemptVal := "—"
	if snap.Attempt > 0 {
		attemptVal = fmt.Sprintf("%d", snap.Attempt)
	}
	crfVal := "—"
	if snap.CRF > 0 {
		crfVal = fmt.Sprintf("%d", snap.CRF)
	}
	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Attempt"),
		statValueStyle.Render(attemptVal),
		lipgloss.NewStyle().Width(12).Render(""),
		statLabelStyle.Render("CRF"),
		statValueStyle.Render(crfVal),
	))

	lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Speed"),
		statValueStyle.Render(formatSpeed(snap.Speed)),
		lipgloss.NewStyle().Width(12).Render(""),
		statLabelStyle.Render("ETA"),
		statValueStyle.Render(formatETADisplay(snap.ETA, snap.ETAAvailable)),
	))

	elapsed := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Elapsed"),
		statValueStyle.Render(formatDuration(snap.Elapsed)),
	)
	if m.Request.Strategy.Kind == encoder.StrategyTargetSize {
		elapsed = lipgloss.JoinHorizontal(lipgloss.Top,
			elapsed,
			lipgloss.NewStyle().Width(12).Render(""),
			statLabelStyle.Render("Target"),
			statValueStyle.Render(fmt.Sprintf("%.1f", m.Request.Strategy.TargetMB)),
			statUnitStyle.Render(" MB"),
		)
	}
	lines = append(lines, elapsed)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) buildFilesSection() string {
	maxPathLen := m.Width - 16
	if maxPathLen < 20 {
		maxPathLen = 60
	}

	line1 := fileLabelStyle.Render("Input") + filePathStyle.Render(truncatePath(m.Request.Input, maxPathLen))
	line2 := fileLabelStyle.Render("Output") + filePathStyle.Render(truncatePath(m.Request.Output, maxPathLen))

	return line1 + "\n" + line2
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 20 {
		return path[:maxLen-3] + "..."
	}
	half := (maxLen - 5) / 2
	return path[:half] + " ... " + path[len(path)-half:]
}

func (m Model) renderDoneView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(successStyle.Render("  ✓ Compression Complete!") + "\n")

	var lines []string
	lines = append(lines,
		statLabelStyle.Render("Output")+filePathStyle.Render(m.Request.Output))
	lines = append(lines,
		statLabelStyle.Render("Time")+statValueStyle.Render(formatDuration(m.Snapshot.Elapsed)))
	if m.Snapshot.CRF > 0 {
		lines = append(lines,
			statLabelStyle.Render("CRF")+statValueStyle.Render(fmt.Sprintf("%d", m.Snapshot.CRF)))
	}

	if m.Source != nil {
		lines = append(lines, statLabelStyle.Render("Before")+statValueStyle.Render(describeMeta(*m.Source)))
	}
	if m.Output != nil {
		lines = append(lines, statLabelStyle.Render("After")+statValueStyle.Render(describeMeta(*m.Output)))
	}
	if m.Source != nil && m.Output != nil {
		lines = append(lines, successStyle.Render("  ✓ "+formatReduction(m.Source.SizeMB, m.Output.SizeMB)))
	}

	b.WriteString(statsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	return b.String()
}

// describeMeta is a one-line summary of probed metadata
func describeMeta(meta encoder.VideoMetadata) string {
	return fmt.Sprintf("%s  %dx%d  %s  %s",
		formatSizeDisplay(meta.SizeMB),
		meta.Width, meta.Height,
		meta.Codec,
		formatDuration(time.Duration(meta.Duration*float64(time.Second))),
	)
}

func (m Model) renderErrorView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(errorStyle.Render("  ✗ Compression Failed") + "\n\n")

	errBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 2).
		Foreground(colorError).
		Render(m.ErrorMessage)

	b.WriteString(errBox + "\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderCancelledView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(warningStyle.Render("  ⊘ Compression Cancelled") + "\n\n")
	b.WriteString(fileLabelStyle.Render("Input") + filePathStyle.Render(m.Request.Input) + "\n")
	b.WriteString(m.renderLogs())

	return b.String()
}

func (m Model) renderLogs() string {
	if !m.ShowLogs || m.LogViewport.TotalLineCount() == 0 {
		return ""
	}
	return "\n" + sectionHeaderStyle.Render("  ffmpeg Output") + "\n" + logBoxStyle.Render(m.LogViewport.View())
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "—"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
