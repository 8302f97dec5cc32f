package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"video-compressor/encoder"
)

// State represents the current application state
type State int

const (
	StateIdle State = iota
	StateCompressing
	StateCancelling
	StateDone
	StateError
	StateCancelled
)

// SourceProbedMsg carries the metadata of the input file
type SourceProbedMsg struct {
	Meta encoder.VideoMetadata
	Err  error
}

// CompressDoneMsg is sent once Compress returns
type CompressDoneMsg struct {
	Err error
}

// OutputProbedMsg carries the metadata of the finished output
type OutputProbedMsg struct {
	Meta encoder.VideoMetadata
	Err  error
}

// Model is the Bubble Tea model for the TUI
type Model struct {
	Compressor  *encoder.Compressor
	Request     encoder.Request
	State       State
	Progress    progress.Model
	LogViewport viewport.Model
	ShowLogs    bool
	Width       int
	Height      int

	Snapshot     encoder.Snapshot // local copy, refreshed on every tick
	Source       *encoder.VideoMetadata
	Output       *encoder.VideoMetadata
	Err          error
	ErrorMessage string

	// ctx covers every command the model starts; cancel stops a
	// compression that has not registered with the Compressor yet
	ctx    context.Context
	cancel context.CancelFunc

	quitting bool
}

// TickMsg is sent periodically to update the UI
type TickMsg time.Time

// NewModel creates a new TUI model for one compression
func NewModel(c *encoder.Compressor, req encoder.Request) Model {
	prog := progress.New(
		progress.WithGradient("#7C3AED", "#10B981"),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	vp := viewport.New(80, 12)
	vp.SetContent("")

	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ctx:         ctx,
		cancel:      cancel,
		Compressor:  c,
		Request:     req,
		State:       StateIdle,
		Progress:    prog,
		LogViewport: vp,
	}
}

// Init initializes the Bubble Tea program
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.probeSource(),
		m.startCompression(),
		tickCmd(),
	)
}

func (m Model) probeSource() tea.Cmd {
	ctx, c, path := m.ctx, m.Compressor, m.Request.Input
	return func() tea.Msg {
		meta, err := c.Probe(ctx, path)
		return SourceProbedMsg{Meta: meta, Err: err}
	}
}

// startCompression runs Compress on the command goroutine; the TUI only
// polls its snapshot.
func (m Model) startCompression() tea.Cmd {
	ctx, c, req := m.ctx, m.Compressor, m.Request
	return func() tea.Msg {
		return CompressDoneMsg{Err: c.Compress(ctx, req)}
	}
}

func (m Model) probeOutput() tea.Cmd {
	ctx, c, path := m.ctx, m.Compressor, m.Request.Output
	return func() tea.Msg {
		meta, err := c.Probe(ctx, path)
		return OutputProbedMsg{Meta: meta, Err: err}
	}
}

// cancelCmd blocks until the running encode has stopped
func (m Model) cancelCmd() tea.Cmd {
	cancel, c := m.cancel, m.Compressor
	return func() tea.Msg {
		cancel()
		c.Cancel()
		return nil
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) finished() bool {
	return m.State == StateDone || m.State == StateError || m.State == StateCancelled
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.finished() {
				return m, tea.Quit
			}
			m.quitting = true
			if m.State != StateCancelling {
				m.State = StateCancelling
				return m, m.cancelCmd()
			}
			return m, nil
		case "l":
			m.ShowLogs = !m.ShowLogs
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 20
		m.LogViewport.Width = msg.Width - 4

		logHeight := msg.Height - 20
		if logHeight < 0 {
			logHeight = 0
		}
		m.LogViewport.Height = logHeight

	case SourceProbedMsg:
		if msg.Err == nil {
			meta := msg.Meta
			m.Source = &meta
		}

	case TickMsg:
		if m.finished() {
			return m, nil
		}
		m.refresh()
		if m.State == StateIdle && m.Snapshot.Processing {
			m.State = StateCompressing
		}
		cmds = append(cmds, tickCmd())

	case CompressDoneMsg:
		m.refresh()
		m.Err = msg.Err
		switch {
		case msg.Err == nil:
			m.State = StateDone
			cmds = append(cmds, m.probeOutput())
		case errors.Is(msg.Err, encoder.ErrCancelled):
			m.State = StateCancelled
			m.ErrorMessage = m.Snapshot.Error
		default:
			m.State = StateError
			m.ErrorMessage = m.Snapshot.Error
			if m.ErrorMessage == "" {
				m.ErrorMessage = msg.Err.Error()
			}
		}
		if m.quitting {
			return m, tea.Quit
		}

	case OutputProbedMsg:
		if msg.Err == nil {
			meta := msg.Meta
			m.Output = &meta
		}
	}

	if m.ShowLogs {
		var cmd tea.Cmd
		m.LogViewport, cmd = m.LogViewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// refresh copies the compressor state into the model
func (m *Model) refresh() {
	m.Snapshot = m.Compressor.Snapshot()
	if logs := m.Compressor.Logs(); len(logs) > 0 {
		m.LogViewport.SetContent(strings.Join(logs, "\n"))
		m.LogViewport.GotoBottom()
	}
}
