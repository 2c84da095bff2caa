package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"

	"conduit/internal/core"
	"conduit/internal/types"
)

// statusInterval drives the status-bar poll of the kernel observer surface.
const statusInterval = 250 * time.Millisecond

// Message is one entry in the rendered transcript.
type Message struct {
	Role    string // "user", "assistant", "expert", "note"
	Name    string
	Content string
	Partial bool
	Time    time.Time
}

type statusTickMsg time.Time

// Model is the bubbletea model for the chat surface.
type Model struct {
	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	styles   Styles
	markdown *glamour.TermRenderer

	kernel   *core.Kernel
	threadID string
	mode     types.Mode

	history []Message
	live    strings.Builder
	loading bool
	audioRx int

	err    error
	width  int
	height int
	ready  bool
}

// NewModel builds the chat model bound to a kernel. The thread id is chosen
// up front so every submit lands on the same conversation.
func NewModel(kernel *core.Kernel, threadID string, mode types.Mode) Model {
	ta := textarea.New()
	ta.Placeholder = "Type a message, or /help for commands"
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	styles := NewStyles(DetectTheme())
	sp.Style = styles.Muted

	md, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)

	if mode == "" {
		mode = types.ModeChat
	}
	// Mint the conversation id up front so every submit, expert call, and
	// realtime session lands on the same thread.
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return Model{
		textarea: ta,
		spinner:  sp,
		styles:   styles,
		markdown: md,
		kernel:   kernel,
		threadID: threadID,
		mode:     mode,
	}
}

func statusTick() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

// Init starts the blink, spinner, and status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, statusTick())
}

// Update is the event loop.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		taCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.kernel.Stop(false)
			return m, tea.Quit
		case tea.KeyEsc:
			// Cancel in-flight work but keep the session alive.
			m.kernel.Stop(false)
			m.kernel.Resume()
			m.loading = false
			m.pushNote("stopped")
			m.refreshViewport(true)
			return m, nil
		case tea.KeyEnter:
			if msg.Alt {
				break // alt+enter inserts a newline via the textarea
			}
			return m.submit()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.refreshViewport(false)
		return m, nil

	case renderBeginMsg:
		if msg.threadID != m.threadID {
			return m, nil
		}
		m.loading = true
		m.live.Reset()
		if msg.subCall {
			m.pushMessage(Message{Role: "expert", Name: msg.name, Content: msg.prompt})
		}
		m.refreshViewport(true)
		return m, nil

	case renderChunkMsg:
		if msg.threadID != m.threadID {
			return m, nil
		}
		if msg.begin {
			m.live.Reset()
		}
		m.live.WriteString(msg.chunk)
		m.refreshViewport(true)
		return m, nil

	case renderEndMsg:
		if msg.threadID != m.threadID {
			return m, nil
		}
		m.loading = false
		m.live.Reset()
		if msg.item != nil {
			role := "assistant"
			if msg.item.SubCall {
				role = "expert"
			}
			if msg.item.Output != "" || msg.item.Partial {
				m.pushMessage(Message{
					Role:    role,
					Name:    msg.item.InputName,
					Content: msg.item.Output,
					Partial: msg.item.Partial,
				})
			}
		}
		m.refreshViewport(true)
		return m, nil

	case audioChunkMsg:
		m.audioRx += len(msg)
		return m, nil

	case statusTickMsg:
		return m, statusTick()

	case spinner.TickMsg:
		m.spinner, spCmd = m.spinner.Update(msg)
		return m, spCmd
	}

	m.textarea, taCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(taCmd, vpCmd)
}

// submit routes the textarea content: slash commands locally, everything else
// to the kernel as user input.
func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.textarea.Value())
	if text == "" {
		return m, nil
	}
	m.textarea.Reset()

	if strings.HasPrefix(text, "/") {
		return m.runCommand(text)
	}

	m.pushMessage(Message{Role: "user", Content: text})
	m.refreshViewport(true)
	m.kernel.SendInput(m.threadID, text, m.mode)
	return m, nil
}

func (m Model) runCommand(text string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		m.kernel.Stop(false)
		return m, tea.Quit

	case "/help":
		m.pushNote(helpText)

	case "/mode":
		if len(args) != 1 {
			m.pushNote(fmt.Sprintf("current mode: %s (usage: /mode <name>)", m.mode))
			break
		}
		next := types.Mode(args[0])
		if !validMode(next) {
			m.pushNote(fmt.Sprintf("unknown mode %q", args[0]))
			break
		}
		m.mode = next
		m.pushNote(fmt.Sprintf("mode set to %s", next))

	case "/halt":
		m.kernel.Halt()
		m.pushNote("kernel halted (use /resume)")

	case "/resume":
		m.kernel.Resume()
		m.pushNote("kernel resumed")

	case "/restart":
		m.kernel.Restart()
		m.pushNote("kernel restarted")

	case "/expert":
		if len(args) < 2 {
			m.pushNote("usage: /expert <id> <prompt>")
			break
		}
		prompt := strings.Join(args[1:], " ")
		m.pushMessage(Message{Role: "user", Content: fmt.Sprintf("@%s %s", args[0], prompt)})
		if err := m.kernel.CallExpert(m.threadID, args[0], prompt); err != nil {
			m.pushNote(fmt.Sprintf("expert call failed: %v", err))
		}

	case "/realtime":
		if err := m.kernel.StartRealtime(m.threadID); err != nil {
			m.pushNote(fmt.Sprintf("realtime open failed: %v", err))
		} else {
			m.pushNote("realtime session open")
		}

	default:
		m.pushNote(fmt.Sprintf("unknown command %s (try /help)", cmd))
	}

	m.refreshViewport(true)
	return m, nil
}

func validMode(mode types.Mode) bool {
	for _, m := range types.AllModes() {
		if m == mode {
			return true
		}
	}
	return false
}

func (m *Model) pushMessage(msg Message) {
	msg.Time = time.Now()
	m.history = append(m.history, msg)
}

func (m *Model) pushNote(text string) {
	m.pushMessage(Message{Role: "note", Content: text})
}

const helpText = `/mode <name>      switch conversation mode
/expert <id> <p>  ask an expert persona directly
/realtime         open a realtime session on this thread
/halt /resume     pause and resume event routing
/restart          clear kernel state and resume
/quit             stop in-flight work and exit`
