package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"conduit/internal/core"
)

// layout recomputes component sizes from the terminal dimensions.
func (m *Model) layout() {
	inputHeight := m.textarea.Height() + 2
	headerHeight := 2
	statusHeight := 2
	vpHeight := m.height - inputHeight - headerHeight - statusHeight
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(m.width, vpHeight)
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
	}
	m.textarea.SetWidth(m.width - 2)
}

// refreshViewport re-renders the transcript; follow pins the view to the
// bottom so streaming output stays visible.
func (m *Model) refreshViewport(follow bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) renderHistory() string {
	var sb strings.Builder

	for _, msg := range m.history {
		switch msg.Role {
		case "user":
			sb.WriteString(m.styles.UserLabel.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			sb.WriteString("\n")

		case "expert":
			label := "expert"
			if msg.Name != "" {
				label = msg.Name
			}
			sb.WriteString(m.styles.Expert.Render(label) + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			sb.WriteString("\n")

		case "note":
			sb.WriteString(m.styles.Muted.Render(msg.Content))
			sb.WriteString("\n")

		default: // assistant
			sb.WriteString(m.styles.Assistant.Render("conduit") + "\n")
			sb.WriteString(m.safeRenderMarkdown(msg.Content))
			if msg.Partial {
				sb.WriteString(m.styles.Warn.Render("(interrupted)"))
				sb.WriteString("\n")
			}
			sb.WriteString("\n")
		}
	}

	// Live region: raw text while streaming, markdown only on finalize.
	if m.live.Len() > 0 {
		sb.WriteString(m.styles.Assistant.Render("conduit") + "\n")
		sb.WriteString(m.live.String())
		sb.WriteString("\n")
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery; glamour gets
// arbitrary model output.
func (m Model) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.markdown != nil && content != "" {
		rendered, err := m.markdown.Render(content)
		if err == nil {
			return rendered
		}
	}
	return content
}

// View renders the full frame: header, transcript, input, status bar.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	header := m.styles.Header.Width(m.width).Render(" conduit ")
	input := m.styles.InputBox.Width(m.width - 2).Render(m.textarea.View())
	status := m.styles.StatusBar.Width(m.width).Render(m.statusLine())

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		input,
		status,
	)
}

func (m Model) statusLine() string {
	var parts []string

	switch m.kernel.State() {
	case core.StateBusy:
		parts = append(parts, m.spinner.View()+" "+m.kernel.Status())
	case core.StateError:
		parts = append(parts, m.styles.Error.Render("error: "+m.kernel.Status()))
	default:
		parts = append(parts, "idle")
	}

	if m.kernel.Halted() {
		parts = append(parts, m.styles.Warn.Render("HALTED"))
	}
	parts = append(parts, fmt.Sprintf("mode:%s", m.mode))
	if n := m.kernel.BusyCount(); n > 1 {
		parts = append(parts, fmt.Sprintf("in-flight:%d", n))
	}
	if m.audioRx > 0 {
		parts = append(parts, fmt.Sprintf("audio:%dKB", m.audioRx/1024))
	}

	return " " + strings.Join(parts, "  ·  ")
}
