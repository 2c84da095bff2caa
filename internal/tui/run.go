package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"conduit/internal/core"
	"conduit/internal/types"
)

// Run launches the chat surface and blocks until the user exits. The renderer
// must be the one the kernel was wired with; attaching it here is what routes
// kernel output into the program.
func Run(kernel *core.Kernel, renderer *ProgramRenderer, threadID string, mode types.Mode) error {
	p := tea.NewProgram(
		NewModel(kernel, threadID, mode),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	renderer.Attach(p)
	_, err := p.Run()
	return err
}
