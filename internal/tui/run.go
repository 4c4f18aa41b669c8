package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
)

// NewProgram builds the messenger program. It stops when ctx is done.
func NewProgram(ctx context.Context, opts Options, progOpts ...tea.ProgramOption) *tea.Program {
	all := append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, progOpts...)
	return tea.NewProgram(New(ctx, opts), all...)
}

// Run runs p until the user quits. Cancellation of the program's context
// is a normal shutdown, not an error.
func Run(ctx context.Context, p *tea.Program) error {
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
