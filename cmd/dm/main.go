package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_dm/internal/app"
	"github.com/notepid/twilight_dm/internal/tui"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	username := flag.String("user", "", "account to sign in as")
	with := flag.String("with", "", "open a chat with this username on start")
	flag.Parse()

	if err := run(*configPath, *username, *with); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, username, with string) error {
	a, cleanup, err := app.New(configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	// The UI owns the terminal, so logs go to a file.
	logFile, err := tea.LogToFile(a.Config.Paths.LogFile, "dm")
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	var password string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Username").Value(&username),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&password),
		),
	)
	if username != "" {
		form = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title(fmt.Sprintf("Password for %s", username)).EchoMode(huh.EchoModePassword).Value(&password),
			),
		)
	}
	if err := form.Run(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	u, err := a.Users.Authenticate(ctx, username, password)
	if err != nil {
		return fmt.Errorf("sign in failed")
	}

	sess := a.NewSession(ctx, u.ID)
	defer sess.Close()

	p := tui.NewProgram(ctx, tui.Options{
		Session:  sess,
		Resolve:  a.ResolveUsername,
		Username: u.Username,
		With:     with,
	})
	return tui.Run(ctx, p)
}
