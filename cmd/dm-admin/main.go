package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_dm/internal/admin/ui"
	"github.com/notepid/twilight_dm/internal/app"
	"github.com/notepid/twilight_dm/internal/scripting"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	script := flag.String("script", "", "run a Lua admin script instead of the interactive UI")
	flag.Parse()

	a, cleanup, err := app.New(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	if *script != "" {
		err = runScript(a, *script)
	} else {
		_, err = tea.NewProgram(ui.NewRootModel(a), tea.WithAltScreen()).Run()
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runScript(a *app.App, path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vm := scripting.NewVM()
	defer vm.Close()

	scripting.NewUserAPI(a.Users).Register(vm)
	dmAPI := scripting.NewDMAPI(a.Deps(), a.Users)
	defer dmAPI.Close()
	dmAPI.Register(vm)

	err := vm.RunFile(ctx, path)
	scripting.LogError(path, err)
	return err
}
