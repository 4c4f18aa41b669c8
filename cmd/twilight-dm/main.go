package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"

	"github.com/notepid/twilight_dm/internal/app"
	"github.com/notepid/twilight_dm/internal/server"
	"github.com/notepid/twilight_dm/internal/session"
	"github.com/notepid/twilight_dm/internal/tui"
	"github.com/notepid/twilight_dm/internal/user"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	a, cleanup, err := app.New(*configPath)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer cleanup()
	cfg := a.Config
	log.Printf("Database opened: %s", cfg.Paths.Database)

	registry := session.NewRegistry(cfg.Server.MaxSessions)

	handler := func(ctx context.Context, conn *server.SSHConn) error {
		slot, ok := registry.Acquire()
		if !ok {
			fmt.Fprint(conn, "Sorry, the messenger is busy. Please try again later.\r\n")
			return nil
		}
		defer registry.Remove(slot)
		if err := registry.Add(&session.Entry{ID: slot, UserID: conn.UserID, Username: conn.Username, Remote: conn.Remote}); err != nil {
			return err
		}
		log.Printf("session %d: %s from %s (%d/%d)", slot, conn.Username, conn.Remote, registry.Count(), cfg.Server.MaxSessions)

		with, err := server.ParseDeepLink(conn.Command)
		if err != nil {
			fmt.Fprintf(conn, "%v\r\n", err)
			return err
		}

		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-conn.Done():
				cancel()
			case <-sctx.Done():
			}
		}()

		sess := a.NewSession(sctx, conn.UserID)
		defer sess.Close()

		renderer := lipgloss.NewRenderer(conn, termenv.WithUnsafe(), termenv.WithProfile(termenv.ANSI256))
		p := tui.NewProgram(sctx, tui.Options{
			Session:  sess,
			Resolve:  a.ResolveUsername,
			Username: conn.Username,
			With:     with,
			Renderer: renderer,
		}, tea.WithInput(conn), tea.WithOutput(conn))

		go func() {
			size := conn.Size()
			p.Send(tea.WindowSizeMsg{Width: size.Width, Height: size.Height})
			for {
				select {
				case ws := <-conn.Resizes():
					p.Send(tea.WindowSizeMsg{Width: ws.Width, Height: ws.Height})
				case <-sctx.Done():
					return
				}
			}
		}()

		err = tui.Run(sctx, p)
		log.Printf("session %d: %s disconnected", slot, conn.Username)
		return err
	}

	sshListener, err := server.NewSSHListener(cfg.Server.SSHPort, cfg.Server.HostKey, user.NewSSHAuthenticator(a.Users), handler)
	if err != nil {
		log.Fatalf("Failed to create SSH listener: %v", err)
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sshListener.ListenAndServe(gctx)
	})
	g.Go(func() error {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("Shutting down with %d active sessions", registry.Count())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("\nTwilight DM is running\n")
	fmt.Printf("  SSH:      port %d\n", cfg.Server.SSHPort)
	fmt.Printf("  Health:   port %d\n", cfg.Server.HealthPort)
	fmt.Printf("  Sessions: 0/%d\n", cfg.Server.MaxSessions)
	fmt.Println("\nPress Ctrl+C to shut down.")

	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
		cleanup()
		os.Exit(1)
	}
	log.Printf("Twilight DM shut down complete.")
}
