package app

import (
	"context"
	"fmt"
	"os"

	"github.com/notepid/twilight_dm/internal/config"
	"github.com/notepid/twilight_dm/internal/db"
	"github.com/notepid/twilight_dm/internal/dm"
	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

// App holds the shared services every command is built from.
type App struct {
	ConfigPath string
	Config     *config.Config
	DB         *db.DB

	Users    *user.Repo
	Messages *message.Repo
	Broker   *message.Broker
}

// New loads configuration and opens the store. The returned cleanup
// closes the database.
func New(configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	a, cleanup, err := FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	a.ConfigPath = configPath
	return a, cleanup, nil
}

// FromConfig wires an App from an already loaded config.
func FromConfig(cfg *config.Config) (*App, func(), error) {
	if err := os.MkdirAll(cfg.Paths.Data, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	database, err := db.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, err
	}

	broker := message.NewBroker()
	a := &App{
		Config:   cfg,
		DB:       database,
		Users:    user.NewRepo(database.DB),
		Messages: message.NewRepo(database.DB, broker),
		Broker:   broker,
	}

	cleanup := func() {
		_ = database.Close()
	}
	return a, cleanup, nil
}

// Deps returns the collaborators for a messenger session.
func (a *App) Deps() dm.Deps {
	return dm.Deps{
		Store:     a.Messages,
		Feed:      a.Broker,
		Profiles:  a.Users,
		MaxLength: a.Config.Messages.MaxLength,
		Workers:   a.Config.Messages.DirectoryWorkers,
	}
}

// NewSession creates a messenger session for userID.
func (a *App) NewSession(ctx context.Context, userID string) *dm.Session {
	return dm.NewSession(ctx, userID, a.Deps())
}

// ResolveUsername maps a username to an account id.
func (a *App) ResolveUsername(ctx context.Context, username string) (string, error) {
	u, err := a.Users.GetByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}
