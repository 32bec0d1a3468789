// Command finledger is the command line front end to the local ledger:
// it records mutations, materializes recurring transactions, synchronizes
// with the remote server and imports or exports backups.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/finledger/finledger/internal/config"
	"github.com/finledger/finledger/internal/database"
	"github.com/finledger/finledger/internal/engine"
	"github.com/finledger/finledger/internal/logger"
	syncpkg "github.com/finledger/finledger/internal/sync"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))

	commander.Register(commander.HelpCommand(), "")
	commander.Register(&statusCmd{}, "ledger")
	commander.Register(&recurringCmd{}, "ledger")
	commander.Register(&syncCmd{}, "sync")
	commander.Register(&conflictsCmd{}, "sync")
	commander.Register(&exportCmd{}, "backup")
	commander.Register(&importCmd{}, "backup")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// app bundles the pieces every subcommand needs.
type app struct {
	cfg config.Config
	db  *sql.DB
	eng *engine.Engine
	log zerolog.Logger
}

// openApp loads the config, opens the database, applies migrations and seeds
// the default categories.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New()
	if lvl, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		log = log.Level(lvl)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.RunEmbeddedMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := database.SeedDefaults(ctx, db, cfg.Owner.ID); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	return &app{
		cfg: cfg,
		db:  db,
		eng: engine.New(db, log),
		log: log,
	}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}

// syncEngine builds the sync engine; it fails when no server is configured.
func (a *app) syncEngine() (*syncpkg.Engine, error) {
	if a.cfg.Sync.BaseURL == "" {
		return nil, fmt.Errorf("no sync server configured; set sync.base_url")
	}
	client := syncpkg.NewClient(a.cfg.Sync.BaseURL, a.cfg.ResolveToken(), a.cfg.Sync.Timeout)
	return syncpkg.NewEngine(a.eng, client, a.cfg.Sync.PageSize, a.log), nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}
