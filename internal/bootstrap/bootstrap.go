// Package bootstrap turns a config.Config into a wired engine shared by the
// API server and the CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/archive"
	"github.com/dvloznov/finsync/internal/config"
	"github.com/dvloznov/finsync/internal/filestore"
	infraBQ "github.com/dvloznov/finsync/internal/infra/bigquery"
	"github.com/dvloznov/finsync/internal/normalize"
	"github.com/dvloznov/finsync/internal/remote"
	"github.com/dvloznov/finsync/internal/rescue"
	"github.com/dvloznov/finsync/internal/session"
	"github.com/dvloznov/finsync/internal/snapshot"
	"github.com/dvloznov/finsync/internal/syncer"
)

// App holds the engine components built from configuration.
type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	Sync      *syncer.Synchronizer
	Snapshots *snapshot.Service

	closers []func() error
}

// New opens the configured remote store and archive and wires the
// synchronizer. An unreachable remote is an error here: the operator asked
// for it explicitly.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: log}

	rem, err := app.openRemote(ctx)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	var store archive.Store
	if cfg.Archive.Driver != "" {
		store, err = archive.Open(ctx, archive.Config{
			Driver:    archive.Driver(cfg.Archive.Driver),
			Bucket:    cfg.Archive.Bucket,
			Region:    cfg.Archive.Region,
			Endpoint:  cfg.Archive.Endpoint,
			PathStyle: cfg.Archive.PathStyle,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: opening archive: %w", err)
		}
		if c, ok := store.(interface{ Close() error }); ok {
			app.closers = append(app.closers, c.Close)
		}
	}

	files := filestore.New()
	layout := filestore.Layout{Dir: cfg.DataDir}

	app.Sync = syncer.New(syncer.Options{
		Normalizer:       normalize.New(),
		Files:            files,
		Layout:           layout,
		Cache:            session.NewMemory(),
		Remote:           rem,
		Rescue:           rescue.New(cfg.RescueDirs),
		BackupsDir:       cfg.BackupsDir,
		DefaultPrincipal: cfg.UserID,
		Logger:           log.With().Str("component", "syncer").Logger(),
	})
	app.Snapshots = snapshot.New(snapshot.Options{
		Files:   files,
		Layout:  layout,
		Dir:     cfg.BackupsDir,
		Archive: store,
		Prefix:  cfg.Archive.Prefix,
		Logger:  log.With().Str("component", "snapshot").Logger(),
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("remote", cfg.Remote.Driver).
		Str("archive", cfg.Archive.Driver).
		Msg("engine ready")
	return app, nil
}

// openRemote returns nil when no remote driver is configured. A nil
// *SQLStore must not leak into the interface, so each branch returns
// explicitly.
func (a *App) openRemote(ctx context.Context) (remote.Adapter, error) {
	cfg := a.Config.Remote
	switch strings.ToLower(cfg.Driver) {
	case "":
		return nil, nil
	case "bigquery":
		repo, err := infraBQ.NewBigQueryRecordRepository(ctx, cfg.Project, cfg.Dataset, a.Config.UserID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		return repo, nil
	default:
		d, err := remote.DialectByName(cfg.Driver)
		if err != nil {
			return nil, err
		}
		st, err := remote.OpenSQL(ctx, d, cfg.DSN, a.Config.UserID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st.Close)
		return st, nil
	}
}

// Close releases every client opened by New.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
