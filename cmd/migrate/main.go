package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finsync/internal/config"
	infraBQ "github.com/dvloznov/finsync/internal/infra/bigquery"
	"github.com/dvloznov/finsync/internal/logger"
	"github.com/dvloznov/finsync/internal/remote"
)

func main() {
	log := logger.New()
	if err := run(context.Background(), os.Args[1:], log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

// run applies the embedded migrations for the configured (or flagged)
// remote store. BigQuery has no migration files; its table is created
// from the row schema instead.
func run(ctx context.Context, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "config file (default $FINSYNC_CONFIG)")
	driver := fs.String("driver", "", "remote driver: postgres, sqlite or bigquery (default from config)")
	dsn := fs.String("dsn", "", "database DSN (default from config)")
	appliedBy := fs.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	list := fs.Bool("list", false, "list embedded migrations and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *driver != "" {
		cfg.Remote.Driver = *driver
	}
	if *dsn != "" {
		cfg.Remote.DSN = *dsn
	}
	if cfg.Remote.Driver == "" {
		return fmt.Errorf("no remote driver configured: set -driver or remote.driver")
	}

	if strings.EqualFold(cfg.Remote.Driver, "bigquery") {
		repo, err := infraBQ.NewBigQueryRecordRepository(ctx, cfg.Remote.Project, cfg.Remote.Dataset, "")
		if err != nil {
			return err
		}
		defer repo.Close()
		log.Info().Str("project", cfg.Remote.Project).Str("dataset", cfg.Remote.Dataset).Msg("BigQuery records table ready")
		return nil
	}

	d, err := remote.DialectByName(cfg.Remote.Driver)
	if err != nil {
		return err
	}

	migrations, err := remote.Migrations(d)
	if err != nil {
		return err
	}
	log.Info().Int("count", len(migrations)).Str("dialect", d.Name).Msg("Found migration files")
	if *list {
		for _, m := range migrations {
			log.Info().Str("file", m.Filename).Str("checksum", m.Checksum).Msg("migration")
		}
		return nil
	}

	if cfg.Remote.DSN == "" {
		return fmt.Errorf("no DSN configured: set -dsn or remote.dsn")
	}
	db, err := remote.OpenDB(ctx, d, cfg.Remote.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := remote.Migrate(ctx, db, d, *appliedBy)
	if err != nil {
		return err
	}
	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Successfully applied migrations")
	}
	return nil
}
