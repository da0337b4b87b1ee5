// Command operator-import loads operator accounts from CSV files
// (username,name,code), optionally gzip-compressed, into the registry.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kiosk-core/internal/repository"
)

func main() {
	var (
		databaseURL string
		pepper      string
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&pepper, "pepper", "", "HMAC pepper for operator codes (or KIOSK_OPERATOR_PEPPER env)")
	flag.BoolVar(&dryRun, "dry-run", false, "validate the files without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if pepper == "" {
		pepper = os.Getenv("KIOSK_OPERATOR_PEPPER")
	}
	switch {
	case flag.NArg() == 0:
		slog.Error("usage: operator-import [flags] FILE...")
		os.Exit(2)
	case pepper == "":
		slog.Error("pepper is required: set --pepper or KIOSK_OPERATOR_PEPPER")
		os.Exit(1)
	case databaseURL == "" && !dryRun:
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, flag.Args(), []byte(pepper), databaseURL, dryRun); err != nil {
		slog.Error("operator import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("operator import completed successfully")
}

func run(ctx context.Context, files []string, pepper []byte, databaseURL string, dryRun bool) error {
	ops, err := load(ctx, files, pepper)
	if err != nil {
		return err
	}
	slog.Info("operators validated", slog.Int("count", len(ops)))
	if dryRun || len(ops) == 0 {
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	repo := repository.NewOperatorRepository(pool)
	for start := 0; start < len(ops); start += batchSize {
		end := min(start+batchSize, len(ops))
		if err := repo.Upsert(ctx, ops[start:end]); err != nil {
			return errors.Wrapf(err, "upsert operators %d-%d", start, end)
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(ops)))
	}
	return nil
}
