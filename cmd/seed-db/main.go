// Command seed-db prepares a database for a kiosk deployment: it applies
// the schema and registers a bootstrap operator.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/kiosk-core/internal/domain/operator"
	"github.com/xenking/kiosk-core/internal/repository"
)

func main() {
	var (
		databaseURL string
		pepper      string
		username    string
		name        string
		code        string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&pepper, "pepper", "", "HMAC pepper for operator codes (or KIOSK_OPERATOR_PEPPER env)")
	flag.StringVar(&username, "username", "admin", "bootstrap operator username")
	flag.StringVar(&name, "name", "Bootstrap operator", "bootstrap operator display name")
	flag.StringVar(&code, "code", "", "bootstrap operator code (or KIOSK_SEED_OPERATOR_CODE env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if pepper == "" {
		pepper = os.Getenv("KIOSK_OPERATOR_PEPPER")
	}
	if code == "" {
		code = os.Getenv("KIOSK_SEED_OPERATOR_CODE")
	}
	switch {
	case databaseURL == "":
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	case pepper == "":
		slog.Error("pepper is required: set --pepper or KIOSK_OPERATOR_PEPPER")
		os.Exit(1)
	case code == "":
		slog.Error("operator code is required: set --code or KIOSK_SEED_OPERATOR_CODE")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	op := operator.Operator{
		Username: username,
		Name:     name,
		CodeHash: operator.HashCode([]byte(pepper), code),
	}
	if err := run(ctx, databaseURL, op); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, op operator.Operator) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := repository.NewOperatorRepository(pool).Upsert(ctx, []operator.Operator{op}); err != nil {
		return errors.Wrap(err, "upsert bootstrap operator")
	}

	slog.Info("upserted operator", slog.String("username", op.Username))
	return nil
}
