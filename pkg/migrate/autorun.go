package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/vetsync/pkg/config"
	"github.com/angelmondragon/vetsync/pkg/db"
	"github.com/angelmondragon/vetsync/pkg/logger"
)

// MaybeRun applies the embedded migrations at startup when auto-migrate is enabled.
// A workstation install has no operator to run cmd/migrate, so SQLite stores migrate themselves by default.
func MaybeRun(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, client *db.Client) error {
	if !cfg.AutoMigrate {
		return nil
	}

	sqlDB, err := client.SQL()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithField(ctx, "driver", client.Dialect())
	logg.Info(ctx, "running goose migrations (auto-run)")

	if err := Run(ctx, sqlDB, Source{Driver: client.Dialect()}, "up"); err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}

	logg.Info(ctx, "goose migrations completed")
	return nil
}
