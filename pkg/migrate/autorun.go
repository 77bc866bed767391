package migrate

import (
	"context"
	"fmt"

	"github.com/learnonline/payments-backend/pkg/config"
	"github.com/learnonline/payments-backend/pkg/db"
	"github.com/learnonline/payments-backend/pkg/db/models"
	"github.com/learnonline/payments-backend/pkg/logger"
	"gorm.io/gorm"
)

// sqliteIndexes holds constraints GORM tags cannot express (partial indexes).
var sqliteIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_active_idempotency
		ON payments (user_id, course_id, purchase_type, idempotency_key)
		WHERE status IN ('pending', 'completed')`,
	`CREATE INDEX IF NOT EXISTS idx_payment_logs_payment_created
		ON payment_logs (payment_id, created_at)`,
}

// MaybeRunDev executes migrations automatically when the app is running in dev mode and
// the feature flag is enabled.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	meta := map[string]any{"env": cfg.App.Env, "driver": cfg.DB.Driver}
	ctx = logg.WithFields(ctx, meta)

	if cfg.DB.IsSQLite() {
		logg.Info(ctx, "running SQLite schema sync (dev auto-run)")
		if err := AutoMigrateSQLite(client.DB().WithContext(ctx)); err != nil {
			return fmt.Errorf("sqlite schema sync: %w", err)
		}
		logg.Info(ctx, "SQLite schema sync completed")
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	source, err := Source("")
	if err != nil {
		return err
	}
	migrator, err := NewMigrator(sqlDB, source)
	if err != nil {
		return err
	}
	logg.Info(ctx, "running embedded goose migrations (dev auto-run)")
	results, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("running goose up: %w", err)
	}
	logg.Info(logg.WithField(ctx, "applied", len(results)), "goose migrations completed")
	return nil
}

// AutoMigrateSQLite builds the schema on a SQLite connection, mirroring the
// Postgres migrations including the active-payment idempotency index.
func AutoMigrateSQLite(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db is required")
	}
	if err := conn.AutoMigrate(
		&models.Course{},
		&models.Enrollment{},
		&models.Certificate{},
		&models.Payment{},
		&models.PaymentLog{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range sqliteIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
