package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schemaVersion reads PRAGMA user_version.
func schemaVersion(ctx context.Context, conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate applies every migration above the stored user_version, one
// transaction per step. A store written by a newer binary is refused rather
// than opened with a schema this build does not know.
func migrate(ctx context.Context, conn *sql.DB, logger *zap.Logger) error {
	current, err := schemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	latest := latestVersion()
	if current > latest {
		return fmt.Errorf("schema version %d is newer than this build supports (%d)", current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", zap.Int("version", m.Version), zap.String("description", m.Description))
		if err := applyMigration(ctx, conn, m); err != nil {
			return err
		}
		current = m.Version
	}

	return verifySchema(ctx, conn, current)
}

func applyMigration(ctx context.Context, conn *sql.DB, m Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	// modernc/sqlite does not persist user_version set inside a transaction;
	// a crash before this line re-runs the idempotent DDL.
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("setting version %d: %w", m.Version, err)
	}
	return nil
}

// verifySchema checks that every table promised up to version exists.
func verifySchema(ctx context.Context, conn *sql.DB, version int) error {
	for _, m := range migrations {
		if m.Version > version {
			break
		}
		for _, table := range m.Tables {
			var n int
			err := conn.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
			).Scan(&n)
			if err != nil {
				return fmt.Errorf("checking table %s: %w", table, err)
			}
			if n == 0 {
				return fmt.Errorf("schema version %d but table %s is missing", version, table)
			}
		}
	}
	return nil
}
