package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 5

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions and receipt links",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS transactions (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					date TEXT NOT NULL,
					name TEXT NOT NULL,
					merchant_name TEXT,
					amount REAL NOT NULL,
					account_id TEXT NOT NULL,
					category TEXT,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_transactions_date ON transactions(date)`,
				`CREATE INDEX idx_transactions_account_date ON transactions(account_id, date)`,

				`CREATE TABLE IF NOT EXISTS receipt_links (
					receipt_id TEXT PRIMARY KEY,
					transaction_id TEXT NOT NULL,
					merchant TEXT,
					expected_amount REAL NOT NULL,
					captured_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_receipt_links_transaction ON receipt_links(transaction_id)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Add subscriptions table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS subscriptions (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					account_id TEXT NOT NULL,
					merchant TEXT NOT NULL,
					merchant_key TEXT NOT NULL,
					amount REAL NOT NULL,
					frequency TEXT NOT NULL,
					profile TEXT NOT NULL DEFAULT 'strict',
					status TEXT NOT NULL DEFAULT 'active',
					user_acknowledged BOOLEAN NOT NULL DEFAULT 0,
					acknowledged_at TEXT,
					cancelled_at TEXT,
					transaction_count INTEGER NOT NULL DEFAULT 0,
					last_transaction_date TEXT NOT NULL,
					detected_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					UNIQUE(account_id, merchant_key)
				)`,
				`CREATE INDEX idx_subscriptions_status ON subscriptions(status)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Add alerts table",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS alerts (
					id TEXT PRIMARY KEY,
					dedup_key TEXT UNIQUE NOT NULL,
					alert_type TEXT NOT NULL,
					subscription_id INTEGER,
					transaction_id TEXT,
					severity TEXT NOT NULL,
					message TEXT NOT NULL,
					metadata TEXT,
					fingerprint TEXT,
					status TEXT NOT NULL DEFAULT 'open',
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					dismissed_at TEXT,
					FOREIGN KEY (subscription_id) REFERENCES subscriptions(id)
				)`,
				`CREATE INDEX idx_alerts_subscription ON alerts(subscription_id)`,
				`CREATE INDEX idx_alerts_status ON alerts(status)`,
				`CREATE INDEX idx_alerts_type ON alerts(alert_type)`,
			})
		},
	},
	{
		Version:     4,
		Description: "Add merchant subscription cache",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS merchant_subscription_cache (
					merchant TEXT PRIMARY KEY,
					classification TEXT NOT NULL,
					confidence REAL NOT NULL DEFAULT 0,
					source TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)`,
				`CREATE INDEX idx_merchant_cache_source ON merchant_subscription_cache(source)`,
			})
		},
	},
	{
		Version:     5,
		Description: "Add persisted detection config",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS detection_config (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					payload TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)
			`)
			return err
		},
	},
}

// SchemaVersion reports the schema version currently applied.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
