package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/amqp"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/engine"
	"github.com/Veraticus/spice-sentinel/internal/storage"
	"github.com/spf13/viper"
)

// databasePath resolves database.path with tilde and environment expansion.
func databasePath() string {
	return config.DatabasePath(viper.GetString("database.path"))
}

// initStorage opens the database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(databasePath())
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// fallbackDetection is the configuration used when the database holds none:
// defaults overlaid with any detection.* keys from the config file or env.
func fallbackDetection() (config.Detection, error) {
	return config.FromViper(viper.GetViper())
}

// initEngine wires storage, the oracle and the optional alert notifier into
// an engine. The returned cleanup closes everything that was opened.
func initEngine(ctx context.Context) (*engine.Engine, *storage.SQLiteStorage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanups := []func(){func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	fallback, err := fallbackDetection()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	oracle, err := createOracle()
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	opts := []engine.Option{engine.WithLogger(slog.Default())}
	if url := viper.GetString("notify.amqp_url"); url != "" {
		exchange := viper.GetString("notify.exchange")
		if exchange == "" {
			exchange = "spice.alerts"
		}
		notifier, err := amqp.NewNotifier(url, exchange, viper.GetString("notify.routing_key"), slog.Default())
		if err != nil {
			// Notifications are best effort; detection still runs.
			slog.Warn("Alert notifications disabled", "error", err)
		} else {
			opts = append(opts, engine.WithNotifier(notifier))
			cleanups = append(cleanups, func() {
				if closeErr := notifier.Close(); closeErr != nil {
					slog.Warn("Failed to close alert notifier", "error", closeErr)
				}
			})
		}
	}

	return engine.New(store, oracle, fallback, opts...), store, cleanup, nil
}

// parseDate parses a YYYY-MM-DD flag value. Empty input yields the zero time.
func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}

// parseID parses a subscription ID argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subscription ID %q", arg)
	}
	return id, nil
}
