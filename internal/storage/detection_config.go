package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
)

// GetDetectionConfig returns the persisted detection thresholds.
// Fields absent from the stored payload keep their default values.
func (s *SQLiteStorage) GetDetectionConfig(ctx context.Context) (*config.Detection, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM detection_config WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("detection config: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection config: %w", err)
	}

	cfg := config.DefaultDetection()
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, fmt.Errorf("%w: stored detection config: %w", common.ErrConfigInvalid, err)
	}
	return &cfg, nil
}

// SaveDetectionConfig validates and persists the detection thresholds.
func (s *SQLiteStorage) SaveDetectionConfig(ctx context.Context, cfg config.Detection) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode detection config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detection_config (id, payload, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at
	`, string(payload), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save detection config: %w", err)
	}
	return nil
}
