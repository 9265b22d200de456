package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/spf13/viper"
)

// Store persists the user-tuned detection configuration.
type Store interface {
	GetDetectionConfig(ctx context.Context) (*Detection, error)
	SaveDetectionConfig(ctx context.Context, cfg Detection) error
}

// FromViper overlays any `detection.*` keys onto the defaults.
func FromViper(v *viper.Viper) (Detection, error) {
	cfg := DefaultDetection()
	if v == nil {
		return cfg, nil
	}
	if err := v.UnmarshalKey("detection", &cfg); err != nil {
		return Detection{}, fmt.Errorf("%w: %w", common.ErrConfigInvalid, err)
	}
	return cfg, nil
}

// Load resolves the configuration for one detection run. A persisted row wins
// over the fallback; the result is always validated.
func Load(ctx context.Context, store Store, fallback Detection) (Detection, error) {
	cfg := fallback

	if store != nil {
		stored, err := store.GetDetectionConfig(ctx)
		switch {
		case err == nil && stored != nil:
			cfg = *stored
		case err == nil, errors.Is(err, common.ErrNotFound):
		default:
			return Detection{}, fmt.Errorf("failed to load detection config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Detection{}, err
	}
	return cfg, nil
}
