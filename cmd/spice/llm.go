package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/llm"
	"github.com/spf13/viper"
)

// createOracle creates the merchant classification oracle from configuration.
// It returns nil when the oracle is disabled, in which case every uncached
// merchant is matched under the strict profile.
func createOracle() (llm.Oracle, error) {
	provider := viper.GetString("llm.provider")
	if provider == "" {
		provider = "ollama" // default provider
	}
	if provider == "none" {
		slog.Info("Classification oracle disabled; using strict matching only")
		return nil, nil
	}

	// Build config from viper settings
	config := llm.Config{
		Provider:    provider,
		BaseURL:     viper.GetString("llm.base_url"),
		Model:       viper.GetString("llm.model"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		MaxRetries:  viper.GetInt("llm.max_retries"),
		RetryDelay:  viper.GetDuration("llm.retry_delay"),
		CacheTTL:    viper.GetDuration("llm.cache_ttl"),
		RateLimit:   viper.GetInt("llm.rate_limit"),
	}

	// Set defaults if not specified
	if config.CacheTTL == 0 {
		config.CacheTTL = 24 * time.Hour
	}
	if config.RateLimit == 0 {
		config.RateLimit = 120 // requests per minute
	}

	if provider == "openai" {
		// Check viper first, then environment variable
		config.APIKey = viper.GetString("llm.openai_api_key")
		if config.APIKey == "" {
			config.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	classifier, err := llm.NewClassifier(config, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to create classification oracle: %w", err)
	}
	return classifier, nil
}
