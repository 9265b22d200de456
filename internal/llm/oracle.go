package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/sashabaranov/go-openai"
)

// Answer is a successful oracle verdict for one merchant.
type Answer struct {
	Label      model.MerchantLabel
	Confidence float64
}

// Oracle classifies a merchant as subscription or retail.
type Oracle interface {
	Classify(ctx context.Context, merchant, categoryHint string) (Answer, error)
}

// Config holds configuration for the classification oracle.
type Config struct {
	Provider    string // "ollama" or "openai"
	BaseURL     string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int
	Temperature float64
	MaxTokens   int
}

const (
	defaultOllamaURL   = "http://localhost:11434/v1"
	defaultOllamaModel = "llama3.1"
	defaultOpenAIModel = "gpt-4o-mini"
)

// chatCompleter is the slice of the go-openai client the oracle uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier implements Oracle against an OpenAI-compatible endpoint.
type Classifier struct {
	client      chatCompleter
	cache       *answerCache
	logger      *slog.Logger
	rateLimiter *rateLimiter
	model       string
	retryOpts   service.RetryOptions
	temperature float32
	maxTokens   int
}

// NewClassifier creates an oracle for the configured provider.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var clientCfg openai.ClientConfig
	modelName := cfg.Model

	switch strings.ToLower(cfg.Provider) {
	case "ollama", "":
		// Ollama ignores the key but go-openai always sends a bearer header.
		clientCfg = openai.DefaultConfig("ollama")
		clientCfg.BaseURL = defaultOllamaURL
		if modelName == "" {
			modelName = defaultOllamaModel
		}
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: OpenAI API key is required", common.ErrMissingConfig)
		}
		clientCfg = openai.DefaultConfig(cfg.APIKey)
		if modelName == "" {
			modelName = defaultOpenAIModel
		}
	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}

	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return newClassifier(openai.NewClientWithConfig(clientCfg), modelName, cfg, logger), nil
}

func newClassifier(client chatCompleter, modelName string, cfg Config, logger *slog.Logger) *Classifier {
	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 2
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = 500 * time.Millisecond
	}
	retryOpts.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("oracle call failed, retrying",
			"attempt", attempt,
			"max_attempts", retryOpts.MaxAttempts,
			"delay", delay,
			"error", err)
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.1
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 100
	}

	return &Classifier{
		client:      client,
		cache:       newAnswerCache(cfg.CacheTTL),
		logger:      logger,
		rateLimiter: newRateLimiter(cfg.RateLimit),
		model:       modelName,
		retryOpts:   retryOpts,
		temperature: float32(temperature),
		maxTokens:   maxTokens,
	}
}

// Classify asks the model whether merchant bills on a recurring basis.
// Every failure wraps common.ErrOracleUnavailable.
func (c *Classifier) Classify(ctx context.Context, merchant, categoryHint string) (Answer, error) {
	key := strings.ToLower(strings.TrimSpace(merchant))
	if key == "" {
		return Answer{}, fmt.Errorf("%w: empty merchant", common.ErrOracleUnavailable)
	}

	if answer, ok := c.cache.get(key); ok {
		c.logger.Debug("oracle cache hit", "merchant", merchant)
		return answer, nil
	}

	if err := c.rateLimiter.wait(ctx); err != nil {
		return Answer{}, fmt.Errorf("%w: %w", common.ErrOracleUnavailable, err)
	}

	var answer Answer
	err := common.WithRetry(ctx, func() error {
		var classifyErr error
		answer, classifyErr = c.complete(ctx, merchant, categoryHint)
		return classifyErr
	}, c.retryOpts)
	if err != nil {
		c.logger.Warn("oracle classification failed",
			"merchant", merchant,
			"model", c.model,
			"error", err)
		return Answer{}, fmt.Errorf("%w: %w", common.ErrOracleUnavailable, err)
	}

	c.cache.set(key, answer)
	c.logger.Debug("oracle classified merchant",
		"merchant", merchant,
		"label", answer.Label,
		"confidence", answer.Confidence)
	return answer, nil
}

func (c *Classifier) complete(ctx context.Context, merchant, categoryHint string) (Answer, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(merchant, categoryHint)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Answer{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return Answer{}, &common.RetryableError{Err: errors.New("no completion choices returned"), Retryable: true}
	}

	answer, err := parseAnswer(resp.Choices[0].Message.Content)
	if err != nil {
		return Answer{}, &common.RetryableError{Err: err, Retryable: false}
	}
	return answer, nil
}

// classifyAPIError marks client errors other than throttling as final.
func classifyAPIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", common.ErrRateLimit, err)
	case status >= 400 && status < 500:
		return &common.RetryableError{Err: err, Retryable: false}
	default:
		return err
	}
}
