// Package llm implements the merchant classification oracle on top of an
// OpenAI-compatible chat completions API. Ollama and OpenAI are supported,
// with retry, rate limiting and an in-process answer cache.
package llm
