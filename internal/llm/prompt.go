package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

const systemPrompt = "You are a personal finance assistant that decides whether a merchant bills customers " +
	"on a recurring subscription basis. You MUST respond with ONLY a valid JSON object of the form " +
	`{"classification": "SUBSCRIPTION" | "RETAIL", "confidence": <number between 0 and 1>}. ` +
	"Do not include any explanatory text or markdown formatting."

func buildPrompt(merchant, categoryHint string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merchant: %s\n", merchant)
	if categoryHint != "" {
		fmt.Fprintf(&b, "Category: %s\n", categoryHint)
	}
	b.WriteString("\nSUBSCRIPTION means the merchant is primarily paid through recurring plans ")
	b.WriteString("(streaming, software, memberships, utilities, insurance). ")
	b.WriteString("RETAIL means one-off purchases (groceries, restaurants, stores, fuel), even if visited regularly.")
	return b.String()
}

// parseAnswer extracts the verdict from a model reply. Confidence may be
// a number, a numeric string or a percentage.
func parseAnswer(content string) (Answer, error) {
	var raw struct {
		Classification string          `json:"classification"`
		Label          string          `json:"label"`
		Confidence     json.RawMessage `json:"confidence"`
	}

	content = stripCodeFence(content)
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Answer{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	labelText := raw.Classification
	if labelText == "" {
		labelText = raw.Label
	}
	label := model.MerchantLabel(strings.ToUpper(strings.TrimSpace(labelText)))
	if !label.Valid() {
		return Answer{}, fmt.Errorf("unexpected classification %q", labelText)
	}

	confidence, err := parseConfidence(raw.Confidence)
	if err != nil {
		return Answer{}, err
	}

	return Answer{Label: label, Confidence: confidence}, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("no confidence in response")
	}

	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	percent := strings.HasSuffix(text, "%")
	text = strings.TrimSpace(strings.TrimSuffix(text, "%"))

	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence %q: %w", string(raw), err)
	}
	if percent || value > 1 {
		value /= 100
	}
	if value < 0 || value > 1 {
		return 0, fmt.Errorf("confidence %v out of range", value)
	}
	return value, nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
