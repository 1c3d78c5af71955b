package turn

import (
	"encoding/json"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/markatally/agentloop/internal/llm"
)

const (
	systemMessageOverhead = 2
	perMessageOverhead    = 4
)

// estimateContextTokens returns the estimated token usage for a request and
// whether the estimate is approximate (no exact encoding for the model).
func estimateContextTokens(modelID, systemPrompt string, messages []*llm.Message) (int, bool) {
	encoder, approx := encodingForModel(modelID)

	total := tokenCount(encoder, systemPrompt)
	if systemPrompt != "" {
		total += systemMessageOverhead
	}

	for _, msg := range messages {
		total += tokenCount(encoder, msg.Content) + perMessageOverhead
		if msg.ToolID != "" {
			total += tokenCount(encoder, msg.ToolID)
		}
		if msg.ToolName != "" {
			total += tokenCount(encoder, msg.ToolName)
		}
		if len(msg.ToolCalls) > 0 {
			if data, err := json.Marshal(msg.ToolCalls); err == nil {
				total += tokenCount(encoder, string(data))
			}
		}
	}

	return total, approx
}

func encodingForModel(modelID string) (*tiktoken.Tiktoken, bool) {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err == nil {
		return encoder, false
	}

	fallback, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, true
	}
	return fallback, true
}

func tokenCount(encoder *tiktoken.Tiktoken, text string) int {
	if text == "" {
		return 0
	}
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}

	// Rough heuristic: 1 token per 4 characters.
	runes := utf8.RuneCountInString(text)
	return (runes + 3) / 4
}
