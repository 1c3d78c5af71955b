package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	genai "google.golang.org/genai"
)

const defaultGoogleModel = "models/gemini-2.0-flash"

// GoogleClient implements the Client interface using the official Google
// GenAI SDK against the Gemini API backend.
type GoogleClient struct {
	modelName string
	client    *genai.Client
}

// NewGoogleClient creates a Google GenAI client for the provided model.
func NewGoogleClient(apiKey, modelName string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("google client requires an API key")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google genai client: %w", err)
	}

	return &GoogleClient{
		modelName: normalizeGoogleModelName(modelName),
		client:    client,
	}, nil
}

func (c *GoogleClient) GetModelName() string {
	return c.modelName
}

func (c *GoogleClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.modelName, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("google genai completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	return collectGenAIText(resp.Candidates[0].Content), nil
}

// StreamTurn streams one generation. Text parts are forwarded as content
// fragments as they arrive; function-call parts become tool_call fragments
// with their arguments re-encoded as JSON. Gemini does not always assign
// call ids, so missing ones are synthesized to keep the call/result pairing
// stable across the rest of the turn.
func (c *GoogleClient) StreamTurn(ctx context.Context, req *StreamRequest, callback func(Fragment) error) error {
	if req == nil {
		return fmt.Errorf("google completion request cannot be nil")
	}

	contents, err := convertMessagesToGenAI(req.Messages)
	if err != nil {
		return err
	}
	if len(contents) == 0 {
		return fmt.Errorf("google completion requires at least one message")
	}

	cfg := buildGenAIConfig(req)
	finishReason := "stop"

	stream := c.client.Models.GenerateContentStream(ctx, c.modelName, contents, cfg)
	for result, err := range stream {
		if err != nil {
			return fmt.Errorf("google genai stream failed: %w", err)
		}
		if len(result.Candidates) == 0 {
			continue
		}

		candidate := result.Candidates[0]
		if candidate.FinishReason != "" {
			finishReason = strings.ToLower(string(candidate.FinishReason))
		}
		if candidate.Content == nil {
			continue
		}

		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}

			if part.Text != "" {
				if err := callback(Fragment{Type: FragmentContent, Text: part.Text}); err != nil {
					return err
				}
			}

			if part.FunctionCall != nil {
				argsJSON, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || len(argsJSON) == 0 {
					argsJSON = []byte("{}")
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				frag := Fragment{
					Type:          FragmentToolCall,
					ToolCallID:    id,
					ToolName:      part.FunctionCall.Name,
					ArgumentsJSON: string(argsJSON),
				}
				if err := callback(frag); err != nil {
					return err
				}
			}
		}
	}

	return callback(Fragment{Type: FragmentDone, StopReason: finishReason})
}

func collectGenAIText(content *genai.Content) string {
	if content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func convertMessagesToGenAI(messages []*Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		if msg == nil {
			continue
		}

		switch normalizeRole(msg.Role) {
		case "assistant":
			content, err := convertGenAIAssistantMessage(msg)
			if err != nil {
				return nil, err
			}
			contents = append(contents, content)
		case "tool":
			content, err := convertGenAIToolResult(msg)
			if err != nil {
				return nil, err
			}
			contents = append(contents, content)
		default:
			if msg.Content == "" {
				continue
			}
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, nil
}

func convertGenAIAssistantMessage(msg *Message) (*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(msg.ToolCalls)+1)

	if msg.Content != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		function, _ := tc["function"].(map[string]interface{})
		name, _ := function["name"].(string)
		if name == "" {
			continue
		}

		argsMap := make(map[string]any)
		switch v := parseToolArguments(function["arguments"]).(type) {
		case map[string]interface{}:
			for key, value := range v {
				argsMap[key] = value
			}
		case string:
			if strings.TrimSpace(v) != "" {
				return nil, fmt.Errorf("invalid function call arguments for %s", name)
			}
		}

		part := genai.NewPartFromFunctionCall(name, argsMap)
		if id, _ := tc["id"].(string); id != "" {
			part.FunctionCall.ID = id
		}
		parts = append(parts, part)
	}

	if len(parts) == 0 {
		parts = append(parts, genai.NewPartFromText(""))
	}

	return genai.NewContentFromParts(parts, genai.RoleModel), nil
}

func convertGenAIToolResult(msg *Message) (*genai.Content, error) {
	if msg.ToolName == "" {
		return nil, fmt.Errorf("tool message is missing its originating tool name")
	}

	// Gemini wants a structured response object; non-JSON tool output is
	// wrapped so nothing is lost.
	payload := make(map[string]any)
	if strings.TrimSpace(msg.Content) != "" {
		if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
			payload = map[string]any{"output": msg.Content}
		}
	}

	part := genai.NewPartFromFunctionResponse(msg.ToolName, payload)
	if msg.ToolID != "" {
		part.FunctionResponse.ID = msg.ToolID
	}

	return genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser), nil
}

func buildGenAIConfig(req *StreamRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}

	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		cfg.Tools = convertToolsToGenAI(req.Tools)
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		}
	}

	return cfg
}

func convertToolsToGenAI(tools []map[string]interface{}) []*genai.Tool {
	result := make([]*genai.Tool, 0, len(tools))
	for _, tool := range tools {
		function, ok := tool["function"].(map[string]interface{})
		if !ok {
			continue
		}

		name, _ := function["name"].(string)
		if name == "" {
			continue
		}
		description, _ := function["description"].(string)

		decl := &genai.FunctionDeclaration{
			Name:        name,
			Description: description,
		}
		if params, ok := function["parameters"].(map[string]interface{}); ok {
			decl.ParametersJsonSchema = params
		}

		result = append(result, &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{decl}})
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

func normalizeGoogleModelName(modelName string) string {
	trimmed := strings.TrimSpace(modelName)
	if trimmed == "" {
		return defaultGoogleModel
	}

	lowered := strings.ToLower(trimmed)
	if strings.HasPrefix(lowered, "models/") || strings.HasPrefix(lowered, "publishers/") {
		return trimmed
	}

	return "models/" + trimmed
}
