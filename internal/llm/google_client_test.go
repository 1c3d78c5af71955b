package llm

import (
	"testing"

	genai "google.golang.org/genai"
)

func TestConvertMessagesToGenAIAssistantToolCall(t *testing.T) {
	messages := []*Message{
		{Role: "user", Content: "what is the weather in Berlin?"},
		{
			Role:    "assistant",
			Content: "Let me check.",
			ToolCalls: []map[string]interface{}{
				{
					"id":   "call_1",
					"type": "function",
					"function": map[string]interface{}{
						"name":      "web_search",
						"arguments": `{"query":"Berlin weather"}`,
					},
				},
			},
		},
		{Role: "tool", ToolID: "call_1", ToolName: "web_search", Content: `{"results":[]}`},
	}

	contents, err := convertMessagesToGenAI(messages)
	if err != nil {
		t.Fatal(err)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(contents))
	}

	assistant := contents[1]
	if assistant.Role != genai.RoleModel {
		t.Errorf("assistant role = %q", assistant.Role)
	}
	if len(assistant.Parts) != 2 {
		t.Fatalf("expected text + function call parts, got %d", len(assistant.Parts))
	}
	call := assistant.Parts[1].FunctionCall
	if call == nil || call.Name != "web_search" || call.ID != "call_1" {
		t.Fatalf("function call not preserved: %+v", call)
	}
	if call.Args["query"] != "Berlin weather" {
		t.Errorf("arguments not decoded: %+v", call.Args)
	}

	toolResult := contents[2]
	if toolResult.Role != genai.RoleUser {
		t.Errorf("tool result role = %q", toolResult.Role)
	}
	if toolResult.Parts[0].FunctionResponse == nil || toolResult.Parts[0].FunctionResponse.Name != "web_search" {
		t.Fatalf("function response missing: %+v", toolResult.Parts[0])
	}
}

func TestConvertToolResultWrapsPlainText(t *testing.T) {
	contents, err := convertMessagesToGenAI([]*Message{
		{Role: "tool", ToolID: "call_2", ToolName: "fetch_url", Content: "plain text, not json"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp := contents[0].Parts[0].FunctionResponse
	if resp == nil {
		t.Fatal("function response missing")
	}
	if resp.Response["output"] != "plain text, not json" {
		t.Errorf("non-JSON tool output not wrapped: %+v", resp.Response)
	}
}

func TestConvertToolResultRequiresToolName(t *testing.T) {
	_, err := convertMessagesToGenAI([]*Message{
		{Role: "tool", ToolID: "call_3", Content: "{}"},
	})
	if err == nil {
		t.Fatal("tool message without a name must error")
	}
}

func TestConvertToolsToGenAI(t *testing.T) {
	tools := []map[string]interface{}{
		{
			"type": "function",
			"function": map[string]interface{}{
				"name":        "web_search",
				"description": "Search the web",
				"parameters": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"query": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
		{"type": "function", "function": map[string]interface{}{"description": "nameless"}},
	}

	converted := convertToolsToGenAI(tools)
	if len(converted) != 1 {
		t.Fatalf("expected 1 tool (nameless dropped), got %d", len(converted))
	}
	decl := converted[0].FunctionDeclarations[0]
	if decl.Name != "web_search" || decl.Description != "Search the web" {
		t.Errorf("declaration = %+v", decl)
	}
	if decl.ParametersJsonSchema == nil {
		t.Error("parameters schema dropped")
	}
}

func TestBuildGenAIConfig(t *testing.T) {
	req := &StreamRequest{
		SystemPrompt: "be brief",
		Temperature:  0.4,
		MaxTokens:    512,
		Tools: []map[string]interface{}{
			{"type": "function", "function": map[string]interface{}{"name": "web_search"}},
		},
	}

	cfg := buildGenAIConfig(req)
	if cfg.SystemInstruction == nil {
		t.Error("system instruction missing")
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.4 {
		t.Errorf("temperature = %v", cfg.Temperature)
	}
	if cfg.MaxOutputTokens != 512 {
		t.Errorf("max output tokens = %d", cfg.MaxOutputTokens)
	}
	if len(cfg.Tools) != 1 || cfg.ToolConfig == nil {
		t.Error("tool wiring missing from config")
	}
}

func TestNormalizeGoogleModelName(t *testing.T) {
	cases := map[string]string{
		"":                        defaultGoogleModel,
		"gemini-2.0-flash":        "models/gemini-2.0-flash",
		"models/gemini-2.5-pro":   "models/gemini-2.5-pro",
		"publishers/google/x":     "publishers/google/x",
		"  gemini-2.0-flash-lite": "models/gemini-2.0-flash-lite",
	}
	for input, want := range cases {
		if got := normalizeGoogleModelName(input); got != want {
			t.Errorf("normalizeGoogleModelName(%q) = %q, want %q", input, got, want)
		}
	}
}
