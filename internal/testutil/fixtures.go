package testutil

import (
	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// ProviderConfig returns a valid provider configuration with the given
// priority and capability bitmask.
func ProviderConfig(priority float64, flags int) config.ProviderConfig {
	return config.ProviderConfig{
		BaseURL:           "https://provider.example.com",
		APIKey:            "test-key-0123456789",
		Models:            []string{"test-model"},
		CapabilityFlags:   flags,
		AvgResponseTimeMs: 100,
		PriorityScore:     priority,
	}
}

// TextRequest returns a standard request with a single user message.
func TextRequest(text string) *routing.Request {
	return &routing.Request{
		Model:     "test-model",
		MaxTokens: 256,
		Messages:  []routing.Message{{Role: "user", Content: routing.TextContent(text)}},
	}
}

// VisionRequest returns a request carrying an inline image.
func VisionRequest() *routing.Request {
	return &routing.Request{
		Model:     "test-model",
		MaxTokens: 256,
		Messages: []routing.Message{{
			Role: "user",
			Content: routing.BlockContent(
				routing.ContentBlock{Type: "text", Text: "What is in this picture?"},
				routing.ContentBlock{Type: "image", Source: &routing.ImageSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      "iVBORw0KGgo=",
				}},
			),
		}},
	}
}

// ToolsRequest returns a request declaring one tool.
func ToolsRequest() *routing.Request {
	req := TextRequest("What is the weather in Paris?")
	req.Tools = []routing.Tool{{
		Name:        "get_weather",
		Description: "Current weather for a city",
		InputSchema: []byte(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}}
	return req
}

// ThinkingRequest returns a request that asks for step-by-step reasoning.
func ThinkingRequest() *routing.Request {
	return TextRequest("Think step by step and prove that the square root of 2 is irrational.")
}
