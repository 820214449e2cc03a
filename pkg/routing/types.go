package routing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RequestType is the routing category assigned by the Classifier.
type RequestType int

const (
	// RequestStandard is a plain text request with no special requirement.
	RequestStandard RequestType = iota
	// RequestThinking asks for multi-step reasoning.
	RequestThinking
	// RequestVision carries image content.
	RequestVision
	// RequestTools declares tools or continues a tool-use exchange.
	RequestTools
)

// String returns the upper-case name of the request type.
func (t RequestType) String() string {
	switch t {
	case RequestThinking:
		return "THINKING"
	case RequestVision:
		return "VISION"
	case RequestTools:
		return "TOOLS"
	default:
		return "STANDARD"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t RequestType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RequestType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "STANDARD":
		*t = RequestStandard
	case "THINKING":
		*t = RequestThinking
	case "VISION":
		*t = RequestVision
	case "TOOLS":
		*t = RequestTools
	default:
		return fmt.Errorf("unknown request type %q", b)
	}
	return nil
}

// Capability is a feature a provider may support.
type Capability string

const (
	CapabilityThinking  Capability = "thinking"
	CapabilityVision    Capability = "vision"
	CapabilityTools     Capability = "tools"
	CapabilityStreaming Capability = "streaming"
)

// CapabilityFor returns the single capability a request type requires, or
// "" for standard requests.
func CapabilityFor(t RequestType) Capability {
	switch t {
	case RequestThinking:
		return CapabilityThinking
	case RequestVision:
		return CapabilityVision
	case RequestTools:
		return CapabilityTools
	default:
		return ""
	}
}

// RequestAnalysis is the classification of a single request.
type RequestAnalysis struct {
	Type                 RequestType  `json:"type"`
	RequiredCapabilities []Capability `json:"required_capabilities"`
}

// Request is an Anthropic Messages compatible request.
type Request struct {
	Model       string          `json:"model"`
	Messages    []Message       `json:"messages"`
	System      json.RawMessage `json:"system,omitempty"`
	Tools       []Tool          `json:"tools,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Thinking    *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig enables extended reasoning on providers that support it.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Enabled reports whether extended thinking was requested.
func (t *ThinkingConfig) Enabled() bool {
	return t != nil && t.Type == "enabled"
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Message is one conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or a list of content blocks.
type Content struct {
	Text   string
	Blocks []ContentBlock
}

// TextContent builds string content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// BlockContent builds block content.
func BlockContent(blocks ...ContentBlock) Content {
	return Content{Blocks: blocks}
}

// UnmarshalJSON accepts either a JSON string or an array of blocks.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case '[':
		var blocks []ContentBlock
		if err := json.Unmarshal(data, &blocks); err != nil {
			return err
		}
		*c = Content{Blocks: blocks}
		return nil
	case '{':
		var block ContentBlock
		if err := json.Unmarshal(data, &block); err != nil {
			return err
		}
		*c = Content{Blocks: []ContentBlock{block}}
		return nil
	default:
		return errors.New("message content must be a string or an array of content blocks")
	}
}

// MarshalJSON writes blocks when present and a string otherwise.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Blocks != nil {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// PlainText concatenates the string content and every text block.
func (c Content) PlainText() string {
	if c.Blocks == nil {
		return c.Text
	}
	var buf bytes.Buffer
	for _, b := range c.Blocks {
		if b.Text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(b.Text)
	}
	return buf.String()
}

// ContentBlock is a single typed block inside message content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Image content.
	Source   *ImageSource    `json:"source,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`

	// Tool use and results.
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ImageSource is an inline or referenced image.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Response is what the gateway returns for every routed request. Callers
// always receive a well-formed Response, never a bare error.
type Response struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code"`
	ProviderName string `json:"provider_name"`
	Data         string `json:"data,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Attempts     int    `json:"attempts"`

	// Err is the typed error behind a failed response.
	Err error `json:"-"`
}

// FallbackStep records a provider that was tried and rejected.
type FallbackStep struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// RouteDecision describes how one request was routed.
type RouteDecision struct {
	RequestID            string          `json:"request_id"`
	Analysis             RequestAnalysis `json:"analysis"`
	SelectedProvider     string          `json:"selected_provider"`
	CandidatesConsidered []string        `json:"candidates_considered"`
	FallbackChain        []FallbackStep  `json:"fallback_chain,omitempty"`
	SpecializedBinding   bool            `json:"specialized_binding"`
	Degraded             bool            `json:"degraded"`
	Timestamp            time.Time       `json:"timestamp"`
}
