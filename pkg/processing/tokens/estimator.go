package tokens

import (
	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// Estimator estimates the prompt size of a request in tokens.
type Estimator interface {
	// EstimateText estimates tokens for a single string.
	EstimateText(text string) int

	// EstimateRequest estimates the prompt tokens of a whole request,
	// including the system prompt, messages, tool definitions and the
	// per-message formatting overhead.
	EstimateRequest(req *routing.Request) int
}

// Per-message and per-request formatting overhead, in tokens.
const (
	messageOverhead = 4
	requestOverhead = 3
)

// estimateRequest sums the parts of req using count for each string.
func estimateRequest(req *routing.Request, count func(string) int) int {
	if req == nil {
		return 0
	}

	total := requestOverhead
	if len(req.System) > 0 {
		total += count(string(req.System))
	}
	for _, msg := range req.Messages {
		total += messageOverhead + count(msg.Role)
		total += count(msg.Content.PlainText())
		for _, block := range msg.Content.Blocks {
			if len(block.Input) > 0 {
				total += count(string(block.Input))
			}
			if len(block.Content) > 0 {
				total += count(string(block.Content))
			}
		}
	}
	for _, tool := range req.Tools {
		total += count(tool.Name) + count(tool.Description) + count(string(tool.InputSchema))
	}
	return total
}
