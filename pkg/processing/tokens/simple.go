package tokens

import "github.com/jeffersonwarrior/aimux-sub000/pkg/routing"

// charsPerToken is the average English characters per BPE token.
const charsPerToken = 4

// SimpleEstimator approximates one token per four bytes of text. It needs
// no vocabulary and is the fallback when no tokenizer is available.
type SimpleEstimator struct{}

// NewSimpleEstimator creates a character-based estimator.
func NewSimpleEstimator() *SimpleEstimator {
	return &SimpleEstimator{}
}

// EstimateText returns ceil(len(text)/4).
func (SimpleEstimator) EstimateText(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// EstimateRequest estimates the prompt tokens of req.
func (e SimpleEstimator) EstimateRequest(req *routing.Request) int {
	return estimateRequest(req, e.EstimateText)
}
