package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/routing"
)

// TiktokenEstimator counts tokens with a BPE vocabulary. Anthropic does not
// publish its tokenizer, so cl100k_base serves as a close approximation.
// If the vocabulary cannot be loaded the estimator falls back to
// SimpleEstimator.
type TiktokenEstimator struct {
	encoding tokenizer.Encoding
	fallback SimpleEstimator

	once  sync.Once
	codec tokenizer.Codec
}

// NewTiktokenEstimator creates an estimator using cl100k_base.
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{encoding: tokenizer.Cl100kBase}
}

func (e *TiktokenEstimator) load() tokenizer.Codec {
	e.once.Do(func() {
		codec, err := tokenizer.Get(e.encoding)
		if err == nil {
			e.codec = codec
		}
	})
	return e.codec
}

// EstimateText counts the tokens in text.
func (e *TiktokenEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	codec := e.load()
	if codec == nil {
		return e.fallback.EstimateText(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return e.fallback.EstimateText(text)
	}
	return len(ids)
}

// EstimateRequest estimates the prompt tokens of req.
func (e *TiktokenEstimator) EstimateRequest(req *routing.Request) int {
	return estimateRequest(req, e.EstimateText)
}
