package routing

import (
	"bytes"
	"regexp"
	"strings"
)

// thinkingKeywords mark a request as asking for explicit reasoning.
var thinkingKeywords = []string{
	"think",
	"reason",
	"analyze",
	"step by step",
	"break down",
	"explain",
	"consider",
	"evaluate",
	"compare",
	"conclude",
}

var thinkingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bstep\s+by\s+step\b`),
	regexp.MustCompile(`\bbreak\s+down\b`),
	regexp.MustCompile(`\bexplain\s+your\s+reasoning\b`),
	regexp.MustCompile(`\bthink\s+aloud\b`),
	regexp.MustCompile(`\bshow\s+your\s+work\b`),
	regexp.MustCompile(`\bwalk\s+me\s+through\b`),
	regexp.MustCompile(`\bhow\s+would\s+you\s+approach\b`),
	regexp.MustCompile(`\bwhat\s+are\s+the\s+steps\b`),
}

// Classifier assigns a RequestType to incoming requests.
//
// Analyze is pure: it holds no mutable state, so a single Classifier may be
// shared by any number of goroutines and always returns the same analysis
// for the same request.
//
// Precedence is vision, then tools, then thinking, then standard. Vision and
// tools detection is structural; thinking detection also inspects the text.
type Classifier struct {
	keywords []string
	patterns []*regexp.Regexp
}

// NewClassifier creates a classifier with the built-in thinking cues.
func NewClassifier() *Classifier {
	return &Classifier{
		keywords: thinkingKeywords,
		patterns: thinkingPatterns,
	}
}

// Analyze classifies a request. A nil request is standard.
func (c *Classifier) Analyze(req *Request) RequestAnalysis {
	t := c.classify(req)
	analysis := RequestAnalysis{Type: t, RequiredCapabilities: []Capability{}}
	if capability := CapabilityFor(t); capability != "" {
		analysis.RequiredCapabilities = []Capability{capability}
	}
	return analysis
}

func (c *Classifier) classify(req *Request) RequestType {
	if req == nil {
		return RequestStandard
	}
	if hasVision(req) {
		return RequestVision
	}
	if hasTools(req) {
		return RequestTools
	}
	if req.Thinking.Enabled() || c.wantsThinking(req) {
		return RequestThinking
	}
	return RequestStandard
}

func hasVision(req *Request) bool {
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Blocks {
			if block.Type == "image" || block.Type == "image_url" {
				return true
			}
			if len(block.ImageURL) > 0 && !bytes.Equal(block.ImageURL, []byte("null")) {
				return true
			}
			if block.Source != nil {
				return true
			}
		}
	}
	return false
}

func hasTools(req *Request) bool {
	if len(req.Tools) > 0 {
		return true
	}
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Blocks {
			if block.Type == "tool_use" || block.Type == "tool_result" {
				return true
			}
		}
	}
	return false
}

func (c *Classifier) wantsThinking(req *Request) bool {
	for _, msg := range req.Messages {
		text := strings.ToLower(msg.Content.PlainText())
		if text == "" {
			continue
		}
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
		for _, p := range c.patterns {
			if p.MatchString(text) {
				return true
			}
		}
	}
	return false
}
