// Package tokens estimates token counts for model text when a provider does
// not report authoritative usage data.
package tokens

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/openlit/openlit-go/diag"
)

// Estimator approximates the number of tokens in text for a given model.
// Implementations must be deterministic and safe for concurrent use.
type Estimator interface {
	CountTokens(text, model string) int
}

// modelEncodings maps model-name prefixes to tiktoken encodings.
var modelEncodings = map[string]string{
	"gpt-4o":         "o200k_base",
	"gpt-4.1":        "o200k_base",
	"o1":             "o200k_base",
	"o3":             "o200k_base",
	"gpt-4":          "cl100k_base",
	"gpt-3.5-turbo":  "cl100k_base",
	"text-embedding": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// encodingFor returns the tiktoken encoding name for a model, matching the
// longest known prefix and falling back to cl100k_base.
func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	var (
		best    string
		bestLen = -1
	)
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = enc
			bestLen = len(prefix)
		}
	}
	if bestLen >= 0 {
		return best
	}
	return defaultEncoding
}

// TiktokenEstimator counts tokens with tiktoken encodings. Encoding data is
// initialized lazily and cached per encoding. When an encoding cannot be
// loaded (e.g. no BPE data available offline) it falls back to the heuristic
// estimator instead of failing the call.
type TiktokenEstimator struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	fallback  HeuristicEstimator
}

// NewTiktokenEstimator creates a tiktoken-backed estimator.
func NewTiktokenEstimator() *TiktokenEstimator {
	return &TiktokenEstimator{
		encodings: make(map[string]*tiktoken.Tiktoken),
	}
}

// CountTokens returns the token count of text for the model.
func (e *TiktokenEstimator) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	enc, err := e.encoding(encodingFor(model))
	if err != nil {
		diag.Warnf("tiktoken unavailable for %q, using heuristic estimate: %v", model, err)
		return e.fallback.CountTokens(text, model)
	}
	return len(enc.Encode(text, nil, nil))
}

func (e *TiktokenEstimator) encoding(name string) (*tiktoken.Tiktoken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if enc, ok := e.encodings[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, err
	}
	e.encodings[name] = enc
	return enc, nil
}

var _ Estimator = (*TiktokenEstimator)(nil)

// HeuristicEstimator approximates token counts from character classes.
// CJK text runs around 1.5 characters per token while ASCII text runs
// around 4, which beats a naive len/4 on mixed input.
type HeuristicEstimator struct{}

// CountTokens returns an approximate token count for text. The model
// parameter is ignored; the heuristic is model independent.
func (HeuristicEstimator) CountTokens(text, _ string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	estimated := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

var _ Estimator = HeuristicEstimator{}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK unified ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // hiragana + katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // hangul syllables
		return true
	}
	return false
}
