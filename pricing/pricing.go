// Package pricing computes the monetary cost of a model call from a local
// pricing table.
//
// The table is a plain JSON document mapping model identifiers to prompt and
// completion prices per 1000 tokens:
//
//	{
//	  "gpt-4o":      {"promptPrice": 0.0025, "completionPrice": 0.01},
//	  "gpt-4o-mini": {"promptPrice": 0.00015, "completionPrice": 0.0006}
//	}
//
// Cost calculation is a pure function over the table; unpriced models cost
// zero. The SDK never fetches pricing data over the network.
package pricing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry holds the USD prices per 1000 tokens for a single model.
type Entry struct {
	PromptPrice     float64 `json:"promptPrice"`
	CompletionPrice float64 `json:"completionPrice"`
}

// Table maps model identifiers to their prices.
type Table map[string]Entry

// Load reads a pricing table from r.
func Load(r io.Reader) (Table, error) {
	var t Table
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}
	return t, nil
}

// LoadFile reads a pricing table from a JSON file.
func LoadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pricing table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Cost returns the USD cost of a call. Models are matched exactly first,
// then by the longest table key the model name starts with, so a table entry
// "gpt-4o" also prices "gpt-4o-2024-08-06". Unknown models cost 0.
func (t Table) Cost(model string, inputTokens, outputTokens int) float64 {
	entry, ok := t.lookup(model)
	if !ok {
		return 0
	}
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	return float64(inputTokens)/1000*entry.PromptPrice +
		float64(outputTokens)/1000*entry.CompletionPrice
}

// Priced reports whether the table carries prices for the model.
func (t Table) Priced(model string) bool {
	_, ok := t.lookup(model)
	return ok
}

func (t Table) lookup(model string) (Entry, bool) {
	if entry, ok := t[model]; ok {
		return entry, true
	}
	var (
		best    Entry
		bestLen = -1
	)
	for key, entry := range t {
		if strings.HasPrefix(model, key) && len(key) > bestLen {
			best = entry
			bestLen = len(key)
		}
	}
	return best, bestLen >= 0
}
