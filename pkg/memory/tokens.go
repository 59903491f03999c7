package memory

import (
	"log/slog"
	"math"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultCharsPerToken is tuned for mixed Hebrew/English content, where
// BPE-based estimates over-count Hebrew text.
const DefaultCharsPerToken = 3.5

// TokenEstimator estimates token counts for message content. When a
// tokenizer model is configured it uses the tiktoken encoding for that
// model; otherwise it falls back to a chars-per-token heuristic.
type TokenEstimator struct {
	charsPerToken float64

	mu       sync.Mutex
	model    string
	encoding *tiktoken.Tiktoken
	loadErr  bool
}

// NewTokenEstimator creates an estimator. model may be empty to use the
// heuristic only.
func NewTokenEstimator(model string, charsPerToken float64) *TokenEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &TokenEstimator{
		charsPerToken: charsPerToken,
		model:         model,
	}
}

// Estimate returns the estimated token count for content. Never returns
// a negative value; empty content estimates to 0.
func (e *TokenEstimator) Estimate(content string) int {
	if content == "" {
		return 0
	}
	if enc := e.loadEncoding(); enc != nil {
		return len(enc.Encode(content, nil, nil))
	}
	return int(math.Ceil(float64(len([]rune(content))) / e.charsPerToken))
}

func (e *TokenEstimator) loadEncoding() *tiktoken.Tiktoken {
	if e.model == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.encoding != nil || e.loadErr {
		return e.encoding
	}
	enc, err := tiktoken.EncodingForModel(e.model)
	if err != nil {
		slog.Warn("Failed to load tiktoken encoding, using heuristic",
			"model", e.model, "error", err)
		e.loadErr = true
		return nil
	}
	e.encoding = enc
	return enc
}
