package review

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE used for budget estimates.
const DefaultEncoding = "cl100k_base"

// TokenCounter estimates prompt sizes.
type TokenCounter interface {
	CountTokens(text string) int
}

// Tokenizer counts tokens with tiktoken.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the default encoding.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", DefaultEncoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// CountTokens implements TokenCounter.
func (t *Tokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// ApproxCounter assumes four bytes per token.
type ApproxCounter struct{}

// CountTokens implements TokenCounter.
func (ApproxCounter) CountTokens(text string) int {
	return (len(text) + 3) / 4
}

// DefaultCounter returns a tiktoken counter, or ApproxCounter when the
// encoding cannot be loaded.
func DefaultCounter() TokenCounter {
	tok, err := NewTokenizer()
	if err != nil {
		return ApproxCounter{}
	}
	return tok
}
