package textdata

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer splits raw text into the tokens a Dictionary numberizes.
type Tokenizer interface {
	Tokenize(text string) []string
}

// WhitespaceTokenizer splits on Unicode whitespace. Corpora that ship
// pre-tokenized (one space-separated sentence per line) use this.
type WhitespaceTokenizer struct {
	// Lowercase folds the text before splitting.
	Lowercase bool
}

// Tokenize splits text on whitespace.
func (t WhitespaceTokenizer) Tokenize(text string) []string {
	if t.Lowercase {
		text = strings.ToLower(text)
	}
	return strings.Fields(text)
}

// BPETokenizer segments text into byte-pair-encoded subword tokens, so the
// model vocabulary stays closed over arbitrary input. Each subword is
// rendered as its decoded string form, which keeps the Dictionary as the
// single id authority.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewBPETokenizer loads a named BPE encoding (for example "cl100k_base").
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("textdata: load BPE encoding %q: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc}, nil
}

// Tokenize segments text into subword strings.
func (t *BPETokenizer) Tokenize(text string) []string {
	ids := t.enc.Encode(text, nil, nil)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.enc.Decode([]int{id})
	}
	return out
}
