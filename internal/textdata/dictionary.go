// Package textdata handles the text side of DyNN: vocabularies, corpus
// download and extraction, tokenization and minibatching of token id
// sequences.
package textdata

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Reserved symbol ids. Every dictionary assigns these first, so models can
// rely on the numbers without consulting the dictionary.
const (
	// PadID pads batches to a rectangle.
	PadID = 0
	// UnkID stands in for out-of-vocabulary tokens.
	UnkID = 1
	// EOSID terminates every numberized sequence.
	EOSID = 2
)

// PadSymbol, UnkSymbol and EOSSymbol are the surface forms of the reserved
// ids.
const (
	PadSymbol = "<pad>"
	UnkSymbol = "<unk>"
	EOSSymbol = "<eos>"
)

// Dictionary maps token strings to contiguous ids and back. Ids 0..2 are
// reserved (pad, unk, eos); real tokens start at 3.
//
// A frozen dictionary rejects further additions; numberizing an unknown
// token then yields UnkID.
type Dictionary struct {
	id2tok []string
	tok2id map[string]int
	frozen bool
}

// NewDictionary returns a dictionary holding only the reserved symbols.
func NewDictionary() *Dictionary {
	d := &Dictionary{tok2id: make(map[string]int)}
	for _, s := range []string{PadSymbol, UnkSymbol, EOSSymbol} {
		d.tok2id[s] = len(d.id2tok)
		d.id2tok = append(d.id2tok, s)
	}
	return d
}

// DictionaryFromData builds a frozen dictionary from tokenized sentences,
// keeping the maxSize most frequent tokens (0 keeps all). Ties break
// alphabetically so the result is deterministic.
func DictionaryFromData(sentences [][]string, maxSize int) *Dictionary {
	counts := make(map[string]int)
	for _, sent := range sentences {
		for _, tok := range sent {
			counts[tok]++
		}
	}
	type entry struct {
		tok string
		n   int
	}
	entries := make([]entry, 0, len(counts))
	for tok, n := range counts {
		entries = append(entries, entry{tok, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].n != entries[j].n {
			return entries[i].n > entries[j].n
		}
		return entries[i].tok < entries[j].tok
	})
	if maxSize > 0 && len(entries) > maxSize {
		entries = entries[:maxSize]
	}

	d := NewDictionary()
	for _, e := range entries {
		d.add(e.tok)
	}
	d.Freeze()
	return d
}

func (d *Dictionary) add(tok string) int {
	if id, ok := d.tok2id[tok]; ok {
		return id
	}
	if d.frozen {
		return UnkID
	}
	id := len(d.id2tok)
	d.tok2id[tok] = id
	d.id2tok = append(d.id2tok, tok)
	return id
}

// Freeze stops the dictionary from growing. Unknown tokens map to UnkID
// afterwards.
func (d *Dictionary) Freeze() { d.frozen = true }

// Frozen reports whether the dictionary is frozen.
func (d *Dictionary) Frozen() bool { return d.frozen }

// Len returns the vocabulary size including the reserved symbols.
func (d *Dictionary) Len() int { return len(d.id2tok) }

// ID returns the id of tok, adding it when the dictionary is not frozen.
// Unknown tokens in a frozen dictionary map to UnkID.
func (d *Dictionary) ID(tok string) int { return d.add(tok) }

// Token returns the surface form of id.
func (d *Dictionary) Token(id int) (string, error) {
	if id < 0 || id >= len(d.id2tok) {
		return "", fmt.Errorf("textdata: token id %d out of range [0, %d)", id, len(d.id2tok))
	}
	return d.id2tok[id], nil
}

// Numberize converts a tokenized sentence to ids and appends EOSID.
func (d *Dictionary) Numberize(sent []string) []int {
	out := make([]int, 0, len(sent)+1)
	for _, tok := range sent {
		out = append(out, d.add(tok))
	}
	return append(out, EOSID)
}

// NumberizeAll numberizes every sentence.
func (d *Dictionary) NumberizeAll(sentences [][]string) [][]int {
	out := make([][]int, len(sentences))
	for i, s := range sentences {
		out[i] = d.Numberize(s)
	}
	return out
}

// String converts ids back to a space-joined sentence, stopping at the
// first EOSID and skipping pad symbols.
func (d *Dictionary) String(ids []int) (string, error) {
	var toks []string
	for _, id := range ids {
		if id == EOSID {
			break
		}
		if id == PadID {
			continue
		}
		tok, err := d.Token(id)
		if err != nil {
			return "", err
		}
		toks = append(toks, tok)
	}
	return strings.Join(toks, " "), nil
}

// Save writes the dictionary as one token per line, in id order.
func (d *Dictionary) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("textdata: create %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, tok := range d.id2tok {
		if _, err := fmt.Fprintln(w, tok); err != nil {
			return fmt.Errorf("textdata: write %s: %w", path, err)
		}
	}
	return w.Flush()
}

// LoadDictionary reads a dictionary written by Save. The result is frozen.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("textdata: open %s: %w", path, err)
	}
	defer f.Close()

	d := &Dictionary{tok2id: make(map[string]int)}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		tok := sc.Text()
		if _, dup := d.tok2id[tok]; dup {
			return nil, fmt.Errorf("textdata: %s: duplicate token %q", path, tok)
		}
		d.tok2id[tok] = len(d.id2tok)
		d.id2tok = append(d.id2tok, tok)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("textdata: read %s: %w", path, err)
	}
	for id, want := range []string{PadSymbol, UnkSymbol, EOSSymbol} {
		if id >= len(d.id2tok) || d.id2tok[id] != want {
			return nil, fmt.Errorf("textdata: %s: missing reserved symbol %s at id %d", path, want, id)
		}
	}
	d.Freeze()
	return d, nil
}
