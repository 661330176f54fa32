// Package vocab maps tokens to dense integer ids.
package vocab

import (
	"fmt"
	"sort"
)

// Unknown is the out-of-vocabulary sentinel of word vocabularies.
const Unknown = "<UNK>"

// Vocabulary is a bounded token <-> id mapping. Ids are 0..Size()-1.
// UnknownID is -1 when the vocabulary has no out-of-vocabulary sentinel,
// which is the case for character vocabularies built from the whole text.
type Vocabulary struct {
	Tokens    []string
	UnknownID int

	index map[string]int
}

func newVocabulary(tokens []string, unknownID int) *Vocabulary {
	v := &Vocabulary{Tokens: tokens, UnknownID: unknownID}
	v.reindex()
	return v
}

func (v *Vocabulary) reindex() {
	v.index = make(map[string]int, len(v.Tokens))
	for i, tok := range v.Tokens {
		v.index[tok] = i
	}
}

// NewChars builds the sorted set of characters in text.
func NewChars(text string) *Vocabulary {
	seen := make(map[rune]bool)
	for _, r := range text {
		seen[r] = true
	}

	chars := make([]string, 0, len(seen))
	for r := range seen {
		chars = append(chars, string(r))
	}
	sort.Strings(chars)

	return newVocabulary(chars, -1)
}

// NewWords keeps the size-1 most frequent tokens, ties going to the token
// seen first, and appends Unknown as the last id.
func NewWords(tokens []string, size int) *Vocabulary {
	counts := make(map[string]int)
	var order []string
	for _, tok := range tokens {
		if _, ok := counts[tok]; !ok {
			order = append(order, tok)
		}
		counts[tok]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	keep := size - 1
	if keep < 0 {
		keep = 0
	}
	if len(order) > keep {
		order = order[:keep]
	}

	words := make([]string, 0, len(order)+1)
	for _, tok := range order {
		if tok != Unknown {
			words = append(words, tok)
		}
	}
	unk := len(words)
	words = append(words, Unknown)

	return newVocabulary(words, unk)
}

// Restore rebuilds the lookup index after the vocabulary was decoded from a
// checkpoint.
func Restore(tokens []string, unknownID int) *Vocabulary {
	return newVocabulary(tokens, unknownID)
}

func (v *Vocabulary) Size() int {
	return len(v.Tokens)
}

func (v *Vocabulary) ID(token string) (int, bool) {
	if v.index == nil {
		v.reindex()
	}
	id, ok := v.index[token]
	return id, ok
}

func (v *Vocabulary) Token(id int) string {
	if id < 0 || id >= len(v.Tokens) {
		if v.UnknownID >= 0 {
			return v.Tokens[v.UnknownID]
		}
		return ""
	}
	return v.Tokens[id]
}

// Encode maps tokens to ids. Out-of-vocabulary tokens become UnknownID, or
// an error when the vocabulary has no sentinel.
func (v *Vocabulary) Encode(tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		id, ok := v.ID(tok)
		if !ok {
			if v.UnknownID < 0 {
				return nil, fmt.Errorf("token %q is not in the vocabulary", tok)
			}
			id = v.UnknownID
		}
		ids[i] = id
	}
	return ids, nil
}

func (v *Vocabulary) Decode(ids []int) []string {
	tokens := make([]string, len(ids))
	for i, id := range ids {
		tokens[i] = v.Token(id)
	}
	return tokens
}

// PadWords spells every word as character ids, cut or right-padded to
// maxWordLen. The pad id is chars.Size(), one past the last character.
func PadWords(words []string, chars *Vocabulary, maxWordLen int) ([][]int, error) {
	pad := chars.Size()
	out := make([][]int, len(words))

	for i, word := range words {
		row := make([]int, maxWordLen)
		for j := range row {
			row[j] = pad
		}

		j := 0
		for _, r := range word {
			if j == maxWordLen {
				break
			}
			id, ok := chars.ID(string(r))
			if !ok {
				return nil, fmt.Errorf("character %q of %q is not in the vocabulary", r, word)
			}
			row[j] = id
			j++
		}
		out[i] = row
	}

	return out, nil
}
