// Package tokenizer turns corpus text into tokens and generated tokens back
// into text. Word tokenization is delegated to an external executable when
// one is configured.
package tokenizer

import (
	"context"
	"strings"

	"github.com/samogod/bookrnn/pkg/config"
)

var DebugLog func(string, ...interface{})

type Tokenizer interface {
	Tokenize(ctx context.Context, text string) ([]string, error)
	Detokenize(ctx context.Context, tokens []string) (string, error)
}

// New picks the tokenizer for a model level.
func New(level string, cfg config.Tokenizer) Tokenizer {
	if level == config.LevelChar {
		return Chars{}
	}
	if cfg.Command == "" {
		return Whitespace{}
	}
	return &External{
		Command:           cfg.Command,
		Args:              cfg.Args,
		DetokenizeCommand: cfg.DetokenizeCommand,
		DetokenizeArgs:    cfg.DetokenizeArgs,
	}
}

// Chars treats every rune as a token.
type Chars struct{}

func (Chars) Tokenize(_ context.Context, text string) ([]string, error) {
	tokens := make([]string, 0, len(text))
	for _, r := range text {
		tokens = append(tokens, string(r))
	}
	return tokens, nil
}

func (Chars) Detokenize(_ context.Context, tokens []string) (string, error) {
	return strings.Join(tokens, ""), nil
}

// Whitespace splits on spaces and keeps line breaks as tokens of their own.
type Whitespace struct{}

func (Whitespace) Tokenize(_ context.Context, text string) ([]string, error) {
	return SplitWords(text), nil
}

func (Whitespace) Detokenize(_ context.Context, tokens []string) (string, error) {
	return JoinWords(tokens), nil
}

// SplitWords pads newlines with spaces, splits on single spaces and drops
// the empty strings that runs of spaces produce.
func SplitWords(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n", " \n ")

	parts := strings.Split(text, " ")
	tokens := parts[:0]
	for _, p := range parts {
		p = strings.Trim(p, "\t")
		if p == "" {
			continue
		}
		tokens = append(tokens, p)
	}
	return tokens
}

// JoinWords is the inverse of SplitWords up to spacing.
func JoinWords(tokens []string) string {
	text := strings.Join(tokens, " ")
	text = strings.ReplaceAll(text, " \n ", "\n")
	text = strings.ReplaceAll(text, " \n", "\n")
	text = strings.ReplaceAll(text, "\n ", "\n")
	return text
}
