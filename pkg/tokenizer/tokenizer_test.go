package tokenizer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/bookrnn/pkg/config"
)

func TestSplitWords(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"simple", "the cat sat", []string{"the", "cat", "sat"}},
		{"double spaces", "the  cat", []string{"the", "cat"}},
		{"newline becomes token", "one\ntwo", []string{"one", "\n", "two"}},
		{"crlf", "one\r\ntwo", []string{"one", "\n", "two"}},
		{"tabs trimmed", "\tone two\t", []string{"one", "two"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitWords(tt.input))
		})
	}
}

func TestJoinWords(t *testing.T) {
	assert.Equal(t, "one two\nthree", JoinWords([]string{"one", "two", "\n", "three"}))
	assert.Equal(t, "", JoinWords(nil))
}

func TestCharsRoundTrip(t *testing.T) {
	ctx := context.Background()
	tokens, err := Chars{}.Tokenize(ctx, "héllo")
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "é", "l", "l", "o"}, tokens)

	text, err := Chars{}.Detokenize(ctx, tokens)
	require.NoError(t, err)
	assert.Equal(t, "héllo", text)
}

func TestNewPicksImplementation(t *testing.T) {
	assert.IsType(t, Chars{}, New(config.LevelChar, config.Tokenizer{Command: "tok.sh"}))
	assert.IsType(t, Whitespace{}, New(config.LevelWord, config.Tokenizer{}))
	assert.IsType(t, &External{}, New(config.LevelWord, config.Tokenizer{Command: "tok.sh"}))
}

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestExternalTokenizeWithFiles(t *testing.T) {
	script := writeScript(t, "tokenize.sh", `sed 's/,/ ,/g' "$1" > "$2"`)
	ext := &External{Command: script, Args: []string{"{input}", "{output}"}}

	tokens, err := ext.Tokenize(context.Background(), "Well, then\nhe said")
	require.NoError(t, err)
	assert.Equal(t, []string{"Well", ",", "then", "\n", "he", "said"}, tokens)
}

func TestExternalTokenizeFromStdoutAndEnv(t *testing.T) {
	script := writeScript(t, "tokenize.sh", `cat "$TOKENIZER_INPUT"`)
	ext := &External{Command: script}

	tokens, err := ext.Tokenize(context.Background(), "a b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tokens)
}

func TestExternalDetokenize(t *testing.T) {
	script := writeScript(t, "detokenize.sh", `sed 's/ ,/,/g' "$1" > "$2"`)
	ext := &External{
		Command:           "unused",
		DetokenizeCommand: script,
		DetokenizeArgs:    []string{"{input}", "{output}"},
	}

	text, err := ext.Detokenize(context.Background(), []string{"Well", ",", "then"})
	require.NoError(t, err)
	assert.Equal(t, "Well, then", text)
}

func TestExternalDetokenizeWithoutCommand(t *testing.T) {
	ext := &External{Command: "unused"}

	text, err := ext.Detokenize(context.Background(), []string{"a", "\n", "b"})
	require.NoError(t, err)
	assert.Equal(t, "a\nb", text)
}

func TestExternalFailurePropagates(t *testing.T) {
	script := writeScript(t, "broken.sh", `echo "parser exploded" >&2; exit 3`)
	ext := &External{Command: script, Args: []string{"{input}", "{output}"}}

	_, err := ext.Tokenize(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parser exploded")
}

func TestExternalMissingExecutable(t *testing.T) {
	ext := &External{Command: "definitely-not-a-real-tokenizer"}

	_, err := ext.Tokenize(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
