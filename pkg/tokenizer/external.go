package tokenizer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/samogod/bookrnn/pkg/config"
)

const (
	inputPlaceholder  = "{input}"
	outputPlaceholder = "{output}"
)

// External runs tokenize/detokenize executables that exchange text through
// files, the way the Stanford parser's tokenize.sh and detokenize.sh do.
// The temp file paths are substituted for {input} and {output} in the
// arguments and also exported as TOKENIZER_INPUT and TOKENIZER_OUTPUT.
// Without an {output} argument the executable may write to stdout instead.
type External struct {
	Command           string
	Args              []string
	DetokenizeCommand string
	DetokenizeArgs    []string
}

func (e *External) Tokenize(ctx context.Context, text string) ([]string, error) {
	out, err := runScript(ctx, e.Command, e.Args, text)
	if err != nil {
		return nil, fmt.Errorf("tokenizer failed: %w", err)
	}

	tokens := SplitWords(out)
	if DebugLog != nil {
		DebugLog("total tokens in dataset: %d", len(tokens))
	}
	return tokens, nil
}

func (e *External) Detokenize(ctx context.Context, tokens []string) (string, error) {
	text := strings.Join(tokens, " ")
	if e.DetokenizeCommand == "" {
		return JoinWords(tokens), nil
	}

	out, err := runScript(ctx, e.DetokenizeCommand, e.DetokenizeArgs, text)
	if err != nil {
		return "", fmt.Errorf("detokenizer failed: %w", err)
	}
	return out, nil
}

func findExecutable(command string) (string, error) {
	if strings.HasPrefix(command, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			command = filepath.Join(home, command[2:])
		}
	}

	if strings.ContainsRune(command, filepath.Separator) {
		if _, err := os.Stat(command); err != nil {
			return "", fmt.Errorf("%s not found: %w", command, err)
		}
		return command, nil
	}

	path, err := exec.LookPath(command)
	if err == nil {
		return path, nil
	}

	local := filepath.Join(config.GetConfigDir(), command)
	if _, statErr := os.Stat(local); statErr == nil {
		return local, nil
	}
	return "", fmt.Errorf("%s not found in PATH or %s: %w", command, config.GetConfigDir(), err)
}

func runScript(ctx context.Context, command string, args []string, input string) (string, error) {
	path, err := findExecutable(command)
	if err != nil {
		return "", err
	}

	workDir, err := os.MkdirTemp("", "bookrnn-tok-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inFile := filepath.Join(workDir, "in.txt")
	outFile := filepath.Join(workDir, "out.txt")

	if err := os.WriteFile(inFile, []byte(input), 0644); err != nil {
		return "", fmt.Errorf("failed to write tokenizer input: %w", err)
	}

	usesOutputFile := false
	expanded := make([]string, len(args))
	for i, arg := range args {
		if strings.Contains(arg, outputPlaceholder) {
			usesOutputFile = true
		}
		arg = strings.ReplaceAll(arg, inputPlaceholder, inFile)
		expanded[i] = strings.ReplaceAll(arg, outputPlaceholder, outFile)
	}

	if DebugLog != nil {
		DebugLog("executing: %s %s", path, strings.Join(expanded, " "))
	}

	cmd := exec.CommandContext(ctx, path, expanded...)
	cmd.Env = append(os.Environ(),
		"TOKENIZER_INPUT="+inFile,
		"TOKENIZER_OUTPUT="+outFile,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w, output: %s", filepath.Base(path), err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		if os.IsNotExist(err) && !usesOutputFile {
			return stdout.String(), nil
		}
		return "", fmt.Errorf("failed to read tokenizer output: %w", err)
	}

	return string(data), nil
}
