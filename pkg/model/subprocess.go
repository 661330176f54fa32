package model

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samogod/bookrnn/pkg/dataset"
)

// SubprocessConfig describes an external training backend, typically a
// Keras/PyTorch script. Scripts ending in .py run under python3.
type SubprocessConfig struct {
	Script string
	Args   []string
	Env    []string
}

type backendRequest struct {
	Op            string  `json:"op"`
	VocabSize     int     `json:"vocab_size,omitempty"`
	MaxLen        int     `json:"maxlen,omitempty"`
	EmbeddingPath string  `json:"embedding,omitempty"`
	WordCharsPath string  `json:"word_chars,omitempty"`
	Path          string  `json:"path,omitempty"`
	Contexts      [][]int `json:"contexts,omitempty"`
	Targets       []int   `json:"targets,omitempty"`
}

type backendResponse struct {
	Predictions [][]float64 `json:"predictions,omitempty"`
	Loss        float64     `json:"loss,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Subprocess drives a long-running backend over newline-delimited JSON on
// its stdin and stdout. One request is in flight at a time.
type Subprocess struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Scanner
	vocabSize int
	stderr    *lockedBuffer
}

// lockedBuffer collects backend stderr, which exec copies from its own
// goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// StartSubprocess launches the backend and initializes it, restoring the
// checkpoint at loadPath when one is given.
func StartSubprocess(cfg SubprocessConfig, opts Options, loadPath string) (*Subprocess, error) {
	script, err := filepath.Abs(cfg.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for backend script: %w", err)
	}
	if _, err := os.Stat(script); os.IsNotExist(err) {
		return nil, fmt.Errorf("backend script not found at %s", script)
	}

	// The backend runs from its own directory, so paths handed to it must
	// be absolute.
	if loadPath != "" {
		if loadPath, err = filepath.Abs(loadPath); err != nil {
			return nil, fmt.Errorf("failed to get absolute path for checkpoint: %w", err)
		}
	}
	if opts.EmbeddingPath != "" {
		if opts.EmbeddingPath, err = filepath.Abs(opts.EmbeddingPath); err != nil {
			return nil, fmt.Errorf("failed to get absolute path for embedding matrix: %w", err)
		}
	}
	if opts.WordCharsPath != "" {
		if opts.WordCharsPath, err = filepath.Abs(opts.WordCharsPath); err != nil {
			return nil, fmt.Errorf("failed to get absolute path for word spellings: %w", err)
		}
	}

	name := script
	args := cfg.Args
	if strings.HasSuffix(script, ".py") {
		name = "python3"
		args = append([]string{script}, cfg.Args...)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = filepath.Dir(script)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open backend stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open backend stdout: %w", err)
	}

	if DebugLog != nil {
		DebugLog("starting backend: %s %s", name, strings.Join(args, " "))
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start backend: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 256*1024*1024)

	s := &Subprocess{
		cmd:       cmd,
		stdin:     stdin,
		stdout:    scanner,
		vocabSize: opts.VocabSize,
		stderr:    stderr,
	}

	req := backendRequest{
		Op:            "init",
		VocabSize:     opts.VocabSize,
		MaxLen:        opts.MaxLen,
		EmbeddingPath: opts.EmbeddingPath,
		WordCharsPath: opts.WordCharsPath,
	}
	if loadPath != "" {
		req.Op = "load"
		req.Path = loadPath
	}

	if _, err := s.call(context.Background(), req); err != nil {
		s.Close()
		return nil, fmt.Errorf("backend %s failed: %w", req.Op, err)
	}

	return s, nil
}

func (s *Subprocess) call(ctx context.Context, req backendRequest) (*backendResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	line = append(line, '\n')

	if _, err := s.stdin.Write(line); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	if !s.stdout.Scan() {
		if err := s.stdout.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("backend exited, output: %s", strings.TrimSpace(s.stderr.String()))
	}

	var resp backendResponse
	if err := json.Unmarshal(s.stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w, output: %s", err, s.stdout.Text())
	}

	if resp.Error != "" {
		return nil, fmt.Errorf("backend error: %s", resp.Error)
	}

	return &resp, nil
}

func (s *Subprocess) VocabSize() int {
	return s.vocabSize
}

func (s *Subprocess) Predict(ctx context.Context, contexts [][]int) ([][]float64, error) {
	resp, err := s.call(ctx, backendRequest{Op: "predict", Contexts: contexts})
	if err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(contexts) {
		return nil, fmt.Errorf("backend returned %d predictions for %d contexts", len(resp.Predictions), len(contexts))
	}
	return resp.Predictions, nil
}

func (s *Subprocess) Fit(ctx context.Context, batch dataset.Batch) (float64, error) {
	resp, err := s.call(ctx, backendRequest{Op: "fit", Contexts: batch.Contexts, Targets: batch.Targets})
	if err != nil {
		return 0, err
	}
	return resp.Loss, nil
}

func (s *Subprocess) Save(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for checkpoint: %w", err)
	}
	_, err = s.call(context.Background(), backendRequest{Op: "save", Path: abs})
	return err
}

// Close ends the backend by closing its stdin and waits for it to exit.
func (s *Subprocess) Close() error {
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("backend exited with error: %w", err)
	}
	return nil
}
