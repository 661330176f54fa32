// Package corpus reads the book collection: a flat directory of plain text
// files whose names start with the author's name.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var DebugLog func(string, ...interface{})

type Library struct {
	Dir string
}

func New(dir string) *Library {
	return &Library{Dir: dir}
}

// AllFileNames lists regular files in the corpus directory, sorted by name.
func (l *Library) AllFileNames() ([]string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	return names, nil
}

func (l *Library) FileNamesWrittenBy(author string) ([]string, error) {
	all, err := l.AllFileNames()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, author) {
			names = append(names, name)
		}
	}

	return names, nil
}

func (l *Library) FileContents(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.Dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

// Load concatenates every book by author. maxChars truncates the result on a
// rune boundary; zero or negative keeps everything.
func (l *Library) Load(author string, maxChars int) (string, error) {
	names, err := l.FileNamesWrittenBy(author)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no books by %q in %s", author, l.Dir)
	}

	var sb strings.Builder
	for _, name := range names {
		if DebugLog != nil {
			DebugLog("reading %s", name)
		}
		contents, err := l.FileContents(name)
		if err != nil {
			return "", err
		}
		sb.WriteString(contents)
	}

	text := sb.String()
	if maxChars > 0 {
		text = truncateRunes(text, maxChars)
	}

	return text, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
