package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"cnquant/internal/domain"
)

// Compile-time interface check.
var _ PoolStore = (*FilePoolStore)(nil)

// FilePoolStore reads stock pools from plain text files in a directory. Each
// line is "code [name]", separated by whitespace or a comma; blank lines and
// lines starting with '#' are ignored.
type FilePoolStore struct {
	Dir string
}

// NewFilePoolStore creates a FilePoolStore rooted at dir.
func NewFilePoolStore(dir string) *FilePoolStore {
	return &FilePoolStore{Dir: dir}
}

// LoadPool reads the named pool. The name may carry its own extension;
// otherwise ".csv" and ".txt" are tried.
func (s *FilePoolStore) LoadPool(_ context.Context, name string) ([]string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var codes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		})
		if len(fields) == 0 {
			continue
		}
		codes = append(codes, fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading pool %s: %w", name, err)
	}
	return codes, nil
}

func (s *FilePoolStore) resolve(name string) (string, error) {
	for _, candidate := range []string{name, name + ".csv", name + ".txt"} {
		path := filepath.Join(s.Dir, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("pool %s: %w", name, domain.ErrNotFound)
}

// SavePool writes symbols to <Dir>/<name>.csv, one code per line, replacing
// any pool of that name. A name with an extension is used as is.
func (s *FilePoolStore) SavePool(_ context.Context, name string, symbols []string) (string, error) {
	if filepath.Ext(name) == "" {
		name += ".csv"
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, sym := range symbols {
		b.WriteString(sym)
		b.WriteByte('\n')
	}
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing pool %s: %w", name, err)
	}
	return path, nil
}
