// Package fsutil holds small filesystem helpers shared by the input and
// output layers.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// OpenScoped opens a file by opening a root at the file's directory.
// This scopes access to the intended directory and avoids path traversal.
func OpenScoped(path string) (*os.File, error) {
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid file path: %q", path)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	return root.Open(base)
}

// ReadFileScoped reads a whole file through OpenScoped.
func ReadFileScoped(path string) ([]byte, error) {
	file, err := OpenScoped(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

// HashFile returns the hex SHA-256 of a file's content.
func HashFile(path string) (string, error) {
	file, err := OpenScoped(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Entry is a regular file found by ListFiles.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ListFiles returns regular files directly inside dir whose name matches
// one of exts (case-insensitive, compression suffixes allowed), oldest
// modification time first. Names in skip are ignored.
func ListFiles(dir string, exts, compressed []string, skip ...string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[strings.ToLower(filepath.Base(s))] = true
	}

	var out []Entry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := strings.ToLower(e.Name())
		if skipped[name] || strings.HasPrefix(name, ".") || !hasExt(name, exts, compressed) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Path < out[j].Path
		}
		return out[i].ModTime.Before(out[j].ModTime)
	})
	return out, nil
}

func hasExt(name string, exts, compressed []string) bool {
	for _, c := range compressed {
		if strings.HasSuffix(name, c) {
			name = strings.TrimSuffix(name, c)
			break
		}
	}
	for _, ext := range exts {
		if strings.HasSuffix(name, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}
