package io

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// Scratch is a per-request temporary directory
type Scratch struct {
	dir string
}

// NewScratch creates a fresh directory under root (the OS temp dir if empty)
func NewScratch(root string) (*Scratch, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("creating scratch root: %w", err)
		}
	}

	dir, err := os.MkdirTemp(root, "grains-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}

	return &Scratch{dir: dir}, nil
}

// Dir returns the directory path
func (s *Scratch) Dir() string {
	return s.dir
}

// Path returns a sanitized file path inside the directory
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, SecureFilename(name))
}

// Close removes the directory and everything in it
func (s *Scratch) Close() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing scratch directory: %w", err)
	}
	return nil
}

// SecureFilename reduces a client-supplied name to a safe base name.
// The extension survives even when nothing of the stem does, so "图.png"
// becomes "upload.png". It never returns an empty string.
func SecureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")

	ext := strings.TrimRight(filepath.Ext(name), "._")
	stem := strings.Trim(strings.TrimSuffix(name, filepath.Ext(name)), "._")
	if stem == "" {
		stem = "upload"
	}
	return stem + ext
}
