package session

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileBackend stores entries as a flat YAML mapping in a single file.
// Writes go through a temp file and rename so a crash never leaves a torn file.
type FileBackend struct {
	path string
}

func NewFileBackend(path string) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("session file path is empty")
	}
	return &FileBackend{path: path}, nil
}

// Path returns the file location.
func (b *FileBackend) Path() string {
	return b.path
}

func (b *FileBackend) Load(key string) (string, bool, error) {
	entries, err := b.read()
	if err != nil {
		return "", false, err
	}
	v, ok := entries[key]
	return v, ok && v != "", nil
}

func (b *FileBackend) Save(key, token string) error {
	entries, err := b.read()
	if err != nil {
		return err
	}
	entries[key] = token
	return b.write(entries)
}

// Delete removes key; the file itself is removed once it holds no entries.
func (b *FileBackend) Delete(key string) error {
	entries, err := b.read()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	if len(entries) == 0 {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}
	return b.write(entries)
}

func (b *FileBackend) read() (map[string]string, error) {
	entries := make(map[string]string)
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse session file %s: %w", b.path, err)
	}
	if entries == nil {
		entries = make(map[string]string)
	}
	return entries, nil
}

func (b *FileBackend) write(entries map[string]string) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode session file: %w", err)
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create session directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write session file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close session file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}
