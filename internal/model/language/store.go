package language

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Store exposes language lookups for handlers and services.
type Store interface {
	List() []Language
	FindByKey(key string) (Language, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Language
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied languages.
func NewMemoryStore(items []Language) *MemoryStore {
	return &MemoryStore{items: append([]Language(nil), items...)}
}

// List returns the configured languages in display order.
func (s *MemoryStore) List() []Language {
	return append([]Language(nil), s.items...)
}

// FindByKey looks up a language by its UI key.
func (s *MemoryStore) FindByKey(key string) (Language, bool) {
	for _, item := range s.items {
		if item.Key == key {
			return item, true
		}
	}
	return Language{}, false
}

type fileFormat struct {
	Languages []Language `yaml:"languages"`
}

// LoadFile 从 YAML 文件读取语言表，替换内置预设
func LoadFile(path string) ([]Language, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read languages file: %w", err)
	}

	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse languages file %s: %w", path, err)
	}

	if err := Validate(doc.Languages); err != nil {
		return nil, fmt.Errorf("languages file %s: %w", path, err)
	}
	return doc.Languages, nil
}

// Validate checks that keys are unique and every entry carries both service codes.
func Validate(items []Language) error {
	if len(items) == 0 {
		return errors.New("language table is empty")
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		key := strings.TrimSpace(item.Key)
		if key == "" {
			return fmt.Errorf("entry %d: key is required", i)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("entry %d: duplicate key %q", i, key)
		}
		seen[key] = struct{}{}

		if strings.TrimSpace(item.RecognitionLocale) == "" {
			return fmt.Errorf("language %q: recognitionLocale is required", key)
		}
		if strings.TrimSpace(item.SynthesisCode) == "" {
			return fmt.Errorf("language %q: synthesisCode is required", key)
		}
	}
	return nil
}
