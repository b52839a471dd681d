// Package cache persists reusable analysis command lists keyed by target
// type, so repeated analyses of the same kind of object skip the LLM.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Template is a reusable command list for one target type. Every command
// carries the {name} placeholder where the target identity belongs.
type Template struct {
	Commands  []string  `json:"commands"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
}

// Store owns cache/analyze_templates.json under the state directory.
type Store struct {
	mu        sync.Mutex
	path      string
	templates map[string]*Template
}

// Open loads the template cache under baseDir. A corrupt file starts
// empty; losing cached commands only costs one LLM round trip.
func Open(baseDir string) (*Store, error) {
	cacheDir := filepath.Join(baseDir, "cache")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", cacheDir, err)
	}
	s := &Store{
		path:      filepath.Join(cacheDir, "analyze_templates.json"),
		templates: make(map[string]*Template),
	}
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, &s.templates); err != nil {
			slog.Warn("cache: corrupt template cache, starting empty", "path", s.path, "err", err)
			s.templates = make(map[string]*Template)
		}
	}
	return s, nil
}

// Get returns the cached commands for targetType, bumping the hit counter.
//
// Expectations:
//   - Returns the stored commands after a Set
//   - Each Get increments hit_count and persists it
//   - Unknown type returns ok=false
func (s *Store) Get(targetType string) ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[targetType]
	if !ok {
		return nil, false
	}
	tpl.HitCount++
	if err := s.persist(); err != nil {
		slog.Warn("cache: persist after hit", "err", err)
	}
	out := make([]string, len(tpl.Commands))
	copy(out, tpl.Commands)
	return out, true
}

// Set stores commands for targetType. Commands missing the {name}
// placeholder are rejected: a template without the placeholder would
// analyze the wrong target on every reuse.
func (s *Store) Set(targetType string, commands []string) error {
	if len(commands) == 0 {
		return fmt.Errorf("cache: empty command list for %q", targetType)
	}
	for _, cmd := range commands {
		if !strings.Contains(cmd, "{name}") {
			return fmt.Errorf("cache: command %q missing {name} placeholder", cmd)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[targetType] = &Template{
		Commands:  append([]string(nil), commands...),
		CreatedAt: time.Now(),
	}
	return s.persist()
}

// Exists reports whether a template is cached without bumping hits.
func (s *Store) Exists(targetType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.templates[targetType]
	return ok
}

// Clear removes the template for targetType, or every template when
// targetType is empty. Returns the number of templates removed.
func (s *Store) Clear(targetType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if targetType == "" {
		n := len(s.templates)
		s.templates = make(map[string]*Template)
		return n, s.persist()
	}
	if _, ok := s.templates[targetType]; !ok {
		return 0, nil
	}
	delete(s.templates, targetType)
	return 1, s.persist()
}

// ListAll returns a copy of every cached template keyed by target
// type. Use Types for a sorted listing.
func (s *Store) ListAll() map[string]Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Template, len(s.templates))
	for k, v := range s.templates {
		out[k] = *v
	}
	return out
}

// Types returns the cached target types, sorted.
func (s *Store) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.templates))
	for k := range s.templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.templates, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write %s: %w", s.path, err)
	}
	return nil
}
