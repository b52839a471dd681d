// Package memory is the cross-session key/value store that feeds durable
// facts back into orchestrator prompts.
package memory

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

// MaxEntries bounds the store; least-used entries are evicted beyond it.
const MaxEntries = 200

// recencyWindow is the horizon over which recency decays to zero.
const recencyWindow = 30 * 24 * time.Hour

// Category classifies a memory entry.
type Category string

const (
	CategoryFact       Category = "fact"
	CategoryPreference Category = "preference"
	CategoryNote       Category = "note"
)

var categoryLabel = map[Category]string{
	CategoryFact:       "Fact",
	CategoryPreference: "Pref",
	CategoryNote:       "Note",
}

// Entry is one durable fact.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	HitCount  int       `json:"hit_count"`
}

// Store owns memory.json under the state directory. Mutation serializes
// through an internal lock; every write rewrites the whole document.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry
	now     func() time.Time // test hook
}

// Open loads the store under baseDir. A corrupt document starts empty.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create %s: %w", baseDir, err)
	}
	s := &Store{
		path:    filepath.Join(baseDir, "memory.json"),
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	data, err := os.ReadFile(s.path)
	if err == nil {
		if err := json.Unmarshal(data, &s.entries); err != nil {
			slog.Warn("memory: corrupt store, starting empty", "path", s.path, "err", err)
			s.entries = make(map[string]*Entry)
		}
	}
	return s, nil
}

// Remember upserts a fact.
//
// Expectations:
//   - New key: entry created with hit_count=0
//   - Existing key, changed value: value replaced, updated_at advanced
//   - Existing key, same value: updated_at unchanged
//   - Exceeding MaxEntries evicts by ascending (hit_count, updated_at)
func (s *Store) Remember(key, value string, category Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok {
		if e.Value != value || e.Category != category {
			e.Value = value
			e.Category = category
			e.UpdatedAt = now
		}
	} else {
		s.entries[key] = &Entry{
			Key:       key,
			Value:     value,
			Category:  category,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.evict()
	}
	return s.persist()
}

// Recall returns the value for key, incrementing hit_count iff present.
func (s *Store) Recall(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false
	}
	e.HitCount++
	if err := s.persist(); err != nil {
		slog.Warn("memory: persist after recall", "err", err)
	}
	return e.Value, true
}

// Forget removes key. Returns false when the key was absent.
func (s *Store) Forget(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return false, nil
	}
	delete(s.entries, key)
	return true, s.persist()
}

// Search does case-insensitive substring match over key and value,
// optionally filtered by category, ordered by hit_count descending.
func (s *Store) Search(query string, category Category) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	var out []Entry
	for _, e := range s.entries {
		if category != "" && e.Category != category {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(e.Key), q) &&
			!strings.Contains(strings.ToLower(e.Value), q) {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ListAll returns all entries ordered by key.
func (s *Store) ListAll() []Entry {
	return s.Search("", "")
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*Entry)
	return s.persist()
}

// score weights frequent use against recent use. Recency is normalized
// over a 30-day window and clamped non-negative.
func (s *Store) score(e *Entry, now time.Time) float64 {
	recency := 1.0 - float64(now.Sub(e.UpdatedAt))/float64(recencyWindow)
	if recency < 0 {
		recency = 0
	}
	return 0.3*float64(e.HitCount) + 0.7*recency
}

// ContextPrompt formats the top maxEntries entries as a bullet block for
// prompt injection. Empty store yields "".
//
// Expectations:
//   - At most maxEntries bullet lines under a single header
//   - Entries ranked by 0.3·hit_count + 0.7·recency
//   - Lines rendered as "- [Fact|Pref|Note] key: value"
//   - Empty store returns ""
func (s *Store) ContextPrompt(maxEntries int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 || maxEntries <= 0 {
		return ""
	}

	now := s.now()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := s.score(entries[i], now), s.score(entries[j], now)
		if si != sj {
			return si > sj
		}
		return entries[i].Key < entries[j].Key
	})
	if len(entries) > maxEntries {
		entries = entries[:maxEntries]
	}

	var b strings.Builder
	b.WriteString("Known facts from previous sessions:\n")
	for _, e := range entries {
		label := categoryLabel[e.Category]
		if label == "" {
			label = "Note"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", label, e.Key, e.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}

// evict drops the least valuable entries (ascending hit_count, then
// oldest updated_at) until the count fits the bound.
func (s *Store) evict() {
	if len(s.entries) <= MaxEntries {
		return
	}
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].HitCount != entries[j].HitCount {
			return entries[i].HitCount < entries[j].HitCount
		}
		return entries[i].UpdatedAt.Before(entries[j].UpdatedAt)
	})
	for _, e := range entries[:len(entries)-MaxEntries] {
		delete(s.entries, e.Key)
	}
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("memory: write %s: %w", s.path, err)
	}
	return nil
}
