package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRememberRecall_RoundTrip(t *testing.T) {
	// remember(k, v) then recall(k) returns v
	s := openTestStore(t)
	if err := s.Remember("env.db", "postgres", CategoryFact); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Recall("env.db")
	if !ok || got != "postgres" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}

func TestRecall_IncrementsHitCount(t *testing.T) {
	// recall increments hit_count by 1, only on successful recall
	s := openTestStore(t)
	s.Remember("k", "v", CategoryFact)
	s.Recall("k")
	s.Recall("missing")
	entries := s.ListAll()
	if len(entries) != 1 || entries[0].HitCount != 1 {
		t.Errorf("got %+v", entries)
	}
}

func TestRemember_SameValueKeepsUpdatedAt(t *testing.T) {
	// updated_at advances only on value change or re-insertion
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.Remember("k", "v", CategoryFact)
	s.now = func() time.Time { return base.Add(time.Hour) }
	s.Remember("k", "v", CategoryFact)
	if got := s.ListAll()[0].UpdatedAt; !got.Equal(base) {
		t.Errorf("updated_at advanced on unchanged value: %v", got)
	}
	s.Remember("k", "v2", CategoryFact)
	if got := s.ListAll()[0].UpdatedAt; !got.Equal(base.Add(time.Hour)) {
		t.Errorf("updated_at not advanced on change: %v", got)
	}
}

func TestSearch_SubstringOverKeyAndValue(t *testing.T) {
	// Case-insensitive substring match over key and value
	s := openTestStore(t)
	s.Remember("env.db", "PostgreSQL 16", CategoryFact)
	s.Remember("pref.editor", "vim", CategoryPreference)

	if got := s.Search("postgres", ""); len(got) != 1 || got[0].Key != "env.db" {
		t.Errorf("value match: got %+v", got)
	}
	if got := s.Search("EDITOR", ""); len(got) != 1 || got[0].Key != "pref.editor" {
		t.Errorf("key match: got %+v", got)
	}
}

func TestSearch_OrderedByHitCountDesc(t *testing.T) {
	// Results ordered by hit_count descending
	s := openTestStore(t)
	s.Remember("a", "shared", CategoryFact)
	s.Remember("b", "shared", CategoryFact)
	s.Recall("b")
	s.Recall("b")
	got := s.Search("shared", "")
	if len(got) != 2 || got[0].Key != "b" {
		t.Errorf("got %+v", got)
	}
}

func TestForget_RemovesEntry(t *testing.T) {
	// Forget removes the key; absent keys report false
	s := openTestStore(t)
	s.Remember("k", "v", CategoryNote)
	if ok, _ := s.Forget("k"); !ok {
		t.Error("expected true for present key")
	}
	if ok, _ := s.Forget("k"); ok {
		t.Error("expected false for absent key")
	}
}

func TestContextPrompt_RanksHitsAndRecency(t *testing.T) {
	// High hit count and high recency beat a stale zero-hit entry
	s := openTestStore(t)
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.Add(-20 * 24 * time.Hour) }
	s.Remember("env.db", "postgres", CategoryFact)
	s.Remember("pref.editor", "vim", CategoryPreference)
	for i := 0; i < 5; i++ {
		s.Recall("env.db")
	}
	s.now = func() time.Time { return now }
	s.Remember("note.port", "6380", CategoryNote)

	block := s.ContextPrompt(2)
	lines := strings.Split(block, "\n")
	bullets := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "- ") {
			bullets++
		}
	}
	if bullets != 2 {
		t.Fatalf("expected exactly 2 bullet lines, got %d in %q", bullets, block)
	}
	if !strings.Contains(block, "postgres") {
		t.Error("expected high-hit entry included")
	}
	if !strings.Contains(block, "6380") {
		t.Error("expected recent entry included")
	}
	if strings.Contains(block, "vim") {
		t.Error("expected stale zero-hit entry excluded")
	}
}

func TestContextPrompt_LineFormat(t *testing.T) {
	// Lines rendered as "- [Fact|Pref|Note] key: value"
	s := openTestStore(t)
	s.Remember("env.db", "postgres", CategoryFact)
	s.Remember("pref.editor", "vim", CategoryPreference)
	s.Remember("note.port", "6380", CategoryNote)
	block := s.ContextPrompt(10)
	for _, want := range []string{
		"- [Fact] env.db: postgres",
		"- [Pref] pref.editor: vim",
		"- [Note] note.port: 6380",
	} {
		if !strings.Contains(block, want) {
			t.Errorf("missing %q in %q", want, block)
		}
	}
}

func TestContextPrompt_EmptyStoreReturnsEmpty(t *testing.T) {
	// Empty store returns ""
	s := openTestStore(t)
	if got := s.ContextPrompt(5); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestEviction_DropsLeastUsedOldest(t *testing.T) {
	// Exceeding MaxEntries evicts by ascending (hit_count, updated_at)
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < MaxEntries; i++ {
		s.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		s.Remember(fmt.Sprintf("k%03d", i), "v", CategoryFact)
	}
	s.Recall("k000") // protect the oldest with a hit

	s.now = func() time.Time { return base.Add(time.Hour * 24) }
	s.Remember("overflow", "v", CategoryFact)

	if _, ok := s.Recall("k000"); !ok {
		t.Error("expected hit-protected entry to survive")
	}
	if _, ok := s.Recall("k001"); ok {
		t.Error("expected oldest zero-hit entry evicted")
	}
	if len(s.ListAll()) != MaxEntries {
		t.Errorf("expected %d entries, got %d", MaxEntries, len(s.ListAll()))
	}
}

func TestOpen_ReloadsPersistedEntries(t *testing.T) {
	// Entries survive a store reopen
	dir := t.TempDir()
	s, _ := Open(dir)
	s.Remember("k", "v", CategoryFact)

	s2, _ := Open(dir)
	got, ok := s2.Recall("k")
	if !ok || got != "v" {
		t.Errorf("got %q ok=%v", got, ok)
	}
}
