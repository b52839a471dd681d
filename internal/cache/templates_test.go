package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGet_ReturnsStoredCommands(t *testing.T) {
	// Returns the stored commands after a Set
	s, _ := Open(t.TempDir())
	cmds := []string{"docker ps --filter name={name}", "docker logs --tail 50 {name}"}
	if err := s.Set("docker", cmds); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Get("docker")
	if !ok {
		t.Fatal("expected hit")
	}
	if len(got) != 2 || got[0] != cmds[0] || got[1] != cmds[1] {
		t.Errorf("got %v", got)
	}
}

func TestGet_IncrementsHitCount(t *testing.T) {
	// Each Get increments hit_count and persists it
	dir := t.TempDir()
	s, _ := Open(dir)
	s.Set("port", []string{"lsof -i :{name}"})
	s.Get("port")
	s.Get("port")

	s2, _ := Open(dir)
	if hits := s2.ListAll()["port"].HitCount; hits != 2 {
		t.Errorf("hit_count: got %d, want 2", hits)
	}
}

func TestGet_UnknownTypeMisses(t *testing.T) {
	// Unknown type returns ok=false
	s, _ := Open(t.TempDir())
	if _, ok := s.Get("systemd"); ok {
		t.Error("expected miss")
	}
}

func TestSet_RejectsMissingPlaceholder(t *testing.T) {
	// Commands missing the {name} placeholder are rejected
	s, _ := Open(t.TempDir())
	if err := s.Set("docker", []string{"docker ps"}); err == nil {
		t.Error("expected error for command without {name}")
	}
}

func TestSet_RejectsEmptyList(t *testing.T) {
	// Empty command lists are rejected
	s, _ := Open(t.TempDir())
	if err := s.Set("docker", nil); err == nil {
		t.Error("expected error for empty list")
	}
}

func TestClear_SingleType(t *testing.T) {
	// Clearing one type leaves the rest
	s, _ := Open(t.TempDir())
	s.Set("docker", []string{"docker inspect {name}"})
	s.Set("port", []string{"lsof -i :{name}"})
	n, _ := s.Clear("docker")
	if n != 1 {
		t.Errorf("removed: got %d, want 1", n)
	}
	if s.Exists("docker") || !s.Exists("port") {
		t.Error("wrong templates removed")
	}
}

func TestClear_AllTypes(t *testing.T) {
	// Clearing with empty type removes everything
	s, _ := Open(t.TempDir())
	s.Set("docker", []string{"docker inspect {name}"})
	s.Set("port", []string{"lsof -i :{name}"})
	n, _ := s.Clear("")
	if n != 2 || len(s.Types()) != 0 {
		t.Errorf("removed=%d remaining=%v", n, s.Types())
	}
}

func TestOpen_CorruptFileStartsEmpty(t *testing.T) {
	// A corrupt cache file starts empty, not fatal
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "cache"), 0o755)
	os.WriteFile(filepath.Join(dir, "cache", "analyze_templates.json"), []byte("{oops"), 0o644)
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("expected corrupt cache tolerated, got %v", err)
	}
	if len(s.Types()) != 0 {
		t.Errorf("expected empty cache")
	}
}
