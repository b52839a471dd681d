package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/haricheung/opsai/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleHistory(n int) []types.ConversationEntry {
	entries := make([]types.ConversationEntry, n)
	for i := range entries {
		entries[i] = types.ConversationEntry{
			Instruction: &types.Instruction{Worker: "shell", Action: "execute_command"},
			Result:      &types.WorkerResult{Success: true, Message: "ok"},
			Timestamp:   time.Date(2026, 8, 25, 10, i, 0, 0, time.UTC),
		}
	}
	return entries
}

// Save then Load round-trips the conversation history.
func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("deploy-web", sampleHistory(3)); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load("deploy-web")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].Instruction.Worker != "shell" || !got[0].Result.Success {
		t.Fatalf("entry mangled: %+v", got[0])
	}
}

// A later Save replaces the earlier checkpoint entirely.
func TestSave_Overwrites(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("a", sampleHistory(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("a", sampleHistory(5)); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("entries = %d", len(got))
	}
}

// A missing session loads as empty history without error.
func TestLoad_Missing(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Load("never-saved")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil history, got %d entries", len(got))
	}
}

// Delete removes a session; deleting twice is harmless.
func TestDelete(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("x", sampleHistory(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("x"); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.Load("x"); got != nil {
		t.Fatal("session still present after delete")
	}
	if err := s.Delete("x"); err != nil {
		t.Fatal(err)
	}
}

// List enumerates sessions sorted by id with entry counts.
func TestList(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save("beta", sampleHistory(2)); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("alpha", sampleHistory(4)); err != nil {
		t.Fatal(err)
	}

	infos, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("sessions = %d", len(infos))
	}
	if infos[0].SessionID != "alpha" || infos[0].Entries != 4 {
		t.Fatalf("infos[0] = %+v", infos[0])
	}
	if infos[1].SessionID != "beta" || infos[1].Entries != 2 {
		t.Fatalf("infos[1] = %+v", infos[1])
	}
}
