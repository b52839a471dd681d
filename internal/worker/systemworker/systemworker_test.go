package systemworker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/journal"
	"github.com/haricheung/opsai/internal/types"
)

func newTestWorker(t *testing.T) (*Worker, *journal.Tracker) {
	t.Helper()
	tracker, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(tracker), tracker
}

// write_file journals a snapshot before writing; rollback restores.
func TestWriteFile_Journaled(t *testing.T) {
	w, tracker := newTestWorker(t)
	path := filepath.Join(t.TempDir(), "app.conf")
	if err := os.WriteFile(path, []byte("old config"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := w.Execute(context.Background(), "write_file", types.Args{"path": path, "content": "new config"})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if data, _ := os.ReadFile(path); string(data) != "new config" {
		t.Fatalf("content = %q", data)
	}

	records := tracker.List()
	if len(records) != 1 || !records[0].RollbackAvailable {
		t.Fatalf("records = %+v", records)
	}
	if _, err := tracker.Rollback(records[0].ChangeID); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); string(data) != "old config" {
		t.Fatalf("rollback content = %q", data)
	}
}

// delete_files removes each path and journals a backup for rollback.
func TestDeleteFiles(t *testing.T) {
	w, tracker := newTestWorker(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")
	os.WriteFile(a, []byte("aaa"), 0o644)
	os.WriteFile(b, []byte("bbb"), 0o644)

	res := w.Execute(context.Background(), "delete_files", types.Args{"paths": []any{a, b}})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("a.log still exists")
	}
	if len(tracker.List()) != 2 {
		t.Fatalf("records = %d", len(tracker.List()))
	}
}

// A missing path is reported per-path; the rest still delete.
func TestDeleteFiles_PartialFailure(t *testing.T) {
	w, _ := newTestWorker(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	os.WriteFile(a, []byte("aaa"), 0o644)
	missing := filepath.Join(dir, "missing.log")

	res := w.Execute(context.Background(), "delete_files", types.Args{"paths": []any{missing, a}})
	if res.Success {
		t.Fatal("partial failure reported as success")
	}
	if !strings.Contains(res.Message, "Deleted 1 file(s)") || !strings.Contains(res.Message, "1 failed") {
		t.Fatalf("message = %q", res.Message)
	}
	if _, err := os.Stat(a); !os.IsNotExist(err) {
		t.Fatal("a.log should still be deleted")
	}
}

// dry_run previews mutations without touching disk or the journal.
func TestMutations_DryRun(t *testing.T) {
	w, tracker := newTestWorker(t)
	path := filepath.Join(t.TempDir(), "x.txt")
	os.WriteFile(path, []byte("keep me"), 0o644)

	for _, tc := range []struct {
		action string
		args   types.Args
	}{
		{"delete_files", types.Args{"paths": []any{path}, "dry_run": true}},
		{"write_file", types.Args{"path": path, "content": "gone", "dry_run": true}},
		{"append_to_file", types.Args{"path": path, "content": "more", "dry_run": true}},
		{"replace_in_file", types.Args{"path": path, "old": "keep", "new": "drop", "dry_run": true}},
	} {
		res := w.Execute(context.Background(), tc.action, tc.args)
		if !res.Success || !strings.Contains(res.Message, "[dry-run]") {
			t.Fatalf("%s: %+v", tc.action, res)
		}
	}
	if data, _ := os.ReadFile(path); string(data) != "keep me" {
		t.Fatalf("dry-run modified the file: %q", data)
	}
	if len(tracker.List()) != 0 {
		t.Fatal("dry-run journaled a change")
	}
}

// replace_in_file requires the old text to be present.
func TestReplaceInFile(t *testing.T) {
	w, _ := newTestWorker(t)
	path := filepath.Join(t.TempDir(), "nginx.conf")
	os.WriteFile(path, []byte("listen 80;\nlisten 80;\n"), 0o644)

	res := w.Execute(context.Background(), "replace_in_file", types.Args{"path": path, "old": "listen 80;", "new": "listen 8080;"})
	if !res.Success || !strings.Contains(res.Message, "2 occurrence(s)") {
		t.Fatalf("result = %+v", res)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "listen 80;") {
		t.Fatalf("content = %q", data)
	}

	res = w.Execute(context.Background(), "replace_in_file", types.Args{"path": path, "old": "no such text", "new": "x"})
	if res.Success {
		t.Fatal("missing text reported as success")
	}
}

// find_large_files returns hits sorted by size, largest first.
func TestFindLargeFiles(t *testing.T) {
	w, _ := newTestWorker(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "small.bin"), make([]byte, 1024), 0o644)
	os.WriteFile(filepath.Join(dir, "big.bin"), make([]byte, 3*1024*1024), 0o644)
	os.WriteFile(filepath.Join(dir, "bigger.bin"), make([]byte, 5*1024*1024), 0o644)

	res := w.Execute(context.Background(), "find_large_files", types.Args{"path": dir, "min_size_mb": 2})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	lines := strings.Split(res.RawOutput, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.Contains(lines[0], "bigger.bin") {
		t.Fatalf("not sorted by size: %v", lines)
	}
}

// list_files renders kind, size, and name per entry.
func TestListFiles(t *testing.T) {
	w, _ := newTestWorker(t)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "app.log"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "conf.d"), 0o755)

	res := w.Execute(context.Background(), "list_files", types.Args{"path": dir})
	if !res.Success || !strings.Contains(res.Message, "2 entries") {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.RawOutput, "app.log") || !strings.Contains(res.RawOutput, "dir") {
		t.Fatalf("output = %q", res.RawOutput)
	}
}

// check_disk_usage reports capacity of the filesystem holding the
// path, so a tiny temp dir still shows the mount's totals.
func TestCheckDiskUsage(t *testing.T) {
	w, _ := newTestWorker(t)

	res := w.Execute(context.Background(), "check_disk_usage", types.Args{"path": t.TempDir()})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %v", res.Data)
	}
	total := data["total_bytes"].(uint64)
	used := data["used_bytes"].(uint64)
	if total == 0 || used > total {
		t.Fatalf("total = %d, used = %d", total, used)
	}
	pct := data["used_percent"].(float64)
	if pct < 0 || pct > 100 {
		t.Fatalf("used_percent = %f", pct)
	}
	if !strings.Contains(res.Message, "GB") {
		t.Fatalf("message = %q", res.Message)
	}
}
