package runbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Keyword hits rank runbooks; unrelated input matches nothing.
func TestMatch_Keywords(t *testing.T) {
	l := NewLoader("")

	hits := l.Match("8080 端口被占用了", 2)
	if len(hits) == 0 || hits[0].Name != "port-conflict" {
		t.Fatalf("hits = %+v", hits)
	}

	if hits := l.Match("completely unrelated request", 2); len(hits) != 0 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

// top_k bounds the result count.
func TestMatch_TopK(t *testing.T) {
	l := NewLoader("")
	hits := l.Match("docker 容器磁盘端口都有问题", 1)
	if len(hits) != 1 {
		t.Fatalf("len = %d", len(hits))
	}
}

// User-provided files extend the built-ins; malformed files are
// skipped.
func TestLoader_ExtraDir(t *testing.T) {
	dir := t.TempDir()
	good := `name: nginx-down
description: nginx fails to start
keywords: [nginx]
steps:
  - description: check config
    command: nginx -t
`
	if err := os.WriteFile(filepath.Join(dir, "nginx.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{{nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(dir)
	rb, ok := l.Get("nginx-down")
	if !ok {
		t.Fatalf("user runbook not loaded: %v", l.Names())
	}
	if len(rb.Steps) != 1 {
		t.Fatalf("steps = %+v", rb.Steps)
	}
}

// PromptContext renders numbered steps with commands.
func TestPromptContext(t *testing.T) {
	l := NewLoader("")
	rb, ok := l.Get("port-conflict")
	if !ok {
		t.Fatal("builtin missing")
	}
	ctx := rb.PromptContext()
	if !strings.Contains(ctx, "Diagnostic reference: port-conflict") {
		t.Fatalf("header missing: %q", ctx)
	}
	if !strings.Contains(ctx, "1. ") || !strings.Contains(ctx, "`lsof -i :<port>`") {
		t.Fatalf("steps missing: %q", ctx)
	}
}
