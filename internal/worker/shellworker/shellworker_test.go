package shellworker

import (
	"context"
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/types"
)

func TestExecute_UnknownAction(t *testing.T) {
	// Unknown actions report "Unknown action"
	res := New().Execute(context.Background(), "run", types.Args{})
	if res.Success || !strings.Contains(res.Message, "Unknown action") {
		t.Errorf("got %+v", res)
	}
}

func TestExecute_MissingCommand(t *testing.T) {
	// Missing command argument fails without spawning a subprocess
	res := New().Execute(context.Background(), "execute_command", types.Args{})
	if res.Success {
		t.Errorf("expected failure, got %+v", res)
	}
}

func TestExecute_PolicyRejection(t *testing.T) {
	// Policy-rejected commands fail with the rejection reason
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "sudo rm /etc/passwd",
	})
	if res.Success {
		t.Errorf("expected rejection, got %+v", res)
	}
	if !strings.Contains(res.Message, "blocked") {
		t.Errorf("expected block reason, got %q", res.Message)
	}
}

func TestExecute_DryRunSimulates(t *testing.T) {
	// dry_run returns a simulated preview, no subprocess
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "echo hello",
		"dry_run": true,
	})
	if !res.Success || !res.Simulated {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.Message, "echo hello") {
		t.Errorf("expected command in preview, got %q", res.Message)
	}
}

func TestExecute_DryRunStringCoercion(t *testing.T) {
	// "true" as a string is accepted for dry_run
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "echo hello",
		"dry_run": "true",
	})
	if !res.Simulated {
		t.Errorf("expected simulated, got %+v", res)
	}
}

func TestExecute_CapturesStdout(t *testing.T) {
	// Exit 0 succeeds with captured stdout
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "echo hello",
	})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.RawOutput, "hello") {
		t.Errorf("stdout not captured: %q", res.RawOutput)
	}
}

func TestExecute_GrepNoMatchIsSuccess(t *testing.T) {
	// Exit 1 for grep-family commands with empty stderr counts as "no match"
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "echo content | grep no-such-pattern",
	})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.RawOutput, "no matches found") {
		t.Errorf("expected no-match marker, got %q", res.RawOutput)
	}
}

func TestExecute_NonzeroExitFails(t *testing.T) {
	// Nonzero exit from a non-grep command fails with stderr captured
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command": "ls /definitely/not/a/path",
	})
	if res.Success {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.RawOutput == "" {
		t.Error("expected stderr in raw output")
	}
}

func TestExecute_WorkingDirHonored(t *testing.T) {
	// working_dir sets the subprocess directory
	dir := t.TempDir()
	res := New().Execute(context.Background(), "execute_command", types.Args{
		"command":     "pwd",
		"working_dir": dir,
	})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
	if !strings.Contains(res.RawOutput, dir) {
		t.Errorf("expected %q in output, got %q", dir, res.RawOutput)
	}
}

func TestTruncateOutput_HeadTailMarker(t *testing.T) {
	// Long output is truncated head+tail with a marker
	long := strings.Repeat("a", 3000) + strings.Repeat("z", 3000)
	out, truncated := truncateOutput(long)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasPrefix(out, "aaa") || !strings.HasSuffix(out, "zzz") {
		t.Error("expected head and tail preserved")
	}
	if !strings.Contains(out, "[truncated 2000 characters]") {
		t.Errorf("expected marker, got %q", out[2000:2100])
	}
}

func TestTruncateOutput_ShortUnchanged(t *testing.T) {
	// Short output passes through untouched
	out, truncated := truncateOutput("short")
	if truncated || out != "short" {
		t.Errorf("got %q truncated=%v", out, truncated)
	}
}
