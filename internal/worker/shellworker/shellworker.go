// Package shellworker executes whitelisted shell commands through bash.
package shellworker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/policy"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

const (
	defaultTimeout = 30 * time.Second

	// Output truncation keeps both ends of long output: the head carries
	// the banner/context, the tail carries the failure.
	maxOutputLength = 4000
	truncateHead    = 2000
	truncateTail    = 2000
)

// Worker runs shell commands gated through the policy engine.
type Worker struct{}

var _ worker.Worker = (*Worker)(nil)

// New creates the shell worker.
func New() *Worker { return &Worker{} }

func (w *Worker) Name() string { return "shell" }

func (w *Worker) Description() string {
	return "Execute a shell command. Read-only diagnostics, docker, git, systemctl. " +
		"Use | with grep/awk/sed/head/tail/sort/wc/jq for filtering."
}

func (w *Worker) Capabilities() []string { return []string{"execute_command"} }

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "execute_command",
			Description: "Run one shell command and capture its output",
			Params: []types.ActionParam{
				{Name: "command", Type: "string", Description: "Command to execute", Required: true},
				{Name: "working_dir", Type: "string", Description: "Working directory (optional)"},
				{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default 30)"},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

// Execute runs execute_command.
//
// Expectations:
//   - Unknown actions report "Unknown action"
//   - Missing command argument fails without spawning a subprocess
//   - Policy-rejected commands fail with the rejection reason
//   - dry_run returns a simulated preview, no subprocess
//   - Exit 0 succeeds with captured stdout
//   - Exit 1 for grep-family commands with empty stderr counts as "no match"
//   - Long output is truncated head+tail with a marker and Truncated=true
func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	if action != "execute_command" {
		return worker.UnknownAction(action)
	}

	command := args.String("command")
	if command == "" {
		return types.Fail("command must be a non-empty string")
	}
	workingDir := args.String("working_dir")

	check := policy.CheckCommand(command)
	if !check.Allowed {
		return types.Fail("%s", check.Reason)
	}

	if args.DryRun() {
		return types.Simulated("[dry-run] would execute: %s", command)
	}

	timeout := defaultTimeout
	if secs := args.Int("timeout", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout := outBuf.String()
	stderr := errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return types.Fail("Command timed out after %s: %s", timeout, command)
	}

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return types.Fail("Failed to execute command: %v", runErr)
		}
	}

	switch {
	case exitCode == 0:
		return w.successResult(command, stdout)
	case exitCode == 1 && policy.Exit1OK(command) && stderr == "":
		if strings.TrimSpace(stdout) == "" {
			return types.WorkerResult{Success: true, Message: "No matches found", RawOutput: "(no matches found)"}
		}
		return w.successResult(command, stdout)
	default:
		combined := stderr
		if combined == "" {
			combined = stdout
		}
		output, truncated := truncateOutput(combined)
		return types.WorkerResult{
			Success:   false,
			Message:   fmt.Sprintf("Command failed with exit code %d", exitCode),
			RawOutput: output,
			Truncated: truncated,
		}
	}
}

func (w *Worker) successResult(command, stdout string) types.WorkerResult {
	output, truncated := truncateOutput(stdout)
	msg := "Command completed"
	if strings.TrimSpace(output) == "" {
		msg = "Command completed (no output)"
	}
	return types.WorkerResult{
		Success:   true,
		Message:   msg,
		RawOutput: output,
		Truncated: truncated,
	}
}

// truncateOutput keeps the head and tail of overlong output with a marker
// noting how much was dropped.
func truncateOutput(output string) (string, bool) {
	if len(output) <= maxOutputLength {
		return output, false
	}
	dropped := len(output) - truncateHead - truncateTail
	return fmt.Sprintf("%s\n\n... [truncated %d characters] ...\n\n%s",
		output[:truncateHead], dropped, output[len(output)-truncateTail:]), true
}
