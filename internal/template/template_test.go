package template

import (
	"context"
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/types"
)

// A fresh directory gets seeded with the built-in templates.
func TestNewManager_SeedsDefaults(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	templates := m.List()
	if len(templates) != len(defaultTemplates) {
		t.Fatalf("templates = %d", len(templates))
	}
	if _, err := m.Load("disk_cleanup"); err != nil {
		t.Fatal(err)
	}
}

// Save then Load round-trips; Delete removes; a second NewManager over a
// non-empty directory does not re-seed.
func TestManager_CRUD(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	custom := Template{Name: "nginx_check", Description: "nginx 巡检", Steps: []Step{
		{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "ps aux | grep nginx"}},
	}}
	if err := m.Save(custom); err != nil {
		t.Fatal(err)
	}
	got, err := m.Load("nginx_check")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "nginx 巡检" || len(got.Steps) != 1 {
		t.Fatalf("template = %+v", got)
	}

	ok, err := m.Delete("nginx_check")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
	if ok, _ := m.Delete("nginx_check"); ok {
		t.Fatal("second delete reported success")
	}

	m2, err := NewManager(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(m2.List()) != len(defaultTemplates) {
		t.Fatal("re-open re-seeded or lost templates")
	}
}

// Instructions expands {{var}} placeholders from context.
func TestInstructions_Substitution(t *testing.T) {
	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "analyze", Action: "explain", Args: map[string]any{"target": "{{port}}", "type": "port"}},
	}}
	instrs := Instructions(tmpl, map[string]string{"port": "8080"})
	if instrs[0].Args.String("target") != "8080" {
		t.Fatalf("args = %+v", instrs[0].Args)
	}

	unresolved := Instructions(tmpl, nil)
	if unresolved[0].Args.String("target") != "{{port}}" {
		t.Fatalf("unresolved placeholder mangled: %+v", unresolved[0].Args)
	}
}

type scriptedExec struct {
	results map[string]types.WorkerResult
	ran     []types.Instruction
}

func (s *scriptedExec) run(ctx context.Context, instr types.Instruction) types.WorkerResult {
	s.ran = append(s.ran, instr)
	if r, ok := s.results[instr.Worker+"."+instr.Action]; ok {
		return r
	}
	return types.WorkerResult{Success: true, Message: "ok"}
}

// Steps run in order; later steps see earlier outputs via {{ref:...}}.
func TestExecutor_RefResolution(t *testing.T) {
	exec := &scriptedExec{results: map[string]types.WorkerResult{
		"system.check_disk_usage": {Success: true, Message: "93% used", Data: map[string]any{"mount": "/var"}},
	}}
	e := NewExecutor(exec.run, nil, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "system", Action: "check_disk_usage", Args: map[string]any{"path": "/"}, OutputKey: "usage"},
		{Worker: "system", Action: "find_large_files", Args: map[string]any{"path": "{{ref:usage.mount}}"}},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if exec.ran[1].Args.String("path") != "/var" {
		t.Fatalf("ref not resolved: %+v", exec.ran[1].Args)
	}
}

// A false condition skips the step; the run still succeeds.
func TestExecutor_ConditionSkips(t *testing.T) {
	exec := &scriptedExec{results: map[string]types.WorkerResult{
		"shell.execute_command": {Success: false, Message: "not running"},
	}}
	e := NewExecutor(exec.run, nil, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "docker ps"}, OutputKey: "check", OnFailure: "skip"},
		{Worker: "system", Action: "list_files", Condition: "check.success == true"},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if len(exec.ran) != 1 {
		t.Fatalf("second step should be skipped, ran %d", len(exec.ran))
	}
	if !res.Steps[1].Skipped {
		t.Fatalf("steps = %+v", res.Steps)
	}
}

// on_failure abort stops the run and records the abort index.
func TestExecutor_AbortOnFailure(t *testing.T) {
	exec := &scriptedExec{results: map[string]types.WorkerResult{
		"system.check_disk_usage": {Success: false, Message: "permission denied"},
	}}
	e := NewExecutor(exec.run, nil, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "system", Action: "check_disk_usage"},
		{Worker: "system", Action: "list_files"},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if res.Success || res.AbortedAt != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(exec.ran) != 1 {
		t.Fatalf("run continued past abort: %d", len(exec.ran))
	}
	if !strings.Contains(res.Summary(), "中止") {
		t.Fatalf("summary = %q", res.Summary())
	}
}

// A step the policy marks medium needs confirmation; denial fails it.
func TestExecutor_ConfirmationGate(t *testing.T) {
	exec := &scriptedExec{}
	asked := 0
	e := NewExecutor(exec.run, func(desc, detail string) bool {
		asked++
		return false
	}, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "npm install"}},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if asked != 1 {
		t.Fatalf("confirm calls = %d", asked)
	}
	if len(exec.ran) != 0 {
		t.Fatal("denied step was executed")
	}
	if res.Success {
		t.Fatal("denied step should fail the run")
	}
}

// A blocked command never reaches the worker even with confirmation.
func TestExecutor_PolicyBlocks(t *testing.T) {
	exec := &scriptedExec{}
	e := NewExecutor(exec.run, func(string, string) bool { return true }, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "sudo rm -rf /var"}},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if len(exec.ran) != 0 {
		t.Fatal("blocked step was executed")
	}
	if !strings.Contains(res.Steps[0].Message, "安全策略拒绝") {
		t.Fatalf("message = %q", res.Steps[0].Message)
	}
}

// dry_run injects into every executed step's args.
func TestExecutor_DryRun(t *testing.T) {
	exec := &scriptedExec{}
	e := NewExecutor(exec.run, nil, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "system", Action: "list_files", Args: map[string]any{"path": "/tmp"}},
	}}
	e.Run(context.Background(), tmpl, nil, true)
	if !exec.ran[0].Args.DryRun() {
		t.Fatalf("dry_run missing: %+v", exec.ran[0].Args)
	}
}

// Failed steps retry up to retry_count times.
func TestExecutor_Retry(t *testing.T) {
	calls := 0
	e := NewExecutor(func(ctx context.Context, instr types.Instruction) types.WorkerResult {
		calls++
		return types.WorkerResult{Success: false, Message: "boom"}
	}, nil, nil, types.RiskHigh)

	tmpl := Template{Name: "x", Steps: []Step{
		{Worker: "system", Action: "list_files", RetryCount: 2},
	}}
	res := e.Run(context.Background(), tmpl, nil, false)
	if calls != 3 {
		t.Fatalf("attempts = %d", calls)
	}
	if !strings.Contains(res.Steps[0].Message, "[3 次尝试均失败]") {
		t.Fatalf("message = %q", res.Steps[0].Message)
	}
}
