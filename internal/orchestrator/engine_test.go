package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/config"
	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

type fakeLLM struct {
	responses []string
	calls     int
}

func (f *fakeLLM) Chat(ctx context.Context, system, user string) (string, llm.Usage, error) {
	f.calls++
	if len(f.responses) == 0 {
		return "", llm.Usage{}, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, llm.Usage{}, nil
}

type spyWorker struct {
	name    string
	result  types.WorkerResult
	actions []string
	args    []types.Args
}

func (s *spyWorker) Name() string            { return s.name }
func (s *spyWorker) Description() string     { return s.name + " test worker" }
func (s *spyWorker) Capabilities() []string  { return []string{"any"} }
func (s *spyWorker) Actions() []types.ToolAction {
	return []types.ToolAction{{Name: "any", RiskLevel: types.RiskSafe}}
}

func (s *spyWorker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	s.actions = append(s.actions, action)
	s.args = append(s.args, args)
	return s.result
}

func respondJSON(message string) string {
	return `{"thinking": "done", "action": {"worker": "chat", "action": "respond", "args": {"message": "` + message + `"}, "risk_level": "safe"}, "is_final": true}`
}

func shellJSON(command, risk string) string {
	return `{"thinking": "check", "action": {"worker": "shell", "action": "execute_command", "args": {"command": "` + command + `"}, "risk_level": "` + risk + `"}, "is_final": false}`
}

// newTestEngine wires an engine over spy workers.
func newTestEngine(t *testing.T, model *fakeLLM, maxRisk types.RiskLevel, opts ...func(*Options)) (*Engine, *spyWorker, *spyWorker) {
	t.Helper()
	shell := &spyWorker{name: "shell", result: types.WorkerResult{Success: true, Message: "Command executed", RawOutput: "ok"}}
	chat := &spyWorker{name: "chat", result: types.WorkerResult{Success: true, Message: "诊断完成", TaskCompleted: true}}
	reg := worker.NewRegistry()
	reg.Register(shell)
	reg.Register(chat)

	o := Options{
		Registry: reg,
		LLM:      model,
		Safety:   config.SafetyConfig{AutoApproveSafe: true},
		MaxRisk:  maxRisk,
		Env:      testEnv(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o), shell, chat
}

// A safe step followed by chat.respond completes the run.
func TestRun_HappyPath(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("ps aux | grep nginx", "safe"),
		respondJSON("nginx 正常运行"),
	}}
	eng, shell, chat := newTestEngine(t, model, types.RiskSafe)

	out := eng.Run(context.Background(), "nginx 状态")
	if !out.Completed {
		t.Fatalf("not completed: %+v", out)
	}
	if out.Message != "诊断完成" {
		t.Fatalf("message = %q", out.Message)
	}
	if len(shell.actions) != 1 || len(chat.actions) != 1 {
		t.Fatalf("dispatch counts: shell=%d chat=%d", len(shell.actions), len(chat.actions))
	}
	if len(out.History) != 2 {
		t.Fatalf("history = %d entries", len(out.History))
	}
}

// An instruction above the mode ceiling is never dispatched; a synthetic
// rejection observation lets the model replan.
func TestRun_RiskGateRejects(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("systemctl restart nginx", "high"),
		respondJSON("操作被拒绝，已改用只读诊断"),
	}}
	eng, shell, _ := newTestEngine(t, model, types.RiskSafe)

	out := eng.Run(context.Background(), "重启 nginx")
	if len(shell.actions) != 0 {
		t.Fatalf("rejected instruction was dispatched: %v", shell.actions)
	}
	rejection := out.History[0]
	if rejection.Result.Success {
		t.Fatal("rejection observation should be a failure")
	}
	if !strings.Contains(rejection.Result.Message, "exceeds the safe limit") {
		t.Fatalf("rejection message = %q", rejection.Result.Message)
	}
	if !out.Completed {
		t.Fatal("loop should continue after rejection and finish")
	}
}

// The policy engine raises an understated risk level before the gate.
func TestRun_PolicyElevatesDeclaredRisk(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("rm -rf /tmp/cache", "safe"),
		respondJSON("已放弃危险操作"),
	}}
	eng, shell, _ := newTestEngine(t, model, types.RiskSafe)

	out := eng.Run(context.Background(), "清理缓存")
	if len(shell.actions) != 0 {
		t.Fatal("elevated instruction must not dispatch in safe mode")
	}
	if !strings.Contains(out.History[0].Result.Message, "Instruction rejected") {
		t.Fatalf("message = %q", out.History[0].Result.Message)
	}
}

// Unusable model output becomes an observation; the loop continues.
func TestRun_ParseFailureContinues(t *testing.T) {
	model := &fakeLLM{responses: []string{
		"I think you should check nginx first.",
		respondJSON("完成"),
	}}
	eng, _, _ := newTestEngine(t, model, types.RiskSafe)

	out := eng.Run(context.Background(), "查问题")
	if !out.Completed {
		t.Fatal("run should recover from a parse failure")
	}
	if !strings.Contains(out.History[0].Result.Message, "model produced unusable output") {
		t.Fatalf("observation = %q", out.History[0].Result.Message)
	}
	if model.calls != 2 {
		t.Fatalf("llm calls = %d", model.calls)
	}
}

// Approval denial is an observation, not a dispatch.
func TestRun_ApprovalDenied(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("apt-get install -y jq", "medium"),
		respondJSON("用户拒绝安装"),
	}}
	denied := 0
	eng, shell, _ := newTestEngine(t, model, types.RiskHigh, func(o *Options) {
		o.Host = Host{Approve: func(instr types.Instruction, risk types.RiskLevel) bool {
			denied++
			return false
		}}
	})

	out := eng.Run(context.Background(), "装个 jq")
	if denied != 1 {
		t.Fatalf("approve calls = %d", denied)
	}
	if len(shell.actions) != 0 {
		t.Fatal("denied instruction was dispatched")
	}
	if !strings.Contains(out.History[0].Result.Message, "Operation rejected by user") {
		t.Fatalf("observation = %q", out.History[0].Result.Message)
	}
}

// A nil Approve callback denies medium risk (one-shot CLI semantics).
func TestRun_MediumRiskWithoutCallback(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("apt-get install -y jq", "medium"),
		respondJSON("无法确认，已终止"),
	}}
	eng, shell, _ := newTestEngine(t, model, types.RiskHigh)

	eng.Run(context.Background(), "装个 jq")
	if len(shell.actions) != 0 {
		t.Fatal("unapproved instruction was dispatched")
	}
}

// Engine-level dry run reaches the worker through args only; the
// recorded instruction keeps its original args.
func TestRun_DryRunPropagation(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("uptime", "safe"),
		respondJSON("完成"),
	}}
	eng, shell, _ := newTestEngine(t, model, types.RiskSafe, func(o *Options) {
		o.DryRun = true
	})

	out := eng.Run(context.Background(), "看下负载")
	if !shell.args[0].DryRun() {
		t.Fatal("dry_run not propagated into args")
	}
	if out.History[0].Instruction.Args.DryRun() {
		t.Fatal("recorded instruction must keep its original args")
	}
}

// A failed safe step does not terminate; the model replans from history.
func TestRun_FailedStepContinues(t *testing.T) {
	model := &fakeLLM{responses: []string{
		shellJSON("cat /etc/nginx/nginx.conf", "safe"),
		respondJSON("文件不存在"),
	}}
	eng, shell, _ := newTestEngine(t, model, types.RiskSafe)
	shell.result = types.WorkerResult{Success: false, Message: "No such file"}

	out := eng.Run(context.Background(), "看配置")
	if !out.Completed {
		t.Fatal("run should complete after the model reacts to the failure")
	}
	if out.History[0].Result.Success {
		t.Fatal("failure observation lost")
	}
}

// Budget exhaustion yields the incomplete summary with step narration.
func TestRun_BudgetExhausted(t *testing.T) {
	model := &fakeLLM{responses: []string{shellJSON("uptime", "safe")}}
	eng, shell, _ := newTestEngine(t, model, types.RiskSafe, func(o *Options) {
		o.MaxIterations = 3
	})

	out := eng.Run(context.Background(), "随便看看")
	if out.Completed {
		t.Fatal("should be incomplete")
	}
	if !strings.Contains(out.Message, "Task incomplete: reached maximum iterations (3)") {
		t.Fatalf("message = %q", out.Message)
	}
	if !strings.Contains(out.Message, "shell.execute_command") {
		t.Fatalf("summary missing step narration: %q", out.Message)
	}
	if len(shell.actions) != 3 {
		t.Fatalf("dispatches = %d", len(shell.actions))
	}
}

// An unknown worker name fails the step and the loop continues.
func TestRun_UnknownWorkerContinues(t *testing.T) {
	model := &fakeLLM{responses: []string{
		`{"thinking": "x", "action": {"worker": "kubernetes", "action": "get", "args": {}, "risk_level": "safe"}, "is_final": false}`,
		respondJSON("改用本机命令完成"),
	}}
	eng, _, _ := newTestEngine(t, model, types.RiskSafe)

	out := eng.Run(context.Background(), "查 pod")
	if !out.Completed {
		t.Fatal("run should recover from an unknown worker")
	}
	if !strings.Contains(out.History[0].Result.Message, "Unknown worker: kubernetes") {
		t.Fatalf("observation = %q", out.History[0].Result.Message)
	}
}

// The flat instruction shape without the action envelope still parses.
func TestParseInstruction_FlatShape(t *testing.T) {
	instr, ok := parseInstruction(`{"worker": "shell", "action": "execute_command", "args": {"command": "uptime"}, "risk_level": "safe"}`)
	if !ok {
		t.Fatal("flat shape rejected")
	}
	if instr.Worker != "shell" || instr.Action != "execute_command" {
		t.Fatalf("instr = %+v", instr)
	}
	if instr.Args.String("command") != "uptime" {
		t.Fatalf("args = %+v", instr.Args)
	}
}

// Think blocks and fences around the JSON are tolerated.
func TestParseInstruction_WrappedJSON(t *testing.T) {
	raw := "<think>先看负载</think>\n```json\n" + shellJSON("uptime", "safe") + "\n```"
	instr, ok := parseInstruction(raw)
	if !ok {
		t.Fatal("wrapped JSON rejected")
	}
	if instr.RiskLevel != types.RiskSafe {
		t.Fatalf("risk = %s", instr.RiskLevel)
	}
}
