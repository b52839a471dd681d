// Package orchestrator runs the ReAct loop: the model plans one
// instruction per iteration, the risk policy gates it, the registry
// executes it, and the observation feeds the next plan.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/audit"
	"github.com/haricheung/opsai/internal/config"
	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/memory"
	"github.com/haricheung/opsai/internal/policy"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

const (
	defaultMaxIterations = 10
	memoryContextEntries = 5
)

// LLM is the chat slice of the model client the engine needs.
type LLM interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Checkpointer persists conversation history between invocations so a
// session can resume where it left off.
type Checkpointer interface {
	Save(sessionID string, entries []types.ConversationEntry) error
	Load(sessionID string) ([]types.ConversationEntry, error)
}

// Host carries the UI callbacks. All fields are optional; a nil Approve
// denies every instruction that needs approval.
type Host struct {
	Approve  func(instr types.Instruction, risk types.RiskLevel) bool
	Progress func(stage, message string)
}

func (h Host) approve(instr types.Instruction, risk types.RiskLevel) bool {
	if h.Approve == nil {
		return false
	}
	return h.Approve(instr, risk)
}

func (h Host) progress(stage, message string) {
	if h.Progress != nil {
		h.Progress(stage, message)
	}
}

// Options wires an Engine. Registry and LLM are required; everything
// else degrades gracefully when absent.
type Options struct {
	Registry *worker.Registry
	LLM      LLM
	Prompts  *PromptBuilder
	Memory   *memory.Store
	Audit    *audit.Trail
	Safety   config.SafetyConfig
	// MaxRisk is the mode ceiling: cli_max_risk for one-shot CLI calls,
	// tui_max_risk for the interactive REPL.
	MaxRisk       types.RiskLevel
	DryRun        bool
	MaxIterations int
	Env           EnvContext
	Host          Host
	Session       string
	Checkpoints   Checkpointer
}

// Engine drives one logical task through the ReAct loop.
type Engine struct {
	registry *worker.Registry
	llm      LLM
	prompts  *PromptBuilder
	memory   *memory.Store
	audit    *audit.Trail
	safety   config.SafetyConfig
	maxRisk  types.RiskLevel
	dryRun   bool
	maxIter  int
	env      EnvContext
	host     Host
	session  string
	ckpt     Checkpointer
	now      func() time.Time
}

// New creates an engine from opts.
func New(opts Options) *Engine {
	e := &Engine{
		registry: opts.Registry,
		llm:      opts.LLM,
		prompts:  opts.Prompts,
		memory:   opts.Memory,
		audit:    opts.Audit,
		safety:   opts.Safety,
		maxRisk:  opts.MaxRisk,
		dryRun:   opts.DryRun,
		maxIter:  opts.MaxIterations,
		env:      opts.Env,
		host:     opts.Host,
		session:  opts.Session,
		ckpt:     opts.Checkpoints,
		now:      time.Now,
	}
	if e.prompts == nil {
		e.prompts = NewPromptBuilder(nil)
	}
	if e.maxIter <= 0 {
		e.maxIter = defaultMaxIterations
	}
	if e.maxRisk == "" {
		e.maxRisk = types.RiskSafe
	}
	return e
}

// Outcome is the result of one Run.
type Outcome struct {
	Message   string
	Completed bool
	History   []types.ConversationEntry
}

// modelReply is the JSON contract the system prompt demands. Action is
// kept raw because some models flatten the envelope and put the action
// name there as a plain string.
type modelReply struct {
	Thinking  string          `json:"thinking"`
	Action    json.RawMessage `json:"action"`
	IsFinal   bool            `json:"is_final"`
	Worker    string          `json:"worker"`
	Args      types.Args      `json:"args"`
	RiskLevel string          `json:"risk_level"`
}

type actionBody struct {
	Worker    string     `json:"worker"`
	Action    string     `json:"action"`
	Args      types.Args `json:"args"`
	RiskLevel string     `json:"risk_level"`
}

// parseInstruction extracts one instruction from the raw model output.
func parseInstruction(raw string) (types.Instruction, bool) {
	var reply modelReply
	if !llm.DecodeObject(raw, &reply) {
		return types.Instruction{}, false
	}
	instr := types.Instruction{Thinking: strings.TrimSpace(reply.Thinking)}

	var body actionBody
	if len(reply.Action) > 0 && json.Unmarshal(reply.Action, &body) == nil && body.Worker != "" {
		instr.Worker = body.Worker
		instr.Action = body.Action
		instr.Args = body.Args
		instr.RiskLevel = types.ParseRiskLevel(body.RiskLevel)
	} else if reply.Worker != "" {
		// Flat shape: {"worker": ..., "action": "name", ...}
		var name string
		if json.Unmarshal(reply.Action, &name) != nil {
			return types.Instruction{}, false
		}
		instr.Worker = reply.Worker
		instr.Action = name
		instr.Args = reply.Args
		instr.RiskLevel = types.ParseRiskLevel(reply.RiskLevel)
	}
	if instr.Worker == "" || instr.Action == "" {
		return types.Instruction{}, false
	}
	if instr.Args == nil {
		instr.Args = types.Args{}
	}
	return instr, true
}

// Run executes the ReAct loop for one user request.
//
// Expectations:
//   - One instruction per iteration, bounded by max_iterations
//   - Unusable model output becomes an observation, not a crash
//   - Instructions above the mode risk ceiling are never dispatched;
//     a synthetic rejection observation lets the model replan
//   - Approval denial also becomes an observation and the loop continues
//   - dry_run propagates through args; workers see no other flag
//   - Termination only on result.task_completed; exhaustion yields an
//     incomplete summary
func (e *Engine) Run(ctx context.Context, userInput string) Outcome {
	var history []types.ConversationEntry
	if e.ckpt != nil && e.session != "" {
		if prior, err := e.ckpt.Load(e.session); err == nil {
			history = prior
		}
	}
	catalogue := e.registry.Catalogue()

	for i := 0; i < e.maxIter; i++ {
		e.host.progress("reasoning", "🤔 Analyzing your request...")

		memCtx := ""
		if e.memory != nil {
			memCtx = e.memory.ContextPrompt(memoryContextEntries)
		}
		system := e.prompts.SystemPrompt(e.env, catalogue, userInput)
		user := e.prompts.UserPrompt(userInput, history, memCtx)

		raw, _, err := e.llm.Chat(ctx, system, user)
		if err != nil {
			history = e.observe(history, nil, types.Fail("LLM call failed: %v", err))
			continue
		}

		instr, ok := parseInstruction(raw)
		if !ok {
			history = e.observe(history, nil,
				types.Fail("model produced unusable output; respond with a single valid JSON object"))
			continue
		}
		e.host.progress("instruction", fmt.Sprintf("📋 Instruction: %s.%s", instr.Worker, instr.Action))

		// The declared level is a floor, not the verdict: the policy
		// engine can raise it when the args look riskier than claimed.
		risk := instr.RiskLevel
		if check := policy.CheckInstruction(instr); check.Risk.Exceeds(risk) {
			risk = check.Risk
		}
		e.host.progress("safety", "Risk level: "+string(risk))

		if risk.Exceeds(e.maxRisk) {
			e.logAudit(userInput, instr, risk, false, -1, "Rejected by policy")
			history = e.observe(history, &instr, types.Fail(
				"Instruction rejected: risk level %s exceeds the %s limit for this mode. Replan with a safer action or finish with chat.respond.",
				risk, e.maxRisk))
			continue
		}

		if e.needsApproval(risk) && !e.host.approve(instr, risk) {
			e.logAudit(userInput, instr, risk, false, -1, "Rejected by user")
			history = e.observe(history, &instr, types.Fail("Operation rejected by user"))
			continue
		}

		dispatch := instr
		if e.dryRun || (risk == types.RiskHigh && e.safety.RequireDryRunForHighRisk) {
			args := make(types.Args, len(instr.Args)+1)
			for k, v := range instr.Args {
				args[k] = v
			}
			args["dry_run"] = true
			dispatch.Args = args
		}

		e.host.progress("executing", fmt.Sprintf("⚙️ Executing %s.%s...", instr.Worker, instr.Action))
		result := e.registry.Dispatch(ctx, dispatch)

		exit := 0
		if !result.Success {
			exit = 1
		}
		e.logAudit(userInput, instr, risk, true, exit, result.Message)
		history = e.observe(history, &instr, result)

		if result.TaskCompleted {
			return Outcome{Message: result.Message, Completed: true, History: history}
		}
	}

	return Outcome{Message: e.incompleteSummary(history), Completed: false, History: history}
}

// needsApproval reports whether risk requires an explicit user decision.
// Medium and above always do; safe and low follow auto_approve_safe.
func (e *Engine) needsApproval(risk types.RiskLevel) bool {
	if risk.Rank() >= types.RiskMedium.Rank() {
		return true
	}
	return !e.safety.AutoApproveSafe
}

// observe appends one entry and checkpoints the session. History is
// append-only; entries are never edited after the fact.
func (e *Engine) observe(history []types.ConversationEntry, instr *types.Instruction, result types.WorkerResult) []types.ConversationEntry {
	entry := types.ConversationEntry{Result: &result, Timestamp: e.now()}
	if instr != nil {
		frozen := *instr
		entry.Instruction = &frozen
	}
	history = append(history, entry)
	if e.ckpt != nil && e.session != "" {
		if err := e.ckpt.Save(e.session, history); err != nil {
			e.host.progress("checkpoint", "⚠️ 会话保存失败: "+err.Error())
		}
	}
	return history
}

func (e *Engine) logAudit(input string, instr types.Instruction, risk types.RiskLevel, confirmed bool, exit int, output string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(audit.Event{
		Input:     input,
		Worker:    instr.Worker,
		Action:    instr.Action,
		Risk:      string(risk),
		Confirmed: confirmed,
		ExitCode:  exit,
		Output:    output,
	}); err != nil {
		e.host.progress("audit", "⚠️ 审计日志写入失败: "+err.Error())
	}
}

// incompleteSummary narrates what ran when the iteration budget is spent.
func (e *Engine) incompleteSummary(history []types.ConversationEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task incomplete: reached maximum iterations (%d)\n\n已执行的步骤：\n", e.maxIter)
	for _, entry := range history {
		if entry.Instruction == nil {
			continue
		}
		status := "✅"
		if entry.Result != nil && !entry.Result.Success {
			status = "❌"
		}
		msg := ""
		if entry.Result != nil {
			msg = entry.Result.Message
		}
		fmt.Fprintf(&b, "%s %s.%s — %s\n", status, entry.Instruction.Worker, entry.Instruction.Action, firstLine(msg))
	}
	return strings.TrimRight(b.String(), "\n")
}
