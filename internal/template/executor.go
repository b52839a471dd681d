package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/haricheung/opsai/internal/policy"
	"github.com/haricheung/opsai/internal/types"
)

// ExecuteFunc dispatches one instruction, normally registry.Dispatch.
type ExecuteFunc func(ctx context.Context, instr types.Instruction) types.WorkerResult

// ConfirmFunc asks the user to approve one step. description names the
// step; detail carries the worker.action and risk level.
type ConfirmFunc func(description, detail string) bool

// ProgressFunc reports step progress as (index, total, description).
type ProgressFunc func(index, total int, description string)

// StepResult is one executed (or skipped) step.
type StepResult struct {
	Index   int
	Key     string
	Success bool
	Skipped bool
	Message string
	Data    map[string]any
}

// Result is the whole-run outcome.
type Result struct {
	Success   bool
	Steps     []StepResult
	AbortedAt int // -1 when the run was not aborted
}

// Summary renders the pass/skip/fail tally.
func (r Result) Summary() string {
	passed, skipped := 0, 0
	for _, s := range r.Steps {
		switch {
		case s.Skipped:
			skipped++
		case s.Success:
			passed++
		}
	}
	failed := len(r.Steps) - passed - skipped
	parts := []string{fmt.Sprintf("模板执行完成: %d/%d 步成功", passed, len(r.Steps))}
	if skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d 步跳过", skipped))
	}
	if failed > 0 {
		parts = append(parts, fmt.Sprintf("%d 步失败", failed))
	}
	if r.AbortedAt >= 0 {
		parts = append(parts, fmt.Sprintf("在第 %d 步中止", r.AbortedAt+1))
	}
	return strings.Join(parts, ", ")
}

// Executor runs a template step by step through the worker registry,
// gating each step through the risk policy before dispatch.
type Executor struct {
	execute  ExecuteFunc
	confirm  ConfirmFunc
	progress ProgressFunc
	// maxRisk is the ceiling above which steps are refused outright;
	// steps at medium and above but within the ceiling need confirmation.
	maxRisk types.RiskLevel
}

// NewExecutor creates an executor. confirm and progress may be nil; a
// nil confirm denies every step that needs confirmation.
func NewExecutor(execute ExecuteFunc, confirm ConfirmFunc, progress ProgressFunc, maxRisk types.RiskLevel) *Executor {
	if maxRisk == "" {
		maxRisk = types.RiskHigh
	}
	return &Executor{execute: execute, confirm: confirm, progress: progress, maxRisk: maxRisk}
}

// Run executes template t.
//
// Expectations:
//   - {{var}} resolves from context; {{ref:key.field}} from prior steps
//   - A false condition skips the step without failing the run
//   - Steps above the risk ceiling fail; medium+ steps need confirmation
//   - dry_run injects into every step's args when set
//   - on_failure "abort" stops the run; "skip" carries on
func (e *Executor) Run(ctx context.Context, t Template, vars map[string]string, dryRun bool) Result {
	result := Result{Success: true, AbortedAt: -1}
	scope := make(map[string]string, len(vars))
	for k, v := range vars {
		scope[k] = v
	}
	byKey := make(map[string]StepResult)
	total := len(t.Steps)

	for idx, step := range t.Steps {
		key := step.OutputKey
		if key == "" {
			key = fmt.Sprintf("step%d", idx)
		}
		if e.progress != nil {
			desc := step.Description
			if desc == "" {
				desc = step.Worker + "." + step.Action
			}
			e.progress(idx, total, desc)
		}

		if step.Condition != "" && !evalCondition(step.Condition, byKey) {
			sr := StepResult{Index: idx, Key: key, Success: true, Skipped: true,
				Message: "条件不满足，跳过: " + step.Condition}
			result.Steps = append(result.Steps, sr)
			byKey[key] = sr
			continue
		}

		instr := e.buildInstruction(step, scope, byKey, dryRun)
		sr := e.runStep(ctx, instr, step, idx, key)
		byKey[key] = sr
		result.Steps = append(result.Steps, sr)

		for k, v := range sr.Data {
			scope[key+"."+k] = fmt.Sprintf("%v", v)
		}
		scope[key+".success"] = fmt.Sprintf("%t", sr.Success)
		scope[key+".message"] = sr.Message

		if !sr.Success {
			result.Success = false
			if step.OnFailure != "skip" {
				result.AbortedAt = idx
				break
			}
		}
	}
	return result
}

func (e *Executor) buildInstruction(step Step, scope map[string]string, byKey map[string]StepResult, dryRun bool) types.Instruction {
	args := make(types.Args, len(step.Args)+1)
	for k, v := range step.Args {
		if s, ok := v.(string); ok {
			args[k] = substitute(s, scope, byKey)
		} else {
			args[k] = v
		}
	}
	if dryRun {
		args["dry_run"] = true
	}
	return types.Instruction{Worker: step.Worker, Action: step.Action, Args: args}
}

// runStep gates then executes one step with retry.
func (e *Executor) runStep(ctx context.Context, instr types.Instruction, step Step, idx int, key string) StepResult {
	check := policy.CheckInstruction(instr)
	if !check.Allowed || check.Risk.Exceeds(e.maxRisk) {
		return StepResult{Index: idx, Key: key,
			Message: fmt.Sprintf("步骤被安全策略拒绝 (%s): %s", check.Risk, check.Reason)}
	}
	if check.Risk.Rank() >= types.RiskMedium.Rank() {
		desc := step.Description
		if desc == "" {
			desc = instr.Worker + "." + instr.Action
		}
		detail := fmt.Sprintf("%s.%s [%s]", instr.Worker, instr.Action, check.Risk)
		if e.confirm == nil || !e.confirm(desc, detail) {
			return StepResult{Index: idx, Key: key, Message: "用户拒绝执行该步骤"}
		}
	}

	var last types.WorkerResult
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		last = e.execute(ctx, instr)
		if last.Success {
			data, _ := last.Data.(map[string]any)
			return StepResult{Index: idx, Key: key, Success: true, Message: last.Message, Data: data}
		}
	}
	msg := last.Message
	if step.RetryCount > 0 {
		msg = fmt.Sprintf("[%d 次尝试均失败] %s", step.RetryCount+1, msg)
	}
	return StepResult{Index: idx, Key: key, Message: msg}
}

// evalCondition checks `key.field == value` or a bare truthy reference.
func evalCondition(cond string, byKey map[string]StepResult) bool {
	left, right, hasEq := strings.Cut(cond, "==")
	leftVal := lookupRef(strings.TrimSpace(left), byKey)
	if !hasEq {
		return leftVal == "true"
	}
	return leftVal == strings.Trim(strings.TrimSpace(right), `"'`)
}

var placeholderRe = regexp.MustCompile(`\{\{(.+?)\}\}`)

// substitute resolves {{var}} and {{ref:key.field}} placeholders.
// Unresolvable placeholders stay verbatim.
func substitute(value string, context map[string]string, byKey map[string]StepResult) string {
	return placeholderRe.ReplaceAllStringFunc(value, func(m string) string {
		inner := strings.TrimSpace(m[2 : len(m)-2])
		if ref, ok := strings.CutPrefix(inner, "ref:"); ok {
			if byKey == nil {
				return m
			}
			if v := lookupRef(ref, byKey); v != "" {
				return v
			}
			return "<unresolved:" + ref + ">"
		}
		if v, ok := context[inner]; ok {
			return v
		}
		return m
	})
}

// lookupRef resolves "key.field" against prior step results.
func lookupRef(ref string, byKey map[string]StepResult) string {
	key, field, _ := strings.Cut(ref, ".")
	sr, ok := byKey[key]
	if !ok {
		return ""
	}
	switch field {
	case "", "message":
		return sr.Message
	case "success":
		return fmt.Sprintf("%t", sr.Success)
	default:
		if v, ok := sr.Data[field]; ok {
			return fmt.Sprintf("%v", v)
		}
		return ""
	}
}
