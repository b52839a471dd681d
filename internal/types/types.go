package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RiskLevel orders instruction risk from harmless reads to destructive ops.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var riskRank = map[RiskLevel]int{
	RiskSafe:   0,
	RiskLow:    1,
	RiskMedium: 2,
	RiskHigh:   3,
}

// Rank returns the ordering position of r. Unknown levels rank above high
// so a malformed level never slips past a policy gate.
func (r RiskLevel) Rank() int {
	if n, ok := riskRank[r]; ok {
		return n
	}
	return riskRank[RiskHigh] + 1
}

// Exceeds reports whether r is strictly riskier than limit.
func (r RiskLevel) Exceeds(limit RiskLevel) bool {
	return r.Rank() > limit.Rank()
}

// ParseRiskLevel normalizes a raw string to a RiskLevel.
// Empty input defaults to safe; anything unrecognized is treated as high.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case RiskSafe, "":
		return RiskSafe
	case RiskLow:
		return RiskLow
	case RiskMedium:
		return RiskMedium
	case RiskHigh:
		return RiskHigh
	default:
		return RiskHigh
	}
}

// Args is the argument map of one tool call. Values are scalars or lists of
// scalars as produced by JSON decoding of the model's instruction.
type Args map[string]any

// String returns the string value for key, coercing numbers and booleans
// to their textual form. Missing keys return "".
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Bool returns the boolean value for key. Boolean-like strings
// ("true"/"false", case-insensitive) are accepted wherever a boolean is
// expected. Missing or unrecognized values return def.
func (a Args) Bool(key string, def bool) bool {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return def
}

// Int returns the integer value for key, accepting JSON numbers and
// numeric strings. Missing or non-numeric values return def.
func (a Args) Int(key string, def int) int {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

// StringSlice returns the list value for key. A scalar in place of a list
// is accepted and wrapped as a single-element slice.
func (a Args) StringSlice(key string) []string {
	v, ok := a[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			} else {
				out = append(out, fmt.Sprintf("%v", e))
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return []string{fmt.Sprintf("%v", t)}
	}
}

// DryRun reports whether this call must execute without side effects.
// The args map is the only source of truth for dry-run propagation.
func (a Args) DryRun() bool {
	return a.Bool("dry_run", false)
}

// Instruction is one planned tool call. Created by the planner; never
// mutated after creation.
type Instruction struct {
	Worker        string    `json:"worker"`
	Action        string    `json:"action"`
	Args          Args      `json:"args"`
	RiskLevel     RiskLevel `json:"risk_level"`
	TaskCompleted bool      `json:"task_completed,omitempty"`
	Thinking      string    `json:"thinking,omitempty"`
}

// WorkerResult is the outcome of one action. Immutable once returned.
type WorkerResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	Data          any    `json:"data,omitempty"`
	RawOutput     string `json:"raw_output,omitempty"`
	Truncated     bool   `json:"truncated,omitempty"`
	TaskCompleted bool   `json:"task_completed,omitempty"`
	Simulated     bool   `json:"simulated,omitempty"`
}

// Fail builds a failed result with a formatted message.
func Fail(format string, args ...any) WorkerResult {
	return WorkerResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Ok builds a successful result with a formatted message.
func Ok(format string, args ...any) WorkerResult {
	return WorkerResult{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Simulated builds a dry-run preview result.
func Simulated(format string, args ...any) WorkerResult {
	return WorkerResult{Success: true, Simulated: true, Message: fmt.Sprintf(format, args...)}
}

// ConversationEntry is one plan-act-observe turn of an orchestrator run.
// UserInput is empty on internal turns.
type ConversationEntry struct {
	UserInput   string        `json:"user_input,omitempty"`
	Instruction *Instruction  `json:"instruction,omitempty"`
	Result      *WorkerResult `json:"result,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// ActionParam documents one parameter of a tool action for the capability
// catalogue shown to the model.
type ActionParam struct {
	Name        string `json:"name"`
	Type        string `json:"param_type"` // "string" | "integer" | "boolean" | "list"
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolAction documents one action a worker exposes.
type ToolAction struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Params      []ActionParam `json:"params,omitempty"`
	RiskLevel   RiskLevel     `json:"risk_level"`
}

// GitHubFileInfo is one entry of a repository root listing.
type GitHubFileInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // "file" | "dir"
	Path string `json:"path"`
	Size int64  `json:"size"`
}
