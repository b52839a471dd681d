// Package analyze explains a runtime object (container, process, port,
// file, systemd unit, network interface) by probing it with read-only
// commands and summarizing the evidence in Chinese.
package analyze

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/haricheung/opsai/internal/cache"
	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// LLM is the completion surface the analyzer needs.
type LLM interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

// Shell runs the probe commands through the policy gate.
type Shell interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// Worker drives the probe-then-summarize pipeline.
type Worker struct {
	llm   LLM
	shell Shell
	cache *cache.Store
}

var _ worker.Worker = (*Worker)(nil)

// New creates the analyze worker. cache may be nil to disable template
// reuse.
func New(client LLM, shell Shell, store *cache.Store) *Worker {
	return &Worker{llm: client, shell: shell, cache: store}
}

func (w *Worker) Name() string { return "analyze" }

func (w *Worker) Description() string {
	return "Probe and explain a runtime object with read-only commands."
}

func (w *Worker) Capabilities() []string { return []string{"explain"} }

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "explain",
			Description: "Analyze and explain a container, process, port, file, or unit",
			Params: []types.ActionParam{
				{Name: "target", Type: "string", Description: "Object name (container, PID, port, path)", Required: true},
				{Name: "type", Type: "string", Description: "Object type: docker, process, port, file, systemd, network"},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

// DetectTargetType guesses the object type when the caller omits it.
//
// Expectations:
//   - A number below 1024 or in the well-known service set is a port
//   - Any other number is a process id
//   - A leading slash means file, a .service suffix means systemd
//   - Interface-style prefixes (eth0, wlan0, br-…, veth…) mean network
//   - Everything else defaults to a docker container
func DetectTargetType(target string) string {
	if n, err := strconv.Atoi(target); err == nil && n > 0 {
		if n < 1024 || wellKnownPorts[n] {
			return "port"
		}
		return "process"
	}
	if strings.HasPrefix(target, "/") {
		return "file"
	}
	if strings.HasSuffix(target, ".service") {
		return "systemd"
	}
	for _, prefix := range networkPrefixes {
		if strings.HasPrefix(target, prefix) {
			return "network"
		}
	}
	return "docker"
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	if action != "explain" {
		return worker.UnknownAction(action)
	}

	target := args.String("target")
	if target == "" {
		return types.Fail("请指定要分析的对象名称（如容器名、进程 PID、端口号等）")
	}
	targetType := args.String("type")
	if targetType == "" {
		targetType = DetectTargetType(target)
	}

	if args.DryRun() {
		return types.Simulated("[dry-run] would analyze %s as %s", target, targetType)
	}

	commands, err := w.commandsFor(ctx, targetType, target)
	if err != nil || len(commands) == 0 {
		return types.Fail("无法生成分析步骤，请检查对象类型是否正确: %s", targetType)
	}

	collected := w.collect(ctx, commands, target)

	if targetType == "port" {
		if msg, decided := adjudicatePort(target, collected); decided {
			return types.WorkerResult{Success: true, Message: msg, TaskCompleted: true}
		}
	}

	if allEmpty(collected) {
		return types.Fail("无法收集 %s 的信息，所有命令执行失败", target)
	}

	summary, err := w.summarize(ctx, targetType, target, collected)
	if err != nil {
		return types.Fail("分析总结失败: %v", err)
	}
	return types.WorkerResult{Success: true, Message: summary, TaskCompleted: true}
}

// commandsFor resolves the probe list: cache hit, then built-in
// defaults, then LLM generation. Only LLM output is cached.
func (w *Worker) commandsFor(ctx context.Context, targetType, target string) ([]string, error) {
	if w.cache != nil {
		if cached, ok := w.cache.Get(targetType); ok {
			return cached, nil
		}
	}
	if defaults, ok := defaultCommands[targetType]; ok {
		return defaults, nil
	}

	prompt := fmt.Sprintf(`Generate shell commands to analyze an object of type %q named %q.

Return ONLY a JSON array of command strings, no explanation or markdown.
Commands should be safe (read-only) and gather useful diagnostic info.
Use {name} as placeholder for the object name.

Example for docker:
["docker inspect {name}", "docker logs --tail 50 {name}"]

Your response (JSON array only):`, targetType, target)

	response, _, err := w.llm.Chat(ctx, "You are a Linux ops expert. Output only valid JSON.", prompt)
	if err != nil {
		return nil, fmt.Errorf("analyze: generate commands: %w", err)
	}
	all, ok := llm.DecodeStringArray(response)
	if !ok {
		return nil, fmt.Errorf("analyze: no command array in response")
	}
	var commands []string
	for _, cmd := range all {
		if strings.Contains(cmd, "{name}") {
			commands = append(commands, cmd)
		}
	}
	if len(commands) > 0 && w.cache != nil {
		// Cache write failure never blocks the analysis.
		_ = w.cache.Set(targetType, commands)
	}
	return commands, nil
}

type probeResult struct {
	Command string
	Output  string
	Failed  bool
}

// collect substitutes {name} and runs each probe, preserving order.
// Failures become "[Failed: …]" entries rather than aborting.
func (w *Worker) collect(ctx context.Context, commands []string, target string) []probeResult {
	results := make([]probeResult, 0, len(commands))
	for _, tmpl := range commands {
		cmd := strings.ReplaceAll(tmpl, "{name}", target)
		res := w.shell.Execute(ctx, "execute_command", types.Args{"command": cmd})
		if res.Success {
			out := res.RawOutput
			if out == "" {
				out = res.Message
			}
			results = append(results, probeResult{Command: cmd, Output: out})
		} else {
			// The shell worker reports the exit code in Message and
			// puts stderr in RawOutput; the verdict rules need both.
			out := fmt.Sprintf("[Failed: %s]", res.Message)
			if res.RawOutput != "" {
				out += " " + res.RawOutput
			}
			results = append(results, probeResult{Command: cmd, Output: out, Failed: true})
		}
	}
	return results
}

func allEmpty(collected []probeResult) bool {
	for _, r := range collected {
		if !r.Failed && strings.TrimSpace(r.Output) != "" {
			return false
		}
	}
	return true
}

// adjudicatePort settles open/closed for a port target without the LLM
// when the evidence is conclusive.
//
// Expectations:
//   - "succeeded" and "HTTP/" are positive evidence
//   - "LISTEN" counts only outside lsof output (lsof prints it per row)
//   - "ESTABLISHED" counts only inside substantial output
//   - Positive evidence wins before negatives are considered
//   - Positive evidence without a visible owner yields a sudo lsof hint
//   - "connection refused" or an empty lsof yields the closed verdict
func adjudicatePort(port string, collected []probeResult) (string, bool) {
	var positive, negative, ownerVisible bool

	for _, r := range collected {
		lower := strings.ToLower(r.Output)
		isLsof := strings.HasPrefix(r.Command, "lsof")

		if strings.Contains(lower, "succeeded") || strings.Contains(lower, "http/") {
			positive = true
		}
		if !isLsof && strings.Contains(lower, "listen") {
			positive = true
		}
		if strings.Contains(lower, "established") && len(strings.TrimSpace(r.Output)) > 50 {
			positive = true
		}

		if strings.Contains(lower, "connection refused") {
			negative = true
		}
		if isLsof && strings.Contains(lower, "(no matches found)") {
			negative = true
		}

		// Owner identification comes from the process-lookup probes.
		if !r.Failed && (isLsof || strings.Contains(r.Command, "-tlnp")) {
			trimmed := strings.TrimSpace(r.Output)
			if trimmed != "" && !strings.Contains(lower, "(no matches found)") {
				ownerVisible = true
			}
		}
	}

	if positive {
		if !ownerVisible {
			return fmt.Sprintf("端口 %s 有服务在监听，但当前权限无法确定进程信息，可尝试: sudo lsof -i :%s", port, port), true
		}
		return "", false
	}
	if negative {
		return fmt.Sprintf("端口 %s 当前没有服务在监听", port), true
	}
	return "", false
}

// summarize asks the LLM for the final Chinese explanation.
func (w *Worker) summarize(ctx context.Context, targetType, target string, collected []probeResult) (string, error) {
	var b strings.Builder
	for _, r := range collected {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", r.Command, r.Output)
	}

	prompt := fmt.Sprintf(`Analyze this object %q (%s) based on the following command outputs:

%s
Provide a concise Chinese summary explaining:
1. What this object is and its purpose
2. Key configuration details (ports, volumes, environment, etc. if applicable)
3. Current status and any notable observations

Keep the summary under 200 words. Use natural language.
If some commands failed, mention what info is missing but still provide analysis based on available data.`,
		target, targetType, b.String())

	summary, _, err := w.llm.Chat(ctx,
		"You are an expert ops engineer. Provide clear, actionable analysis in Chinese.",
		prompt)
	if err != nil {
		return "", fmt.Errorf("analyze: summarize: %w", err)
	}
	return strings.TrimSpace(llm.StripThinkBlocks(summary)), nil
}
