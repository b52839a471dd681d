package orchestrator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/haricheung/opsai/internal/runbook"
	"github.com/haricheung/opsai/internal/types"
)

// PromptBuilder assembles the system and user prompts for the ReAct
// loop. The system prompt carries principles and the tool catalogue,
// never hard-coded diagnostic flows; matched runbooks are injected as
// reference material only.
type PromptBuilder struct {
	runbooks *runbook.Loader
}

// NewPromptBuilder creates a builder. loader may be nil to disable
// runbook injection.
func NewPromptBuilder(loader *runbook.Loader) *PromptBuilder {
	return &PromptBuilder{runbooks: loader}
}

const systemPromptTemplate = `You are a senior ops engineer with deep Linux/container administration experience. You diagnose problems methodically: always gather evidence first, never guess. You communicate findings clearly in structured Chinese markdown.

%s

## How you work (ReAct loop)
Each turn you THINK, then ACT, then OBSERVE, and repeat until you can deliver a comprehensive answer.
- THINK: What do I know? What's still unknown? What single action gives the most value?
- ACT: Execute exactly one action
- OBSERVE: Read the result, then think again
End by using chat.respond to deliver a clear, structured answer in Chinese.

## Core principles
1. **Evidence only**: Every claim must come from a command result. NEVER guess or assume.
2. **Outside-in diagnosis**: Start with basics (installed? version? config valid?) before runtime checks (ports? logs?).
3. **Adapt to OS**: This is %s. Use OS-appropriate commands.
4. **Verify changes**: After any destructive op, run a follow-up command to confirm.
5. **Resolve references**: "这个"/"它"/"那个端口" must be looked up from conversation history.
6. **Chinese output**: Final answers MUST be in Chinese with markdown formatting.

## Tool selection priority
Use the most specific worker available. Fall back to shell only when no specialized worker covers the task.
1. **Specialized workers first**: analyze.explain over raw docker commands, log_analyzer over tail, system.check_disk_usage over df, monitor.snapshot over free/top.
2. **Real ports over defaults**: when the user names a service without a port, call monitor.find_service_port before acting on a port number.
3. **shell.execute_command**: for ad-hoc commands not covered by any worker.
4. **chat.respond**: ONLY for the final answer. Never use it for intermediate steps.

## Efficiency
- NEVER repeat the same command with the same arguments.
- One command per action. Run related checks as separate steps and read each result.
- Use pipes to filter: ps aux | grep nginx, ss -tlnp | grep :80

## Shell rules
- One simple command per call. BLOCKED: ` + "`;`, `&&`, `||`, `$()`, backticks, `&`, redirections (`>`, `>>`, `<`)" + `.
- Pipes are allowed only into read-only text tools: %s.
- To write a file use system.write_file, never shell redirection.

## Available tools
%s

## Risk levels
- safe: read-only ops (ls, ps, cat, grep, curl, docker ps)
- low: harmless probes with side-effect-free network access
- medium: modifying ops (install, write, restart)
- high: destructive ops (kill, rm, stop, docker rm)

## Output format
Return ONLY a valid JSON object:
{"thinking": "brief reasoning", "action": {"worker": "...", "action": "...", "args": {...}, "risk_level": "safe|low|medium|high"}, "is_final": false}

For the final answer (MUST use chat.respond):
{"thinking": "summarize findings", "action": {"worker": "chat", "action": "respond", "args": {"message": "中文 markdown 总结"}, "risk_level": "safe"}, "is_final": true}

Rules:
- is_final MUST be true ONLY when using chat.respond.
- Output ONLY valid JSON. No markdown, no extra text.

## Examples

User: "nginx 为什么起不来"
{"thinking": "先确认 nginx 进程是否在运行", "action": {"worker": "shell", "action": "execute_command", "args": {"command": "ps aux | grep nginx"}, "risk_level": "safe"}, "is_final": false}

User: "看看 8080 端口的情况"
{"thinking": "用 analyze worker 做端口全面体检", "action": {"worker": "analyze", "action": "explain", "args": {"target": "8080", "type": "port"}, "risk_level": "safe"}, "is_final": false}

User: "查看容器日志"（history shows container name = my-app）
{"thinking": "从历史得知目标容器是 my-app，用日志分析 worker", "action": {"worker": "log_analyzer", "action": "analyze_container", "args": {"container": "my-app"}, "risk_level": "safe"}, "is_final": false}

After gathering enough evidence:
{"thinking": "nginx 配置语法错误导致启动失败", "action": {"worker": "chat", "action": "respond", "args": {"message": "## 诊断结果\n\nnginx 启动失败，原因是配置文件语法错误..."}, "risk_level": "safe"}, "is_final": true}%s`

// SystemPrompt renders the system prompt. tools is the capability
// catalogue from the worker registry; userInput drives runbook matching.
func (b *PromptBuilder) SystemPrompt(env EnvContext, tools, userInput string) string {
	runbookSection := ""
	if b.runbooks != nil && userInput != "" {
		if matched := b.runbooks.Match(userInput, 2); len(matched) > 0 {
			parts := make([]string, len(matched))
			for i, rb := range matched {
				parts[i] = rb.PromptContext()
			}
			runbookSection = "\n\n## Diagnostic reference (adapt to actual findings, do NOT follow blindly)\n" +
				strings.Join(parts, "\n\n")
		}
	}
	return fmt.Sprintf(systemPromptTemplate,
		env.PromptContext(),
		env.OS,
		"grep, egrep, awk, sed, sort, uniq, cut, tr, head, tail, wc, jq, cat, xargs",
		tools,
		runbookSection,
	)
}

// port mentions in the request are surfaced explicitly; models otherwise
// drift to default ports like 80 or 8080.
var portMentionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\d{1,5})\s*(?:端口|port)`),
	regexp.MustCompile(`(?i)(?:端口|port)\s*(\d{1,5})`),
	regexp.MustCompile(`:\s*(\d{1,5})`),
	regexp.MustCompile(`(?i)(?:在|on)\s*(\d{1,5})`),
}

// UserPrompt renders the per-iteration prompt: session memory context,
// the full action history with raw outputs, the user request, and any
// port numbers extracted from it.
func (b *PromptBuilder) UserPrompt(userInput string, history []types.ConversationEntry, memoryContext string) string {
	var parts []string

	if memoryContext != "" {
		parts = append(parts, memoryContext, "")
	}

	if len(history) > 0 {
		parts = append(parts, "Previous actions and results:")
		for _, entry := range history {
			if entry.UserInput != "" {
				parts = append(parts, "- User: "+entry.UserInput)
			}
			if entry.Instruction != nil {
				if entry.Instruction.Thinking != "" {
					parts = append(parts, "  Thinking: "+entry.Instruction.Thinking)
				}
				parts = append(parts, fmt.Sprintf("  Action: %s.%s", entry.Instruction.Worker, entry.Instruction.Action))
			}
			if entry.Result != nil {
				parts = append(parts, "  Result: "+entry.Result.Message)
				if entry.Result.RawOutput != "" {
					note := ""
					if entry.Result.Truncated {
						note = " [OUTPUT TRUNCATED]"
					}
					parts = append(parts, "  Output"+note+":", "```\n"+entry.Result.RawOutput+"\n```")
				}
			}
		}
		parts = append(parts, "")
	}

	parts = append(parts, "User request: "+userInput)

	if ports := extractPortMentions(userInput); len(ports) > 0 {
		parts = append(parts, "",
			"PORT INFO FROM USER INPUT: "+strings.Join(ports, ", "),
			"Use these EXACT port numbers, not default ports.")
	}

	return strings.Join(parts, "\n")
}

func extractPortMentions(input string) []string {
	seen := make(map[string]bool)
	for _, re := range portMentionPatterns {
		for _, m := range re.FindAllStringSubmatch(input, -1) {
			seen[m[1]] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	ports := make([]string, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}
