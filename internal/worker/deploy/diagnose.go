package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/policy"
	"github.com/haricheung/opsai/internal/types"
)

const (
	llmDiagnoseTimeout = 60 * time.Second
	maxFixCommands     = 5
	errorPromptLimit   = 1500
)

// Diagnosis is one repair decision, from the local rule table or the
// model. Action is one of fix, ask_user, edit_file, give_up.
type Diagnosis struct {
	Thinking   []string `json:"thinking"`
	Action     string   `json:"action"`
	Commands   []string `json:"commands"`
	NewCommand string   `json:"new_command"`
	AskUser    struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Context  string   `json:"context"`
	} `json:"ask_user"`
	EditFile struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Reason  string `json:"reason"`
	} `json:"edit_file"`
	Cause      string `json:"cause"`
	Suggestion string `json:"suggestion"`
}

// Outcome is what a diagnose loop hands back to the executor.
type Outcome struct {
	Fixed       bool
	Message     string
	FixCommands []string
	NewCommand  string
	Cause       string
}

// Diagnoser repairs failed deploy commands: an ordered local rule
// table first, the model only when no rule fires.
type Diagnoser struct {
	shell Shell
	llm   LLM
	host  Host
}

// NewDiagnoser creates the diagnoser.
func NewDiagnoser(shell Shell, model LLM, host Host) *Diagnoser {
	return &Diagnoser{shell: shell, llm: model, host: host}
}

var (
	portMappingRe   = regexp.MustCompile(`-p\s+(\d+):(\d+)`)
	containerNameRe = regexp.MustCompile(`--name\s+(\S+)`)
)

// TryLocalFix runs the rule table over the (command, error) pair.
// Rules are ordered; the first hit wins and skips the model entirely.
//
// Expectations:
//   - "address already in use" with -p H:C bumps the host port to H+1
//   - A container name conflict prepares docker rm -f <name>, then retries
//   - A blocked python-secrets command becomes the openssl equivalent
//   - A blocked && / || chain is split into independent commands
//   - No rule firing returns nil, deferring to the model
func (d *Diagnoser) TryLocalFix(command, errText string) *Diagnosis {
	lower := strings.ToLower(errText)

	if strings.Contains(lower, "command blocked") || strings.Contains(lower, "dangerous pattern") {
		if fix := d.fixBlockedCommand(command, lower); fix != nil {
			return fix
		}
	}

	if strings.Contains(lower, "address already in use") ||
		(strings.Contains(lower, "port") && strings.Contains(lower, "in use")) {
		if m := portMappingRe.FindStringSubmatch(command); m != nil {
			hostPort, _ := strconv.Atoi(m[1])
			containerPort := m[2]
			newPort := hostPort + 1
			newCommand := portMappingRe.ReplaceAllString(command,
				fmt.Sprintf("-p %d:%s", newPort, containerPort))
			return &Diagnosis{
				Action:     "fix",
				NewCommand: newCommand,
				Cause:      fmt.Sprintf("端口 %d 被占用，已改用 %d", hostPort, newPort),
			}
		}
	}

	if strings.Contains(lower, "container name") && strings.Contains(lower, "already in use") {
		if m := containerNameRe.FindStringSubmatch(command); m != nil {
			return &Diagnosis{
				Action:   "fix",
				Commands: []string{"docker rm -f " + m[1]},
				Cause:    fmt.Sprintf("容器 %s 已存在，先删除旧容器", m[1]),
			}
		}
	}

	return nil
}

// fixBlockedCommand rewrites commands the policy rejected.
func (d *Diagnoser) fixBlockedCommand(command, lowerErr string) *Diagnosis {
	if strings.Contains(command, "python") &&
		(strings.Contains(command, "secrets") || strings.Contains(command, "random")) &&
		(strings.Contains(lowerErr, "';'") || strings.Contains(lowerErr, "dangerous pattern")) {
		if strings.Contains(command, "> .env") || strings.Contains(command, ">> .env") {
			return &Diagnosis{
				Action:     "fix",
				NewCommand: "echo SECRET_KEY=$(openssl rand -hex 32) > .env",
				Cause:      "Python 命令被拦截，已改用 openssl 生成密钥",
			}
		}
		return &Diagnosis{
			Action:     "fix",
			NewCommand: "openssl rand -hex 32",
			Cause:      "Python 命令被拦截，已改用 openssl",
		}
	}

	if strings.Contains(command, "&&") && strings.Contains(lowerErr, "'&&'") {
		var parts []string
		for _, part := range strings.Split(command, "&&") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return &Diagnosis{
				Action:   "fix",
				Commands: parts,
				Cause:    "命令链被拦截，已分解为独立命令",
			}
		}
	}
	if strings.Contains(command, "||") && strings.Contains(lowerErr, "'||'") {
		first := strings.TrimSpace(strings.Split(command, "||")[0])
		if first != "" {
			return &Diagnosis{
				Action:   "fix",
				Commands: []string{first},
				Cause:    "命令链被拦截，保留首个命令",
			}
		}
	}

	return nil
}

// diagnose resolves one failure: local rules, then the model with a
// hard deadline. Any model problem degrades to give_up.
func (d *Diagnoser) diagnose(ctx context.Context, command, errText, projectType, projectDir string, knownFiles []string, collected string) *Diagnosis {
	if fix := d.TryLocalFix(command, errText); fix != nil {
		d.host.progress("deploy", "    🔧 使用本地规则修复...")
		return fix
	}

	if len(errText) > errorPromptLimit {
		errText = errText[:errorPromptLimit]
	}
	files := "(未知)"
	if len(knownFiles) > 0 {
		shown := knownFiles
		if len(shown) > 30 {
			shown = shown[:30]
		}
		files = strings.Join(shown, ", ")
	}
	if collected == "" {
		collected = "(无)"
	}

	prompt := fmt.Sprintf(diagnosePrompt, command, errText, projectType, projectDir, files, collected)

	d.host.progress("deploy", "    🤖 调用 LLM 分析中...")
	llmCtx, cancel := context.WithTimeout(ctx, llmDiagnoseTimeout)
	defer cancel()

	response, _, err := d.llm.Chat(llmCtx,
		"You are an ops expert. Diagnose and fix. Return only valid JSON.", prompt)
	if err != nil {
		cause := "LLM 调用失败: " + err.Error()
		if llmCtx.Err() == context.DeadlineExceeded {
			cause = "LLM 响应超时"
		}
		return &Diagnosis{Action: "give_up", Cause: cause, Suggestion: "请检查网络连接或稍后重试"}
	}

	var diag Diagnosis
	if !llm.DecodeObject(response, &diag) {
		return &Diagnosis{Action: "give_up", Cause: "无法解析诊断结果", Suggestion: "请手动检查"}
	}
	return &diag
}

// Repair runs the bounded diagnose loop for one failing command.
//
// Expectations:
//   - Destructive fix commands pass through the confirmation callback
//   - Refusals become observations; the loop continues
//   - ask_user answers are injected as observations
//   - edit_file writes once confirmed and ends the loop as repaired
//   - give_up and budget exhaustion end the loop unrepaired
func (d *Diagnoser) Repair(ctx context.Context, command, errText, projectType, projectDir string, knownFiles []string, maxIterations int) Outcome {
	var observations []string
	var fixCommands []string

	for iteration := 0; iteration < maxIterations; iteration++ {
		d.host.progress("deploy", fmt.Sprintf("    🔍 AI 诊断中 (轮次 %d/%d)...", iteration+1, maxIterations))

		diag := d.diagnose(ctx, command, errText, projectType, projectDir, knownFiles,
			strings.Join(observations, "\n"))

		for _, thought := range diag.Thinking {
			d.host.progress("deploy", "    💭 "+thought)
		}
		if diag.Cause != "" {
			d.host.progress("deploy", "    💡 分析: "+diag.Cause)
		}

		switch diag.Action {
		case "give_up":
			suggestion := diag.Suggestion
			if suggestion == "" {
				suggestion = "请手动检查项目"
			}
			return Outcome{Message: fmt.Sprintf("原因: %s\n建议: %s", diag.Cause, suggestion), Cause: diag.Cause}

		case "fix":
			if diag.NewCommand != "" {
				d.host.progress("deploy", "    🔄 使用修改后的命令: "+diag.NewCommand)
				return Outcome{Fixed: true, Message: "已生成修复命令", NewCommand: diag.NewCommand, Cause: diag.Cause}
			}
			commands := diag.Commands
			if len(commands) > maxFixCommands {
				commands = commands[:maxFixCommands]
			}
			for _, cmd := range commands {
				if cmd == "" {
					continue
				}
				if policy.IsDestructive(cmd) {
					d.host.progress("deploy", "    ⚠️ 需要确认: "+cmd)
					if !d.host.confirm(ctx, "执行命令", cmd) {
						observations = append(observations, "用户拒绝执行: "+cmd)
						continue
					}
				}
				d.host.progress("deploy", "    🔧 修复: "+cmd)
				res := d.shell.Execute(ctx, "execute_command",
					types.Args{"command": cmd, "working_dir": projectDir})
				if res.Success {
					fixCommands = append(fixCommands, cmd)
				} else {
					observations = append(observations,
						fmt.Sprintf("修复命令 `%s` 失败: %s", cmd, clip(res.Message, 200)))
				}
			}
			if len(fixCommands) > 0 {
				return Outcome{Fixed: true, Message: "已执行修复命令", FixCommands: fixCommands, Cause: diag.Cause}
			}

		case "ask_user":
			question := diag.AskUser.Question
			if question == "" {
				question = "请做出选择"
			}
			options := diag.AskUser.Options
			if len(options) == 0 {
				options = []string{"确认", "取消"}
			}
			d.host.progress("deploy", "    ❓ "+question)
			choice := d.host.askUser(ctx, question, options, diag.AskUser.Context)
			if choice == "" {
				return Outcome{Message: "用户取消操作"}
			}
			d.host.progress("deploy", "    ✓ 用户选择: "+choice)
			observations = append(observations, "用户选择: "+choice)

		case "edit_file":
			path := diag.EditFile.Path
			content := diag.EditFile.Content
			if path == "" || content == "" {
				observations = append(observations, "edit_file 缺少路径或内容")
				continue
			}
			preview := clip(content, 200)
			if !d.host.confirm(ctx, "编辑文件 "+path,
				fmt.Sprintf("原因: %s\n内容预览: %s", diag.EditFile.Reason, preview)) {
				observations = append(observations, "用户拒绝编辑文件: "+path)
				continue
			}
			full := filepath.Join(projectDir, path)
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				observations = append(observations, "编辑文件失败: "+err.Error())
				continue
			}
			d.host.progress("deploy", "    ✓ 文件已更新")
			fixCommands = append(fixCommands, "edit:"+path)
			return Outcome{Fixed: true, Message: "已编辑文件 " + path, FixCommands: fixCommands, Cause: diag.Cause}

		default:
			observations = append(observations, "跳过操作: "+diag.Action)
		}
	}

	return Outcome{Message: "诊断超过最大尝试次数"}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
