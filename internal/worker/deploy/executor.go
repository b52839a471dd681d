package deploy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/types"
)

const (
	defaultMaxRetries    = 3
	verifyFixAttempts    = 2
	diagnoseIterations   = 3
	verifyIterations     = 2
	dockerReadyTimeout   = 90 * time.Second
	dockerReadyInterval  = 3 * time.Second
	containerSettleDelay = 2 * time.Second
)

// Executor runs plan steps with retry-and-repair, then verifies Docker
// deployments.
type Executor struct {
	shell     Shell
	diagnoser *Diagnoser
	host      Host

	// sleep is a test seam; defaults to a context-aware time.Sleep.
	sleep func(ctx context.Context, d time.Duration)
}

// NewExecutor creates the executor.
func NewExecutor(shell Shell, diagnoser *Diagnoser, host Host) *Executor {
	return &Executor{shell: shell, diagnoser: diagnoser, host: host, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// failureText joins the result message with the captured output. The
// shell worker reports only the exit code in Message and puts stderr in
// RawOutput; the diagnose rules match on the latter.
func failureText(res types.WorkerResult) string {
	msg := strings.TrimSpace(res.Message)
	out := strings.TrimSpace(res.RawOutput)
	switch {
	case out == "":
		return msg
	case msg == "":
		return out
	}
	return msg + "\n" + out
}

// dockerStartCommands are the daemon-start invocations that need a
// readiness wait before the plan continues.
var dockerStartCommands = map[string]bool{
	"open -a docker":              true,
	"open -a docker.app":          true,
	`open -a "docker"`:            true,
	`open -a "docker.app"`:        true,
	"systemctl start docker":      true,
	"sudo systemctl start docker": true,
	"service docker start":        true,
}

func isDockerStartCommand(command string) bool {
	normalized := strings.Join(strings.Fields(strings.ToLower(command)), " ")
	return dockerStartCommands[normalized]
}

// waitForDockerReady polls docker info until the daemon answers.
func (e *Executor) waitForDockerReady(ctx context.Context) bool {
	deadline := time.Now().Add(dockerReadyTimeout)
	for {
		res := e.shell.Execute(ctx, "execute_command", types.Args{"command": "docker info"})
		if res.Success {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		e.sleep(ctx, dockerReadyInterval)
	}
}

// ExecuteWithRetry runs one plan step, invoking the diagnose loop on
// failure and retrying with either the repaired environment or a
// replacement command.
//
// Expectations:
//   - Empty commands are skipped, not failed
//   - dry_run reports the command without running it
//   - The first error is preserved for the final report
//   - A replace-command fix swaps the command for subsequent attempts
//   - Retry exhaustion reports the step with its first error
func (e *Executor) ExecuteWithRetry(ctx context.Context, step PlanStep, projectDir, projectType string, knownFiles []string, dryRun bool) (bool, string) {
	command := strings.TrimSpace(step.Command)
	description := strings.TrimSpace(step.Description)
	if description == "" {
		description = command
	}
	if command == "" {
		return true, "⏭️ 跳过空命令步骤"
	}
	if dryRun {
		return true, "[DRY-RUN] 将执行: " + command
	}

	var firstError string
	current := command

	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		e.host.progress("deploy", "    执行: "+clip(current, 80))
		res := e.shell.Execute(ctx, "execute_command",
			types.Args{"command": current, "working_dir": projectDir})

		if res.Success {
			if isDockerStartCommand(current) {
				e.host.progress("deploy", "    ⏳ 等待 Docker daemon 就绪...")
				if !e.waitForDockerReady(ctx) {
					return false, "✗ Docker 启动后仍未就绪，请手动确认 Docker 已启动后重试"
				}
			}
			return true, "✓ " + description
		}

		failure := failureText(res)
		if attempt == 0 {
			firstError = failure
		}
		if attempt == defaultMaxRetries {
			break
		}

		e.host.progress("deploy", "    ⚠️ 命令失败，启动 AI 自主诊断...")
		outcome := e.diagnoser.Repair(ctx, current, failure, projectType, projectDir,
			knownFiles, diagnoseIterations)

		if !outcome.Fixed {
			detail := fmt.Sprintf("✗ %s\n命令: %s\n错误: %s", description, current, firstError)
			if outcome.Message != "" {
				detail += "\n" + outcome.Message
			}
			return false, detail
		}
		if outcome.NewCommand != "" {
			current = outcome.NewCommand
			e.host.progress("deploy", "    🔄 使用修改后的命令重试...")
		} else {
			e.host.progress("deploy", "    ✓ 修复完成，重试原命令...")
		}
	}

	return false, fmt.Sprintf("✗ %s: 重试次数耗尽\n命令: %s\n错误: %s", description, current, firstError)
}

// VerifyDocker checks that the containers a plan started are actually
// up, driving the diagnose loop over container logs when they are not.
//
// Expectations:
//   - Plans without a docker run --name or compose up step skip verification
//   - An "Up" status from docker ps passes
//   - A down container feeds its last 50 log lines into the diagnoser
//   - The fix budget is verifyFixAttempts; exhaustion fails with the logs
func (e *Executor) VerifyDocker(ctx context.Context, plan *Plan, projectDir, projectType string, knownFiles []string) (bool, string) {
	var containerName, runCommand string
	var isCompose bool

	for _, step := range plan.Steps {
		if strings.Contains(step.Command, "docker compose up") ||
			strings.Contains(step.Command, "docker-compose up") {
			isCompose = true
			runCommand = step.Command
			break
		}
		if strings.Contains(step.Command, "docker run") && strings.Contains(step.Command, "--name") {
			if m := containerNameRe.FindStringSubmatch(step.Command); m != nil {
				containerName = m[1]
				runCommand = step.Command
				break
			}
		}
	}

	if runCommand == "" {
		e.host.progress("deploy", "    ℹ️ 未检测到 Docker 部署命令，跳过验证")
		return true, "未检测到 Docker 部署"
	}
	if isCompose {
		return e.verifyCompose(ctx, runCommand, projectDir, projectType, knownFiles)
	}

	e.host.progress("deploy", fmt.Sprintf("    🔍 检查容器 %s 状态...", containerName))

	var lastError string
	for attempt := 0; attempt <= verifyFixAttempts; attempt++ {
		status, up := e.containerStatus(ctx, containerName, false)
		if up {
			e.host.progress("deploy", fmt.Sprintf("    ✅ 容器 %s 运行中: %s", containerName, status))
			return true, fmt.Sprintf("✅ 容器验证通过: %s (%s)", containerName, status)
		}

		e.host.progress("deploy", fmt.Sprintf("    ⚠️ 容器 %s 未运行，检查原因...", containerName))
		if existsStatus, _ := e.containerStatus(ctx, containerName, true); existsStatus != "" {
			logs := e.containerLogs(ctx, containerName)
			lastError = fmt.Sprintf("容器 %s 已退出。\n日志:\n%s", containerName, clip(logs, 500))
		} else {
			lastError = fmt.Sprintf("容器 %s 不存在", containerName)
		}

		if attempt == verifyFixAttempts {
			break
		}
		e.host.progress("deploy", fmt.Sprintf("    🔧 尝试修复 (尝试 %d/%d)...", attempt+1, verifyFixAttempts))

		outcome := e.diagnoser.Repair(ctx, runCommand, lastError, projectType, projectDir,
			knownFiles, verifyIterations)
		if !outcome.Fixed {
			return false, fmt.Sprintf("容器 %s 启动失败: %s", containerName, clip(lastError, 200))
		}
		if outcome.NewCommand != "" {
			runCommand = outcome.NewCommand
			e.host.progress("deploy", "    🔄 执行修复后的命令...")
			res := e.shell.Execute(ctx, "execute_command",
				types.Args{"command": runCommand, "working_dir": projectDir})
			if !res.Success {
				continue
			}
		}
		e.sleep(ctx, containerSettleDelay)
	}

	return false, fmt.Sprintf("容器 %s 启动失败: %s", containerName, clip(lastError, 200))
}

// containerStatus queries docker ps for the exact container name.
func (e *Executor) containerStatus(ctx context.Context, name string, includeExited bool) (string, bool) {
	flag := ""
	if includeExited {
		flag = "-a "
	}
	command := fmt.Sprintf("docker ps %s--filter name=^%s$ --format '{{.Names}} {{.Status}}'", flag, name)
	res := e.shell.Execute(ctx, "execute_command", types.Args{"command": command})
	if !res.Success {
		return "", false
	}
	statusRe := regexp.MustCompile(regexp.QuoteMeta(name) + `\s+(.+)`)
	m := statusRe.FindStringSubmatch(res.RawOutput)
	if m == nil {
		return "", false
	}
	status := strings.TrimSpace(m[1])
	return status, strings.HasPrefix(status, "Up")
}

func (e *Executor) containerLogs(ctx context.Context, name string) string {
	res := e.shell.Execute(ctx, "execute_command",
		types.Args{"command": "docker logs --tail 50 " + name})
	if !res.Success {
		return "无法获取日志"
	}
	return res.RawOutput
}

// verifyCompose checks a docker compose deployment.
func (e *Executor) verifyCompose(ctx context.Context, upCommand, projectDir, projectType string, knownFiles []string) (bool, string) {
	e.host.progress("deploy", "    🔍 检查 docker compose 服务状态...")

	var lastError string
	for attempt := 0; attempt <= verifyFixAttempts; attempt++ {
		res := e.shell.Execute(ctx, "execute_command",
			types.Args{"command": "docker compose ps", "working_dir": projectDir})
		if res.Success && strings.Contains(strings.ToLower(res.RawOutput), "running") {
			e.host.progress("deploy", "    ✅ docker compose 服务运行中")
			return true, "✅ docker compose 服务验证通过"
		}

		e.host.progress("deploy", "    ⚠️ docker compose 服务未运行，检查原因...")
		logsRes := e.shell.Execute(ctx, "execute_command",
			types.Args{"command": "docker compose logs --tail 50", "working_dir": projectDir})
		logs := "无法获取日志"
		if logsRes.Success {
			logs = logsRes.RawOutput
		}
		lastError = fmt.Sprintf("docker compose 服务未运行。\n日志:\n%s", clip(logs, 500))

		if attempt == verifyFixAttempts {
			break
		}
		outcome := e.diagnoser.Repair(ctx, upCommand, lastError, projectType, projectDir,
			knownFiles, verifyIterations)
		if !outcome.Fixed {
			break
		}
		if outcome.NewCommand != "" {
			runRes := e.shell.Execute(ctx, "execute_command",
				types.Args{"command": outcome.NewCommand, "working_dir": projectDir})
			if !runRes.Success {
				continue
			}
		}
		e.sleep(ctx, containerSettleDelay)
	}

	return false, "docker compose 服务启动失败: " + clip(lastError, 200)
}

// CheckPortHealth probes a published port with curl, falling back to a
// raw TCP check. Any answering status code counts as reachable.
func (e *Executor) CheckPortHealth(ctx context.Context, host string, port int) (bool, string) {
	if host == "" {
		host = "localhost"
	}
	res := e.shell.Execute(ctx, "execute_command", types.Args{
		"command": fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' http://%s:%d", host, port),
	})
	if res.Success {
		code := strings.Trim(strings.TrimSpace(res.RawOutput), "'")
		switch {
		case strings.HasPrefix(code, "2"), strings.HasPrefix(code, "3"):
			return true, fmt.Sprintf("端口 %d 健康检查通过 (HTTP %s)", port, code)
		case code == "000":
			// Unreachable over HTTP; fall through to the TCP probe.
		case code != "":
			return true, fmt.Sprintf("端口 %d 可访问 (HTTP %s)", port, code)
		}
	}

	nc := e.shell.Execute(ctx, "execute_command", types.Args{
		"command": fmt.Sprintf("nc -z -w 3 %s %d", host, port),
	})
	if nc.Success {
		return true, fmt.Sprintf("端口 %d 可访问", port)
	}
	return false, fmt.Sprintf("端口 %d 无法连接", port)
}
