package orchestrator

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/haricheung/opsai/internal/types"
)

// Shell is the slice of the shell worker the orchestrator needs for
// environment probing.
type Shell interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// EnvContext is a one-shot snapshot of the host environment taken at
// startup. It is rendered into every system prompt so the model picks
// OS-appropriate commands.
type EnvContext struct {
	OS              string
	Kernel          string
	Shell           string
	WorkingDir      string
	User            string
	DockerAvailable bool
}

// CollectEnv gathers the snapshot. sh may be nil; runtime probes are
// then skipped and only process-local facts are recorded.
func CollectEnv(ctx context.Context, sh Shell) EnvContext {
	env := EnvContext{
		OS:    runtime.GOOS,
		Shell: os.Getenv("SHELL"),
		User:  os.Getenv("USER"),
	}
	if env.Shell == "" {
		env.Shell = "unknown"
	}
	if env.User == "" {
		env.User = "unknown"
	}
	if wd, err := os.Getwd(); err == nil {
		env.WorkingDir = wd
	}
	if sh == nil {
		return env
	}
	if r := sh.Execute(ctx, "execute_command", types.Args{"command": "uname -r", "timeout": 5}); r.Success {
		env.Kernel = strings.TrimSpace(firstLine(r.RawOutput))
	}
	env.DockerAvailable = sh.Execute(ctx, "execute_command", types.Args{"command": "docker info", "timeout": 5}).Success
	return env
}

// PromptContext renders the snapshot for the system prompt.
func (e EnvContext) PromptContext() string {
	osLine := e.OS
	if e.Kernel != "" {
		osLine += " " + e.Kernel
	}
	docker := "Not available"
	if e.DockerAvailable {
		docker = "Available"
	}
	return fmt.Sprintf(`Current Environment:
- OS: %s
- Shell: %s
- Working Directory: %s
- Docker: %s
- User: %s`, osLine, e.Shell, e.WorkingDir, docker, e.User)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
