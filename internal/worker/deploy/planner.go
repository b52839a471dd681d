package deploy

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/types"
)

const (
	keyFileMaxLines = 100
	keyFileMaxBytes = 50_000
	maxKeyFiles     = 5
	readmeMaxChars  = 3000
)

// priorityFiles are read into the planning prompt, most informative
// first.
var priorityFiles = []string{
	"Dockerfile",
	"docker-compose.yml",
	"docker-compose.yaml",
	".env.example",
	"package.json",
	"requirements.txt",
	"pyproject.toml",
	"go.mod",
	"Cargo.toml",
	"Makefile",
	"README.md",
	"README",
}

// PlanStep is one executable unit of the deployment plan.
type PlanStep struct {
	Description string `json:"description"`
	Command     string `json:"command"`
	RiskLevel   string `json:"risk_level"`
}

// EnvCheck is the model's verdict on the local environment.
type EnvCheck struct {
	Satisfied bool     `json:"satisfied"`
	Missing   []string `json:"missing"`
	Warnings  []string `json:"warnings"`
}

// Plan is the model-generated deployment plan.
type Plan struct {
	Thinking        []string   `json:"thinking"`
	ProjectType     string     `json:"project_type"`
	RequiredEnvVars []string   `json:"required_env_vars"`
	ExposedPorts    []int      `json:"exposed_ports"`
	EnvCheck        EnvCheck   `json:"env_check"`
	Steps           []PlanStep `json:"steps"`
	Notes           string     `json:"notes"`
}

// UsesDocker reports whether any plan step runs containers.
func (p *Plan) UsesDocker() bool {
	for _, step := range p.Steps {
		if strings.Contains(step.Command, "docker run") ||
			strings.Contains(step.Command, "docker compose") ||
			strings.Contains(step.Command, "docker-compose") {
			return true
		}
	}
	return false
}

// Planner collects project and environment facts and asks the model
// for a deployment plan.
type Planner struct {
	shell Shell
	llm   LLM
	host  Host
}

// NewPlanner creates the planner over the shell and model.
func NewPlanner(shell Shell, model LLM, host Host) *Planner {
	return &Planner{shell: shell, llm: model, host: host}
}

// CollectEnvInfo probes the local toolchain through the shell worker.
// Probe failures degrade to "not installed" rather than aborting.
func (p *Planner) CollectEnvInfo(ctx context.Context) map[string]string {
	env := map[string]string{
		"os":             fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
		"python":         "not installed",
		"docker":         "not installed",
		"docker_running": "no",
		"node":           "not installed",
		"go":             "not installed",
	}

	probe := func(command string) string {
		res := p.shell.Execute(ctx, "execute_command", types.Args{"command": command})
		if !res.Success {
			return ""
		}
		return strings.TrimSpace(res.RawOutput)
	}

	if out := probe("which python3"); out != "" {
		env["python"] = "python3 (" + out + ")"
	}
	if out := probe("which node"); out != "" {
		env["node"] = "installed (" + out + ")"
	}
	if out := probe("which go"); out != "" {
		env["go"] = "installed (" + out + ")"
	}
	if out := probe("docker version"); out != "" {
		env["docker"] = strings.SplitN(out, "\n", 2)[0]
		if probe("docker info") != "" {
			env["docker_running"] = "yes"
		} else {
			env["docker_running"] = "no (Docker daemon not running)"
		}
	}
	return env
}

// readKeyFile returns a bounded slice of one config file, or "" when
// the file is absent, oversized, or unreadable.
func readKeyFile(projectDir, name string) string {
	path := filepath.Join(projectDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	if info.Size() > keyFileMaxBytes {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < keyFileMaxLines {
		lines = append(lines, scanner.Text())
	}
	content := strings.Join(lines, "\n")
	if len(lines) == keyFileMaxLines {
		content += fmt.Sprintf("\n... (截断，仅显示前 %d 行)", keyFileMaxLines)
	}
	return content
}

// collectKeyFileContents reads up to maxKeyFiles priority files from
// the cloned project.
func (p *Planner) collectKeyFileContents(projectDir string) string {
	var sections []string
	for _, name := range priorityFiles {
		if len(sections) >= maxKeyFiles {
			break
		}
		if content := readKeyFile(projectDir, name); content != "" {
			sections = append(sections, fmt.Sprintf("=== %s ===\n%s", name, content))
		}
	}
	if len(sections) == 0 {
		return "(无关键配置文件，请根据文件名推断)"
	}
	return strings.Join(sections, "\n\n")
}

// GeneratePlan asks the model for the deployment plan. Steps with an
// empty command are dropped; thinking is narration, never control flow.
func (p *Planner) GeneratePlan(ctx context.Context, readme string, files []string, env map[string]string, projectDir string) (*Plan, error) {
	if readme == "" {
		readme = "(无 README)"
	} else if len(readme) > readmeMaxChars {
		readme = readme[:readmeMaxChars]
	}

	filesStr := "(无文件列表)"
	if len(files) > 0 {
		shown := files
		if len(shown) > 50 {
			shown = shown[:50]
		}
		filesStr = strings.Join(shown, ", ")
	}

	keyContents := "(项目尚未克隆)"
	if projectDir != "" {
		p.host.progress("deploy", "  读取本地配置文件...")
		keyContents = p.collectKeyFileContents(projectDir)
	}

	envLines := make([]string, 0, len(env))
	for _, k := range []string{"os", "python", "docker", "docker_running", "node", "go"} {
		if v, ok := env[k]; ok {
			envLines = append(envLines, fmt.Sprintf("- %s: %s", k, v))
		}
	}

	prompt := fmt.Sprintf(planPrompt, readme, filesStr, keyContents, strings.Join(envLines, "\n"))
	response, _, err := p.llm.Chat(ctx,
		"You are an ops expert. Return only valid JSON without markdown code blocks.",
		prompt)
	if err != nil {
		return nil, fmt.Errorf("deploy: generate plan: %w", err)
	}

	var plan Plan
	if !llm.DecodeObject(response, &plan) {
		return nil, fmt.Errorf("deploy: no plan object in model response")
	}
	if plan.ProjectType == "" {
		plan.ProjectType = "unknown"
	}

	kept := plan.Steps[:0]
	dropped := 0
	for _, step := range plan.Steps {
		step.Command = strings.TrimSpace(step.Command)
		if step.Command == "" {
			dropped++
			continue
		}
		if strings.TrimSpace(step.Description) == "" {
			step.Description = step.Command
		}
		kept = append(kept, step)
	}
	plan.Steps = kept
	if dropped > 0 {
		p.host.progress("deploy", fmt.Sprintf("  ⚠️ 已跳过 %d 个空命令步骤", dropped))
	}
	return &plan, nil
}
