package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// Shell runs gated commands; satisfied by the shell worker.
type Shell interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// HTTP fetches GitHub metadata; satisfied by the http worker.
type HTTP interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// Git clones repositories; satisfied by the git worker.
type Git interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// LLM is the completion surface the deploy chain needs.
type LLM interface {
	Chat(ctx context.Context, system, user string) (string, llm.Usage, error)
}

var githubURLRe = regexp.MustCompile(`^https?://github\.com/([\w\-\.]+)/([\w\-\.]+?)(?:\.git)?/?$`)

// ParseGitHubURL extracts (owner, repo) from a GitHub repository URL.
func ParseGitHubURL(url string) (string, string, bool) {
	m := githubURLRe.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// Worker is the deploy tool: analyze, clone, plan, execute, verify.
type Worker struct {
	http      HTTP
	git       Git
	shell     Shell
	planner   *Planner
	executor  *Executor
	diagnoser *Diagnoser
	host      Host
}

var _ worker.Worker = (*Worker)(nil)

// New wires the deploy chain. The host capabilities are shared by the
// planner, executor, and diagnoser.
func New(http HTTP, git Git, shell Shell, model LLM, host Host) *Worker {
	diagnoser := NewDiagnoser(shell, model, host)
	return &Worker{
		http:      http,
		git:       git,
		shell:     shell,
		planner:   NewPlanner(shell, model, host),
		executor:  NewExecutor(shell, diagnoser, host),
		diagnoser: diagnoser,
		host:      host,
	}
}

func (w *Worker) Name() string { return "deploy" }

func (w *Worker) Description() string {
	return "Deploy a GitHub repository: analyze, clone, plan, execute, verify."
}

func (w *Worker) Capabilities() []string { return []string{"deploy"} }

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "deploy",
			Description: "Deploy a GitHub repository to this machine",
			Params: []types.ActionParam{
				{Name: "repo_url", Type: "string", Description: "GitHub repository URL", Required: true},
				{Name: "target_dir", Type: "string", Description: "Parent directory for the clone"},
			},
			RiskLevel: types.RiskHigh,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	if action != "deploy" {
		return worker.UnknownAction(action)
	}

	repoURL := args.String("repo_url")
	if repoURL == "" {
		return types.Fail("repo_url parameter is required")
	}
	targetDir := args.String("target_dir")
	if targetDir == "" {
		targetDir = "."
	}

	st := NewState(repoURL, targetDir, args.DryRun())
	w.run(ctx, st)

	result := types.WorkerResult{
		Success:       st.CurrentStep == StepDone,
		Message:       st.FinalMessage,
		TaskCompleted: true,
		Simulated:     st.DryRun,
		Data: map[string]any{
			"project_dir":  st.ClonePath,
			"project_type": st.ProjectType,
			"repo_url":     st.RepoURL,
		},
	}
	return result
}

// run drives the state machine to a terminal state. Each transition
// owns one phase; done is reached only through successful transitions.
func (w *Worker) run(ctx context.Context, st *State) {
	for !st.Terminal() {
		switch st.CurrentStep {
		case StepAnalyze:
			w.stepAnalyze(ctx, st)
		case StepClone:
			w.stepClone(ctx, st)
		case StepSetup:
			w.stepSetup(ctx, st)
		case StepStart:
			w.stepStart(ctx, st)
		}
	}
	w.summarize(st)
}

// stepAnalyze parses the URL and gathers repository metadata.
func (w *Worker) stepAnalyze(ctx context.Context, st *State) {
	w.host.progress("deploy", "📋 Step 1/4: 收集项目信息...")
	st.log("📋 Step 1/4: 收集项目信息...")

	owner, repo, ok := ParseGitHubURL(st.RepoURL)
	if !ok {
		st.fail("无效的 GitHub URL: %s", st.RepoURL)
		return
	}
	st.Owner, st.Repo = owner, repo

	w.host.progress("deploy", "  获取 README...")
	readme := w.http.Execute(ctx, "fetch_github_readme", types.Args{"owner": owner, "repo": repo})
	if readme.Success {
		st.readme = readme.RawOutput
	}

	w.host.progress("deploy", "  获取文件列表...")
	files := w.http.Execute(ctx, "list_github_files", types.Args{"owner": owner, "repo": repo})
	if data, ok := files.Data.(map[string]any); files.Success && ok {
		if names, ok := data["names"].([]string); ok {
			st.fileNames = names
		}
		if key, ok := data["key_files"].([]string); ok {
			st.KeyFiles = key
		}
	}

	st.ProjectType = classifyProjectType(append(st.fileNames, st.KeyFiles...))

	st.log("  ✓ 仓库: %s/%s", owner, repo)
	if len(st.KeyFiles) > 0 {
		st.log("  ✓ 关键文件: %s", strings.Join(st.KeyFiles, ", "))
	} else {
		st.log("  ✓ 关键文件: 无")
	}
	st.advance(StepClone, "")
}

// stepClone materializes the repository under the target directory.
func (w *Worker) stepClone(ctx context.Context, st *State) {
	w.host.progress("deploy", "📦 Step 2/4: 克隆仓库...")
	st.log("📦 Step 2/4: 克隆仓库...")

	abs, err := filepath.Abs(expandHome(st.TargetDir))
	if err == nil {
		st.TargetDir = abs
	}
	st.ClonePath = filepath.Join(st.TargetDir, st.Repo)

	if st.DryRun {
		st.log("  [DRY-RUN] 将执行: git clone %s %s", st.RepoURL, st.ClonePath)
		st.advance(StepSetup, "")
		return
	}

	if err := os.MkdirAll(st.TargetDir, 0o755); err != nil {
		st.fail("创建目录失败: %v", err)
		return
	}

	res := w.git.Execute(ctx, "clone", types.Args{"url": st.RepoURL, "target_dir": st.TargetDir})
	if !res.Success {
		st.fail("克隆失败: %s", res.Message)
		return
	}
	data, _ := res.Data.(map[string]any)
	if already, _ := data["already_existed"].(bool); already {
		st.log("  ⚠️ 项目已存在: %s", st.ClonePath)
	} else {
		st.log("  ✓ 克隆完成: %s", st.ClonePath)
	}
	st.advance(StepSetup, "")
}

// stepSetup plans the deployment and executes every step.
func (w *Worker) stepSetup(ctx context.Context, st *State) {
	w.host.progress("deploy", "🤖 Step 3/4: AI 分析项目并生成部署计划...")
	st.log("🤖 Step 3/4: AI 分析项目并生成部署计划...")

	w.host.progress("deploy", "  收集本机环境信息...")
	env := w.planner.CollectEnvInfo(ctx)

	w.host.progress("deploy", "  调用 LLM 生成部署计划...")
	files := st.fileNames
	if len(files) == 0 {
		files = st.KeyFiles
	}
	plan, err := w.planner.GeneratePlan(ctx, st.readme, files, env, st.ClonePath)
	if err != nil {
		st.fail("生成部署计划失败: %v", err)
		return
	}
	if len(plan.Steps) == 0 {
		st.fail("无法生成部署计划：未发现可执行命令。请检查项目结构或手动部署。")
		return
	}
	st.plan = plan
	st.ProjectType = plan.ProjectType

	for i, thought := range plan.Thinking {
		w.host.progress("deploy", "    💭 "+thought)
		st.log("    %d. %s", i+1, thought)
	}
	st.log("  ✓ 项目类型: %s", plan.ProjectType)
	st.log("  ✓ 部署步骤: %d 步", len(plan.Steps))
	if plan.Notes != "" {
		st.log("  📝 备注: %s", plan.Notes)
	}

	w.host.progress("deploy", "🚀 Step 4/4: 执行部署计划...")
	st.log("🚀 Step 4/4: 执行部署计划...")

	for i, step := range plan.Steps {
		w.host.progress("deploy", fmt.Sprintf("  [%d/%d] %s", i+1, len(plan.Steps), step.Description))
		st.log("  [%d/%d] %s", i+1, len(plan.Steps), step.Description)

		ok, message := w.executor.ExecuteWithRetry(ctx, step, st.ClonePath, plan.ProjectType,
			st.KeyFiles, st.DryRun)
		st.log("    %s", message)
		if !ok {
			st.fail("部署失败: %s", message)
			return
		}
	}

	// Static sites have nothing to start or verify.
	if st.ProjectType == "static" || !plan.UsesDocker() || st.DryRun {
		st.advance(StepDone, "")
		return
	}
	st.advance(StepStart, "")
}

// stepStart verifies that the started containers are actually up.
func (w *Worker) stepStart(ctx context.Context, st *State) {
	w.host.progress("deploy", "🔍 验证部署...")
	ok, message := w.executor.VerifyDocker(ctx, st.plan, st.ClonePath, st.ProjectType, st.KeyFiles)
	st.log("%s", message)
	if !ok {
		st.fail("部署验证失败: %s", message)
		return
	}

	for _, port := range st.plan.ExposedPorts {
		healthy, health := w.executor.CheckPortHealth(ctx, "localhost", port)
		st.log("  %s", health)
		if !healthy {
			break
		}
	}
	st.advance(StepDone, "")
}

// summarize renders the final message for either terminal state.
func (w *Worker) summarize(st *State) {
	summary := strings.Join(st.StepsCompleted, "\n")

	if st.CurrentStep == StepError {
		summary += "\n\n❌ " + st.ErrorMessage
		summary += "\n\n💡 可能的解决方法:"
		summary += "\n1. 检查项目 README 了解具体要求"
		summary += "\n2. 手动进入项目目录排查问题"
		if st.ClonePath != "" {
			summary += "\n   cd " + st.ClonePath
		}
	} else {
		summary += "\n\n✅ 部署完成！"
		summary += "\n📂 项目路径: " + st.ClonePath
		summary += "\n🎯 项目类型: " + st.ProjectType
	}

	if st.DryRun {
		summary = "[DRY-RUN 模式]\n\n" + summary
	}
	st.FinalMessage = summary
}

// classifyProjectType maps filename signals to a project type. Docker
// configuration wins over language manifests; the planner may refine
// the verdict later with the actual file contents.
func classifyProjectType(files []string) string {
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[strings.ToLower(f)] = true
	}
	switch {
	case seen["dockerfile"], seen["docker-compose.yml"], seen["docker-compose.yaml"]:
		return "docker"
	case seen["package.json"]:
		return "nodejs"
	case seen["requirements.txt"], seen["pyproject.toml"]:
		return "python"
	case seen["go.mod"]:
		return "go"
	case seen["cargo.toml"]:
		return "rust"
	}
	return "unknown"
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
