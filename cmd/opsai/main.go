// Command opsai is a terminal AI ops assistant: it plans diagnostic and
// repair steps with an LLM and executes them through risk-gated workers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haricheung/opsai/internal/audit"
	"github.com/haricheung/opsai/internal/cache"
	"github.com/haricheung/opsai/internal/config"
	"github.com/haricheung/opsai/internal/journal"
	"github.com/haricheung/opsai/internal/llm"
	"github.com/haricheung/opsai/internal/memory"
	"github.com/haricheung/opsai/internal/orchestrator"
	"github.com/haricheung/opsai/internal/runbook"
	"github.com/haricheung/opsai/internal/session"
	"github.com/haricheung/opsai/internal/template"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/ui"
	"github.com/haricheung/opsai/internal/worker"
	"github.com/haricheung/opsai/internal/worker/analyze"
	"github.com/haricheung/opsai/internal/worker/chatworker"
	"github.com/haricheung/opsai/internal/worker/deploy"
	"github.com/haricheung/opsai/internal/worker/gitworker"
	"github.com/haricheung/opsai/internal/worker/httpworker"
	"github.com/haricheung/opsai/internal/worker/loganalyzer"
	"github.com/haricheung/opsai/internal/worker/monitorworker"
	"github.com/haricheung/opsai/internal/worker/shellworker"
	"github.com/haricheung/opsai/internal/worker/systemworker"
)

// app holds the wired singletons shared by every subcommand.
type app struct {
	baseDir   string
	cfg       *config.Manager
	printer   *ui.Printer
	llmClient *llm.Client
	shell     *shellworker.Worker
	registry  *worker.Registry
	memStore  *memory.Store
	tracker   *journal.Tracker
	cacheDB   *cache.Store
	trail     *audit.Trail
	runbooks  *runbook.Loader
	templates *template.Manager
	env       orchestrator.EnvContext
}

func newApp(ctx context.Context) (*app, error) {
	_ = godotenv.Load(".env")

	baseDir := config.BaseDir()
	mgr, err := config.Load(baseDir)
	if err != nil {
		return nil, err
	}
	cfg := mgr.Get()

	// Debug logging goes to a file so slog lines never interleave with
	// the interactive terminal output.
	if f, err := os.OpenFile(filepath.Join(baseDir, "opsai.log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(f, nil)))
	}

	memStore, err := memory.Open(baseDir)
	if err != nil {
		return nil, err
	}
	tracker, err := journal.Open(baseDir)
	if err != nil {
		return nil, err
	}
	cacheDB, err := cache.Open(baseDir)
	if err != nil {
		return nil, err
	}
	templates, err := template.NewManager(filepath.Join(baseDir, "templates"))
	if err != nil {
		return nil, err
	}

	a := &app{
		baseDir:   baseDir,
		cfg:       mgr,
		printer:   ui.NewPrinter(os.Stdout, os.Stdin, true),
		llmClient: llm.New(cfg.LLM, "orchestrator"),
		shell:     shellworker.New(),
		memStore:  memStore,
		tracker:   tracker,
		cacheDB:   cacheDB,
		trail:     audit.New(cfg.Audit),
		runbooks:  runbook.NewLoader(filepath.Join(baseDir, "runbooks")),
		templates: templates,
	}
	a.env = orchestrator.CollectEnv(ctx, a.shell)
	a.registry = a.buildRegistry()
	return a, nil
}

// buildRegistry wires every worker. Registration order is the order the
// capability catalogue shows them to the model.
func (a *app) buildRegistry() *worker.Registry {
	reg := worker.NewRegistry()

	httpW := httpworker.New(a.cfg.Get().HTTP)
	gitW := gitworker.New(a.shell)

	deployHost := deploy.Host{
		Progress: func(step, message string) { a.printer.Progress(step, message) },
		Confirm: func(ctx context.Context, title, detail string) bool {
			return a.printer.ConfirmText(title, detail)
		},
		AskUser: func(ctx context.Context, question string, options []string, detail string) string {
			return a.printer.AskUser(question, options, detail)
		},
	}

	reg.Register(chatworker.New())
	reg.Register(a.shell)
	reg.Register(systemworker.New(a.tracker))
	reg.Register(httpW)
	reg.Register(gitW)
	reg.Register(monitorworker.New(nil))
	reg.Register(analyze.New(a.llmClient, a.shell, a.cacheDB))
	reg.Register(loganalyzer.New(a.shell))
	reg.Register(deploy.New(httpW, gitW, a.shell, a.llmClient, deployHost))
	return reg
}

// runQuery drives one orchestrator run. tui selects the interactive
// risk ceiling; the returned bool is the exit-0/1 decision.
func (a *app) runQuery(ctx context.Context, input string, dryRun bool, sessionID string, tui bool) bool {
	cfg := a.cfg.Get()
	maxRisk := cfg.Safety.CLIMaxRisk
	if tui {
		maxRisk = cfg.Safety.TUIMaxRisk
	}

	var ckpt orchestrator.Checkpointer
	if sessionID != "" {
		store, err := session.Open(filepath.Join(a.baseDir, "sessions"))
		if err != nil {
			a.printer.Error("%v", err)
			return false
		}
		defer store.Close()
		ckpt = store
	}

	engine := orchestrator.New(orchestrator.Options{
		Registry: a.registry,
		LLM:      a.llmClient,
		Prompts:  orchestrator.NewPromptBuilder(a.runbooks),
		Memory:   a.memStore,
		Audit:    a.trail,
		Safety:   cfg.Safety,
		MaxRisk:  maxRisk,
		DryRun:   dryRun,
		Env:      a.env,
		Host: orchestrator.Host{
			Approve: func(instr types.Instruction, risk types.RiskLevel) bool {
				return a.printer.Confirm(instr, risk)
			},
			Progress: a.printer.Progress,
		},
		Session:     sessionID,
		Checkpoints: ckpt,
	})

	a.printer.StartSpinner("🤔 Analyzing your request...")
	out := engine.Run(ctx, input)
	a.printer.StopSpinner()
	a.printer.Result(out.Message, out.Completed)
	return true
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root := &cobra.Command{
		Use:   "opsai",
		Short: "终端 AI 运维助手",
		Long:  "opsai 用 LLM 规划诊断与修复步骤，通过风险门控的 worker 执行。",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runREPL(cmd.Context(), a)
		},
	}
	root.SilenceUsage = true

	root.AddCommand(
		newQueryCmd(),
		newConfigCmd(),
		newTemplateCmd(),
		newCacheCmd(),
		newChangesCmd(),
		newMemoryCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newQueryCmd() *cobra.Command {
	var dryRun bool
	var sessionID string
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "执行一次诊断/运维请求",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			input := strings.Join(args, " ")
			if !a.runQuery(cmd.Context(), input, dryRun, sessionID, false) {
				return fmt.Errorf("query failed to start")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "只预览将要执行的操作，不产生副作用")
	cmd.Flags().StringVar(&sessionID, "session", "", "命名会话，跨调用续接对话历史")
	return cmd
}
