package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haricheung/opsai/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "查看与修改配置",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetLLMCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "显示当前配置 (api_key 脱敏)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.cfg.Get()
			fmt.Printf("config: %s\n\n", a.baseDir)
			fmt.Println("[llm]")
			fmt.Printf("  model       = %s\n", cfg.LLM.Model)
			fmt.Printf("  base_url    = %s\n", cfg.LLM.BaseURL)
			fmt.Printf("  api_key     = %s\n", maskKey(cfg.LLM.APIKey))
			fmt.Printf("  timeout     = %ds\n", cfg.LLM.Timeout)
			fmt.Printf("  max_tokens  = %d\n", cfg.LLM.MaxTokens)
			fmt.Println("[safety]")
			fmt.Printf("  auto_approve_safe            = %t\n", cfg.Safety.AutoApproveSafe)
			fmt.Printf("  cli_max_risk                 = %s\n", cfg.Safety.CLIMaxRisk)
			fmt.Printf("  tui_max_risk                 = %s\n", cfg.Safety.TUIMaxRisk)
			fmt.Printf("  require_dry_run_for_high_risk = %t\n", cfg.Safety.RequireDryRunForHighRisk)
			fmt.Println("[audit]")
			fmt.Printf("  log_path        = %s\n", cfg.Audit.LogPath)
			fmt.Printf("  max_log_size_mb = %d\n", cfg.Audit.MaxLogSizeMB)
			return nil
		},
	}
}

// maskKey keeps the first and last four characters of a credential.
func maskKey(key string) string {
	if key == "" {
		return "(未设置)"
	}
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func newConfigSetLLMCmd() *cobra.Command {
	var model, baseURL, apiKey string
	cmd := &cobra.Command{
		Use:   "set-llm",
		Short: "设置 LLM 接入参数",
		RunE: func(cmd *cobra.Command, args []string) error {
			baseDir := config.BaseDir()
			mgr, err := config.Load(baseDir)
			if err != nil {
				return err
			}
			if err := mgr.SetLLM(model, baseURL, apiKey); err != nil {
				return err
			}
			fmt.Println("配置已保存")
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "模型名，如 deepseek-chat")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "OpenAI 兼容接口地址")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (也可用 OPENAI_API_KEY)")
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "管理 analyze 的命令缓存",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出已缓存的目标类型",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			all := a.cacheDB.ListAll()
			if len(all) == 0 {
				fmt.Println("缓存为空")
				return nil
			}
			for _, t := range a.cacheDB.Types() {
				tmpl := all[t]
				fmt.Printf("%-16s %2d 条命令, 命中 %d 次, 创建于 %s\n",
					t, len(tmpl.Commands), tmpl.HitCount, tmpl.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <type>",
		Short: "显示某类型缓存的命令",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			commands, ok := a.cacheDB.Get(args[0])
			if !ok {
				return fmt.Errorf("没有 %q 的缓存", args[0])
			}
			for _, c := range commands {
				fmt.Println("  " + c)
			}
			return nil
		},
	})

	var force bool
	clear := &cobra.Command{
		Use:   "clear [type]",
		Short: "清除缓存 (不带 type 清除全部)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 && !force {
				return fmt.Errorf("清除全部缓存需要 --force")
			}
			types := a.cacheDB.Types()
			if len(args) == 1 {
				types = args[:1]
			}
			removed := 0
			for _, t := range types {
				n, err := a.cacheDB.Clear(t)
				if err != nil {
					return err
				}
				removed += n
			}
			fmt.Printf("已清除 %d 条缓存\n", removed)
			return nil
		},
	}
	clear.Flags().BoolVar(&force, "force", false, "确认清除全部")
	cmd.AddCommand(clear)
	return cmd
}

func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "查看与回滚系统变更",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出已记录的变更",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			listChanges(a)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rollback <change-id>",
		Short: "回滚一条变更",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := a.tracker.Rollback(args[0])
			if err != nil {
				return err
			}
			fmt.Println(msg)
			return nil
		},
	})
	return cmd
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "管理长期记忆",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出记忆条目",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			listMemory(a)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "forget <key>",
		Short: "删除一条记忆",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			ok, err := a.memStore.Forget(args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(os.Stderr, "没有找到 %q\n", args[0])
				return nil
			}
			fmt.Println("已删除")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "清空全部记忆",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.memStore.Clear(); err != nil {
				return err
			}
			fmt.Println("记忆已清空")
			return nil
		},
	})
	return cmd
}

// REPL helpers share the same renderings as the subcommands.

func listMemory(a *app) {
	entries := a.memStore.ListAll()
	if len(entries) == 0 {
		fmt.Println("还没有记住任何内容")
		return
	}
	for _, e := range entries {
		fmt.Printf("[%s] %-20s = %s\n", e.Category, e.Key, e.Value)
	}
}

func listChanges(a *app) {
	records := a.tracker.List()
	if len(records) == 0 {
		fmt.Println("没有记录任何变更")
		return
	}
	for _, r := range records {
		status := " "
		switch {
		case r.RolledBack:
			status = "已回滚"
		case !r.RollbackAvailable:
			status = "不可回滚"
		}
		fmt.Printf("%-12s %-12s %s  %s %s\n",
			r.ChangeID, r.ChangeType, r.Timestamp.Format("01-02 15:04"), r.Description, status)
	}
}

func listTemplates(a *app) {
	templates := a.templates.List()
	if len(templates) == 0 {
		fmt.Println("没有可用模板")
		return
	}
	for _, t := range templates {
		fmt.Printf("%-24s %2d 步  %s\n", t.Name, len(t.Steps), t.Description)
	}
}
