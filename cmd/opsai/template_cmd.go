package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haricheung/opsai/internal/template"
)

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "管理与执行运维模板",
	}
	cmd.AddCommand(newTemplateListCmd(), newTemplateShowCmd(), newTemplateRunCmd())
	return cmd
}

func newTemplateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "列出可用模板",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			listTemplates(a)
			return nil
		},
	}
}

func newTemplateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "显示模板的步骤",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			t, err := a.templates.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s — %s\n", t.Name, t.Description)
			for i, step := range t.Steps {
				fmt.Printf("  %d. %s.%s", i+1, step.Worker, step.Action)
				if step.Description != "" {
					fmt.Printf("  (%s)", step.Description)
				}
				if step.Condition != "" {
					fmt.Printf("  [if %s]", step.Condition)
				}
				fmt.Println()
				for k, v := range step.Args {
					fmt.Printf("       %s: %v\n", k, v)
				}
			}
			return nil
		},
	}
}

func newTemplateRunCmd() *cobra.Command {
	var dryRun bool
	var contextJSON string
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "执行模板",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			t, err := a.templates.Load(args[0])
			if err != nil {
				return err
			}

			vars := map[string]string{}
			if contextJSON != "" {
				if err := json.Unmarshal([]byte(contextJSON), &vars); err != nil {
					return fmt.Errorf("--context 不是合法的 JSON 对象: %w", err)
				}
			}

			// Template runs are interactive and confirm medium+ steps, so
			// they share the REPL's risk ceiling.
			exec := template.NewExecutor(
				a.registry.Dispatch,
				a.printer.ConfirmText,
				func(idx, total int, description string) {
					a.printer.Progress("executing", fmt.Sprintf("[%d/%d] %s", idx+1, total, description))
				},
				a.cfg.Get().Safety.TUIMaxRisk,
			)

			res := exec.Run(cmd.Context(), t, vars, dryRun)
			for _, s := range res.Steps {
				icon := "✅"
				switch {
				case s.Skipped:
					icon = "⏭️"
				case !s.Success:
					icon = "❌"
				}
				fmt.Printf("  %s 步骤 %d: %s\n", icon, s.Index+1, s.Message)
			}
			a.printer.Result(res.Summary(), res.Success)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "每一步注入 dry_run，不产生副作用")
	cmd.Flags().StringVar(&contextJSON, "context", "", `模板变量，JSON 对象，如 '{"port":"8080"}'`)
	return cmd
}
