package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
)

const replBanner = `opsai — 终端 AI 运维助手 (输入 'exit' 退出, 'help' 查看命令)`

// runREPL is the interactive loop. Each turn runs a full orchestrator
// pass; turns share one session so follow-ups see earlier steps.
func runREPL(ctx context.Context, a *app) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "opsai> ",
		HistoryFile:     filepath.Join(a.baseDir, "repl_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(replBanner)
	sessionID := "repl-" + uuid.NewString()[:8]

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return nil // io.EOF or closed terminal
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch input {
		case "exit", "quit":
			return nil
		case "help":
			printREPLHelp()
			continue
		case "memory":
			listMemory(a)
			continue
		case "changes":
			listChanges(a)
			continue
		case "templates":
			listTemplates(a)
			continue
		}

		a.runQuery(ctx, input, false, sessionID, true)
	}
}

func printREPLHelp() {
	fmt.Print(`直接输入自然语言即可，例如:
  8080 端口被占用了
  看看磁盘空间还剩多少
  帮我部署 https://github.com/user/repo

内置命令:
  memory     查看已记住的内容
  changes    查看可回滚的变更
  templates  查看可用的运维模板
  exit       退出
`)
}
