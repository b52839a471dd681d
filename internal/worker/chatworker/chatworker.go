// Package chatworker is the terminal answer channel: the model uses it to
// deliver a final response and end the run.
package chatworker

import (
	"context"

	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// Worker delivers a plain-text answer to the user.
type Worker struct{}

var _ worker.Worker = (*Worker)(nil)

func New() *Worker { return &Worker{} }

func (w *Worker) Name() string { return "chat" }

func (w *Worker) Description() string {
	return "Answer the user directly and finish the task."
}

func (w *Worker) Capabilities() []string { return []string{"respond"} }

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "respond",
			Description: "Deliver the final answer to the user",
			Params: []types.ActionParam{
				{Name: "message", Type: "string", Description: "Answer text", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

func (w *Worker) Execute(_ context.Context, action string, args types.Args) types.WorkerResult {
	if action != "respond" {
		return worker.UnknownAction(action)
	}
	message := args.String("message")
	if message == "" {
		return types.Fail("message must be a non-empty string")
	}
	return types.WorkerResult{
		Success:       true,
		Message:       message,
		TaskCompleted: true,
	}
}
