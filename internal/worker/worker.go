// Package worker defines the uniform capability surface all tools expose
// and the registry that maps worker names to instances.
package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/haricheung/opsai/internal/types"
)

// Worker is the uniform tool surface. Execute never returns a Go error;
// failures are reported through WorkerResult so the orchestrator can feed
// them back to the model as observations. Every worker must honor
// args["dry_run"] and return a simulated preview instead of a side effect.
type Worker interface {
	Name() string
	Description() string
	Capabilities() []string
	Actions() []types.ToolAction
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// UnknownAction builds the standard result for an unrecognized action.
func UnknownAction(action string) types.WorkerResult {
	return types.Fail("Unknown action: %s", action)
}

// Registry maps worker names to instances. It is populated at startup and
// immutable afterwards; Dispatch is safe for concurrent use once sealed.
type Registry struct {
	workers map[string]Worker
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register adds w under its name. Registering a duplicate name panics;
// the worker set is static wiring, not runtime input.
func (r *Registry) Register(w Worker) {
	name := w.Name()
	if _, ok := r.workers[name]; ok {
		panic(fmt.Sprintf("worker: duplicate registration of %q", name))
	}
	r.workers[name] = w
	r.order = append(r.order, name)
}

// Get returns the worker registered under name.
func (r *Registry) Get(name string) (Worker, bool) {
	w, ok := r.workers[name]
	return w, ok
}

// Names returns the worker names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dispatch routes an instruction to its worker. An unknown worker name
// yields a failed result, not an error; the orchestrator continues.
func (r *Registry) Dispatch(ctx context.Context, instr types.Instruction) types.WorkerResult {
	w, ok := r.workers[instr.Worker]
	if !ok {
		return types.Fail("Unknown worker: %s", instr.Worker)
	}
	return w.Execute(ctx, instr.Action, instr.Args)
}

// Catalogue renders the worker.action(param: kind) capability listing the
// prompt builder shows to the model.
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for _, name := range r.order {
		w := r.workers[name]
		fmt.Fprintf(&b, "## %s — %s\n", name, w.Description())
		for _, action := range w.Actions() {
			params := make([]string, 0, len(action.Params))
			for _, p := range action.Params {
				req := ""
				if p.Required {
					req = ", required"
				}
				params = append(params, fmt.Sprintf("%s: %s%s", p.Name, p.Type, req))
			}
			fmt.Fprintf(&b, "- %s.%s(%s) [risk: %s] %s\n",
				name, action.Name, strings.Join(params, ", "), action.RiskLevel, action.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}
