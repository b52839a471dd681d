// Package deploy drives LLM-planned deployment of GitHub projects: a
// fixed state machine around analyze, clone, setup, and start, with a
// diagnose loop that repairs failing steps.
package deploy

import (
	"context"
	"fmt"
)

// Step names a state of the deploy state machine.
type Step string

const (
	StepAnalyze Step = "analyze"
	StepClone   Step = "clone"
	StepSetup   Step = "setup"
	StepStart   Step = "start"
	StepDone    Step = "done"
	StepError   Step = "error"
)

// State is the bag threaded through the state machine. It is advanced
// only by the transition methods, never mutated concurrently.
type State struct {
	RepoURL   string `json:"repo_url"`
	TargetDir string `json:"target_dir"`
	DryRun    bool   `json:"dry_run"`

	Owner       string   `json:"owner"`
	Repo        string   `json:"repo"`
	ProjectType string   `json:"project_type"`
	KeyFiles    []string `json:"key_files"`
	ClonePath   string   `json:"clone_path"`

	CurrentStep    Step     `json:"current_step"`
	ErrorMessage   string   `json:"error_message"`
	StepsCompleted []string `json:"steps_completed"`
	FinalMessage   string   `json:"final_message"`

	plan      *Plan
	readme    string
	fileNames []string
}

// NewState starts a run in the analyze state.
func NewState(repoURL, targetDir string, dryRun bool) *State {
	return &State{
		RepoURL:     repoURL,
		TargetDir:   targetDir,
		DryRun:      dryRun,
		ProjectType: "unknown",
		CurrentStep: StepAnalyze,
	}
}

// advance moves to the next state and records the transition.
func (s *State) advance(next Step, note string) {
	s.CurrentStep = next
	if note != "" {
		s.StepsCompleted = append(s.StepsCompleted, note)
	}
}

// fail moves to the terminal error state.
func (s *State) fail(format string, args ...any) {
	s.ErrorMessage = fmt.Sprintf(format, args...)
	s.CurrentStep = StepError
}

// log appends a progress line to the run record.
func (s *State) log(format string, args ...any) {
	s.StepsCompleted = append(s.StepsCompleted, fmt.Sprintf(format, args...))
}

// Terminal reports whether the machine has stopped.
func (s *State) Terminal() bool {
	return s.CurrentStep == StepDone || s.CurrentStep == StepError
}

// Host carries the three capabilities the deploy chain needs from its
// caller: progress reporting, confirmation of destructive actions, and
// free-form questions. Nil function fields degrade to safe defaults
// (no-op progress, denied confirmation, empty answer).
type Host struct {
	Progress func(step, message string)
	Confirm  func(ctx context.Context, title, detail string) bool
	AskUser  func(ctx context.Context, question string, options []string, detail string) string
}

func (h Host) progress(step, message string) {
	if h.Progress != nil {
		h.Progress(step, message)
	}
}

func (h Host) confirm(ctx context.Context, title, detail string) bool {
	if h.Confirm == nil {
		return false
	}
	return h.Confirm(ctx, title, detail)
}

func (h Host) askUser(ctx context.Context, question string, options []string, detail string) string {
	if h.AskUser == nil {
		return ""
	}
	return h.AskUser(ctx, question, options, detail)
}
