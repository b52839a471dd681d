// Package runbook retrieves diagnostic playbooks by keyword so the
// orchestrator can inject proven step sequences into its prompt.
package runbook

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/*.yaml
var builtinFS embed.FS

// Step is one suggested diagnostic action.
type Step struct {
	Description string `yaml:"description"`
	Command     string `yaml:"command"`
	Risk        string `yaml:"risk"`
}

// Runbook is a named diagnostic playbook matched by keywords.
type Runbook struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Steps       []Step   `yaml:"steps"`
}

// PromptContext renders the runbook for prompt injection.
func (r *Runbook) PromptContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Diagnostic reference: %s\n%s\n\n", r.Name, r.Description)
	b.WriteString("Suggested diagnostic steps (adapt as needed):\n")
	for i, step := range r.Steps {
		fmt.Fprintf(&b, "%d. %s\n   Command: `%s`\n", i+1, step.Description, step.Command)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Loader lazily loads the built-in runbooks plus any user-provided
// YAML files from an extra directory.
type Loader struct {
	extraDir string

	once     sync.Once
	runbooks map[string]*Runbook
}

// NewLoader creates a loader. extraDir may be empty or missing; user
// files with the same name override built-ins.
func NewLoader(extraDir string) *Loader {
	return &Loader{extraDir: extraDir}
}

func (l *Loader) load() {
	l.runbooks = make(map[string]*Runbook)

	entries, err := fs.Glob(builtinFS, "data/*.yaml")
	if err == nil {
		for _, name := range entries {
			if data, err := builtinFS.ReadFile(name); err == nil {
				l.add(data, strings.TrimSuffix(filepath.Base(name), ".yaml"))
			}
		}
	}

	if l.extraDir == "" {
		return
	}
	files, err := filepath.Glob(filepath.Join(l.extraDir, "*.yaml"))
	if err != nil {
		return
	}
	for _, path := range files {
		if data, err := os.ReadFile(path); err == nil {
			l.add(data, strings.TrimSuffix(filepath.Base(path), ".yaml"))
		}
	}
}

// add parses one document; malformed files are skipped, not fatal.
func (l *Loader) add(data []byte, fallbackName string) {
	var rb Runbook
	if err := yaml.Unmarshal(data, &rb); err != nil {
		return
	}
	if rb.Name == "" {
		rb.Name = fallbackName
	}
	if len(rb.Steps) == 0 {
		return
	}
	l.runbooks[rb.Name] = &rb
}

// Match returns the top-k runbooks whose keywords appear in the user
// input, best score first. Zero-score runbooks are never returned.
func (l *Loader) Match(userInput string, topK int) []*Runbook {
	l.once.Do(l.load)

	lower := strings.ToLower(userInput)
	type scored struct {
		score int
		rb    *Runbook
	}
	var hits []scored
	for _, rb := range l.runbooks {
		score := 0
		for _, kw := range rb.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{score, rb})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rb.Name < hits[j].rb.Name
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]*Runbook, len(hits))
	for i, h := range hits {
		out[i] = h.rb
	}
	return out
}

// Get returns a runbook by name.
func (l *Loader) Get(name string) (*Runbook, bool) {
	l.once.Do(l.load)
	rb, ok := l.runbooks[name]
	return rb, ok
}

// Names lists all loaded runbooks sorted by name.
func (l *Loader) Names() []string {
	l.once.Do(l.load)
	names := make([]string, 0, len(l.runbooks))
	for name := range l.runbooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
