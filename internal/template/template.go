// Package template manages reusable ops task templates: named step
// sequences with variable substitution, stored as YAML under the state
// directory and executed through the worker registry.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haricheung/opsai/internal/types"
)

// Step is one templated tool call. OutputKey names the step for later
// {{ref:key.field}} references; empty keys default to step<index>.
type Step struct {
	Worker      string         `yaml:"worker"`
	Action      string         `yaml:"action"`
	Args        map[string]any `yaml:"args"`
	Description string         `yaml:"description"`
	OutputKey   string         `yaml:"output_key"`
	Condition   string         `yaml:"condition"`
	RetryCount  int            `yaml:"retry_count"`
	OnFailure   string         `yaml:"on_failure"` // "abort" (default) | "skip"
}

// Template is a named step sequence.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Steps       []Step `yaml:"steps"`
}

// Manager owns the template directory.
type Manager struct {
	dir string
}

// NewManager opens the template directory, seeding the built-in
// templates when it is empty.
func NewManager(dir string) (*Manager, error) {
	m := &Manager{dir: dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("template: create %s: %w", dir, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err == nil && len(files) == 0 {
		for _, t := range defaultTemplates {
			if err := m.Save(t); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

var defaultTemplates = []Template{
	{
		Name:        "disk_cleanup",
		Description: "磁盘空间清理标准流程",
		Category:    "maintenance",
		Steps: []Step{
			{Worker: "system", Action: "check_disk_usage", Args: map[string]any{"path": "/"}, Description: "检查根目录磁盘使用情况", OutputKey: "usage"},
			{Worker: "system", Action: "find_large_files", Args: map[string]any{"path": "/var/log", "min_size_mb": 100}, Description: "查找 /var/log 下大于 100MB 的文件"},
		},
	},
	{
		Name:        "port_check",
		Description: "端口占用检查流程",
		Category:    "troubleshooting",
		Steps: []Step{
			{Worker: "analyze", Action: "explain", Args: map[string]any{"target": "{{port}}", "type": "port"}, Description: "体检指定端口（需要 port 变量）"},
		},
	},
	{
		Name:        "log_analysis",
		Description: "日志分析流程",
		Category:    "troubleshooting",
		Steps: []Step{
			{Worker: "system", Action: "find_large_files", Args: map[string]any{"path": "/var/log", "min_size_mb": 10}, Description: "查找大日志文件", OutputKey: "large"},
			{Worker: "log_analyzer", Action: "analyze_file", Args: map[string]any{"path": "{{log_file}}"}, Description: "分析指定日志（需要 log_file 变量）"},
		},
	},
	{
		Name:        "service_deploy_check",
		Description: "服务部署后的健康检查",
		Category:    "deploy",
		Steps: []Step{
			{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "docker ps --filter name={{name}}"}, Description: "确认容器在运行", OutputKey: "ps"},
			{Worker: "shell", Action: "execute_command", Args: map[string]any{"command": "curl -sI -m 2 http://localhost:{{port}}"}, Description: "HTTP 探活"},
		},
	},
}

// Save writes one template as <name>.yaml.
func (m *Manager) Save(t Template) error {
	if t.Name == "" {
		return fmt.Errorf("template: empty name")
	}
	data, err := yaml.Marshal(t)
	if err != nil {
		return fmt.Errorf("template: marshal %s: %w", t.Name, err)
	}
	path := filepath.Join(m.dir, t.Name+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("template: write %s: %w", path, err)
	}
	return nil
}

// Load reads one template by name.
func (m *Manager) Load(name string) (Template, error) {
	path := filepath.Join(m.dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("template: %s not found", name)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("template: parse %s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return t, nil
}

// List returns all templates sorted by name. Malformed files are skipped.
func (m *Manager) List() []Template {
	files, err := filepath.Glob(filepath.Join(m.dir, "*.yaml"))
	if err != nil {
		return nil
	}
	var out []Template
	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		if t, err := m.Load(name); err == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete removes a template file.
func (m *Manager) Delete(name string) (bool, error) {
	path := filepath.Join(m.dir, name+".yaml")
	if _, err := os.Stat(path); err != nil {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("template: delete %s: %w", path, err)
	}
	return true, nil
}

// Instructions expands a template into concrete instructions with
// {{var}} placeholders resolved from context. Unresolved placeholders
// are left verbatim so the caller can surface them.
func Instructions(t Template, context map[string]string) []types.Instruction {
	out := make([]types.Instruction, 0, len(t.Steps))
	for _, step := range t.Steps {
		args := make(types.Args, len(step.Args))
		for k, v := range step.Args {
			if s, ok := v.(string); ok {
				args[k] = substitute(s, context, nil)
			} else {
				args[k] = v
			}
		}
		out = append(out, types.Instruction{Worker: step.Worker, Action: step.Action, Args: args})
	}
	return out
}
