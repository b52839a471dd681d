// Package loganalyzer parses log text locally: level counting, pattern
// deduplication, and time-window trend detection. It never calls the LLM.
package loganalyzer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

const (
	defaultTailLines = 1000
	topPatterns      = 5
	spikeMinErrors   = 3
	spikeFactor      = 3.0
)

// timestampPatterns run in order; the first hit wins.
var timestampPatterns = []*regexp.Regexp{
	// ISO-8601 with optional zone: 2024-01-15T09:30:00Z / +08:00
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`),
	// 2024-01-15 09:30:00
	regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`),
	// syslog: Jan 15 09:30:00
	regexp.MustCompile(`[A-Z][a-z]{2} {1,2}\d{1,2} \d{2}:\d{2}:\d{2}`),
	// nanosecond ISO: 2024-01-15T09:30:00.123456789
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{6,9}`),
	// common log: 15/Jan/2024:09:30:00 +0000
	regexp.MustCompile(`\d{2}/[A-Z][a-z]{2}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}`),
	// bare time: 09:30:00
	regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}\b`),
}

// levelPatterns run in order on the upper-cased line; the matched name
// maps to the canonical level.
var levelPatterns = []struct {
	re    *regexp.Regexp
	level string
}{
	{regexp.MustCompile(`\bFATAL\b`), "FATAL"},
	{regexp.MustCompile(`\bERROR\b`), "ERROR"},
	{regexp.MustCompile(`\bERR\b`), "ERROR"},
	{regexp.MustCompile(`\bWARNING\b`), "WARN"},
	{regexp.MustCompile(`\bWARN\b`), "WARN"},
	{regexp.MustCompile(`\bINFO\b`), "INFO"},
	{regexp.MustCompile(`\bDEBUG\b`), "DEBUG"},
	{regexp.MustCompile(`\bTRACE\b`), "TRACE"},
}

// normalizeRules run in order; UUIDs before hex runs, hex runs before
// bare integers, whitespace collapse last.
var normalizeRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`), "<UUID>"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "<IP>"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`), "<HEX>"},
	{regexp.MustCompile(`\b\d+\b`), "<N>"},
	{regexp.MustCompile(`\s+`), " "},
}

// Entry is one parsed log line.
type Entry struct {
	Timestamp string
	Level     string
	Message   string
	Raw       string
}

// PatternCount is one deduplicated message pattern.
type PatternCount struct {
	Pattern string
	Count   int
	Sample  string // first raw line seen for this pattern
	Level   string
}

// TrendPoint is one 5-minute window.
type TrendPoint struct {
	Window string // HH:MM of the window start
	Total  int
	Errors int
	Warns  int
	Spike  bool
}

// Analysis is the full result of one corpus pass.
type Analysis struct {
	TotalLines  int
	LevelCounts map[string]int
	// DistinctPatterns counts every error and warn pattern seen, not
	// just the top ones kept below.
	DistinctPatterns int
	ErrorPatterns    []PatternCount
	WarnPatterns     []PatternCount
	Trend            []TrendPoint
	Spikes           []string
}

// ParseLine extracts (timestamp, level, message) from one line.
func ParseLine(line string) Entry {
	e := Entry{Raw: line, Level: "UNKNOWN", Message: line}

	for _, re := range timestampPatterns {
		if m := re.FindString(line); m != "" {
			e.Timestamp = m
			break
		}
	}

	upper := strings.ToUpper(line)
	for _, lp := range levelPatterns {
		if lp.re.MatchString(upper) {
			e.Level = lp.level
			break
		}
	}

	msg := line
	if e.Timestamp != "" {
		msg = strings.Replace(msg, e.Timestamp, "", 1)
	}
	e.Message = strings.TrimSpace(msg)
	return e
}

// Normalize reduces a message to its deduplication key.
//
// Expectations:
//   - UUIDs become <UUID>
//   - Dotted quads become <IP>
//   - Hex runs of 8 or more become <HEX>
//   - Remaining integers become <N>
//   - Runs of whitespace collapse to one space
func Normalize(message string) string {
	s := message
	for _, rule := range normalizeRules {
		s = rule.re.ReplaceAllString(s, rule.repl)
	}
	return strings.TrimSpace(s)
}

// windowKey maps a timestamp to its 5-minute HH:MM window start, or "".
var timeRe = regexp.MustCompile(`(\d{2}):(\d{2}):\d{2}`)

func windowKey(timestamp string) string {
	m := timeRe.FindStringSubmatch(timestamp)
	if m == nil {
		return ""
	}
	var hh, mm int
	fmt.Sscanf(m[1], "%d", &hh)
	fmt.Sscanf(m[2], "%d", &mm)
	return fmt.Sprintf("%02d:%02d", hh, mm-mm%5)
}

// Analyze runs the full local pipeline over the given lines.
//
// Expectations:
//   - Empty input yields TotalLines=0 and no patterns
//   - Identical messages with differing numbers deduplicate to one pattern
//   - The first raw line is retained as the pattern sample
//   - A window with ≥3 errors above 3× the per-window average is a spike
//   - Analyzing the same corpus twice yields identical results
func Analyze(lines []string) Analysis {
	a := Analysis{LevelCounts: make(map[string]int)}

	type patternAgg struct {
		count  int
		sample string
		level  string
	}
	errorAgg := make(map[string]*patternAgg)
	warnAgg := make(map[string]*patternAgg)
	var errorOrder, warnOrder []string
	windows := make(map[string]*TrendPoint)
	var windowOrder []string

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		a.TotalLines++
		e := ParseLine(line)
		a.LevelCounts[e.Level]++

		var agg map[string]*patternAgg
		var order *[]string
		switch e.Level {
		case "ERROR", "FATAL":
			agg, order = errorAgg, &errorOrder
		case "WARN":
			agg, order = warnAgg, &warnOrder
		}
		if agg != nil {
			key := Normalize(e.Message)
			if p, ok := agg[key]; ok {
				p.count++
			} else {
				agg[key] = &patternAgg{count: 1, sample: e.Raw, level: e.Level}
				*order = append(*order, key)
			}
		}

		if w := windowKey(e.Timestamp); w != "" {
			tp, ok := windows[w]
			if !ok {
				tp = &TrendPoint{Window: w}
				windows[w] = tp
				windowOrder = append(windowOrder, w)
			}
			tp.Total++
			switch e.Level {
			case "ERROR", "FATAL":
				tp.Errors++
			case "WARN":
				tp.Warns++
			}
		}
	}

	collect := func(agg map[string]*patternAgg, order []string) []PatternCount {
		out := make([]PatternCount, 0, len(order))
		for _, key := range order {
			p := agg[key]
			out = append(out, PatternCount{Pattern: key, Count: p.count, Sample: p.sample, Level: p.level})
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
		if len(out) > topPatterns {
			out = out[:topPatterns]
		}
		return out
	}
	a.DistinctPatterns = len(errorAgg) + len(warnAgg)
	a.ErrorPatterns = collect(errorAgg, errorOrder)
	a.WarnPatterns = collect(warnAgg, warnOrder)

	sort.Strings(windowOrder)
	totalErrors := 0
	for _, w := range windowOrder {
		totalErrors += windows[w].Errors
	}
	avgErrors := 0.0
	if len(windowOrder) > 0 {
		avgErrors = float64(totalErrors) / float64(len(windowOrder))
	}
	for _, w := range windowOrder {
		tp := windows[w]
		if tp.Errors >= spikeMinErrors && float64(tp.Errors) > spikeFactor*avgErrors {
			tp.Spike = true
			a.Spikes = append(a.Spikes, w)
		}
		a.Trend = append(a.Trend, *tp)
	}
	return a
}

// Summary renders the analysis for the user.
func (a Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "日志分析结果：共 %d 行", a.TotalLines)
	fmt.Fprintf(&b, "，%d 类告警模式\n", a.DistinctPatterns)

	if a.TotalLines > 0 {
		b.WriteString("\n级别分布:\n")
		levels := make([]string, 0, len(a.LevelCounts))
		for level := range a.LevelCounts {
			levels = append(levels, level)
		}
		sort.Slice(levels, func(i, j int) bool {
			return a.LevelCounts[levels[i]] > a.LevelCounts[levels[j]]
		})
		for _, level := range levels {
			n := a.LevelCounts[level]
			fmt.Fprintf(&b, "  %-7s %6d (%.1f%%)\n", level, n, 100*float64(n)/float64(a.TotalLines))
		}
	}

	if len(a.ErrorPatterns) > 0 {
		b.WriteString("\n高频错误:\n")
		for _, p := range a.ErrorPatterns {
			fmt.Fprintf(&b, "  %4d× %s\n", p.Count, p.Pattern)
		}
	}
	if len(a.WarnPatterns) > 0 {
		b.WriteString("\n高频告警:\n")
		for _, p := range a.WarnPatterns {
			fmt.Fprintf(&b, "  %4d× %s\n", p.Count, p.Pattern)
		}
	}
	if len(a.Spikes) > 0 {
		fmt.Fprintf(&b, "\n错误激增时段: %s\n", strings.Join(a.Spikes, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Shell runs docker log fetches for analyze_container.
type Shell interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// Worker exposes the analyzer as a tool.
type Worker struct {
	shell Shell
}

var _ worker.Worker = (*Worker)(nil)

// New creates the log analyzer worker. shell may be nil; then
// analyze_container is unavailable.
func New(shell Shell) *Worker { return &Worker{shell: shell} }

func (w *Worker) Name() string { return "log_analyzer" }

func (w *Worker) Description() string {
	return "Parse logs locally: level counts, pattern dedup, error trend."
}

func (w *Worker) Capabilities() []string {
	return []string{"analyze_lines", "analyze_file", "analyze_container"}
}

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "analyze_lines",
			Description: "Analyze log text passed inline",
			Params: []types.ActionParam{
				{Name: "content", Type: "string", Description: "Log text", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "analyze_file",
			Description: "Analyze the tail of a log file",
			Params: []types.ActionParam{
				{Name: "path", Type: "string", Description: "Log file path", Required: true},
				{Name: "lines", Type: "integer", Description: "Tail line count (default 1000)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "analyze_container",
			Description: "Analyze recent logs of a docker container",
			Params: []types.ActionParam{
				{Name: "name", Type: "string", Description: "Container name", Required: true},
				{Name: "lines", Type: "integer", Description: "Tail line count (default 1000)"},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	switch action {
	case "analyze_lines":
		content := args.String("content")
		if content == "" {
			return types.Fail("content must be a non-empty string")
		}
		return w.report(Analyze(strings.Split(content, "\n")))

	case "analyze_file":
		path := args.String("path")
		if path == "" {
			return types.Fail("path must be a non-empty string")
		}
		lines, err := tailFile(path, args.Int("lines", defaultTailLines))
		if err != nil {
			return types.Fail("Cannot read %s: %v", path, err)
		}
		return w.report(Analyze(lines))

	case "analyze_container":
		name := args.String("name")
		if name == "" {
			return types.Fail("name must be a non-empty string")
		}
		if w.shell == nil {
			return types.Fail("container analysis unavailable: no shell worker")
		}
		res := w.shell.Execute(ctx, "execute_command", types.Args{
			"command": fmt.Sprintf("docker logs --tail %d %s", args.Int("lines", defaultTailLines), name),
		})
		if !res.Success {
			return res
		}
		return w.report(Analyze(strings.Split(res.RawOutput, "\n")))

	default:
		return worker.UnknownAction(action)
	}
}

func (w *Worker) report(a Analysis) types.WorkerResult {
	return types.WorkerResult{
		Success: true,
		Message: a.Summary(),
		Data: map[string]any{
			"total_lines":  a.TotalLines,
			"level_counts": a.LevelCounts,
			"spikes":       a.Spikes,
		},
	}
}

// tailFile returns the last n lines of path without loading unbounded
// content: a ring over the scanner keeps memory at n lines.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		n = defaultTailLines
	}
	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}
