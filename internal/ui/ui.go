// Package ui renders progress, confirmations, and results for the CLI
// and REPL surfaces. All terminal writes funnel through one Printer so
// spinner frames and progress lines never interleave.
package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/opsai/internal/types"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
	ansiBlue   = "\033[34m"
)

var stageColor = map[string]string{
	"reasoning":   ansiCyan,
	"instruction": ansiBlue,
	"safety":      ansiYellow,
	"executing":   ansiBlue,
	"result":      ansiGreen,
	"audit":       ansiDim,
	"checkpoint":  ansiDim,
}

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Clip truncates s to at most width terminal columns, appending "…"
// when trimmed. CJK runes count as two columns.
func Clip(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width-1, "") + "…"
}

// Printer owns terminal output. Colored may be false for piped output.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	in      *bufio.Reader
	colored bool

	spinning bool
	spinStop chan struct{}
	spinIdx  int
	status   string
}

// NewPrinter creates a printer over out reading confirmations from in.
func NewPrinter(out io.Writer, in io.Reader, colored bool) *Printer {
	return &Printer{out: out, in: bufio.NewReader(in), colored: colored}
}

func (p *Printer) paint(color, s string) string {
	if !p.colored || color == "" {
		return s
	}
	return color + s + ansiReset
}

// Progress renders one engine progress callback line. Messages wider
// than 100 columns are clipped; the stage picks the color.
func (p *Printer) Progress(stage, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearSpinnerLocked()
	if stage == "reasoning" {
		// The reasoning stage is long; show it as spinner status instead
		// of a line per iteration.
		p.status = message
		return
	}
	fmt.Fprintln(p.out, p.paint(stageColor[stage], "  "+Clip(message, 100)))
}

// StartSpinner animates a status line until StopSpinner. No-op when the
// output is not colored (piped runs log plain lines instead).
func (p *Printer) StartSpinner(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.colored || p.spinning {
		p.status = status
		return
	}
	p.spinning = true
	p.status = status
	p.spinStop = make(chan struct{})
	go p.spin(p.spinStop)
}

func (p *Printer) spin(stop chan struct{}) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			frame := spinRunes[p.spinIdx%len(spinRunes)]
			p.spinIdx++
			fmt.Fprintf(p.out, "\r\033[K%s %s", p.paint(ansiCyan, string(frame)), Clip(p.status, 80))
			p.mu.Unlock()
		}
	}
}

// StopSpinner stops the animation and clears its line.
func (p *Printer) StopSpinner() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.spinning {
		return
	}
	close(p.spinStop)
	p.spinning = false
	fmt.Fprint(p.out, "\r\033[K")
}

func (p *Printer) clearSpinnerLocked() {
	if p.spinning {
		fmt.Fprint(p.out, "\r\033[K")
	}
}

// Result prints the final message of a run, framed like a task box.
func (p *Printer) Result(message string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearSpinnerLocked()
	icon := "✅"
	if !success {
		icon = "❌"
	}
	fmt.Fprintln(p.out, p.paint(ansiDim, strings.Repeat("─", 48)))
	fmt.Fprintf(p.out, "%s %s\n", icon, message)
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clearSpinnerLocked()
	fmt.Fprintln(p.out, p.paint(ansiRed, "✗ "+fmt.Sprintf(format, args...)))
}

// Confirm asks a yes/no question and reads one line. Anything but
// y/yes (case-insensitive) is a refusal.
func (p *Printer) Confirm(instr types.Instruction, risk types.RiskLevel) bool {
	p.mu.Lock()
	p.clearSpinnerLocked()
	fmt.Fprintf(p.out, "%s\n", p.paint(ansiYellow, fmt.Sprintf("⚠️  即将执行 %s 风险操作: %s.%s", risk, instr.Worker, instr.Action)))
	if cmd := instr.Args.String("command"); cmd != "" {
		fmt.Fprintf(p.out, "   命令: %s\n", Clip(cmd, 90))
	}
	fmt.Fprint(p.out, "   确认执行? [y/N] ")
	p.mu.Unlock()

	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// ConfirmText asks a free-form yes/no question (deploy repair flow).
func (p *Printer) ConfirmText(title, detail string) bool {
	p.mu.Lock()
	p.clearSpinnerLocked()
	fmt.Fprintf(p.out, "%s\n", p.paint(ansiYellow, "⚠️  "+title))
	if detail != "" {
		fmt.Fprintf(p.out, "   %s\n", Clip(detail, 90))
	}
	fmt.Fprint(p.out, "   确认? [y/N] ")
	p.mu.Unlock()

	line, err := p.in.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// AskUser presents numbered options and returns the chosen one. An
// empty or unreadable reply returns "".
func (p *Printer) AskUser(question string, options []string, detail string) string {
	p.mu.Lock()
	p.clearSpinnerLocked()
	fmt.Fprintf(p.out, "%s\n", p.paint(ansiCyan, "❓ "+question))
	if detail != "" {
		fmt.Fprintln(p.out, p.paint(ansiDim, "   "+Clip(detail, 90)))
	}
	for i, opt := range options {
		fmt.Fprintf(p.out, "   %d. %s\n", i+1, opt)
	}
	fmt.Fprint(p.out, "   选择 [1] ")
	p.mu.Unlock()

	line, err := p.in.ReadString('\n')
	if err != nil {
		return ""
	}
	choice := strings.TrimSpace(line)
	if choice == "" && len(options) > 0 {
		return options[0]
	}
	for i, opt := range options {
		if choice == fmt.Sprintf("%d", i+1) || choice == opt {
			return opt
		}
	}
	return choice
}

var _ = ansiBold
