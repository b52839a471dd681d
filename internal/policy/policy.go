package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/haricheung/opsai/internal/types"
)

// Result is the outcome of one policy check.
type Result struct {
	Risk    types.RiskLevel
	Allowed bool
	Reason  string
}

// multiWordCommands take a subcommand as their first non-flag argument.
var multiWordCommands = map[string]bool{
	"docker": true, "docker-compose": true, "git": true, "systemctl": true,
	"apt": true, "apt-get": true, "yum": true, "dnf": true, "brew": true,
	"npm": true, "yarn": true, "pnpm": true, "pip": true, "pip3": true,
	"kubectl": true, "helm": true, "go": true, "cargo": true,
}

// splitWords tokenizes a command line honoring single and double quotes.
// Malformed quoting falls back to whitespace splitting.
func splitWords(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote byte
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return strings.Fields(s)
	}
	flush()
	return tokens
}

// ParseCommand extracts (base, subcommand, args) from a command line.
// Path-form commands are reduced to their basename; "docker compose" is
// normalized to the docker-compose rule namespace.
func ParseCommand(command string) (base, sub string, args []string) {
	tokens := splitWords(command)
	if len(tokens) == 0 {
		return "", "", nil
	}
	base = tokens[0]
	if i := strings.LastIndexByte(base, '/'); i != -1 {
		base = base[i+1:]
	}
	rest := tokens[1:]
	if base == "docker" && len(rest) > 0 && rest[0] == "compose" {
		base = "docker-compose"
		rest = rest[1:]
	}
	if multiWordCommands[base] {
		for i, tok := range rest {
			if !strings.HasPrefix(tok, "-") {
				return base, tok, rest[i+1:]
			}
		}
		return base, "", rest
	}
	// dpkg -l, crontab -l: flag-style subcommands
	if (base == "dpkg" || base == "crontab") && len(rest) > 0 {
		return base, rest[0], rest[1:]
	}
	return base, "", rest
}

func findRule(base, sub string) *CommandRule {
	for i := range commandWhitelist {
		r := &commandWhitelist[i]
		if r.Base == base && r.Sub == sub && r.Sub != "" {
			return r
		}
	}
	for i := range commandWhitelist {
		r := &commandWhitelist[i]
		if r.Base == base && r.Sub == "" {
			return r
		}
	}
	return nil
}

func checkBlockedFlags(rule *CommandRule, args []string) string {
	for _, arg := range args {
		for _, blocked := range rule.BlockedFlags {
			if arg == blocked || strings.HasPrefix(arg, blocked+"=") {
				return fmt.Sprintf("Flag '%s' is not allowed for command '%s'", blocked, rule.Base)
			}
			if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
				for _, ch := range arg[1:] {
					short := "-" + string(ch)
					for _, b := range rule.BlockedFlags {
						if b == short || b == string(ch) {
							return fmt.Sprintf("Flag '%s' is not allowed for command '%s'", short, rule.Base)
						}
					}
				}
			}
		}
	}
	return ""
}

func checkDangerousPatterns(command string) string {
	// echo is validated separately so config-file generation stays possible.
	if strings.HasPrefix(strings.TrimSpace(command), "echo ") {
		return ""
	}
	for _, pattern := range dangerousPatterns {
		if pattern == "|" {
			continue
		}
		if strings.Contains(command, pattern) {
			return fmt.Sprintf("Dangerous pattern detected: '%s'", pattern)
		}
	}
	return ""
}

var echoRedirectRe = regexp.MustCompile(`>\s*([/\w.-]+)`)

var dangerousWritePrefixes = []string{
	"/etc/", "/sys/", "/proc/", "/dev/", "/root/", "/boot/",
	"/usr/", "/var/", "/bin/", "/sbin/", "/lib/",
}

// checkEchoSafety validates echo commands, which keep redirection and $()
// so secrets and config files can be generated, but must not write into
// system directories or chain further commands.
func checkEchoSafety(command string) string {
	if m := echoRedirectRe.FindStringSubmatch(command); m != nil {
		for _, prefix := range dangerousWritePrefixes {
			if strings.HasPrefix(m[1], prefix) {
				return fmt.Sprintf("Dangerous file path detected: '%s'", prefix)
			}
		}
	}
	for _, pattern := range []string{"&&", "||", ";", "`", "&", "\\n", "\\r", "${"} {
		if strings.Contains(command, pattern) {
			return fmt.Sprintf("Dangerous pattern detected: '%s'", pattern)
		}
	}
	return ""
}

// checkPipeSafety restricts post-pipe commands to read-only text tools and
// inspects what xargs actually relays (e.g. `lsof -ti :80 | xargs kill`).
func checkPipeSafety(command string) string {
	if !strings.Contains(command, "|") {
		return ""
	}
	parts := strings.Split(command, "|")
	for _, part := range parts[1:] {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		base, _, args := ParseCommand(part)
		if !allowedPipeCommands[base] {
			allowed := make([]string, 0, len(allowedPipeCommands))
			for cmd := range allowedPipeCommands {
				allowed = append(allowed, cmd)
			}
			sort.Strings(allowed)
			return fmt.Sprintf("Command '%s' is not allowed in pipe. Allowed: %s",
				base, strings.Join(allowed, ", "))
		}
		if base == "xargs" {
			if wrapped := xargsWrappedCommand(args); wrapped != "" && blockedCommands[wrapped] {
				return fmt.Sprintf("Command '%s' via xargs is blocked for security reasons", wrapped)
			}
		}
	}
	return ""
}

// xargsWrappedCommand skips xargs's own options and returns the command it
// will run, or "".
func xargsWrappedCommand(args []string) string {
	skipNext := false
	for _, arg := range args {
		if skipNext {
			skipNext = false
			continue
		}
		switch arg {
		case "-I", "-n", "-P", "-L", "-s", "-d":
			skipNext = true
			continue
		}
		if strings.HasPrefix(arg, "-") {
			continue
		}
		return arg
	}
	return ""
}

// xargsRisk elevates the pipeline risk when xargs relays to a dangerous
// command, so `lsof -ti :8080 | xargs kill -9` still triggers confirmation.
func xargsRisk(command string) (types.RiskLevel, bool) {
	if !strings.Contains(command, "|") {
		return "", false
	}
	for _, part := range strings.Split(command, "|")[1:] {
		base, _, args := ParseCommand(strings.TrimSpace(part))
		if base != "xargs" {
			continue
		}
		wrapped := xargsWrappedCommand(args)
		if wrapped == "" {
			continue
		}
		full := wrapped + " " + strings.Join(args, " ")
		for _, level := range []types.RiskLevel{types.RiskHigh, types.RiskMedium} {
			for _, pattern := range instructionDangerPatterns[level] {
				if strings.Contains(full, pattern) {
					return level, true
				}
			}
		}
	}
	return "", false
}

// CheckCommand classifies a shell command. Unmatched commands are allowed
// at medium risk so the approval gate still sees them.
//
// Expectations:
//   - Empty command is rejected
//   - Commands containing dangerous metacharacters are rejected
//   - Commands on the blocked list are rejected (mkfs.ext4 matches mkfs)
//   - Whitelisted commands return their table risk level
//   - Blocked flags reject an otherwise whitelisted command
//   - Pipes into non-text tools are rejected
//   - xargs relaying a dangerous command elevates the risk level
//   - Unmatched commands default to allowed at medium risk
func CheckCommand(command string) Result {
	command = strings.TrimSpace(command)
	if command == "" {
		return Result{Risk: types.RiskHigh, Allowed: false, Reason: "Empty command"}
	}

	if reason := checkDangerousPatterns(command); reason != "" {
		return Result{Risk: types.RiskHigh, Allowed: false, Reason: "Command blocked: " + reason}
	}

	base, sub, args := ParseCommand(command)

	blocked := blockedCommands[base]
	if !blocked {
		if i := strings.IndexByte(base, '.'); i > 0 {
			blocked = blockedCommands[base[:i]]
		}
	}
	if blocked {
		return Result{
			Risk:    types.RiskHigh,
			Allowed: false,
			Reason:  fmt.Sprintf("Command '%s' is blocked for security reasons", base),
		}
	}

	rule := findRule(base, sub)
	if rule == nil {
		return Result{
			Risk:    types.RiskMedium,
			Allowed: true,
			Reason:  fmt.Sprintf("Command '%s' not matched in whitelist", base),
		}
	}

	if reason := checkBlockedFlags(rule, args); reason != "" {
		return Result{Risk: types.RiskHigh, Allowed: false, Reason: "Command blocked: " + reason}
	}
	if reason := checkPipeSafety(command); reason != "" {
		return Result{Risk: types.RiskHigh, Allowed: false, Reason: "Command blocked: " + reason}
	}
	if base == "echo" {
		if reason := checkEchoSafety(command); reason != "" {
			return Result{Risk: types.RiskHigh, Allowed: false, Reason: "Command blocked: " + reason}
		}
	}
	if risk, ok := xargsRisk(command); ok {
		return Result{Risk: risk, Allowed: true, Reason: "Allowed but risk elevated: xargs wraps dangerous command"}
	}

	return Result{Risk: rule.Risk, Allowed: true, Reason: "Allowed: " + rule.Description}
}

// CheckInstruction classifies an instruction. Shell commands go through
// CheckCommand; everything else is a substring scan over the action name
// and argument values.
func CheckInstruction(instr types.Instruction) Result {
	if instr.Worker == "shell" && instr.Action == "execute_command" {
		if command := instr.Args.String("command"); command != "" {
			return CheckCommand(command)
		}
	}

	text := instructionText(instr)
	for _, level := range []types.RiskLevel{types.RiskHigh, types.RiskMedium} {
		for _, pattern := range instructionDangerPatterns[level] {
			if strings.Contains(text, pattern) {
				return Result{Risk: level, Allowed: true, Reason: fmt.Sprintf("Pattern matched: '%s'", pattern)}
			}
		}
	}
	return Result{Risk: types.RiskSafe, Allowed: true, Reason: "No dangerous pattern found"}
}

func instructionText(instr types.Instruction) string {
	parts := []string{instr.Action}
	var collect func(v any)
	collect = func(v any) {
		switch t := v.(type) {
		case string:
			parts = append(parts, t)
		case []any:
			for _, e := range t {
				collect(e)
			}
		case []string:
			parts = append(parts, t...)
		case map[string]any:
			for _, e := range t {
				collect(e)
			}
		}
	}
	for _, v := range instr.Args {
		collect(v)
	}
	return strings.Join(parts, " ")
}

// Exit1OK reports whether exit code 1 means "no match" for the main
// command of the last pipe segment (e.g. grep without matches).
func Exit1OK(command string) bool {
	segments := strings.Split(command, "|")
	last := strings.TrimSpace(segments[len(segments)-1])
	for _, part := range strings.Fields(last) {
		if strings.Contains(part, "=") && !strings.HasPrefix(part, "-") {
			continue // VAR=value prefix
		}
		if i := strings.LastIndexByte(part, '/'); i != -1 {
			part = part[i+1:]
		}
		return exit1OKCommands[part]
	}
	return false
}

// IsDestructive reports whether a diagnoser-proposed command matches the
// destructive pattern list and must pass the confirmation callback.
func IsDestructive(command string) bool {
	trimmed := strings.TrimSpace(command)
	for _, pattern := range destructivePatterns {
		if strings.Contains(trimmed, pattern) || strings.HasPrefix(trimmed+" ", pattern) {
			return true
		}
	}
	return false
}
