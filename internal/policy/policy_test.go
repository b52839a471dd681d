package policy

import (
	"strings"
	"testing"

	"github.com/haricheung/opsai/internal/types"
)

func TestCheckCommand_EmptyRejected(t *testing.T) {
	// Empty command is rejected
	res := CheckCommand("   ")
	if res.Allowed {
		t.Error("expected rejection")
	}
}

func TestCheckCommand_DangerousMetacharRejected(t *testing.T) {
	// Commands containing dangerous metacharacters are rejected
	res := CheckCommand("ls; rm -rf /")
	if res.Allowed {
		t.Error("expected rejection")
	}
	if !strings.Contains(res.Reason, "';'") {
		t.Errorf("expected pattern in reason, got %q", res.Reason)
	}
}

func TestCheckCommand_BlockedCommandRejected(t *testing.T) {
	// Commands on the blocked list are rejected
	res := CheckCommand("sudo reboot")
	if res.Allowed {
		t.Error("expected rejection")
	}
}

func TestCheckCommand_BlockedPrefixMatch(t *testing.T) {
	// mkfs.ext4 matches the blocked command mkfs
	res := CheckCommand("mkfs.ext4 /dev/sda1")
	if res.Allowed {
		t.Error("expected rejection")
	}
}

func TestCheckCommand_WhitelistedSafe(t *testing.T) {
	// Whitelisted commands return their table risk level
	res := CheckCommand("docker ps -a")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Risk != types.RiskSafe {
		t.Errorf("risk: got %s, want safe", res.Risk)
	}
}

func TestCheckCommand_DockerRunIsHigh(t *testing.T) {
	// docker run is classified high
	res := CheckCommand("docker run -d --name web -p 8080:80 nginx")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Risk != types.RiskHigh {
		t.Errorf("risk: got %s, want high", res.Risk)
	}
}

func TestCheckCommand_DockerComposeNormalized(t *testing.T) {
	// "docker compose ps" matches the docker-compose rules
	res := CheckCommand("docker compose ps")
	if !res.Allowed || res.Risk != types.RiskSafe {
		t.Errorf("got allowed=%v risk=%s", res.Allowed, res.Risk)
	}
}

func TestCheckCommand_BlockedFlagRejected(t *testing.T) {
	// Blocked flags reject an otherwise whitelisted command
	res := CheckCommand("rm -rf /tmp/x")
	if res.Allowed {
		t.Error("expected rejection for rm -rf")
	}
}

func TestCheckCommand_GitCloneIsLow(t *testing.T) {
	// git clone is classified low
	res := CheckCommand("git clone https://github.com/user/repo.git /tmp/repo")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Risk != types.RiskLow {
		t.Errorf("risk: got %s, want low", res.Risk)
	}
}

func TestCheckCommand_PipeIntoTextToolAllowed(t *testing.T) {
	// Pipes into the read-only text tool list are allowed
	res := CheckCommand("ps aux | grep nginx | grep -v grep")
	if !res.Allowed {
		t.Errorf("expected allowed, got %q", res.Reason)
	}
}

func TestCheckCommand_PipeIntoNonTextToolRejected(t *testing.T) {
	// Pipes into non-text tools are rejected
	res := CheckCommand("cat /etc/passwd | bash")
	if res.Allowed {
		t.Error("expected rejection")
	}
}

func TestCheckCommand_XargsKillElevatesRisk(t *testing.T) {
	// xargs relaying a dangerous command elevates the risk level
	res := CheckCommand("lsof -ti :8080 | xargs kill -9")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Risk != types.RiskHigh {
		t.Errorf("risk: got %s, want high", res.Risk)
	}
}

func TestCheckCommand_UnmatchedDefaultsMedium(t *testing.T) {
	// Unmatched commands default to allowed at medium risk
	res := CheckCommand("terraform plan")
	if !res.Allowed {
		t.Fatalf("expected allowed, got %q", res.Reason)
	}
	if res.Risk != types.RiskMedium {
		t.Errorf("risk: got %s, want medium", res.Risk)
	}
}

func TestCheckCommand_EchoRedirectToProjectFileAllowed(t *testing.T) {
	// echo may redirect into a project file to generate config
	res := CheckCommand("echo SECRET_KEY=$(openssl rand -hex 32) > .env")
	if !res.Allowed {
		t.Errorf("expected allowed, got %q", res.Reason)
	}
}

func TestCheckCommand_EchoRedirectToSystemPathRejected(t *testing.T) {
	// echo must not write into system directories
	res := CheckCommand("echo pwned > /etc/passwd")
	if res.Allowed {
		t.Error("expected rejection")
	}
}

func TestCheckInstruction_ShellGoesThroughCommandCheck(t *testing.T) {
	// Shell instructions are classified via the command whitelist
	res := CheckInstruction(types.Instruction{
		Worker: "shell",
		Action: "execute_command",
		Args:   types.Args{"command": "df -h"},
	})
	if res.Risk != types.RiskSafe {
		t.Errorf("risk: got %s, want safe", res.Risk)
	}
}

func TestCheckInstruction_SystemDeleteIsHigh(t *testing.T) {
	// delete_files actions match the high danger pattern
	res := CheckInstruction(types.Instruction{
		Worker: "system",
		Action: "delete_files",
		Args:   types.Args{"paths": []any{"/tmp/a"}},
	})
	if res.Risk != types.RiskHigh {
		t.Errorf("risk: got %s, want high", res.Risk)
	}
}

func TestCheckInstruction_CleanActionIsSafe(t *testing.T) {
	// Actions without dangerous patterns are safe
	res := CheckInstruction(types.Instruction{
		Worker: "http",
		Action: "fetch_url",
		Args:   types.Args{"url": "https://example.com"},
	})
	if res.Risk != types.RiskSafe {
		t.Errorf("risk: got %s, want safe", res.Risk)
	}
}

func TestExit1OK_GrepNoMatch(t *testing.T) {
	// grep exit 1 means "no match"
	if !Exit1OK("grep nginx /var/log/syslog") {
		t.Error("expected true for grep")
	}
}

func TestExit1OK_LastPipeSegmentDecides(t *testing.T) {
	// For pipelines the main command of the last segment decides
	if !Exit1OK("ps aux | grep nginx | grep -v grep") {
		t.Error("expected true")
	}
	if Exit1OK("grep foo x.txt | sort") {
		t.Error("expected false: sort exit 1 is a real failure")
	}
}

func TestExit1OK_SkipsEnvAssignments(t *testing.T) {
	// VAR=value prefixes are skipped when finding the main command
	if !Exit1OK("LC_ALL=C grep pattern file") {
		t.Error("expected true")
	}
}

func TestIsDestructive_MatchesDockerRm(t *testing.T) {
	// docker rm matches the destructive pattern list
	if !IsDestructive("docker rm -f web") {
		t.Error("expected destructive")
	}
}

func TestIsDestructive_ReadOnlyCommandNotDestructive(t *testing.T) {
	// Plain reads are not destructive
	if IsDestructive("docker logs web") {
		t.Error("expected not destructive")
	}
}

func TestParseCommand_PathFormReduced(t *testing.T) {
	// /usr/bin/ls reduces to ls
	base, _, _ := ParseCommand("/usr/bin/ls -la")
	if base != "ls" {
		t.Errorf("got %q, want ls", base)
	}
}

func TestParseCommand_SubcommandSkipsFlags(t *testing.T) {
	// The first non-flag token after a multi-word command is the subcommand
	base, sub, _ := ParseCommand("docker -D ps")
	if base != "docker" || sub != "ps" {
		t.Errorf("got base=%q sub=%q", base, sub)
	}
}
