// Package policy classifies shell commands and instructions by risk and
// enforces the pattern-based block list. It is pure computation over
// static rule tables; no I/O.
package policy

import "github.com/haricheung/opsai/internal/types"

// CommandRule maps a base command (and optional subcommand) to a risk
// level. More specific rules (with a subcommand) win over bare-command
// rules for the same base command.
type CommandRule struct {
	Base         string
	Sub          string // "" matches any subcommand
	Risk         types.RiskLevel
	BlockedFlags []string
	Description  string
}

// commandWhitelist is the ordered rule table. Specific rules first is not
// required; lookup prefers an exact (base, sub) match before a bare base
// match.
var commandWhitelist = []CommandRule{
	// Filesystem, read only
	{Base: "ls", Risk: types.RiskSafe, Description: "list directory"},
	{Base: "cat", Risk: types.RiskSafe, Description: "read file"},
	{Base: "head", Risk: types.RiskSafe, Description: "read file head"},
	{Base: "tail", Risk: types.RiskSafe, Description: "read file tail"},
	{Base: "less", Risk: types.RiskSafe, Description: "page file"},
	{Base: "more", Risk: types.RiskSafe, Description: "page file"},
	{Base: "wc", Risk: types.RiskSafe, Description: "count lines/words"},
	{Base: "file", Risk: types.RiskSafe, Description: "file type"},
	{Base: "stat", Risk: types.RiskSafe, Description: "file status"},
	{Base: "test", Risk: types.RiskSafe, Description: "test path/condition"},
	{Base: "find", Risk: types.RiskSafe, BlockedFlags: []string{"-delete", "-exec"}, Description: "find files"},
	{Base: "which", Risk: types.RiskSafe, Description: "locate command"},
	{Base: "whereis", Risk: types.RiskSafe, Description: "locate command"},
	{Base: "readlink", Risk: types.RiskSafe, Description: "read symlink"},
	{Base: "realpath", Risk: types.RiskSafe, Description: "resolve path"},

	// Text processing, read only
	{Base: "grep", Risk: types.RiskSafe, Description: "search text"},
	{Base: "egrep", Risk: types.RiskSafe, Description: "search text"},
	{Base: "fgrep", Risk: types.RiskSafe, Description: "search text"},
	{Base: "awk", Risk: types.RiskSafe, Description: "process text"},
	{Base: "sed", Risk: types.RiskSafe, BlockedFlags: []string{"-i"}, Description: "stream edit (no in-place)"},
	{Base: "sort", Risk: types.RiskSafe, Description: "sort"},
	{Base: "uniq", Risk: types.RiskSafe, Description: "dedup"},
	{Base: "cut", Risk: types.RiskSafe, Description: "cut columns"},
	{Base: "tr", Risk: types.RiskSafe, Description: "translate chars"},
	{Base: "diff", Risk: types.RiskSafe, Description: "compare files"},
	{Base: "comm", Risk: types.RiskSafe, Description: "compare files"},
	{Base: "tee", Risk: types.RiskMedium, Description: "write to file and stdout"},

	// System info, read only
	{Base: "df", Risk: types.RiskSafe, Description: "disk usage"},
	{Base: "du", Risk: types.RiskSafe, Description: "directory size"},
	{Base: "free", Risk: types.RiskSafe, Description: "memory usage"},
	{Base: "top", Risk: types.RiskSafe, Description: "process monitor"},
	{Base: "ps", Risk: types.RiskSafe, Description: "process list"},
	{Base: "pgrep", Risk: types.RiskSafe, Description: "process search"},
	{Base: "lsof", Risk: types.RiskSafe, Description: "open files"},
	{Base: "netstat", Risk: types.RiskSafe, Description: "network status"},
	{Base: "ss", Risk: types.RiskSafe, Description: "socket status"},
	{Base: "ip", Risk: types.RiskSafe, Description: "network config"},
	{Base: "ifconfig", Risk: types.RiskSafe, Description: "interface config"},
	{Base: "hostname", Risk: types.RiskSafe, Description: "hostname"},
	{Base: "uname", Risk: types.RiskSafe, Description: "system info"},
	{Base: "uptime", Risk: types.RiskSafe, Description: "uptime"},
	{Base: "whoami", Risk: types.RiskSafe, Description: "current user"},
	{Base: "id", Risk: types.RiskSafe, Description: "user identity"},
	{Base: "date", Risk: types.RiskSafe, Description: "date/time"},
	{Base: "env", Risk: types.RiskSafe, Description: "environment"},
	{Base: "printenv", Risk: types.RiskSafe, Description: "environment"},
	{Base: "echo", Risk: types.RiskSafe, Description: "print text"},
	{Base: "printf", Risk: types.RiskSafe, Description: "print text"},
	{Base: "pwd", Risk: types.RiskSafe, Description: "current directory"},
	{Base: "dmesg", Risk: types.RiskSafe, Description: "kernel messages"},
	{Base: "lscpu", Risk: types.RiskSafe, Description: "cpu info"},
	{Base: "lsblk", Risk: types.RiskSafe, Description: "block devices"},

	// Network tools
	{Base: "ping", Risk: types.RiskSafe, Description: "reachability test"},
	{Base: "curl", Risk: types.RiskSafe, Description: "http request"},
	{Base: "wget", Risk: types.RiskLow, Description: "download file"},
	{Base: "dig", Risk: types.RiskSafe, Description: "dns query"},
	{Base: "nslookup", Risk: types.RiskSafe, Description: "dns query"},
	{Base: "host", Risk: types.RiskSafe, Description: "dns query"},
	{Base: "traceroute", Risk: types.RiskSafe, Description: "trace route"},
	{Base: "nc", Risk: types.RiskLow, Description: "network probe"},
	{Base: "netcat", Risk: types.RiskLow, Description: "network probe"},
	{Base: "telnet", Risk: types.RiskLow, Description: "remote connect"},

	// Docker
	{Base: "docker", Sub: "ps", Risk: types.RiskSafe, Description: "list containers"},
	{Base: "docker", Sub: "images", Risk: types.RiskSafe, Description: "list images"},
	{Base: "docker", Sub: "logs", Risk: types.RiskSafe, Description: "container logs"},
	{Base: "docker", Sub: "inspect", Risk: types.RiskSafe, Description: "inspect object"},
	{Base: "docker", Sub: "stats", Risk: types.RiskSafe, Description: "resource stats"},
	{Base: "docker", Sub: "top", Risk: types.RiskSafe, Description: "container processes"},
	{Base: "docker", Sub: "port", Risk: types.RiskSafe, Description: "port mappings"},
	{Base: "docker", Sub: "version", Risk: types.RiskSafe, Description: "version"},
	{Base: "docker", Sub: "info", Risk: types.RiskSafe, Description: "daemon info"},
	{Base: "docker", Sub: "network", Risk: types.RiskSafe, Description: "network info"},
	{Base: "docker", Sub: "volume", Risk: types.RiskSafe, Description: "volume info"},
	{Base: "docker", Sub: "exec", Risk: types.RiskLow, Description: "exec in container"},
	{Base: "docker", Sub: "cp", Risk: types.RiskLow, Description: "copy to/from container"},
	{Base: "docker", Sub: "start", Risk: types.RiskMedium, Description: "start container"},
	{Base: "docker", Sub: "stop", Risk: types.RiskMedium, Description: "stop container"},
	{Base: "docker", Sub: "restart", Risk: types.RiskMedium, Description: "restart container"},
	{Base: "docker", Sub: "pull", Risk: types.RiskMedium, Description: "pull image"},
	{Base: "docker", Sub: "build", Risk: types.RiskMedium, Description: "build image"},
	{Base: "docker", Sub: "run", Risk: types.RiskHigh, Description: "run container"},
	{Base: "docker", Sub: "rm", Risk: types.RiskHigh, Description: "remove container"},
	{Base: "docker", Sub: "rmi", Risk: types.RiskHigh, Description: "remove image"},
	{Base: "docker", Sub: "kill", Risk: types.RiskHigh, Description: "kill container"},
	{Base: "docker", Sub: "prune", Risk: types.RiskHigh, Description: "prune resources"},

	// Docker Compose ("docker compose" is normalized to docker-compose)
	{Base: "docker-compose", Sub: "ps", Risk: types.RiskSafe, Description: "list services"},
	{Base: "docker-compose", Sub: "logs", Risk: types.RiskSafe, Description: "service logs"},
	{Base: "docker-compose", Sub: "config", Risk: types.RiskSafe, Description: "validate config"},
	{Base: "docker-compose", Sub: "start", Risk: types.RiskMedium, Description: "start services"},
	{Base: "docker-compose", Sub: "stop", Risk: types.RiskMedium, Description: "stop services"},
	{Base: "docker-compose", Sub: "restart", Risk: types.RiskMedium, Description: "restart services"},
	{Base: "docker-compose", Sub: "up", Risk: types.RiskMedium, Description: "bring services up"},
	{Base: "docker-compose", Sub: "pull", Risk: types.RiskMedium, Description: "pull images"},
	{Base: "docker-compose", Sub: "build", Risk: types.RiskMedium, Description: "build services"},
	{Base: "docker-compose", Sub: "down", Risk: types.RiskHigh, Description: "stop and remove"},
	{Base: "docker-compose", Sub: "rm", Risk: types.RiskHigh, Description: "remove containers"},

	// Git
	{Base: "git", Sub: "status", Risk: types.RiskSafe, Description: "repo status"},
	{Base: "git", Sub: "log", Risk: types.RiskSafe, Description: "commit history"},
	{Base: "git", Sub: "diff", Risk: types.RiskSafe, Description: "diff"},
	{Base: "git", Sub: "show", Risk: types.RiskSafe, Description: "show object"},
	{Base: "git", Sub: "branch", Risk: types.RiskSafe, Description: "list branches"},
	{Base: "git", Sub: "remote", Risk: types.RiskSafe, Description: "remotes"},
	{Base: "git", Sub: "ls-files", Risk: types.RiskSafe, Description: "tracked files"},
	{Base: "git", Sub: "rev-parse", Risk: types.RiskSafe, Description: "resolve ref"},
	{Base: "git", Sub: "fetch", Risk: types.RiskLow, Description: "fetch remote"},
	{Base: "git", Sub: "pull", Risk: types.RiskLow, Description: "pull updates"},
	{Base: "git", Sub: "clone", Risk: types.RiskLow, Description: "clone repository"},
	{Base: "git", Sub: "checkout", Risk: types.RiskLow, Description: "switch branch"},
	{Base: "git", Sub: "switch", Risk: types.RiskLow, Description: "switch branch"},
	{Base: "git", Sub: "add", Risk: types.RiskLow, Description: "stage files"},
	{Base: "git", Sub: "stash", Risk: types.RiskLow, Description: "stash changes"},
	{Base: "git", Sub: "commit", Risk: types.RiskMedium, Description: "commit"},
	{Base: "git", Sub: "merge", Risk: types.RiskMedium, Description: "merge branch"},
	{Base: "git", Sub: "rebase", Risk: types.RiskMedium, Description: "rebase"},
	{Base: "git", Sub: "push", Risk: types.RiskHigh, Description: "push to remote"},
	{Base: "git", Sub: "reset", Risk: types.RiskHigh, BlockedFlags: []string{"--hard"}, Description: "reset (no --hard)"},
	{Base: "git", Sub: "clean", Risk: types.RiskHigh, Description: "remove untracked"},

	// Systemd
	{Base: "systemctl", Sub: "status", Risk: types.RiskSafe, Description: "unit status"},
	{Base: "systemctl", Sub: "is-active", Risk: types.RiskSafe, Description: "unit active"},
	{Base: "systemctl", Sub: "is-enabled", Risk: types.RiskSafe, Description: "unit enabled"},
	{Base: "systemctl", Sub: "list-units", Risk: types.RiskSafe, Description: "list units"},
	{Base: "systemctl", Sub: "show", Risk: types.RiskSafe, Description: "unit properties"},
	{Base: "systemctl", Sub: "cat", Risk: types.RiskSafe, Description: "unit file"},
	{Base: "journalctl", Risk: types.RiskSafe, Description: "journal"},
	{Base: "systemctl", Sub: "start", Risk: types.RiskMedium, Description: "start unit"},
	{Base: "systemctl", Sub: "stop", Risk: types.RiskMedium, Description: "stop unit"},
	{Base: "systemctl", Sub: "restart", Risk: types.RiskMedium, Description: "restart unit"},
	{Base: "systemctl", Sub: "reload", Risk: types.RiskMedium, Description: "reload unit"},
	{Base: "systemctl", Sub: "enable", Risk: types.RiskHigh, Description: "enable unit"},
	{Base: "systemctl", Sub: "disable", Risk: types.RiskHigh, Description: "disable unit"},

	// Package queries, read only
	{Base: "apt", Sub: "list", Risk: types.RiskSafe, Description: "list packages"},
	{Base: "apt", Sub: "show", Risk: types.RiskSafe, Description: "package info"},
	{Base: "apt", Sub: "search", Risk: types.RiskSafe, Description: "search packages"},
	{Base: "dpkg", Sub: "-l", Risk: types.RiskSafe, Description: "installed packages"},
	{Base: "pip", Sub: "list", Risk: types.RiskSafe, Description: "python packages"},
	{Base: "pip", Sub: "show", Risk: types.RiskSafe, Description: "python package info"},
	{Base: "pip", Sub: "freeze", Risk: types.RiskSafe, Description: "python deps"},
	{Base: "pip", Sub: "install", Risk: types.RiskMedium, Description: "install python package"},
	{Base: "pip3", Sub: "install", Risk: types.RiskMedium, Description: "install python package"},
	{Base: "npm", Sub: "list", Risk: types.RiskSafe, Description: "node packages"},
	{Base: "npm", Sub: "view", Risk: types.RiskSafe, Description: "package info"},
	{Base: "npm", Sub: "install", Risk: types.RiskMedium, Description: "install node packages"},
	{Base: "npm", Sub: "run", Risk: types.RiskMedium, Description: "run package script"},
	{Base: "npm", Sub: "start", Risk: types.RiskMedium, Description: "start node app"},
	{Base: "uv", Risk: types.RiskMedium, Description: "python project tool"},
	{Base: "python", Risk: types.RiskMedium, Description: "run python"},
	{Base: "python3", Risk: types.RiskMedium, Description: "run python"},
	{Base: "node", Risk: types.RiskMedium, Description: "run node"},
	{Base: "go", Sub: "build", Risk: types.RiskMedium, Description: "build go module"},
	{Base: "go", Sub: "run", Risk: types.RiskMedium, Description: "run go module"},
	{Base: "cargo", Sub: "build", Risk: types.RiskMedium, Description: "build rust crate"},
	{Base: "cargo", Sub: "run", Risk: types.RiskMedium, Description: "run rust crate"},

	// File writes
	{Base: "touch", Risk: types.RiskLow, Description: "create empty file"},
	{Base: "mkdir", Risk: types.RiskLow, Description: "create directory"},
	{Base: "ln", Risk: types.RiskLow, Description: "create link"},
	{Base: "cp", Risk: types.RiskMedium, Description: "copy files"},
	{Base: "mv", Risk: types.RiskMedium, Description: "move files"},
	{Base: "rmdir", Risk: types.RiskMedium, Description: "remove empty dir"},
	{Base: "rm", Risk: types.RiskHigh, BlockedFlags: []string{"-rf", "-fr", "--recursive"}, Description: "remove files"},
	{Base: "chmod", Risk: types.RiskHigh, BlockedFlags: []string{"-R", "777"}, Description: "change mode"},
	{Base: "chown", Risk: types.RiskHigh, BlockedFlags: []string{"-R"}, Description: "change owner"},

	// Process management
	{Base: "kill", Risk: types.RiskHigh, BlockedFlags: []string{"-9", "-KILL"}, Description: "terminate process"},
	{Base: "pkill", Risk: types.RiskHigh, Description: "terminate by name"},
	{Base: "killall", Risk: types.RiskHigh, Description: "terminate all matching"},

	// Misc tools
	{Base: "jq", Risk: types.RiskSafe, Description: "json filter"},
	{Base: "yq", Risk: types.RiskSafe, Description: "yaml filter"},
	{Base: "xargs", Risk: types.RiskLow, Description: "argument relay"},
	{Base: "tar", Risk: types.RiskLow, Description: "archive"},
	{Base: "gzip", Risk: types.RiskLow, Description: "compress"},
	{Base: "gunzip", Risk: types.RiskLow, Description: "decompress"},
	{Base: "unzip", Risk: types.RiskLow, Description: "unzip"},
	{Base: "base64", Risk: types.RiskSafe, Description: "base64 codec"},
	{Base: "md5sum", Risk: types.RiskSafe, Description: "md5 checksum"},
	{Base: "sha256sum", Risk: types.RiskSafe, Description: "sha256 checksum"},
	{Base: "openssl", Risk: types.RiskSafe, Description: "openssl toolkit"},
	{Base: "crontab", Sub: "-l", Risk: types.RiskSafe, Description: "list cron jobs"},
}

// blockedCommands are never allowed regardless of arguments.
var blockedCommands = map[string]bool{
	"dd": true, "mkfs": true, "fdisk": true, "parted": true, "mount": true, "umount": true,
	"sudo": true, "su": true, "passwd": true, "useradd": true, "userdel": true, "visudo": true,
	"shutdown": true, "reboot": true, "init": true, "poweroff": true, "halt": true,
	"iptables": true, "firewall-cmd": true, "ufw": true, "nft": true,
	"eval": true, "exec": true, "source": true, ".": true,
}

// dangerousPatterns are shell metacharacters that allow escaping the
// single-command contract. The bare pipe is handled separately through the
// allowed-pipe list; echo commands get their own check so configuration
// files can still be generated.
var dangerousPatterns = []string{
	"$(", "`",
	"&&", "||", ";",
	">", ">>", "<",
	"&",
	"\\n", "\\r",
	"${",
	"~",
}

// allowedPipeCommands may appear after a pipe (read-only text tools).
var allowedPipeCommands = map[string]bool{
	"grep": true, "egrep": true, "fgrep": true,
	"awk": true, "sed": true,
	"sort": true, "uniq": true, "cut": true, "tr": true,
	"head": true, "tail": true, "wc": true,
	"jq": true, "yq": true,
	"less": true, "more": true,
	"cat": true, "tee": true,
	"xargs": true,
	"base64": true,
}

// exit1OKCommands treat exit code 1 as "no match", not failure.
var exit1OKCommands = map[string]bool{
	"grep": true, "egrep": true, "fgrep": true, "pgrep": true,
	"test": true, "[": true,
	"lsof": true, "find": true, "diff": true, "which": true,
}

// destructivePatterns gate diagnoser-proposed fix commands behind the
// confirmation callback.
var destructivePatterns = []string{
	"rm ", "rm -", "sudo ", "chmod ", "chown ",
	"docker rm", "docker rmi", "docker stop", "docker kill",
	"mv ", "cp -f", "> ", ">> ",
	"kill ", "pkill ", "killall ",
}

// instructionDangerPatterns classify non-shell instructions by substring
// scan over action name and argument values.
var instructionDangerPatterns = map[types.RiskLevel][]string{
	types.RiskHigh: {
		"rm -rf", "kill", "mkfs", "dd if=", "> /dev/",
		":(){:|:&};:", "chmod -R 777", "chown -R",
		"delete_files", "replace_in_file",
	},
	types.RiskMedium: {
		"rm ", "docker rm", "docker stop",
		"systemctl stop", "systemctl restart",
		"reboot", "shutdown", "restart", "stop",
		"write_file", "append_to_file",
	},
}
