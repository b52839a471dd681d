package analyze

// wellKnownPorts are service and dev ports a bare number most likely
// refers to. Numbers below 1024 are treated as ports without being
// listed.
var wellKnownPorts = map[int]bool{
	80: true, 443: true, 3000: true, 3306: true, 5432: true,
	6379: true, 8000: true, 8080: true, 8443: true, 8888: true,
	9000: true, 9090: true, 9999: true, 27017: true,
}

// networkPrefixes mark interface-style names.
var networkPrefixes = []string{"eth", "en", "wlan", "lo", "br-", "docker", "veth"}

// defaultCommands are the built-in probe sets per target type. Every
// command carries the {name} placeholder and must pass the command
// policy unmodified, so no shell redirections or chaining.
var defaultCommands = map[string][]string{
	"docker": {
		"docker ps --filter name={name}",
		"docker inspect {name}",
		"docker logs --tail 50 {name}",
	},
	"process": {
		"ps aux | grep {name}",
		"lsof -p {name} | head -50",
		"cat /proc/{name}/status | head -20",
	},
	"port": {
		"lsof -i :{name}",
		"ss -tlnp | grep :{name}",
		"netstat -tlnp | grep :{name}",
		"nc -zv -w 2 localhost {name}",
		"curl -sI -m 2 http://localhost:{name}",
	},
	"file": {
		"file {name}",
		"ls -la {name}",
		"stat {name}",
		"head -20 {name}",
	},
	"systemd": {
		"systemctl status {name}",
		"journalctl -u {name} --no-pager -n 30",
		"systemctl cat {name}",
	},
	"network": {
		"ip addr show {name}",
		"ss -tlnp | grep {name}",
		"netstat -an | grep {name}",
	},
}
