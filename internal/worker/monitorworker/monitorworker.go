// Package monitorworker reports system resource metrics. Every action is
// read-only and safe; snapshots judge values against warning/critical
// thresholds.
package monitorworker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// Status grades one metric.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Threshold is the (warning, critical) pair for one metric category.
type Threshold struct {
	Warning  float64
	Critical float64
}

var defaultThresholds = map[string]Threshold{
	"cpu":    {Warning: 80, Critical: 95},
	"memory": {Warning: 80, Critical: 95},
	"disk":   {Warning: 85, Critical: 95},
}

// Metric is one judged measurement.
type Metric struct {
	Name    string  `json:"name"`
	Value   float64 `json:"value"`
	Unit    string  `json:"unit"`
	Status  Status  `json:"status"`
	Message string  `json:"message"`
}

// Worker exposes resource snapshots and service probes.
type Worker struct {
	thresholds map[string]Threshold
	httpClient *http.Client
	dialer     net.Dialer

	cpuSampleInterval time.Duration
}

var _ worker.Worker = (*Worker)(nil)

// New creates the monitor worker. thresholds may be nil for defaults.
func New(thresholds map[string]Threshold) *Worker {
	if thresholds == nil {
		thresholds = defaultThresholds
	}
	return &Worker{
		thresholds:        thresholds,
		httpClient:        &http.Client{Timeout: 10 * time.Second},
		dialer:            net.Dialer{Timeout: 5 * time.Second},
		cpuSampleInterval: time.Second,
	}
}

func (w *Worker) judge(value float64, category string) Status {
	t, ok := w.thresholds[category]
	if !ok {
		t = Threshold{Warning: 80, Critical: 95}
	}
	switch {
	case value >= t.Critical:
		return StatusCritical
	case value >= t.Warning:
		return StatusWarning
	default:
		return StatusOK
	}
}

func (w *Worker) Name() string { return "monitor" }

func (w *Worker) Description() string {
	return "Read-only system metrics: CPU, memory, disk, ports, processes."
}

func (w *Worker) Capabilities() []string {
	return []string{
		"snapshot", "check_port", "check_http",
		"check_process", "top_processes", "find_service_port",
	}
}

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "snapshot",
			Description: "Snapshot CPU, memory, disk, and load with threshold grading",
			Params: []types.ActionParam{
				{Name: "include", Type: "list", Description: "Subset of cpu/memory/disk/load (default all)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "check_port",
			Description: "Check whether a TCP port is reachable",
			Params: []types.ActionParam{
				{Name: "port", Type: "integer", Description: "Port to probe", Required: true},
				{Name: "host", Type: "string", Description: "Host (default localhost)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "check_http",
			Description: "GET a URL and report status code and latency",
			Params: []types.ActionParam{
				{Name: "url", Type: "string", Description: "URL to probe", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "check_process",
			Description: "Find processes whose name contains the given string",
			Params: []types.ActionParam{
				{Name: "name", Type: "string", Description: "Process name substring", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "top_processes",
			Description: "List the busiest processes by CPU or memory",
			Params: []types.ActionParam{
				{Name: "sort_by", Type: "string", Description: "cpu or memory (default cpu)"},
				{Name: "limit", Type: "integer", Description: "Max results (default 10)"},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "find_service_port",
			Description: "Find the TCP ports a named service actually listens on",
			Params: []types.ActionParam{
				{Name: "name", Type: "string", Description: "Service or process name", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	known := map[string]func(context.Context, types.Args) types.WorkerResult{
		"snapshot":          w.snapshot,
		"check_port":        w.checkPort,
		"check_http":        w.checkHTTP,
		"check_process":     w.checkProcess,
		"top_processes":     w.topProcesses,
		"find_service_port": w.findServicePort,
	}
	fn, ok := known[action]
	if !ok {
		return worker.UnknownAction(action)
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would execute monitor.%s", action)
	}
	return fn(ctx, args)
}

// snapshot measures CPU, memory, per-partition disk, and load average.
//
// Expectations:
//   - include limits the measured categories; nil means all
//   - Unreadable partitions are skipped, not fatal
//   - The summary grades by the worst metric status
func (w *Worker) snapshot(ctx context.Context, args types.Args) types.WorkerResult {
	include := args.StringSlice("include")
	wants := func(category string) bool {
		if len(include) == 0 {
			return true
		}
		for _, c := range include {
			if c == category {
				return true
			}
		}
		return false
	}

	var metrics []Metric

	if wants("cpu") {
		if pcts, err := cpu.PercentWithContext(ctx, w.cpuSampleInterval, false); err == nil && len(pcts) > 0 {
			pct := pcts[0]
			metrics = append(metrics, Metric{
				Name: "cpu_usage", Value: pct, Unit: "percent", Status: w.judge(pct, "cpu"),
				Message: fmt.Sprintf("CPU 使用率 %.1f%%", pct),
			})
		}
	}

	if wants("memory") {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			metrics = append(metrics, Metric{
				Name: "memory_usage", Value: vm.UsedPercent, Unit: "percent",
				Status: w.judge(vm.UsedPercent, "memory"),
				Message: fmt.Sprintf("内存 %.1fGB / %.1fGB (%.1f%%)",
					float64(vm.Used)/(1<<30), float64(vm.Total)/(1<<30), vm.UsedPercent),
			})
		}
	}

	if wants("disk") {
		if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
			for _, part := range parts {
				usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
				if err != nil {
					continue
				}
				metrics = append(metrics, Metric{
					Name: "disk_" + part.Mountpoint, Value: usage.UsedPercent, Unit: "percent",
					Status: w.judge(usage.UsedPercent, "disk"),
					Message: fmt.Sprintf("磁盘 %s: %.1fGB / %.1fGB (%.1f%%)",
						part.Mountpoint, float64(usage.Used)/(1<<30), float64(usage.Total)/(1<<30), usage.UsedPercent),
				})
			}
		}
	}

	if wants("load") {
		if avg, err := load.AvgWithContext(ctx); err == nil {
			cores, err := cpu.CountsWithContext(ctx, true)
			if err != nil || cores < 1 {
				cores = 1
			}
			ratio := avg.Load1 / float64(cores) * 100
			metrics = append(metrics, Metric{
				Name: "load_average", Value: avg.Load1, Unit: "load", Status: w.judge(ratio, "cpu"),
				Message: fmt.Sprintf("负载 %.2f / %.2f / %.2f (CPU 核数: %d)",
					avg.Load1, avg.Load5, avg.Load15, cores),
			})
		}
	}

	worst := StatusOK
	for _, m := range metrics {
		if m.Status == StatusCritical {
			worst = StatusCritical
			break
		}
		if m.Status == StatusWarning {
			worst = StatusWarning
		}
	}
	summary := map[Status]string{
		StatusOK:       "系统状态正常",
		StatusWarning:  "部分指标偏高，请关注",
		StatusCritical: "存在严重告警，请立即处理",
	}[worst]

	return types.WorkerResult{
		Success:       true,
		Message:       fmt.Sprintf("系统快照: %s (%d 项指标)", summary, len(metrics)),
		Data:          map[string]any{"metrics": metrics, "status": worst},
		TaskCompleted: true,
	}
}

// checkPort reports reachability with latency. An unreachable port is a
// successful probe with a critical status, not an error.
func (w *Worker) checkPort(ctx context.Context, args types.Args) types.WorkerResult {
	port := args.Int("port", 0)
	if port <= 0 || port > 65535 {
		return types.Fail("port must be between 1 and 65535")
	}
	host := args.String("host")
	if host == "" {
		host = "localhost"
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	start := time.Now()
	conn, err := w.dialer.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return types.WorkerResult{
			Success:       true,
			Message:       fmt.Sprintf("端口 %s 不可达 (超时 %dms)", addr, elapsed.Milliseconds()),
			Data:          map[string]any{"port": port, "status": StatusCritical, "latency_ms": elapsed.Milliseconds()},
			TaskCompleted: true,
		}
	}
	conn.Close()
	return types.WorkerResult{
		Success:       true,
		Message:       fmt.Sprintf("端口 %s 可达 (响应 %.1fms)", addr, float64(elapsed.Microseconds())/1000),
		Data:          map[string]any{"port": port, "status": StatusOK, "latency_ms": elapsed.Milliseconds()},
		TaskCompleted: true,
	}
}

func (w *Worker) checkHTTP(ctx context.Context, args types.Args) types.WorkerResult {
	url := args.String("url")
	if url == "" {
		return types.Fail("url must be a non-empty string")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Fail("Bad URL: %v", err)
	}
	start := time.Now()
	resp, err := w.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return types.WorkerResult{
			Success:       true,
			Message:       fmt.Sprintf("HTTP %s 请求失败: %v (%dms)", url, err, elapsed.Milliseconds()),
			Data:          map[string]any{"status_code": 0, "status": StatusCritical, "latency_ms": elapsed.Milliseconds()},
			TaskCompleted: true,
		}
	}
	resp.Body.Close()

	status := StatusOK
	if resp.StatusCode >= 400 {
		status = StatusCritical
	}
	return types.WorkerResult{
		Success:       true,
		Message:       fmt.Sprintf("HTTP %s → %d (%dms)", url, resp.StatusCode, elapsed.Milliseconds()),
		Data:          map[string]any{"status_code": resp.StatusCode, "status": status, "latency_ms": elapsed.Milliseconds()},
		TaskCompleted: true,
	}
}

type procInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

func collectProcesses(ctx context.Context) []procInfo {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	infos := make([]procInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cpuPct, _ := p.CPUPercentWithContext(ctx)
		memPct, _ := p.MemoryPercentWithContext(ctx)
		infos = append(infos, procInfo{
			PID: p.Pid, Name: name,
			CPUPercent: cpuPct, MemoryPercent: float64(memPct),
		})
	}
	return infos
}

func (w *Worker) checkProcess(ctx context.Context, args types.Args) types.WorkerResult {
	name := strings.ToLower(args.String("name"))
	if name == "" {
		return types.Fail("name must be a non-empty string")
	}

	var found []procInfo
	for _, p := range collectProcesses(ctx) {
		if strings.Contains(strings.ToLower(p.Name), name) {
			found = append(found, p)
		}
	}
	if len(found) == 0 {
		return types.WorkerResult{
			Success:       true,
			Message:       fmt.Sprintf("未找到名称包含 '%s' 的进程", name),
			TaskCompleted: true,
		}
	}
	return types.WorkerResult{
		Success:       true,
		Message:       fmt.Sprintf("找到 %d 个匹配进程 '%s'", len(found), name),
		Data:          map[string]any{"processes": found},
		TaskCompleted: true,
	}
}

func (w *Worker) topProcesses(ctx context.Context, args types.Args) types.WorkerResult {
	sortBy := args.String("sort_by")
	if sortBy != "memory" {
		sortBy = "cpu"
	}
	limit := args.Int("limit", 10)

	procs := collectProcesses(ctx)
	sort.Slice(procs, func(i, j int) bool {
		if sortBy == "memory" {
			return procs[i].MemoryPercent > procs[j].MemoryPercent
		}
		return procs[i].CPUPercent > procs[j].CPUPercent
	})
	if len(procs) > limit {
		procs = procs[:limit]
	}

	label := "CPU"
	if sortBy == "memory" {
		label = "内存"
	}
	return types.WorkerResult{
		Success:       true,
		Message:       fmt.Sprintf("按%s排序的 Top %d 进程", label, len(procs)),
		Data:          map[string]any{"processes": procs},
		TaskCompleted: true,
	}
}

type listenInfo struct {
	PID           int32  `json:"pid"`
	ProcessName   string `json:"process_name"`
	ListenAddress string `json:"listen_address"`
	ListenPort    int    `json:"listen_port"`
}

// findServicePort resolves the ports a service actually listens on, so
// the model operates on real ports instead of well-known defaults.
//
// Expectations:
//   - Matches the name against process names and command lines
//   - Only LISTEN-state TCP sockets count
//   - No match is a successful probe carrying advice, not an error
//   - The message tells the model to use the discovered ports
func (w *Worker) findServicePort(ctx context.Context, args types.Args) types.WorkerResult {
	name := strings.ToLower(args.String("name"))
	if name == "" {
		return types.Fail("name must be a non-empty string")
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return types.Fail("Cannot enumerate processes: %v", err)
	}

	var found []listenInfo
	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		if !strings.Contains(strings.ToLower(pname), name) &&
			!strings.Contains(strings.ToLower(cmdline), name) {
			continue
		}
		conns, err := p.ConnectionsWithContext(ctx)
		if err != nil {
			continue
		}
		for _, conn := range conns {
			if conn.Status != "LISTEN" {
				continue
			}
			found = append(found, listenInfo{
				PID: p.Pid, ProcessName: pname,
				ListenAddress: conn.Laddr.IP, ListenPort: int(conn.Laddr.Port),
			})
		}
	}

	if len(found) == 0 {
		return types.WorkerResult{
			Success: true,
			Message: fmt.Sprintf("未找到名称包含 '%s' 的监听进程。服务可能未运行，或以其他用户身份运行（需 sudo 权限查看）。", name),
		}
	}

	seen := map[int]bool{}
	var ports []int
	var lines []string
	for _, f := range found {
		if seen[f.ListenPort] {
			continue
		}
		seen[f.ListenPort] = true
		ports = append(ports, f.ListenPort)
		lines = append(lines, fmt.Sprintf("PID %d (%s) 监听 %s:%d",
			f.PID, f.ProcessName, f.ListenAddress, f.ListenPort))
	}
	sort.Ints(ports)
	portList := strings.Trim(strings.Join(strings.Fields(fmt.Sprint(ports)), ", "), "[]")

	return types.WorkerResult{
		Success: true,
		Message: fmt.Sprintf("服务 '%s' 实际监听端口: %s\n%s\n⚠️ 请使用实际端口 %s 进行操作，不要使用默认端口!",
			name, portList, strings.Join(lines, "\n"), portList),
		Data: map[string]any{"listeners": found, "ports": ports},
	}
}
