package monitorworker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haricheung/opsai/internal/types"
)

// Values grade against the category thresholds, critical winning.
func TestJudge(t *testing.T) {
	w := New(nil)
	if got := w.judge(50, "cpu"); got != StatusOK {
		t.Fatalf("judge(50) = %s", got)
	}
	if got := w.judge(85, "cpu"); got != StatusWarning {
		t.Fatalf("judge(85) = %s", got)
	}
	if got := w.judge(96, "cpu"); got != StatusCritical {
		t.Fatalf("judge(96) = %s", got)
	}
	// disk warns earlier than cpu
	if got := w.judge(86, "disk"); got != StatusWarning {
		t.Fatalf("disk judge(86) = %s", got)
	}
	// unknown categories fall back to 80/95
	if got := w.judge(90, "swap"); got != StatusWarning {
		t.Fatalf("swap judge(90) = %s", got)
	}
}

// A live listener is reachable; a closed port reports critical without
// failing the probe.
func TestCheckPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	w := New(nil)
	res := w.Execute(context.Background(), "check_port", types.Args{"port": port, "host": "127.0.0.1"})
	if !res.Success || !strings.Contains(res.Message, "可达") {
		t.Fatalf("result = %+v", res)
	}
	if res.Data.(map[string]any)["status"] != StatusOK {
		t.Fatalf("data = %+v", res.Data)
	}

	ln.Close()
	w.dialer.Timeout = 500 * time.Millisecond
	res = w.Execute(context.Background(), "check_port", types.Args{"port": port, "host": "127.0.0.1"})
	if !res.Success || !strings.Contains(res.Message, "不可达") {
		t.Fatalf("result = %+v", res)
	}
	if res.Data.(map[string]any)["status"] != StatusCritical {
		t.Fatalf("data = %+v", res.Data)
	}
}

func TestCheckPort_Validation(t *testing.T) {
	w := New(nil)
	if res := w.Execute(context.Background(), "check_port", types.Args{}); res.Success {
		t.Fatal("missing port accepted")
	}
	if res := w.Execute(context.Background(), "check_port", types.Args{"port": 99999}); res.Success {
		t.Fatal("out-of-range port accepted")
	}
}

// check_http reports the status code and grades 4xx/5xx critical.
func TestCheckHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	w := New(nil)
	res := w.Execute(context.Background(), "check_http", types.Args{"url": srv.URL})
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["status_code"] != 200 || data["status"] != StatusOK {
		t.Fatalf("data = %+v", data)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer bad.Close()
	res = w.Execute(context.Background(), "check_http", types.Args{"url": bad.URL})
	if res.Data.(map[string]any)["status"] != StatusCritical {
		t.Fatalf("result = %+v", res)
	}
}

// An unreachable URL is a successful probe with a failure message.
func TestCheckHTTP_Unreachable(t *testing.T) {
	w := New(nil)
	w.httpClient.Timeout = 500 * time.Millisecond
	res := w.Execute(context.Background(), "check_http", types.Args{"url": "http://127.0.0.1:1/health"})
	if !res.Success || !strings.Contains(res.Message, "请求失败") {
		t.Fatalf("result = %+v", res)
	}
}

// snapshot honors the include filter.
func TestSnapshot_IncludeFilter(t *testing.T) {
	w := New(nil)
	w.cpuSampleInterval = 50 * time.Millisecond
	res := w.Execute(context.Background(), "snapshot", types.Args{"include": []any{"memory"}})
	if !res.Success || !res.TaskCompleted {
		t.Fatalf("result = %+v", res)
	}
	metrics := res.Data.(map[string]any)["metrics"].([]Metric)
	for _, m := range metrics {
		if m.Name != "memory_usage" {
			t.Fatalf("unexpected metric %q", m.Name)
		}
	}
}

// Custom thresholds replace the defaults.
func TestCustomThresholds(t *testing.T) {
	w := New(map[string]Threshold{"cpu": {Warning: 10, Critical: 20}})
	if got := w.judge(15, "cpu"); got != StatusWarning {
		t.Fatalf("judge(15) = %s", got)
	}
}

func TestDryRunAndUnknownAction(t *testing.T) {
	w := New(nil)
	res := w.Execute(context.Background(), "check_port", types.Args{"port": 80, "dry_run": true})
	if !res.Success || !strings.Contains(res.Message, "[dry-run]") {
		t.Fatalf("result = %+v", res)
	}
	if res := w.Execute(context.Background(), "watch", types.Args{}); res.Success {
		t.Fatal("unknown action accepted")
	}
}
