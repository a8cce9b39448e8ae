package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mnohosten/laura-engine/pkg/metrics"
	"github.com/mnohosten/laura-engine/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestRunScriptWithSnapshot(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	script := writeScript(t, `[
	  {"collection": "notes", "command": "insertOne", "args": {"document": {"_id": 1, "text": "hello"}}},
	]`)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"--script", script, "--data-dir", dataDir, "--save", "--log-level", "error", "--compact"},
		strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dataDir, snapshot.FileName)); err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}

	// a second run reads the snapshot back
	stdout.Reset()
	code = run(context.Background(),
		[]string{"--data-dir", dataDir, "--log-level", "error", "--compact"},
		strings.NewReader("notes.find\nnotes.count\n"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr.String())
	}
	want := "{\"_id\":1,\"text\":\"hello\"}\n1\n"
	if stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
}

func TestRunPipedLines(t *testing.T) {
	var stdout, stderr bytes.Buffer
	input := "c.insertOne {\"document\": {\"_id\": 1}}\nc.bogus\nc.count\nexit\nc.count\n"
	code := run(context.Background(), []string{"--log-level", "error", "--compact"},
		strings.NewReader(input), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "error:") || lines[2] != "1" {
		t.Errorf("unexpected output:\n%s", stdout.String())
	}
}

func TestRunBadFlags(t *testing.T) {
	tests := [][]string{
		{"--no-such-flag"},
		{"stray"},
		{"--log-format", "xml"},
		{"--config", filepath.Join(t.TempDir(), "missing.yaml")},
	}
	for _, args := range tests {
		var stdout, stderr bytes.Buffer
		if code := run(context.Background(), args, strings.NewReader(""), &stdout, &stderr); code != 2 {
			t.Errorf("%v: exit code %d, want 2", args, code)
		}
	}
}

func TestRunConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "laura.yaml")
	cfg := "database:\n  name: shop\n  data_dir: " + filepath.Join(dir, "data") + "\n  save_on_exit: true\n  codec: snappy\nlogging:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--config", cfgPath},
		strings.NewReader("items.insertOne {\"document\": {\"_id\": 1}}\n"), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run exited %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "data", snapshot.FileName)); err != nil {
		t.Errorf("save_on_exit did not write a snapshot: %v", err)
	}
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := metrics.NewMetricsCollector(reg)
	mc.RecordOperation("find", 0, nil)

	srv := httptest.NewServer(newRouter(reg))
	defer srv.Close()

	for path, want := range map[string]string{
		"/healthz": "ok",
		"/metrics": "laura_",
	} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), want) {
			t.Errorf("GET %s = %d %q", path, resp.StatusCode, body)
		}
	}
}

func TestMetricsServerLifecycle(t *testing.T) {
	ms, err := startMetricsServer("127.0.0.1:0", prometheus.NewRegistry(), zap.NewNop())
	if err != nil {
		t.Fatalf("startMetricsServer failed: %v", err)
	}
	resp, err := http.Get("http://" + ms.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if err := ms.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
