package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetrun/internal/catalog"
	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/orchestrator"
	"github.com/loykin/fleetrun/internal/run"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	devices, err := device.NewRegistry([]device.Target{
		{ID: "d1", Platform: device.PlatformAndroid, Origin: device.OriginLocal},
		{ID: "d2", Platform: device.PlatformIOS, Origin: device.OriginLocal},
	})
	if err != nil {
		t.Fatal(err)
	}
	orch := orchestrator.New(orchestrator.Config{})
	r := NewRouter(orch, devices, nil, "/api")
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv, orch
}

func writeScript(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh on Unix-like systems")
	}
	p := filepath.Join(t.TempDir(), "target.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\necho ok\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("health: %d %v", resp.StatusCode, body)
	}
}

func TestDevices(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Devices []device.Target `json:"devices"`
	}
	decode(t, resp, &body)
	if len(body.Devices) != 2 || body.Devices[0].ID != "d1" {
		t.Fatalf("devices: %+v", body.Devices)
	}
}

func TestListTests(t *testing.T) {
	devices, err := device.NewRegistry([]device.Target{
		{ID: "d1", Platform: device.PlatformAndroid, Origin: device.OriginLocal},
	})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	for _, rel := range []string{"android/test_login.sh", "helper.sh"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	r := NewRouter(orchestrator.New(orchestrator.Config{}), devices, nil, "/api")
	r.TestsDir = dir
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/tests")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Tests []catalog.Test `json:"tests"`
	}
	decode(t, resp, &body)
	if len(body.Tests) != 1 {
		t.Fatalf("tests: %+v", body.Tests)
	}
	got := body.Tests[0]
	if got.Name != "test_login" || got.Path != "android/test_login.sh" || got.Platform != "android" {
		t.Fatalf("test entry: %+v", got)
	}
}

func TestListTestsWithoutDirIsEmpty(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/tests")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Tests []catalog.Test `json:"tests"`
	}
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body.Tests == nil || len(body.Tests) != 0 {
		t.Fatalf("want empty list, got %+v", body.Tests)
	}
}

func startRun(t *testing.T, srv *httptest.Server, req StartRunRequest) *http.Response {
	t.Helper()
	b, _ := json.Marshal(req)
	resp, err := http.Post(srv.URL+"/api/runs", "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestStartRunLifecycle(t *testing.T) {
	srv, orch := testServer(t)
	resp := startRun(t, srv, StartRunRequest{
		TestTarget: writeScript(t),
		DeviceIDs:  []string{"d1", "d2"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status: %d", resp.StatusCode)
	}
	var started struct {
		RunID string `json:"run_id"`
	}
	decode(t, resp, &started)
	if started.RunID == "" {
		t.Fatalf("no run id")
	}

	// Wait for the run to settle, then read it back over the API.
	ctxDeadline := time.Now().Add(15 * time.Second)
	for {
		rn, err := orch.Registry().Get(started.RunID)
		if err != nil {
			t.Fatal(err)
		}
		if rn.Finalized() {
			break
		}
		if time.Now().After(ctxDeadline) {
			t.Fatalf("run never finalized")
		}
		time.Sleep(20 * time.Millisecond)
	}

	getResp, err := http.Get(srv.URL + "/api/runs/" + started.RunID)
	if err != nil {
		t.Fatal(err)
	}
	var detail run.Detail
	decode(t, getResp, &detail)
	if detail.Status != run.StatusPassed {
		t.Fatalf("want passed, got %s", detail.Status)
	}
	if len(detail.Output["d1"]) == 0 || detail.Output["d1"][0].Text != "ok" {
		t.Fatalf("output missing: %+v", detail.Output)
	}

	listResp, err := http.Get(srv.URL + "/api/runs")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Runs []run.Summary `json:"runs"`
	}
	decode(t, listResp, &list)
	if len(list.Runs) != 1 || list.Runs[0].ID != started.RunID {
		t.Fatalf("list: %+v", list.Runs)
	}
}

func TestStartRunValidation(t *testing.T) {
	srv, _ := testServer(t)

	// Missing test target.
	resp := startRun(t, srv, StartRunRequest{DeviceIDs: []string{"d1"}})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing target: %d", resp.StatusCode)
	}

	// Unknown device.
	resp = startRun(t, srv, StartRunRequest{TestTarget: writeScript(t), DeviceIDs: []string{"ghost"}})
	var errBody errorResp
	decode(t, resp, &errBody)
	if resp.StatusCode != http.StatusBadRequest || errBody.Error == "" {
		t.Fatalf("unknown device: %d %+v", resp.StatusCode, errBody)
	}

	// Duplicate device in one request.
	resp = startRun(t, srv, StartRunRequest{TestTarget: writeScript(t), DeviceIDs: []string{"d1", "d1"}})
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate device: %d", resp.StatusCode)
	}
}

func TestStopUnknownRunIs404(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Post(srv.URL+"/api/runs/ghost/stop", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("stop unknown: %d", resp.StatusCode)
	}
}

func TestGetUnknownRunIs404(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/api/runs/ghost")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get unknown: %d", resp.StatusCode)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
}
