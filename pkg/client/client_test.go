package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/orchestrator"
	"github.com/loykin/fleetrun/internal/run"
	"github.com/loykin/fleetrun/internal/server"
)

func newTestDaemon(t *testing.T) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	devices, err := device.NewRegistry([]device.Target{
		{ID: "d1", Platform: device.PlatformAndroid, Origin: device.OriginLocal},
		{ID: "d2", Platform: device.PlatformIOS, Origin: device.OriginLocal},
	})
	if err != nil {
		t.Fatal(err)
	}
	orch := orchestrator.New(orchestrator.Config{})
	r := server.NewRouter(orch, devices, nil, "/api")
	testsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(testsDir, "test_checkout.sh"), []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	r.TestsDir = testsDir
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api", Timeout: 10 * time.Second})
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

func TestIsReachable(t *testing.T) {
	cl := newTestDaemon(t)
	if !cl.IsReachable(context.Background()) {
		t.Fatalf("daemon not reachable")
	}
	dead := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 500 * time.Millisecond})
	if dead.IsReachable(context.Background()) {
		t.Fatalf("dead daemon reported reachable")
	}
}

func TestDevices(t *testing.T) {
	cl := newTestDaemon(t)
	ds, err := cl.Devices(context.Background())
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	if len(ds) != 2 || ds[0].ID != "d1" {
		t.Fatalf("devices: %+v", ds)
	}
}

func TestTests(t *testing.T) {
	cl := newTestDaemon(t)
	ts, err := cl.Tests(context.Background())
	if err != nil {
		t.Fatalf("tests: %v", err)
	}
	if len(ts) != 1 || ts[0].Name != "test_checkout" || ts[0].Platform != "common" {
		t.Fatalf("tests: %+v", ts)
	}
}

func TestRunRoundTrip(t *testing.T) {
	cl := newTestDaemon(t)
	ctx := context.Background()

	id, err := cl.StartRun(ctx, writeScript(t), []string{"d1", "d2"}, orchestrator.Options{APIMode: "mock"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id == "" {
		t.Fatalf("empty run id")
	}

	deadline := time.Now().Add(15 * time.Second)
	var detail run.Detail
	for {
		detail, err = cl.GetRun(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if detail.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never finished: %s", detail.Status)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if detail.Status != run.StatusPassed {
		t.Fatalf("want passed, got %s", detail.Status)
	}

	runs, err := cl.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != id {
		t.Fatalf("list: %+v", runs)
	}
}

func TestStartRunRejectsUnknownDevice(t *testing.T) {
	cl := newTestDaemon(t)
	_, err := cl.StartRun(context.Background(), writeScript(t), []string{"ghost"}, orchestrator.Options{})
	if err == nil {
		t.Fatalf("unknown device accepted")
	}
}

func TestStopRunUnknown(t *testing.T) {
	cl := newTestDaemon(t)
	if _, err := cl.StopRun(context.Background(), "ghost"); err == nil {
		t.Fatalf("unknown run stop accepted")
	}
}
