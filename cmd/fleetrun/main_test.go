package main

import (
	"testing"

	"github.com/loykin/fleetrun"
)

func TestBuildRootHasAllSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{
		"run":     false,
		"runs":    false,
		"status":  false,
		"stop":    false,
		"devices": false,
		"tests":   false,
		"serve":   false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("subcommand %q missing", name)
		}
	}
}

func testRegistry(t *testing.T) *fleetrun.DeviceRegistry {
	t.Helper()
	reg, err := fleetrun.NewDeviceRegistry([]fleetrun.Target{
		{ID: "emulator-5554", Platform: "android", Origin: "local"},
		{ID: "iphone-sim", Platform: "ios", Origin: "local"},
		{ID: "bs-pixel", Platform: "android", Origin: "cloud", Provider: "browserstack"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestSelectDevicesExplicitIDs(t *testing.T) {
	got, err := selectDevices(testRegistry(t), RunFlags{DeviceIDs: []string{"bs-pixel", "emulator-5554"}})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 || got[0].ID != "bs-pixel" {
		t.Fatalf("selection: %+v", got)
	}
	if _, err := selectDevices(testRegistry(t), RunFlags{DeviceIDs: []string{"ghost"}}); err == nil {
		t.Fatalf("unknown id accepted")
	}
}

func TestSelectDevicesShorthands(t *testing.T) {
	reg := testRegistry(t)

	local, err := selectDevices(reg, RunFlags{AllLocal: true})
	if err != nil || len(local) != 2 {
		t.Fatalf("all-local: %v %+v", err, local)
	}
	cloud, err := selectDevices(reg, RunFlags{Cloud: true})
	if err != nil || len(cloud) != 1 {
		t.Fatalf("cloud: %v %+v", err, cloud)
	}
	if _, err := selectDevices(reg, RunFlags{Cloud: true, Provider: "saucelabs"}); err == nil {
		t.Fatalf("empty provider selection accepted")
	}
	hybrid, err := selectDevices(reg, RunFlags{Hybrid: 1})
	if err != nil || len(hybrid) != 3 {
		t.Fatalf("hybrid: %v %+v", err, hybrid)
	}
	if _, err := selectDevices(reg, RunFlags{}); err == nil {
		t.Fatalf("empty selection accepted")
	}
}

func TestRunCommandSequentialFlagSetsMax(t *testing.T) {
	flags := &RunFlags{}
	cmd := createRunCommand(command{}, flags)
	if err := cmd.Flags().Set("sequential", "true"); err != nil {
		t.Fatal(err)
	}
	if !flags.Sequential {
		t.Fatalf("sequential flag not bound")
	}
}
