package main

import "time"

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	WorkDir    string
	// Device selection
	DeviceIDs []string
	AllLocal  bool
	Cloud     bool
	Provider  string
	Hybrid    int
	// Execution tuning
	Max        int
	Sequential bool
	Args       []string
	EnvKVs     []string
	EnvFiles   []string
	UseOSEnv   bool
	APIMode    string
	Scenario   string
	Grace      time.Duration
	Verbose    bool
	// Remote daemon connection
	APIUrl     string
	APITimeout time.Duration
}

type RunsFlags struct {
	APIUrl     string
	APITimeout time.Duration
}

type StatusFlags struct {
	RunID      string
	Output     bool
	APIUrl     string
	APITimeout time.Duration
}

type StopFlags struct {
	RunID      string
	APIUrl     string
	APITimeout time.Duration
}

type DevicesFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type TestsFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

type ServeFlags struct {
	ConfigPath string
}
