package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/logger"
)

// FileConfig is the top-level TOML structure of fleetrun.toml.
type FileConfig struct {
	Listen        string          `toml:"listen" mapstructure:"listen"`
	MaxConcurrent int             `toml:"max_concurrent" mapstructure:"max_concurrent"`
	Retention     int             `toml:"retention" mapstructure:"retention"`
	GracePeriod   time.Duration   `toml:"grace_period" mapstructure:"grace_period"`
	TestsDir      string          `toml:"tests_dir" mapstructure:"tests_dir"`
	Env           []string        `toml:"env" mapstructure:"env"`
	EnvFiles      []string        `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv      bool            `toml:"use_os_env" mapstructure:"use_os_env"`
	Capture       logger.Config   `toml:"capture" mapstructure:"capture"`
	Devices       []device.Target `toml:"devices" mapstructure:"devices"`
	History       HistoryConfig   `toml:"history" mapstructure:"history"`
}

// HistoryConfig selects run-history export sinks by DSN.
type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

// Defaults applied when the file omits a value.
const (
	DefaultListen      = ":8080"
	DefaultGracePeriod = 5 * time.Second
)

// Load reads and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.GracePeriod <= 0 {
		fc.GracePeriod = DefaultGracePeriod
	}
	for _, d := range fc.Devices {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	return &fc, nil
}

// GlobalEnv merges the config's environment layers in precedence order:
// OS env (when use_os_env), then env_files contents, then the top-level env
// list last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple KEY=VALUE file: blank lines and lines
// starting with '#' are skipped; surrounding single or double quotes on the
// value are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		val := strings.TrimSpace(line[i+1:])
		if n := len(val); n >= 2 {
			if (val[0] == '\'' && val[n-1] == '\'') || (val[0] == '"' && val[n-1] == '"') {
				val = val[1 : n-1]
			}
		}
		out[k] = val
	}
	return out, nil
}
