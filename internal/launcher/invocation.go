package launcher

import (
	"fmt"
	"os"
	"os/exec"
)

// Invocation is the fully resolved command to run one test against one
// device: executable path, argument vector, working directory, and the
// merged environment. It is built once per (run, device) and never mutated.
// The command is spawned directly from the argv, never through a shell, so
// arguments containing spaces or metacharacters pass through verbatim.
type Invocation struct {
	Path    string   `json:"path"`
	Args    []string `json:"args,omitempty"`
	WorkDir string   `json:"work_dir,omitempty"`
	Env     []string `json:"-"` // merged K=V entries; nil inherits the parent env
}

// Validate checks that the target exists and is a regular file before a run
// is created, so a bad path surfaces as a validation error rather than one
// errored outcome per device.
func (inv Invocation) Validate() error {
	if inv.Path == "" {
		return fmt.Errorf("test target required")
	}
	fi, err := os.Stat(inv.Path)
	if err != nil {
		return fmt.Errorf("test target %q: %w", inv.Path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("test target %q is a directory", inv.Path)
	}
	return nil
}

// buildCmd constructs the exec.Cmd for this invocation.
func (inv Invocation) buildCmd() *exec.Cmd {
	// #nosec G204
	cmd := exec.Command(inv.Path, inv.Args...)
	if inv.WorkDir != "" {
		cmd.Dir = inv.WorkDir
	}
	if len(inv.Env) > 0 {
		cmd.Env = inv.Env
	}
	return cmd
}
