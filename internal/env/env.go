package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Overlay composes the environment handed to a spawned test process.
// Layers, lowest precedence first: cached OS environment, harness-global
// variables from config, then the per-invocation entries (device selection,
// mock-server flags) supplied by the orchestrator. The overlay never
// mutates the fleetrun process environment itself.
type Overlay struct {
	Var Var // harness-global variables (K->V)
	env Var // cached base from OS environment
}

func New() *Overlay {
	return &Overlay{Var: make(Var)}
}

// FromOS caches the current process environment as the base layer.
func (o *Overlay) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	o.env = base
}

// Set sets a harness-global variable.
func (o *Overlay) Set(k, v string) {
	if o.Var == nil {
		o.Var = make(Var)
	}
	o.Var[k] = v
}

// Unset removes a harness-global variable.
func (o *Overlay) Unset(k string) {
	if o.Var != nil {
		delete(o.Var, k)
	}
}

// SetAll applies a list of "K=V" entries as harness-global variables.
// Malformed entries without '=' or with an empty key are skipped.
func (o *Overlay) SetAll(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			o.Set(kv[:i], kv[i+1:])
		}
	}
}

// Merge builds the final environment slice for one invocation. perInvocation
// entries win over global variables, which win over the OS base. ${VAR}
// references are expanded against the composed map (single pass, no
// recursion). The result is sorted for deterministic exec.Cmd.Env contents.
func (o *Overlay) Merge(perInvocation []string) []string {
	if o.env == nil {
		o.FromOS()
	}
	m := make(Var, len(o.env)+len(o.Var)+len(perInvocation))
	for k, v := range o.env {
		m[k] = v
	}
	for k, v := range o.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perInvocation {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
