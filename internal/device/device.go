package device

import (
	"fmt"
	"sort"
)

// Platform identifies the mobile OS of a target device.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

// Origin identifies where a device is hosted.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginCloud Origin = "cloud"
)

// Target describes one device a test can run against. It is immutable for
// the duration of a run; the orchestrator treats it as an opaque key plus
// display metadata.
type Target struct {
	ID       string   `json:"id" mapstructure:"id"`
	Platform Platform `json:"platform" mapstructure:"platform"`
	Origin   Origin   `json:"origin" mapstructure:"origin"`
	Provider string   `json:"provider,omitempty" mapstructure:"provider"` // cloud provider name, empty for local
}

func (t Target) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("device id required")
	}
	switch t.Platform {
	case PlatformAndroid, PlatformIOS:
	default:
		return fmt.Errorf("device %s: unknown platform %q", t.ID, t.Platform)
	}
	switch t.Origin {
	case OriginLocal:
		if t.Provider != "" {
			return fmt.Errorf("device %s: provider set on local device", t.ID)
		}
	case OriginCloud:
		if t.Provider == "" {
			return fmt.Errorf("device %s: cloud device requires provider", t.ID)
		}
	default:
		return fmt.Errorf("device %s: unknown origin %q", t.ID, t.Origin)
	}
	return nil
}

// Resolver maps device identifiers to targets. Device discovery (ADB, USB,
// simulator enumeration) happens outside this module; a Resolver is the
// boundary through which resolved inventory is supplied.
type Resolver interface {
	Resolve(id string) (Target, error)
	List() []Target
}

// Registry is a Resolver over a fixed inventory, typically loaded from the
// config file.
type Registry struct {
	byID  map[string]Target
	order []string
}

func NewRegistry(targets []Target) (*Registry, error) {
	r := &Registry{byID: make(map[string]Target, len(targets))}
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", t.ID)
		}
		r.byID[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	return r, nil
}

func (r *Registry) Resolve(id string) (Target, error) {
	t, ok := r.byID[id]
	if !ok {
		return Target{}, fmt.Errorf("unknown device %q", id)
	}
	return t, nil
}

// List returns the inventory in registration order.
func (r *Registry) List() []Target {
	out := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Local returns all local devices.
func (r *Registry) Local() []Target {
	var out []Target
	for _, t := range r.List() {
		if t.Origin == OriginLocal {
			out = append(out, t)
		}
	}
	return out
}

// Cloud returns cloud devices, optionally filtered by provider.
func (r *Registry) Cloud(provider string) []Target {
	var out []Target
	for _, t := range r.List() {
		if t.Origin != OriginCloud {
			continue
		}
		if provider != "" && t.Provider != provider {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Hybrid returns all local devices plus at most cloudSample cloud devices.
// The cloud sample is deterministic: devices are taken in ID order so
// repeated hybrid runs target the same set.
func (r *Registry) Hybrid(cloudSample int) []Target {
	out := r.Local()
	cloud := r.Cloud("")
	sort.Slice(cloud, func(i, j int) bool { return cloud[i].ID < cloud[j].ID })
	if cloudSample > 0 && len(cloud) > cloudSample {
		cloud = cloud[:cloudSample]
	}
	return append(out, cloud...)
}
