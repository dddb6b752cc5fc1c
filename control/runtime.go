// control/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime wires ConfigStore, MetricsRegistry, and DebugProbes behind the
// api.Control and api.Debug contracts, giving one process-wide handle that
// an Acceptor or Connection can expose for live configuration, metrics and
// introspection.

package control

import "github.com/momentics/ipcchan/api"

// Runtime is the process-wide control-plane handle.
type Runtime struct {
	cfg     *ConfigStore
	metrics *MetricsRegistry
	debug   *DebugProbes
}

var _ api.Control = (*Runtime)(nil)
var _ api.Debug = (*Runtime)(nil)

// NewRuntime builds a Runtime with Linux/Windows platform probes pre-registered.
func NewRuntime() *Runtime {
	rt := &Runtime{
		cfg:     NewConfigStore(),
		metrics: NewMetricsRegistry(),
		debug:   NewDebugProbes(),
	}
	RegisterPlatformProbes(rt.debug)
	rt.debug.RegisterProbe("metrics", func() any {
		return rt.metrics.GetSnapshot()
	})
	return rt
}

// GetConfig implements api.Control.
func (rt *Runtime) GetConfig() map[string]any {
	return rt.cfg.GetSnapshot()
}

// SetConfig implements api.Control.
func (rt *Runtime) SetConfig(cfg map[string]any) error {
	rt.cfg.SetConfig(cfg)
	TriggerHotReload()
	return nil
}

// Stats implements api.Control.
func (rt *Runtime) Stats() map[string]any {
	return rt.metrics.GetSnapshot()
}

// OnReload implements api.Control.
func (rt *Runtime) OnReload(fn func()) {
	rt.cfg.OnReload(fn)
	RegisterReloadHook(fn)
}

// RegisterDebugProbe implements api.Control.
func (rt *Runtime) RegisterDebugProbe(name string, fn func() any) {
	rt.debug.RegisterProbe(name, fn)
}

// DumpState implements api.Debug.
func (rt *Runtime) DumpState() map[string]any {
	return rt.debug.DumpState()
}

// RegisterProbe implements api.Debug.
func (rt *Runtime) RegisterProbe(name string, fn func() any) {
	rt.debug.RegisterProbe(name, fn)
}

// SetMetric records a named runtime counter or gauge, surfaced via Stats.
func (rt *Runtime) SetMetric(key string, value any) {
	rt.metrics.Set(key, value)
}
