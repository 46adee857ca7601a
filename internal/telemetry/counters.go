package telemetry

import (
	"sync"
	"sync/atomic"
)

// Metric keys recorded by the lifecycle controller, the transport and the
// tick loop.
const (
	MetricEvaluations      = "lifecycle_evaluations"
	MetricEvaluationsNoop  = "lifecycle_evaluations_not_ready"
	MetricInitializations  = "lifecycle_initializations"
	MetricActivations      = "lifecycle_activations"
	MetricDeactivations    = "lifecycle_deactivations"
	MetricUnicastSent      = "lifecycle_unicast_sent"
	MetricUnicastSkipped   = "lifecycle_unicast_skipped"
	MetricConnections      = "transport_connections"
	MetricHeartbeatReaped  = "transport_heartbeat_reaped"
	MetricBacklogDrops     = "transport_backlog_drops"
	MetricConnectedMembers = "session_connected_members"
	MetricTicks            = "simulation_ticks"
	MetricTickOverruns     = "simulation_tick_overruns"
)

// Counters is an in-process Metrics implementation keyed by metric name.
type Counters struct {
	mu     sync.RWMutex
	values map[string]*atomic.Uint64
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]*atomic.Uint64)}
}

func (c *Counters) counter(key string) *atomic.Uint64 {
	c.mu.RLock()
	value, ok := c.values[key]
	c.mu.RUnlock()
	if ok {
		return value
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if value, ok = c.values[key]; ok {
		return value
	}
	value = new(atomic.Uint64)
	c.values[key] = value
	return value
}

// Add increments key by delta.
func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.counter(key).Add(delta)
}

// Store overwrites key with value.
func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.counter(key).Store(value)
}

// Snapshot copies the current value of every key.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]uint64, len(c.values))
	for key, value := range c.values {
		snapshot[key] = value.Load()
	}
	return snapshot
}
