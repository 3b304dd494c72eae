package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// DefaultHeartbeatTimeout is how long a connection may stay silent
// before the sweep demotes it to Offline. Policy default, tunable per
// deployment.
const DefaultHeartbeatTimeout = 120 * time.Second

// HeartbeatMonitorConfig configures the sweep.
type HeartbeatMonitorConfig struct {
	// Timeout demotes a connection after this much silence. Defaults to
	// DefaultHeartbeatTimeout.
	Timeout time.Duration

	// SweepInterval is the sweep period. Defaults to Timeout/4 so the
	// worst-case detection latency stays close to the nominal timeout.
	SweepInterval time.Duration

	// OnOffline is invoked for every evicted connection, after its
	// registry entry is gone. The monitor never closes the transport
	// itself; the transport is usually the reason for the silence.
	OnOffline func(conn *registry.Connection)
}

func (c HeartbeatMonitorConfig) withDefaults() HeartbeatMonitorConfig {
	if c.Timeout == 0 {
		c.Timeout = DefaultHeartbeatTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = c.Timeout / 4
	}
	return c
}

// HeartbeatMonitor watches all registered connections with a single
// periodic sweep. Heartbeat arrival and sweep eviction are linearized by
// the registry, so a heartbeat racing the sweep either resurrects the
// entry cleanly or is dropped.
type HeartbeatMonitor struct {
	config   HeartbeatMonitorConfig
	registry *registry.Registry
	notifier *registry.Notifier
	logger   pkglog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewHeartbeatMonitor creates a monitor over the given registry.
func NewHeartbeatMonitor(reg *registry.Registry, notifier *registry.Notifier, config HeartbeatMonitorConfig, logger pkglog.Logger) *HeartbeatMonitor {
	if logger == nil {
		logger = pkglog.NoopLogger{}
	}
	return &HeartbeatMonitor{
		config:   config.withDefaults(),
		registry: reg,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Start launches the sweep loop.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.sweepLoop(ctx)
}

// Stop halts the sweep loop and waits for it to exit.
func (m *HeartbeatMonitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// HandleHeartbeat refreshes a connection's liveness. Returns false when
// the client id is unknown, e.g. the sweep already evicted it; the
// client is expected to re-register. A heartbeat clearing a Warning or
// Error status publishes the recovery.
func (m *HeartbeatMonitor) HandleHeartbeat(clientID string) bool {
	prev, ok := m.registry.Heartbeat(clientID, m.now())
	if !ok {
		return false
	}
	if prev != wire.StatusOnline {
		m.publish(clientID, prev, wire.StatusOnline)
	}
	return true
}

// HandleStatusReport applies an explicit device status (Warning/Error)
// immediately, regardless of heartbeat timing.
func (m *HeartbeatMonitor) HandleStatusReport(clientID string, status wire.Status) bool {
	if status != wire.StatusWarning && status != wire.StatusError {
		return false
	}
	prev, ok := m.registry.SetStatus(clientID, status)
	if !ok {
		return false
	}
	if prev != status {
		m.publish(clientID, prev, status)
	}
	return true
}

func (m *HeartbeatMonitor) sweepLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts every connection silent for longer than the timeout.
func (m *HeartbeatMonitor) sweep() {
	cutoff := m.now().Add(-m.config.Timeout)
	for _, conn := range m.registry.ExpireStale(cutoff) {
		m.publish(conn.ClientID, wire.StatusOnline, wire.StatusOffline)
		m.logger.Log(pkglog.Event{
			Timestamp: time.Now(),
			Layer:     pkglog.LayerService,
			Category:  pkglog.CategoryState,
			ClientID:  conn.ClientID,
			StateChange: &pkglog.StateChangeEvent{
				Entity:   "device",
				OldState: string(wire.StatusOnline),
				NewState: string(wire.StatusOffline),
				Reason:   "heartbeat timeout",
			},
		})
		if m.config.OnOffline != nil {
			m.config.OnOffline(conn)
		}
	}
}

func (m *HeartbeatMonitor) publish(clientID string, from, to wire.Status) {
	if m.notifier == nil {
		return
	}
	name := ""
	if conn, ok := m.registry.Get(clientID); ok {
		name = conn.Name
	}
	m.notifier.Publish(registry.StatusChange{
		ClientID: clientID,
		Name:     name,
		Old:      from,
		New:      to,
	})
}
