// Package integration manages the lifecycle and health of every external
// adapter and of the process-wide services (cache, budget, review queue,
// action queue). It is the composition root's runtime arm: services register
// here, start and stop in order, and failed starts are retried on a fixed
// reconnect interval.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signalmesh/signalmesh/hub"
)

// ReconnectInterval is the fixed delay between reconnect attempts after a
// failed start.
const ReconnectInterval = 10 * time.Second

// Status is the health of one registered adapter.
type Status string

// Adapter health states.
const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusError        Status = "error"
	StatusUnknown      Status = "unknown"
)

// Registration describes one adapter or service. Start, Stop and Health are
// all optional.
type Registration struct {
	Name   string
	Start  func(ctx context.Context) error
	Stop   func(ctx context.Context) error
	Health func(ctx context.Context) Status
}

type entry struct {
	reg    Registration
	status Status
	err    string
}

// Manager owns adapter lifecycle. It is the sole mutator of adapter status;
// readers receive snapshots.
type Manager struct {
	logger *slog.Logger
	bus    *hub.Hub

	mu      sync.Mutex
	order   []string
	entries map[string]*entry

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a manager that announces lifecycle events on bus.
func New(bus *hub.Hub, opts ...Option) *Manager {
	m := &Manager{
		logger:  slog.Default(),
		bus:     bus,
		entries: make(map[string]*entry),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds an adapter. Registration order is start order; stop order
// is the reverse.
func (m *Manager) Register(reg Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[reg.Name]; exists {
		m.logger.Warn("Adapter already registered; replacing", "adapter", reg.Name)
	} else {
		m.order = append(m.order, reg.Name)
	}
	m.entries[reg.Name] = &entry{reg: reg, status: StatusDisconnected}
}

// StartAll starts every adapter in registration order. A failed start
// schedules indefinite auto-reconnect and does not stop the remaining
// adapters.
func (m *Manager) StartAll(ctx context.Context) {
	for _, name := range m.names() {
		m.startOne(ctx, name, false)
	}
}

// StopAll stops adapters in reverse registration order.
func (m *Manager) StopAll(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	names := m.names()
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		reg := m.registration(name)
		if reg.Stop != nil {
			if err := reg.Stop(ctx); err != nil {
				m.logger.Error("Adapter stop failed", "adapter", name, "error", err)
				m.setStatus(name, StatusError, err.Error())
				continue
			}
		}
		m.setStatus(name, StatusDisconnected, "")
		m.emit(hub.EventServiceStopped, name)
	}
}

// HealthCheck polls every adapter's health hook. Adapters without a hook
// report their tracked status.
func (m *Manager) HealthCheck(ctx context.Context) map[string]Status {
	out := make(map[string]Status)
	for _, name := range m.names() {
		reg := m.registration(name)
		if reg.Health != nil {
			out[name] = reg.Health(ctx)
			continue
		}
		m.mu.Lock()
		out[name] = m.entries[name].status
		m.mu.Unlock()
	}
	return out
}

// AdapterStatus is one row of the status dashboard.
type AdapterStatus struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Dashboard returns a stable snapshot of all adapter statuses.
func (m *Manager) Dashboard() []AdapterStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AdapterStatus, 0, len(m.order))
	for _, name := range m.order {
		e := m.entries[name]
		out = append(out, AdapterStatus{Name: name, Status: e.status, Error: e.err})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// String renders the dashboard for the CLI status command.
func (m *Manager) String() string {
	var b strings.Builder
	for _, s := range m.Dashboard() {
		fmt.Fprintf(&b, "%-24s %s", s.Name, s.Status)
		if s.Error != "" {
			fmt.Fprintf(&b, "  (%s)", s.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Manager) startOne(ctx context.Context, name string, isReconnect bool) {
	reg := m.registration(name)
	m.setStatus(name, StatusConnecting, "")

	if reg.Start != nil {
		if err := reg.Start(ctx); err != nil {
			m.logger.Error("Adapter start failed; scheduling reconnect",
				"adapter", name, "error", err)
			m.setStatus(name, StatusError, err.Error())
			m.scheduleReconnect(ctx, name)
			return
		}
	}

	m.setStatus(name, StatusConnected, "")
	if isReconnect {
		m.logger.Info("Adapter reconnected", "adapter", name)
		m.emit(hub.EventServiceReconnected, name)
	} else {
		m.emit(hub.EventServiceStarted, name)
	}
}

// scheduleReconnect retries the adapter start every ReconnectInterval until
// it succeeds or the manager stops.
func (m *Manager) scheduleReconnect(ctx context.Context, name string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(ReconnectInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg := m.registration(name)
				if reg.Start == nil {
					return
				}
				m.setStatus(name, StatusConnecting, "")
				if err := reg.Start(ctx); err != nil {
					m.logger.Warn("Reconnect attempt failed",
						"adapter", name, "error", err)
					m.setStatus(name, StatusError, err.Error())
					continue
				}
				m.setStatus(name, StatusConnected, "")
				m.logger.Info("Adapter reconnected", "adapter", name)
				m.emit(hub.EventServiceReconnected, name)
				return
			}
		}
	}()
}

func (m *Manager) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *Manager) registration(name string) Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[name].reg
}

func (m *Manager) setStatus(name string, s Status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[name]; ok {
		e.status = s
		e.err = errMsg
	}
}

func (m *Manager) emit(eventType, name string) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(hub.Event{
		Source:   "integration",
		Type:     eventType,
		Priority: hub.PriorityNormal,
		Data:     map[string]string{"adapter": name},
	})
}
