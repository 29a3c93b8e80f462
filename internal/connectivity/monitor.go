// Package connectivity observes network reachability for the sync engine.
// The monitor polls a pluggable probe, debounces flapping links, and emits a
// deduplicated boolean stream: subscribers only see actual transitions, never
// repeated readings. The monitor knows nothing about sync; the orchestrator
// subscribes to the stream and decides what to do.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/opsledger/fieldsync/internal/clock"
	"github.com/opsledger/fieldsync/internal/logging"
)

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// TCPProbe returns a Probe that dials addr with the given timeout.
func TCPProbe(addr string, timeout time.Duration) Probe {
	return func(ctx context.Context) bool {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// Monitor polls a Probe and publishes debounced connectivity transitions.
type Monitor struct {
	probe    Probe
	interval time.Duration
	debounce time.Duration
	clock    clock.Clock

	mu             sync.RWMutex
	connected      bool
	candidate      bool
	candidateSince time.Time
	started        bool
	subs           []chan bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. A transition must hold for the debounce
// window before it is published.
func NewMonitor(probe Probe, interval, debounce time.Duration, clk clock.Clock) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		debounce: debounce,
		clock:    clk,
		stopCh:   make(chan struct{}),
	}
}

// Start begins observing. The first probe result is applied immediately so
// callers get a usable IsConnected right away; debouncing only applies to
// subsequent transitions.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	initial := m.probe(ctx)
	m.connected = initial
	m.candidate = initial
	m.candidateSince = m.clock.Now()
	m.mu.Unlock()

	logging.Info("Connectivity monitor started", logging.Fields{"connected": initial})

	m.wg.Add(1)
	go m.pollLoop(ctx)
}

// Stop releases the polling loop. Subscriber channels stop receiving but are
// not closed, so late readers never panic.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
}

// IsConnected reflects the last published state.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Subscribe returns a channel receiving each published transition. Slow
// subscribers drop transitions rather than block the monitor.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 8)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll takes one probe reading and publishes a transition once the reading
// has been stable for the debounce window.
func (m *Monitor) poll(ctx context.Context) {
	observed := m.probe(ctx)
	now := m.clock.Now()

	m.mu.Lock()
	if observed != m.candidate {
		m.candidate = observed
		m.candidateSince = now
	}

	if m.candidate == m.connected || now.Sub(m.candidateSince) < m.debounce {
		m.mu.Unlock()
		return
	}

	m.connected = m.candidate
	subs := make([]chan bool, len(m.subs))
	copy(subs, m.subs)
	state := m.connected
	m.mu.Unlock()

	logging.Info("Connectivity changed", logging.Fields{"connected": state})

	for _, ch := range subs {
		select {
		case ch <- state:
		default:
		}
	}
}
