// Package connectivity tracks whether the inference backend is reachable.
package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"emotion-monitor/internal/clock"
	"emotion-monitor/internal/domain"
)

// StatusHealthy is the only health status treated as connected.
const StatusHealthy = "healthy"

// Prober fetches the backend health report.
type Prober interface {
	Probe(ctx context.Context) (domain.HealthReport, error)
}

// HTTPProber calls GET {base}/health.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for the given backend base URL.
func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		url:    strings.TrimRight(baseURL, "/") + "/health",
		client: &http.Client{Timeout: timeout},
	}
}

// Probe performs one health request and decodes the JSON body.
func (p *HTTPProber) Probe(ctx context.Context) (domain.HealthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.HealthReport{}, fmt.Errorf("health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.HealthReport{}, fmt.Errorf("health request: unexpected status %d", resp.StatusCode)
	}

	var report domain.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return domain.HealthReport{}, fmt.Errorf("decode health response: %w", err)
	}
	return report, nil
}

// Monitor periodically probes backend health and fans out state changes.
type Monitor struct {
	prober   Prober
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.RWMutex
	state    domain.ConnectivityState
	report   domain.HealthReport
	inflight int

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(domain.ConnectivityState)
}

// NewMonitor creates a monitor; it reports disconnected until the first check.
func NewMonitor(prober Prober, interval time.Duration, clk clock.Clock, logger *slog.Logger) *Monitor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		clock:    clk,
		logger:   logger.With("component", "connectivity"),
		subs:     make(map[int]func(domain.ConnectivityState)),
	}
}

// CheckNow probes once and returns the resulting connectivity. It never fails:
// any transport, status or decoding problem counts as disconnected.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.mu.Lock()
	m.inflight++
	m.state.Checking = true
	checking := m.state
	m.mu.Unlock()
	m.notify(checking)

	report, err := m.prober.Probe(ctx)
	connected := err == nil && report.Status == StatusHealthy
	if err != nil {
		m.logger.Warn("health check failed", "error", err)
	} else if !connected {
		m.logger.Warn("backend reported unhealthy", "status", report.Status)
	}

	m.mu.Lock()
	m.inflight--
	m.state = domain.ConnectivityState{
		Connected:     connected,
		LastCheckedAt: m.clock.Now(),
		Checking:      m.inflight > 0,
	}
	m.report = report
	state := m.state
	m.mu.Unlock()

	m.notify(state)
	return connected
}

// Run checks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			m.CheckNow(ctx)
		}
	}
}

// State returns a snapshot of the connectivity state.
func (m *Monitor) State() domain.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected reports the result of the last completed check.
func (m *Monitor) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Connected
}

// Report returns the last decoded health payload.
func (m *Monitor) Report() domain.HealthReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.report
}

// Subscribe registers fn for every state update and returns its cancel func.
func (m *Monitor) Subscribe(fn func(domain.ConnectivityState)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Monitor) notify(state domain.ConnectivityState) {
	m.subMu.Lock()
	listeners := make([]func(domain.ConnectivityState), 0, len(m.subs))
	for _, fn := range m.subs {
		listeners = append(listeners, fn)
	}
	m.subMu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}
