// Package connectivity tracks whether the delivery endpoint is reachable
// and fires a callback on every offline to online transition.
package connectivity

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

const (
	// jitterDivisor controls the range of random jitter added to the
	// poll interval: jitter is uniform in [0, interval/jitterDivisor).
	jitterDivisor = 4

	defaultProbeTimeout = 5 * time.Second
)

// Prober reports whether the network path to the endpoint looks usable.
// A true result is a heuristic: the endpoint can still fail a delivery.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber treats any HTTP response from url as reachable. Only
// transport failures (DNS, refused, timeout) count as offline.
type HTTPProber struct {
	client *http.Client
	url    string
}

// NewHTTPProber builds a prober issuing HEAD requests to url.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			// The first response is proof enough; do not chase redirects.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		url: url,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

// Config holds Monitor dependencies and callbacks.
type Config struct {
	Prober   Prober
	Interval time.Duration

	// OnOnline runs once per offline to online transition, on its own
	// goroutine so a long sync never stalls probing.
	OnOnline func()

	// OnChange, if set, runs synchronously on every transition.
	OnChange func(online bool)
}

// Monitor holds the current connectivity state.
type Monitor struct {
	prober   Prober
	interval time.Duration
	onOnline func()
	onChange func(online bool)
	logger   *slog.Logger

	mu     sync.RWMutex
	online bool

	// callbacks tracks OnOnline goroutines so Run can wait for them.
	callbacks sync.WaitGroup
}

// NewMonitor creates a monitor that starts in the offline state until
// Sample or Run observes otherwise.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		prober:   cfg.Prober,
		interval: cfg.Interval,
		onOnline: cfg.OnOnline,
		onChange: cfg.OnChange,
		logger:   logger,
	}
}

// Online reports the last observed state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	v := m.online
	m.mu.RUnlock()

	return v
}

// Sample probes once and records the result without firing OnOnline.
// Used at startup: an already-online start does not trigger a sync.
func (m *Monitor) Sample(ctx context.Context) bool {
	online := m.prober.Probe(ctx)

	m.mu.Lock()
	m.online = online
	m.mu.Unlock()

	m.logger.Info("initial connectivity", slog.Bool("online", online))

	return online
}

// Set records an observed state. A change from offline to online fires
// OnOnline; a change to offline only updates the flag and leaves any
// running sync alone.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("connectivity changed", slog.Bool("online", online))

	if m.onChange != nil {
		m.onChange(online)
	}

	if online && m.onOnline != nil {
		m.callbacks.Add(1)

		go func() {
			defer m.callbacks.Done()
			m.onOnline()
		}()
	}
}

// Run samples the initial state, then polls the prober until ctx is
// cancelled. It waits for in-flight OnOnline callbacks before returning.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.callbacks.Wait()

	m.Sample(ctx)

	for {
		timer := time.NewTimer(m.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		m.Set(m.prober.Probe(ctx))
	}
}

// Wait blocks until every OnOnline callback fired so far has returned.
func (m *Monitor) Wait() {
	m.callbacks.Wait()
}

func (m *Monitor) nextDelay() time.Duration {
	if m.interval <= 0 {
		return time.Second
	}

	spread := int64(m.interval) / jitterDivisor
	if spread <= 0 {
		return m.interval
	}

	return m.interval + time.Duration(rand.Int64N(spread)) //nolint:gosec // G404: jitter only
}
