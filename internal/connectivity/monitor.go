// Package connectivity tracks whether the device is online and fires
// reconnect handlers on each offline to online transition.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/pipecounter/internal/logger"
)

// DefaultProbeInterval is used when NewMonitor receives a non-positive interval.
const DefaultProbeInterval = 10 * time.Second

const subscriberBuffer = 8

// Status is a connectivity transition.
type Status struct {
	Online bool      `json:"online"`
	Since  time.Time `json:"since"`
}

// Monitor holds the current online state. The zero state is online: a cold
// start assumes connectivity until the first report says otherwise.
type Monitor struct {
	mu        sync.Mutex
	status    Status
	handlers  []func()
	subs      map[int]chan Status
	nextSubID int

	prober   Prober
	interval time.Duration
	log      logger.Logger

	onTransition func(online bool)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTransitionHook calls fn after every state change, e.g. to update metrics.
func WithTransitionHook(fn func(online bool)) Option {
	return func(m *Monitor) { m.onTransition = fn }
}

// NewMonitor creates a monitor. prober may be nil when state is only fed
// through Report.
func NewMonitor(prober Prober, interval time.Duration, log logger.Logger, opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if log == nil {
		log = logger.Global().Module("connectivity")
	}
	m := &Monitor{
		status:   Status{Online: true, Since: time.Now()},
		subs:     make(map[int]chan Status),
		prober:   prober,
		interval: interval,
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}

// Status returns the current state and when it began.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnReconnect registers fn to run once per offline to online transition.
// Handlers run synchronously on the reporting goroutine and should not block.
func (m *Monitor) OnReconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Subscribe returns a channel of transitions and a func that closes it.
// Slow subscribers miss transitions rather than block the monitor.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	ch := make(chan Status, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
}

// Report feeds a new observation. It returns true when the state changed.
// Repeated reports of the current state do nothing.
func (m *Monitor) Report(online bool) bool {
	m.mu.Lock()
	if m.status.Online == online {
		m.mu.Unlock()
		return false
	}

	m.status = Status{Online: online, Since: time.Now()}
	status := m.status
	var handlers []func()
	if online {
		handlers = append(handlers, m.handlers...)
	}
	for _, ch := range m.subs {
		select {
		case ch <- status:
		default:
			m.log.Debug("subscriber full, transition dropped")
		}
	}
	m.mu.Unlock()

	if online {
		m.log.Info("connectivity restored")
	} else {
		m.log.Info("connectivity lost")
	}
	if m.onTransition != nil {
		m.onTransition(online)
	}
	for _, fn := range handlers {
		fn()
	}
	return true
}

// Run probes immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.probeOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	online, err := m.prober.Probe(probeCtx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Debug("probe failed", logger.Error(err))
		online = false
	}
	m.Report(online)
}
