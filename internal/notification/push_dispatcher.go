package notification

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/pipecounter/internal/logger"
)

const (
	defaultPushTimeout   = 10 * time.Second
	defaultPushQueueSize = 64
)

// PushProvider delivers notifications to an external service. Providers
// must be safe for concurrent use.
type PushProvider interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// PushDispatcher forwards notifications to providers from a single worker.
// When the worker falls behind, new notifications are dropped.
type PushDispatcher struct {
	providers []PushProvider
	types     map[Type]bool
	timeout   time.Duration
	log       logger.Logger

	queue chan *Notification
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPushDispatcher forwards notifications of the given types (all types when
// empty) to providers.
func NewPushDispatcher(providers []PushProvider, types []Type, timeout time.Duration, log logger.Logger) *PushDispatcher {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}
	if log == nil {
		log = GetLogger().Module("push")
	}
	d := &PushDispatcher{
		providers: providers,
		timeout:   timeout,
		log:       log,
		queue:     make(chan *Notification, defaultPushQueueSize),
	}
	if len(types) > 0 {
		d.types = make(map[Type]bool, len(types))
		for _, t := range types {
			d.types[t] = true
		}
	}
	return d
}

func (d *PushDispatcher) start(ctx context.Context) {
	d.once.Do(func() {
		d.wg.Go(func() { d.run(ctx) })
	})
}

func (d *PushDispatcher) wait() { d.wg.Wait() }

func (d *PushDispatcher) enqueue(n *Notification) {
	if d.types != nil && !d.types[n.Type] {
		return
	}
	select {
	case d.queue <- n:
	default:
		d.log.Warn("push queue full, dropping notification", logger.String("notification_id", n.ID))
	}
}

func (d *PushDispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *PushDispatcher) deliver(ctx context.Context, n *Notification) {
	for _, p := range d.providers {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		start := time.Now()
		err := p.Send(sendCtx, n)
		cancel()
		if err != nil {
			d.log.Warn("push delivery failed",
				logger.String("provider", p.Name()),
				logger.String("notification_id", n.ID),
				logger.Error(err))
			continue
		}
		d.log.Debug("push delivered",
			logger.String("provider", p.Name()),
			logger.Duration("elapsed", time.Since(start)))
	}
}
