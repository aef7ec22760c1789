package notification

import (
	"context"
	"slices"
	"sync"

	"github.com/tphakala/pipecounter/internal/logger"
)

// DefaultChannelBufferSize is the per-subscriber buffer. A subscriber that
// falls this far behind misses notifications.
const DefaultChannelBufferSize = 32

// Notifier is the emitting side used by the core packages.
type Notifier interface {
	Notify(notifType Type, component, message string) *Notification
}

type subscriber struct {
	ch     chan *Notification
	ctx    context.Context
	cancel context.CancelFunc
}

// Service stores notifications, broadcasts them to subscribers and hands
// them to the push dispatcher.
type Service struct {
	store *InMemoryStore
	push  *PushDispatcher
	log   logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subscribersMu sync.Mutex
	subscribers   []*subscriber
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	MaxNotifications int
	Push             *PushDispatcher // optional
}

// NewService creates a service. Call Stop to release subscribers and the push
// worker.
func NewService(cfg *ServiceConfig, log logger.Logger) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}
	if log == nil {
		log = GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:  NewInMemoryStore(cfg.MaxNotifications),
		push:   cfg.Push,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	if s.push != nil {
		s.push.start(ctx)
	}
	log.Info("notification service initialized",
		logger.Int("max_notifications", s.store.maxSize),
		logger.Bool("push", s.push != nil))
	return s
}

// Notify implements Notifier.
func (s *Service) Notify(notifType Type, component, message string) *Notification {
	n := NewNotification(notifType, message).WithComponent(component)
	s.store.Save(n)
	s.broadcast(n)
	if s.push != nil {
		s.push.enqueue(n.Clone())
	}
	s.log.Debug("notification emitted",
		logger.String("type", string(notifType)),
		logger.String("component", component),
		logger.String("message", message))
	return n.Clone()
}

// List returns up to limit notifications, newest first.
func (s *Service) List(limit int) []*Notification {
	return s.store.List(limit)
}

// Subscribe returns a channel that receives every new notification and a
// context cancelled on Unsubscribe or Stop.
func (s *Service) Subscribe() (<-chan *Notification, context.Context) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &subscriber{
		ch:     make(chan *Notification, DefaultChannelBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.subscribers = append(s.subscribers, sub)
	return sub.ch, ctx
}

// Unsubscribe removes ch. The channel is not closed.
func (s *Service) Unsubscribe(ch <-chan *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	s.subscribers = slices.DeleteFunc(s.subscribers, func(sub *subscriber) bool {
		if sub.ch == ch {
			sub.cancel()
			return true
		}
		return false
	})
}

func (s *Service) broadcast(n *Notification) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	active := s.subscribers[:0]
	for _, sub := range s.subscribers {
		if sub.ctx.Err() != nil {
			continue
		}
		active = append(active, sub)
		select {
		case sub.ch <- n.Clone():
		default:
			s.log.Debug("notification channel full, skipping subscriber")
		}
	}
	clear(s.subscribers[len(active):])
	s.subscribers = active
}

// Stop cancels all subscribers and waits for the push worker to exit.
func (s *Service) Stop() {
	s.cancel()
	if s.push != nil {
		s.push.wait()
	}
	s.subscribersMu.Lock()
	s.subscribers = nil
	s.subscribersMu.Unlock()
}

// GetLogger returns the package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}
