package trigger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DispatchFunc raises a trigger. The dispatcher's Dispatch method is adapted
// to this shape so watchers do not depend on it.
type DispatchFunc func(ctx context.Context, trigger string, payload any)

// Listener receives clock ticks.
type Listener interface {
	OnTick(ctx context.Context, now time.Time)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, now time.Time)

func (f ListenerFunc) OnTick(ctx context.Context, now time.Time) { f(ctx, now) }

// Clock ticks its listeners at a fixed interval. Listeners run sequentially
// on the clock goroutine.
type Clock struct {
	name      string
	interval  time.Duration
	listeners []Listener
	now       func() time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *zap.Logger
}

// NewClock creates a clock with the given tick interval.
func NewClock(name string, interval time.Duration, logger *zap.Logger) *Clock {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Clock{
		name:     name,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Start begins the tick loop in a background goroutine. It stops when ctx is
// cancelled or Stop is called.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
	c.logger.Info("clock started", zap.String("clock", c.name), zap.Duration("interval", c.interval))
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (c *Clock) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("clock stopped", zap.String("clock", c.name))
}

func (c *Clock) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Tick delivers one tick to every listener.
func (c *Clock) Tick(ctx context.Context, now time.Time) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		l.OnTick(ctx, now)
	}
}
