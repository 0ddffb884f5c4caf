package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the global gate on skill dispatch.
type State string

const (
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// ParseState accepts ONLINE/OFFLINE in any case, plus true/false and on/off.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "online", "on", "true", "active":
		return Online, nil
	case "offline", "off", "false", "inactive":
		return Offline, nil
	}
	return "", fmt.Errorf("unknown gateway state %q", s)
}

// ToggleHook observes a state flip. Hooks run after the flip is visible and
// cannot veto it.
type ToggleHook func(ctx context.Context, state State)

// Switch is the ONLINE/OFFLINE gateway state. Reads are atomic and Toggle is
// the only mutator.
type Switch struct {
	online atomic.Bool
	hooks  []ToggleHook
	mu     sync.RWMutex
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewSwitch creates a switch in the given initial state.
func NewSwitch(initial State, logger *zap.Logger) *Switch {
	s := &Switch{logger: logger}
	s.online.Store(initial != Offline)
	return s
}

// State returns the current state.
func (s *Switch) State() State {
	if s.online.Load() {
		return Online
	}
	return Offline
}

// Active reports whether the gateway is ONLINE.
func (s *Switch) Active() bool { return s.online.Load() }

// OnToggle registers a hook called asynchronously after every flip.
func (s *Switch) OnToggle(h ToggleHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Toggle flips the state and returns the new one. Concurrent toggles each
// flip exactly once.
func (s *Switch) Toggle(ctx context.Context) State {
	for {
		cur := s.online.Load()
		if s.online.CompareAndSwap(cur, !cur) {
			return s.flipped(ctx, !cur)
		}
	}
}

// ToggleTo flips to want unless the switch is already there, in one atomic
// step. It returns the resulting state and whether this call flipped it.
func (s *Switch) ToggleTo(ctx context.Context, want State) (State, bool) {
	on := want == Online
	if !s.online.CompareAndSwap(!on, on) {
		return want, false
	}
	return s.flipped(ctx, on), true
}

// flipped logs a completed flip and starts the hooks.
func (s *Switch) flipped(ctx context.Context, on bool) State {
	next := Offline
	if on {
		next = Online
	}
	s.logger.Info("gateway toggled", zap.String("state", string(next)))

	s.mu.RLock()
	hooks := append([]ToggleHook(nil), s.hooks...)
	s.mu.RUnlock()

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range hooks {
		s.wg.Add(1)
		go func(h ToggleHook) {
			defer s.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("toggle hook panicked", zap.Any("panic", r))
				}
			}()
			h(hookCtx, next)
		}(h)
	}
	return next
}

// Wait blocks until every hook started so far has returned.
func (s *Switch) Wait() { s.wg.Wait() }
