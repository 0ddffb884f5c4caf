package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/moon"
	"github.com/shirou/gopsutil/v4/cpu"
	"go.uber.org/zap"
)

// IdleFunc reports how long the user has been idle at now.
type IdleFunc func(now time.Time) time.Duration

// CPUSampler returns host CPU utilisation in percent.
type CPUSampler func(ctx context.Context) (float64, error)

// HostCPU samples overall CPU usage against the previous call.
func HostCPU(ctx context.Context) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	return p[0], nil
}

// IdleWatcher raises system_idle once each time the user crosses the idle
// threshold. A busy host (CPU above MaxCPU) is not considered idle.
type IdleWatcher struct {
	threshold time.Duration
	maxCPU    float64
	idle      IdleFunc
	cpu       CPUSampler
	dispatch  DispatchFunc
	fired     bool
	mu        sync.Mutex
	logger    *zap.Logger
}

// NewIdleWatcher creates an idle watcher. maxCPU <= 0 disables the CPU gate;
// a nil sampler uses HostCPU.
func NewIdleWatcher(threshold time.Duration, maxCPU float64, idle IdleFunc, sampler CPUSampler, dispatch DispatchFunc, logger *zap.Logger) *IdleWatcher {
	if sampler == nil {
		sampler = HostCPU
	}
	return &IdleWatcher{
		threshold: threshold,
		maxCPU:    maxCPU,
		idle:      idle,
		cpu:       sampler,
		dispatch:  dispatch,
		logger:    logger,
	}
}

func (w *IdleWatcher) OnTick(ctx context.Context, now time.Time) {
	idle := w.idle(now)

	w.mu.Lock()
	if idle < w.threshold {
		w.fired = false
		w.mu.Unlock()
		return
	}
	if w.fired {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	payload := IdlePayload{IdleSeconds: idle.Seconds()}
	if w.maxCPU > 0 {
		pct, err := w.cpu(ctx)
		if err != nil {
			w.logger.Debug("cpu sample failed", zap.Error(err))
		} else if pct > w.maxCPU {
			w.logger.Debug("host busy, not idle", zap.Float64("cpu", pct))
			return
		}
		payload.CPUPercent = pct
	}

	w.mu.Lock()
	w.fired = true
	w.mu.Unlock()
	w.dispatch(ctx, SystemIdle, payload)
}

// MoonWatcher raises moon_phase_change when the lunar phase changes. The
// first tick only records the current phase.
type MoonWatcher struct {
	last     moon.Phase
	dispatch DispatchFunc
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewMoonWatcher creates a moon watcher.
func NewMoonWatcher(dispatch DispatchFunc, logger *zap.Logger) *MoonWatcher {
	return &MoonWatcher{dispatch: dispatch, logger: logger}
}

// Phase returns the last observed phase.
func (w *MoonWatcher) Phase() moon.Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *MoonWatcher) OnTick(ctx context.Context, now time.Time) {
	p := moon.PhaseAt(now)

	w.mu.Lock()
	prev := w.last
	w.last = p
	w.mu.Unlock()

	if prev == "" || prev == p {
		return
	}
	w.logger.Info("moon phase changed", zap.String("from", string(prev)), zap.String("to", string(p)))
	w.dispatch(ctx, MoonPhaseChange, MoonPayload{Phase: string(p), Previous: string(prev)})
}

// TypingWatcher raises typing_metrics with the current snapshot whenever new
// input arrived since the previous tick.
type TypingWatcher struct {
	metrics  capability.Metrics
	lastSeen time.Time
	dispatch DispatchFunc
	mu       sync.Mutex
}

// NewTypingWatcher creates a typing watcher.
func NewTypingWatcher(metrics capability.Metrics, dispatch DispatchFunc) *TypingWatcher {
	return &TypingWatcher{metrics: metrics, dispatch: dispatch}
}

func (w *TypingWatcher) OnTick(ctx context.Context, _ time.Time) {
	snap := w.metrics.Snapshot()

	w.mu.Lock()
	if snap.LastInput.IsZero() || !snap.LastInput.After(w.lastSeen) {
		w.mu.Unlock()
		return
	}
	w.lastSeen = snap.LastInput
	w.mu.Unlock()

	w.dispatch(ctx, TypingMetrics, snap)
}

// MailWatcher polls a mailbox and raises email_received for unread mail it
// has not seen before.
type MailWatcher struct {
	mailbox  capability.Mailbox
	seen     map[string]struct{}
	marked   map[string]struct{} // marked while a poll is in flight
	dispatch DispatchFunc
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewMailWatcher creates a mail watcher.
func NewMailWatcher(mailbox capability.Mailbox, dispatch DispatchFunc, logger *zap.Logger) *MailWatcher {
	return &MailWatcher{
		mailbox:  mailbox,
		seen:     make(map[string]struct{}),
		dispatch: dispatch,
		logger:   logger,
	}
}

// MarkSeen records IDs already announced by another path.
func (w *MailWatcher) MarkSeen(ids ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range ids {
		w.seen[id] = struct{}{}
		if w.marked != nil {
			w.marked[id] = struct{}{}
		}
	}
}

func (w *MailWatcher) OnTick(ctx context.Context, _ time.Time) {
	w.mu.Lock()
	w.marked = make(map[string]struct{})
	w.mu.Unlock()

	unread, err := w.mailbox.FetchUnread(ctx)
	if err != nil {
		w.mu.Lock()
		w.marked = nil
		w.mu.Unlock()
		w.logger.Warn("mail poll failed", zap.Error(err))
		return
	}

	w.mu.Lock()
	current := make(map[string]struct{}, len(unread))
	var fresh []capability.Mail
	for _, m := range unread {
		current[m.ID] = struct{}{}
		if _, ok := w.seen[m.ID]; !ok {
			fresh = append(fresh, m)
		}
	}
	// Forget archived mail so the set stays bounded by the unread count.
	// Marks that landed after the snapshot survive until the next poll.
	for id := range w.marked {
		current[id] = struct{}{}
	}
	w.seen = current
	w.marked = nil
	w.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	payload := MailPayload{IDs: make([]string, len(fresh)), From: fresh[0].From, Subject: fresh[0].Subject}
	for i, m := range fresh {
		payload.IDs[i] = m.ID
	}
	w.dispatch(ctx, EmailReceived, payload)
}
