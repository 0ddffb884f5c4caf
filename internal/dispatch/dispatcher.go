package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/skill"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sinkTimeout = 5 * time.Second

// Dispatcher fans a trigger out to every skill registered for it.
type Dispatcher struct {
	registry *skill.Registry
	gate     StateReader
	factory  *capability.Factory
	opts     Options

	sinks   []Sink
	history []*Report
	mu      sync.RWMutex

	dispatches atomic.Int64
	suppressed atomic.Int64
	statuses   atomic.Int64
	failures   atomic.Int64

	logger *zap.Logger
}

// New creates a dispatcher.
func New(registry *skill.Registry, gate StateReader, factory *capability.Factory, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.HistorySize <= 0 {
		opts.HistorySize = 100
	}
	return &Dispatcher{
		registry: registry,
		gate:     gate,
		factory:  factory,
		opts:     opts,
		logger:   logger,
	}
}

// AddSink registers a sink that receives every report.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// Dispatch runs every skill registered for trigger. The gateway state is
// read once; an OFFLINE gateway yields a suppressed, empty report. Skill
// failures are collected in the report and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, trigger string, payload any) *Report {
	start := time.Now()
	rep := &Report{
		ID:        uuid.New(),
		Trigger:   trigger,
		State:     d.gate.State(),
		Matched:   []string{},
		Statuses:  []string{},
		Failures:  []Failure{},
		Silent:    []string{},
		StartedAt: start,
	}
	d.dispatches.Add(1)

	if rep.State != gateway.Online {
		rep.Suppressed = true
		d.suppressed.Add(1)
		d.logger.Debug("dispatch suppressed", zap.String("trigger", trigger))
		d.finish(ctx, rep, start)
		return rep
	}

	skills := d.registry.SkillsFor(trigger)
	ev := capability.Event{Trigger: trigger, Payload: payload, At: start}
	outcomes := make([]outcome, len(skills))

	var g errgroup.Group
	if d.opts.Concurrency > 0 {
		g.SetLimit(d.opts.Concurrency)
	}
	for i, s := range skills {
		rep.Matched = append(rep.Matched, s.Name())
		g.Go(func() error {
			outcomes[i] = d.run(ctx, ev, s)
			return nil
		})
	}
	g.Wait()

	for i, o := range outcomes {
		name := skills[i].Name()
		switch {
		case o.err != nil:
			rep.Failures = append(rep.Failures, Failure{Skill: name, Error: o.err.Error(), Err: o.err})
		case o.status == "":
			rep.Silent = append(rep.Silent, name)
		default:
			rep.Statuses = append(rep.Statuses, o.status)
		}
	}
	d.statuses.Add(int64(len(rep.Statuses)))
	d.failures.Add(int64(len(rep.Failures)))

	d.finish(ctx, rep, start)
	d.logger.Info("dispatch complete",
		zap.String("trigger", trigger),
		zap.Int("matched", len(skills)),
		zap.Int("statuses", len(rep.Statuses)),
		zap.Int("failures", len(rep.Failures)),
		zap.Duration("elapsed", rep.Duration))
	return rep
}

type outcome struct {
	status string
	err    error
}

// run executes one skill with its own capability context. A skill that
// overruns its budget is abandoned and its handles revoked.
func (d *Dispatcher) run(ctx context.Context, ev capability.Event, s skill.Skill) outcome {
	cc := d.factory.Bind(ev, s.Name())
	defer cc.Release()

	sctx := ctx
	if d.opts.SkillTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, d.opts.SkillTimeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", ErrSkillPanic, r)}
			}
		}()
		res, err := s.Execute(sctx, cc)
		switch {
		case err != nil:
			done <- outcome{err: err}
		case res == nil:
			done <- outcome{}
		case strings.TrimSpace(res.Status) == "":
			done <- outcome{err: ErrMalformedResult}
		default:
			done <- outcome{status: res.Status}
		}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			cc.Logger.Warn("skill failed", zap.Error(o.err))
		}
		return o
	case <-sctx.Done():
		err := sctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrSkillTimeout, d.opts.SkillTimeout)
		}
		cc.Logger.Warn("skill abandoned", zap.Error(err))
		return outcome{err: err}
	}
}

func (d *Dispatcher) finish(ctx context.Context, rep *Report, start time.Time) {
	rep.Duration = time.Since(start)

	d.mu.Lock()
	d.history = append(d.history, rep)
	if len(d.history) > d.opts.HistorySize {
		d.history = append([]*Report(nil), d.history[len(d.history)-d.opts.HistorySize:]...)
	}
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.Unlock()

	if len(sinks) == 0 {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range sinks {
		if err := s.Record(sctx, rep); err != nil {
			d.logger.Warn("report sink failed", zap.String("report", rep.ID.String()), zap.Error(err))
		}
	}
}

// History returns up to limit most recent reports, oldest first.
func (d *Dispatcher) History(limit int) []*Report {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	return append([]*Report(nil), d.history[len(d.history)-limit:]...)
}

// Stats returns counters since start.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatches: d.dispatches.Load(),
		Suppressed: d.suppressed.Load(),
		Statuses:   d.statuses.Load(),
		Failures:   d.failures.Load(),
	}
}
