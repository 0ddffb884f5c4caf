package capability

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Context is the set of capabilities granted to one skill for one event.
// It must not be retained after the invocation returns.
type Context struct {
	Skill   string
	Event   Event
	Mail    Mailbox
	Model   Model
	OS      Actuator
	Metrics Metrics
	Logger  *zap.Logger

	revoked *atomic.Bool
}

// Release revokes every handle in the context. Calls made through a released
// context fail with ErrRevoked.
func (c *Context) Release() {
	if c.revoked != nil {
		c.revoked.Store(true)
	}
}

// Factory builds a fresh Context per skill invocation from long-lived
// capability backends.
type Factory struct {
	mail    Mailbox
	model   Model
	os      Actuator
	metrics Metrics
	logger  *zap.Logger
}

// NewFactory creates a factory. Any backend may be nil; the matching handle
// then reports the capability as unavailable.
func NewFactory(mail Mailbox, model Model, os Actuator, metrics Metrics, logger *zap.Logger) *Factory {
	return &Factory{
		mail:    mail,
		model:   model,
		os:      os,
		metrics: metrics,
		logger:  logger,
	}
}

// Bind returns a new Context for the given skill and event. Each handle is an
// audited wrapper tied to this context's revocation flag.
func (f *Factory) Bind(ev Event, skill string) *Context {
	revoked := &atomic.Bool{}
	logger := f.logger.With(zap.String("skill", skill), zap.String("trigger", ev.Trigger))

	var metrics Metrics = f.metrics
	if snap, ok := ev.Payload.(MetricsSnapshot); ok {
		metrics = StaticMetrics(snap)
	}

	return &Context{
		Skill:   skill,
		Event:   ev,
		Mail:    &auditedMailbox{next: f.mail, revoked: revoked, logger: logger},
		Model:   &auditedModel{next: f.model, skill: skill, revoked: revoked, logger: logger},
		OS:      &auditedActuator{next: f.os, revoked: revoked, logger: logger},
		Metrics: &guardedMetrics{next: metrics, revoked: revoked},
		Logger:  logger,
		revoked: revoked,
	}
}

type auditedMailbox struct {
	next    Mailbox
	revoked *atomic.Bool
	logger  *zap.Logger
}

func (m *auditedMailbox) FetchUnread(ctx context.Context) ([]Mail, error) {
	if m.revoked.Load() {
		return nil, ErrRevoked
	}
	if m.next == nil {
		return nil, nil
	}
	mails, err := m.next.FetchUnread(ctx)
	m.logger.Debug("mail.fetch_unread", zap.Int("count", len(mails)), zap.Error(err))
	return mails, err
}

func (m *auditedMailbox) Archive(ctx context.Context, id string) error {
	if m.revoked.Load() {
		return ErrRevoked
	}
	if m.next == nil {
		return ErrArchiveFailed
	}
	err := m.next.Archive(ctx, id)
	m.logger.Info("mail.archive", zap.String("message", id), zap.Error(err))
	return err
}

type auditedModel struct {
	next    Model
	skill   string
	revoked *atomic.Bool
	logger  *zap.Logger
}

func (m *auditedModel) Chat(ctx context.Context, messages []ChatMessage) (string, error) {
	if m.revoked.Load() {
		return "", ErrRevoked
	}
	if m.next == nil {
		return "", ErrModelUnavailable
	}
	start := time.Now()
	reply, err := m.next.Chat(WithSkill(ctx, m.skill), messages)
	m.logger.Info("model.chat",
		zap.Int("messages", len(messages)),
		zap.Int("reply_len", len(reply)),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return reply, err
}

type auditedActuator struct {
	next    Actuator
	revoked *atomic.Bool
	logger  *zap.Logger
}

func (a *auditedActuator) Notify(ctx context.Context, title, body string) {
	if a.revoked.Load() || a.next == nil {
		return
	}
	a.logger.Info("os.notify", zap.String("title", title))
	a.next.Notify(ctx, title, body)
}

func (a *auditedActuator) RunCommand(ctx context.Context, commandLine string) (string, error) {
	if a.revoked.Load() {
		return "", ErrRevoked
	}
	if a.next == nil {
		return "", &CommandError{Command: commandLine, ExitCode: -1, Err: ErrCommandFailed}
	}
	out, err := a.next.RunCommand(ctx, commandLine)
	a.logger.Info("os.run_command", zap.String("command", commandLine), zap.Error(err))
	return out, err
}

type guardedMetrics struct {
	next    Metrics
	revoked *atomic.Bool
}

func (m *guardedMetrics) Snapshot() MetricsSnapshot {
	if m.revoked.Load() || m.next == nil {
		return MetricsSnapshot{}
	}
	return m.next.Snapshot()
}
