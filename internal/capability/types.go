package capability

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Event is a single trigger occurrence handed to the dispatcher.
type Event struct {
	Trigger string    `json:"trigger"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Mail is a message record exposed by the message capability.
type Mail struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	From       string    `json:"from,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ChatMessage is a role-tagged message sent to the language model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MetricsSnapshot is a point-in-time view of live user input metrics.
type MetricsSnapshot struct {
	CPM        float64       `json:"cpm"`
	Backspaces int           `json:"backspaces"`
	Window     time.Duration `json:"window,omitempty"`
	LastInput  time.Time     `json:"last_input,omitempty"`
}

// Mailbox is the message capability.
type Mailbox interface {
	FetchUnread(ctx context.Context) ([]Mail, error)
	// Archive removes a message from the unread set. Archiving an already
	// archived message succeeds without effect.
	Archive(ctx context.Context, id string) error
}

// Model is the language-model capability. The returned text is free-form and
// must be parsed by the caller.
type Model interface {
	Chat(ctx context.Context, messages []ChatMessage) (string, error)
}

// Actuator is the OS actuation capability.
type Actuator interface {
	// Notify is best-effort and never reports failure to the caller.
	Notify(ctx context.Context, title, body string)
	RunCommand(ctx context.Context, commandLine string) (string, error)
}

// Metrics is the live user-metrics capability.
type Metrics interface {
	Snapshot() MetricsSnapshot
}

// Capability errors.
var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrArchiveFailed    = errors.New("archive failed")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrModelTimeout     = errors.New("model timeout")
	ErrCommandFailed    = errors.New("command failed")
	ErrRevoked          = errors.New("capability revoked")
)

// CommandError describes a command that exited unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil && e.ExitCode < 0 {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCommandFailed, e.Err}
	}
	return []error{ErrCommandFailed}
}

// StaticMetrics is a Metrics reader pinned to one snapshot.
type StaticMetrics MetricsSnapshot

// Snapshot returns the pinned snapshot.
func (s StaticMetrics) Snapshot() MetricsSnapshot { return MetricsSnapshot(s) }

type skillKey struct{}

// WithSkill tags ctx with the skill making a capability call.
func WithSkill(ctx context.Context, skill string) context.Context {
	return context.WithValue(ctx, skillKey{}, skill)
}

// SkillFrom returns the skill tagged by WithSkill, or "".
func SkillFrom(ctx context.Context) string {
	s, _ := ctx.Value(skillKey{}).(string)
	return s
}
