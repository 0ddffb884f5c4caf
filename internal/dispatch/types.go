package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillgate/internal/gateway"
)

var (
	// ErrMalformedResult marks a skill that returned a result with a blank status.
	ErrMalformedResult = errors.New("skill returned a blank status")
	// ErrSkillTimeout marks a skill that did not finish within its budget.
	ErrSkillTimeout = errors.New("skill timed out")
	// ErrSkillPanic marks a skill that panicked.
	ErrSkillPanic = errors.New("skill panicked")
)

// StateReader exposes the gateway state to the dispatcher.
type StateReader interface {
	State() gateway.State
}

// Sink receives every finished report, for persistence or publication.
type Sink interface {
	Record(ctx context.Context, r *Report) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r *Report) error

func (f SinkFunc) Record(ctx context.Context, r *Report) error { return f(ctx, r) }

// Failure records one skill that did not complete.
type Failure struct {
	Skill string `json:"skill"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Report is the outcome of one dispatch. Statuses follow skill registration
// order, not completion order.
type Report struct {
	ID         uuid.UUID     `json:"id"`
	Trigger    string        `json:"trigger"`
	State      gateway.State `json:"state"`
	Suppressed bool          `json:"suppressed"`
	Matched    []string      `json:"matched"`
	Statuses   []string      `json:"statuses"`
	Failures   []Failure     `json:"failures"`
	Silent     []string      `json:"silent"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Summary renders the report as chat text.
func (r *Report) Summary() string {
	if r.Suppressed {
		return "Gateway is OFFLINE; no skills ran."
	}
	var b strings.Builder
	for _, s := range r.Statuses {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	for _, f := range r.Failures {
		b.WriteString("[" + f.Skill + "] failed: " + f.Error + "\n")
	}
	if b.Len() == 0 {
		return "No skill had anything to say."
	}
	return strings.TrimRight(b.String(), "\n")
}

// Options tunes the dispatcher.
type Options struct {
	// SkillTimeout bounds each skill invocation. Zero means no bound.
	SkillTimeout time.Duration
	// Concurrency caps skills running at once per dispatch. Zero means no cap.
	Concurrency int
	// HistorySize is the number of reports kept in memory.
	HistorySize int
}

// Stats counts dispatches since start.
type Stats struct {
	Dispatches int64 `json:"dispatches"`
	Suppressed int64 `json:"suppressed"`
	Statuses   int64 `json:"statuses"`
	Failures   int64 `json:"failures"`
}
