package capability

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type countingMailbox struct {
	fetches  int
	archived []string
}

func (m *countingMailbox) FetchUnread(context.Context) ([]Mail, error) {
	m.fetches++
	return []Mail{{ID: "m1", Subject: "hello"}}, nil
}

func (m *countingMailbox) Archive(_ context.Context, id string) error {
	m.archived = append(m.archived, id)
	return nil
}

type liveMetrics struct{ snap MetricsSnapshot }

func (l liveMetrics) Snapshot() MetricsSnapshot { return l.snap }

func TestBindReleaseRevokesHandles(t *testing.T) {
	mb := &countingMailbox{}
	f := NewFactory(mb, nil, nil, nil, zap.NewNop())
	cc := f.Bind(Event{Trigger: "email_received"}, "hygiene")

	if _, err := cc.Mail.FetchUnread(context.Background()); err != nil {
		t.Fatalf("fetch before release: %v", err)
	}
	cc.Release()

	if _, err := cc.Mail.FetchUnread(context.Background()); !errors.Is(err, ErrRevoked) {
		t.Fatalf("fetch after release: got %v, want ErrRevoked", err)
	}
	if err := cc.Mail.Archive(context.Background(), "m1"); !errors.Is(err, ErrRevoked) {
		t.Fatalf("archive after release: got %v, want ErrRevoked", err)
	}
	if mb.fetches != 1 {
		t.Errorf("backend fetches = %d, want 1", mb.fetches)
	}
	if len(mb.archived) != 0 {
		t.Errorf("backend archived %v after release", mb.archived)
	}
}

func TestBindGivesIndependentContexts(t *testing.T) {
	f := NewFactory(&countingMailbox{}, nil, nil, nil, zap.NewNop())
	a := f.Bind(Event{Trigger: "x"}, "a")
	b := f.Bind(Event{Trigger: "x"}, "b")
	a.Release()

	if _, err := b.Mail.FetchUnread(context.Background()); err != nil {
		t.Fatalf("sibling context affected by release: %v", err)
	}
}

func TestBindPinsMetricsToPayload(t *testing.T) {
	live := liveMetrics{snap: MetricsSnapshot{CPM: 10, Backspaces: 1}}
	f := NewFactory(nil, nil, nil, live, zap.NewNop())

	pinned := f.Bind(Event{Trigger: "typing_metrics", Payload: MetricsSnapshot{CPM: 500, Backspaces: 25}}, "r")
	if got := pinned.Metrics.Snapshot(); got.CPM != 500 || got.Backspaces != 25 {
		t.Errorf("pinned snapshot = %+v", got)
	}

	other := f.Bind(Event{Trigger: "system_idle"}, "r")
	if got := other.Metrics.Snapshot(); got.CPM != 10 {
		t.Errorf("live snapshot = %+v", got)
	}
}

func TestMissingBackendsReportUnavailable(t *testing.T) {
	f := NewFactory(nil, nil, nil, nil, zap.NewNop())
	cc := f.Bind(Event{Trigger: "x"}, "s")

	if _, err := cc.Model.Chat(context.Background(), nil); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("chat: got %v, want ErrModelUnavailable", err)
	}
	if _, err := cc.OS.RunCommand(context.Background(), "true"); !errors.Is(err, ErrCommandFailed) {
		t.Errorf("run: got %v, want ErrCommandFailed", err)
	}
	cc.OS.Notify(context.Background(), "t", "b")
}

func TestCommandErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 2")
	err := error(&CommandError{Command: "open x", ExitCode: 2, Stderr: "boom", Err: cause})

	if !errors.Is(err, ErrCommandFailed) {
		t.Error("expected errors.Is ErrCommandFailed")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is underlying cause")
	}
	var ce *CommandError
	if !errors.As(err, &ce) || ce.ExitCode != 2 {
		t.Errorf("errors.As: %+v", ce)
	}
	if ce.Error() != `command "open x" exited with code 2: boom` {
		t.Errorf("message = %q", ce.Error())
	}
}
