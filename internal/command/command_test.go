package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/provider"
	"github.com/nidhogg/skillgate/internal/skill"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name:        "ping",
		Description: "Ping test",
		Usage:       "/ping",
		Handler: func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			return &CommandResult{Content: "pong: " + args}, nil
		},
	})

	ctx := context.Background()
	cc := &CommandContext{Platform: "test"}

	// Test known command
	result, err := reg.Dispatch(ctx, "/ping hello", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content != "pong: hello" {
		t.Errorf("got %q, want %q", result.Content, "pong: hello")
	}

	// Test unknown command
	result, err = reg.Dispatch(ctx, "/unknown", cc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Content == "" {
		t.Error("expected error message for unknown command")
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("got %d commands, want 2", len(list))
	}
	if list[0].Name != "alpha" {
		t.Errorf("got %q first, want %q", list[0].Name, "alpha")
	}
}

type fakeSwitch struct{ state gateway.State }

func (f *fakeSwitch) State() gateway.State { return f.state }

func (f *fakeSwitch) Toggle(context.Context) gateway.State {
	if f.state == gateway.Online {
		f.state = gateway.Offline
	} else {
		f.state = gateway.Online
	}
	return f.state
}

type fakeDispatcher struct {
	triggers []string
	payloads []any
	history  []*dispatch.Report
}

func (f *fakeDispatcher) Dispatch(_ context.Context, name string, payload any) *dispatch.Report {
	f.triggers = append(f.triggers, name)
	f.payloads = append(f.payloads, payload)
	rep := &dispatch.Report{Trigger: name, State: gateway.Online, Statuses: []string{"done: " + name}, StartedAt: time.Now()}
	f.history = append(f.history, rep)
	return rep
}

func (f *fakeDispatcher) History(limit int) []*dispatch.Report {
	if limit < len(f.history) {
		return f.history[len(f.history)-limit:]
	}
	return f.history
}

type fakeSkill struct{ name string }

func (s fakeSkill) ID() string          { return s.name }
func (s fakeSkill) Name() string        { return s.name }
func (s fakeSkill) Description() string { return "does " + s.name }
func (s fakeSkill) Triggers() []string  { return []string{"system_idle"} }
func (s fakeSkill) Execute(context.Context, *capability.Context) (*skill.Result, error) {
	return nil, nil
}

type fakeSkills []skill.Skill

func (f fakeSkills) All() []skill.Skill { return f }

type fakeStatus []gateway.AdapterStatus

func (f fakeStatus) StatusAll() []gateway.AdapterStatus { return f }

func newBuiltins() (*Registry, *fakeSwitch, *fakeDispatcher) {
	reg := NewRegistry()
	sw := &fakeSwitch{state: gateway.Online}
	disp := &fakeDispatcher{}
	RegisterBuiltins(reg, sw, disp,
		fakeSkills{fakeSkill{"hygiene"}, fakeSkill{"ritual"}},
		fakeStatus{{Platform: "slack", Connected: true}, {Platform: "discord"}})
	return reg, sw, disp
}

func run(t *testing.T, reg *Registry, input string) *CommandResult {
	t.Helper()
	res, err := reg.Dispatch(context.Background(), input, &CommandContext{Platform: "test"})
	if err != nil {
		t.Fatalf("%s: %v", input, err)
	}
	return res
}

func TestGatewayCommand(t *testing.T) {
	reg, sw, _ := newBuiltins()

	res := run(t, reg, "/gateway")
	if !strings.Contains(res.Content, "ONLINE") || !strings.Contains(res.Content, "slack: connected") ||
		!strings.Contains(res.Content, "discord: disconnected") {
		t.Errorf("status = %q", res.Content)
	}

	res = run(t, reg, "/gateway toggle")
	if sw.state != gateway.Offline || !strings.Contains(res.Content, "OFFLINE") {
		t.Errorf("after toggle state=%s content=%q", sw.state, res.Content)
	}
	run(t, reg, "/GATEWAY toggle")
	if sw.state != gateway.Online {
		t.Errorf("second toggle should restore ONLINE, got %s", sw.state)
	}

	if res := run(t, reg, "/gateway explode"); !strings.HasPrefix(res.Content, "Usage") {
		t.Errorf("bad arg = %q", res.Content)
	}
}

func TestSkillsCommand(t *testing.T) {
	reg, _, _ := newBuiltins()
	res := run(t, reg, "/skills")
	if !strings.Contains(res.Content, "hygiene: does hygiene [system_idle]") {
		t.Errorf("skills = %q", res.Content)
	}
	if infos := res.Data.([]skill.Info); len(infos) != 2 {
		t.Errorf("data = %+v", infos)
	}
}

func TestTriggerCommand(t *testing.T) {
	reg, _, disp := newBuiltins()

	res := run(t, reg, `/trigger system_idle {"idle_seconds":600}`)
	if res.Content != "done: system_idle" {
		t.Errorf("content = %q", res.Content)
	}
	if p, ok := disp.payloads[0].(trigger.IdlePayload); !ok || p.IdleSeconds != 600 {
		t.Errorf("payload = %#v", disp.payloads[0])
	}

	run(t, reg, "/trigger custom_event")
	if len(disp.triggers) != 2 || disp.payloads[1] != nil {
		t.Errorf("triggers=%v payloads=%v", disp.triggers, disp.payloads)
	}

	if res := run(t, reg, "/trigger system_idle {broken"); !strings.HasPrefix(res.Content, "Invalid payload") {
		t.Errorf("malformed = %q", res.Content)
	}
	if res := run(t, reg, "/trigger"); !strings.HasPrefix(res.Content, "Usage") {
		t.Errorf("empty = %q", res.Content)
	}
	if len(disp.triggers) != 2 {
		t.Errorf("rejected input should not dispatch, got %v", disp.triggers)
	}
}

func TestHistoryCommand(t *testing.T) {
	reg, _, disp := newBuiltins()
	if res := run(t, reg, "/history"); res.Content != "No dispatches yet." {
		t.Errorf("empty history = %q", res.Content)
	}

	disp.Dispatch(context.Background(), "a", nil)
	disp.Dispatch(context.Background(), "b", nil)
	disp.history = append(disp.history, &dispatch.Report{Trigger: "c", State: gateway.Offline, Suppressed: true})

	res := run(t, reg, "/history 2")
	if strings.Contains(res.Content, " a ") || !strings.Contains(res.Content, "b (ONLINE): 1 acted") ||
		!strings.Contains(res.Content, "c (OFFLINE): suppressed") {
		t.Errorf("history = %q", res.Content)
	}
	if res := run(t, reg, "/history -1"); !strings.HasPrefix(res.Content, "Usage") {
		t.Errorf("bad n = %q", res.Content)
	}
}

func TestHelpListsBuiltins(t *testing.T) {
	reg, _, _ := newBuiltins()
	res := run(t, reg, "/help")
	for _, name := range []string{"/gateway", "/skills", "/trigger", "/history", "/help"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help missing %s", name)
		}
	}
}

type stubProvider struct{ id string }

func (p stubProvider) ID() string   { return p.id }
func (p stubProvider) Name() string { return "Stub " + p.id }
func (p stubProvider) Chat(context.Context, *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Content: "ok"}, nil
}
func (p stubProvider) ListModels(context.Context) ([]provider.Model, error) { return nil, nil }
func (p stubProvider) HealthCheck(context.Context) error                   { return nil }

func TestProviderCommand(t *testing.T) {
	router := provider.NewRouter(zap.NewNop())
	router.Register(stubProvider{"alpha"})
	router.Register(stubProvider{"beta"})
	reg := NewRegistry()
	RegisterProviderCommands(reg, router)

	res := run(t, reg, "/provider")
	if !strings.Contains(res.Content, "* Stub alpha (alpha)") || !strings.Contains(res.Content, "  Stub beta (beta)") {
		t.Errorf("list = %q", res.Content)
	}

	run(t, reg, "/provider beta")
	if router.DefaultID() != "beta" {
		t.Errorf("default = %s", router.DefaultID())
	}
	if res := run(t, reg, "/provider gamma"); !strings.Contains(res.Content, "Unknown provider") {
		t.Errorf("unknown = %q", res.Content)
	}
	if router.DefaultID() != "beta" {
		t.Error("unknown provider should not change the default")
	}

	res = run(t, reg, "/provider bind hygiene alpha")
	if !strings.Contains(res.Content, `"hygiene" now uses provider "alpha"`) {
		t.Errorf("bind = %q", res.Content)
	}
}
