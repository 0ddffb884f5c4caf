package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSwitchInitialState(t *testing.T) {
	if got := NewSwitch(Online, zap.NewNop()).State(); got != Online {
		t.Errorf("initial online: got %s", got)
	}
	if got := NewSwitch(Offline, zap.NewNop()).State(); got != Offline {
		t.Errorf("initial offline: got %s", got)
	}
	if !NewSwitch("", zap.NewNop()).Active() {
		t.Error("empty initial state should default to online")
	}
}

func TestSwitchDoubleToggleRoundTrips(t *testing.T) {
	s := NewSwitch(Online, zap.NewNop())
	ctx := context.Background()

	if got := s.Toggle(ctx); got != Offline {
		t.Fatalf("first toggle: got %s, want OFFLINE", got)
	}
	if s.Active() {
		t.Fatal("Active() should be false after toggle")
	}
	if got := s.Toggle(ctx); got != Online {
		t.Fatalf("second toggle: got %s, want ONLINE", got)
	}
}

func TestSwitchConcurrentToggles(t *testing.T) {
	s := NewSwitch(Online, zap.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle(context.Background())
		}()
	}
	wg.Wait()
	// An even number of flips lands back where it started.
	if s.State() != Online {
		t.Errorf("after 100 toggles: got %s", s.State())
	}
}

func TestSwitchToggleToFlipsOnce(t *testing.T) {
	s := NewSwitch(Online, zap.NewNop())
	var hooks atomic.Int32
	s.OnToggle(func(context.Context, State) { hooks.Add(1) })

	var flips atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if st, ok := s.ToggleTo(context.Background(), Offline); ok {
				flips.Add(1)
			} else if st != Offline {
				t.Errorf("no-op ToggleTo returned %s", st)
			}
		}()
	}
	wg.Wait()
	s.Wait()

	if s.State() != Offline {
		t.Errorf("state = %s, want OFFLINE", s.State())
	}
	if flips.Load() != 1 || hooks.Load() != 1 {
		t.Errorf("flips = %d hooks = %d, want 1 each", flips.Load(), hooks.Load())
	}
	if st, ok := s.ToggleTo(context.Background(), Online); !ok || st != Online {
		t.Errorf("ToggleTo(ONLINE) = %s %v", st, ok)
	}
}

func TestSwitchHooks(t *testing.T) {
	s := NewSwitch(Online, zap.NewNop())
	var got atomic.Value
	s.OnToggle(func(_ context.Context, st State) { got.Store(st) })
	s.OnToggle(func(context.Context, State) { panic("boom") })

	ctx, cancel := context.WithCancel(context.Background())
	s.Toggle(ctx)
	cancel()
	s.Wait()

	if got.Load() != Offline {
		t.Errorf("hook saw %v, want OFFLINE", got.Load())
	}
	if s.State() != Offline {
		t.Error("panicking hook must not affect state")
	}
}

func TestParseState(t *testing.T) {
	cases := map[string]State{"ONLINE": Online, "off": Offline, "false": Offline, "": Online, "true": Online}
	for in, want := range cases {
		got, err := ParseState(in)
		if err != nil || got != want {
			t.Errorf("ParseState(%q) = %s, %v; want %s", in, got, err, want)
		}
	}
	if _, err := ParseState("maybe"); err == nil {
		t.Error("expected error for unknown state")
	}
}

type captureAdapter struct {
	platform string
	fail     error
	mu       sync.Mutex
	sent     []*BroadcastMessage
	handler  MessageHandler
}

func (c *captureAdapter) Platform() string                             { return c.platform }
func (c *captureAdapter) Connect(context.Context) error                { return nil }
func (c *captureAdapter) Send(context.Context, *OutboundMessage) error { return nil }
func (c *captureAdapter) OnMessage(h MessageHandler)                   { c.handler = h }
func (c *captureAdapter) Close() error                                 { return nil }
func (c *captureAdapter) Status() AdapterStatus {
	return AdapterStatus{Platform: c.platform, Connected: true}
}
func (c *captureAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.fail
}

func TestBroadcasterNotifyReachesAdapters(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	a := &captureAdapter{platform: "slack"}
	b := &captureAdapter{platform: "discord", fail: errors.New("offline")}
	gw.Register(a)
	gw.Register(b)

	bc := NewBroadcaster(gw, zap.NewNop())
	bc.Notify(context.Background(), "Ritual Initiated", "Weaving sigil for Full Moon...")

	if len(a.sent) != 1 || a.sent[0].Type != BroadcastNotification {
		t.Fatalf("slack got %+v", a.sent)
	}
	hist := bc.History(10)
	if len(hist) != 1 {
		t.Fatalf("history len = %d", len(hist))
	}
	if hist[0].Error == "" {
		t.Error("failed platform should be recorded in history")
	}
	if len(hist[0].Targets) != 2 || hist[0].Targets[0] != "discord" {
		t.Errorf("targets = %v", hist[0].Targets)
	}
}

func TestBroadcasterHistoryBounded(t *testing.T) {
	bc := NewBroadcaster(NewGateway(zap.NewNop()), zap.NewNop())
	bc.size = 3
	for i := 0; i < 5; i++ {
		if err := bc.Send(context.Background(), &BroadcastMessage{Type: BroadcastSkillStatus, Title: string(rune('a' + i))}); err != nil {
			t.Fatal(err)
		}
	}
	hist := bc.History(0)
	if len(hist) != 3 || hist[0].Message.Title != "c" {
		t.Fatalf("history = %+v", hist)
	}
	if err := bc.Send(context.Background(), &BroadcastMessage{}); err == nil {
		t.Error("missing type should be rejected")
	}
}

func TestGatewaySendUnknownPlatform(t *testing.T) {
	gw := NewGateway(zap.NewNop())
	err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"})
	if !errors.Is(err, ErrNoAdapter) {
		t.Fatalf("err = %v", err)
	}
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	gw := NewGateway(zap.NewNop())
	gw.Register(rest)
	gw.SetHandler(func(msg *InboundMessage) {
		gw.Send(context.Background(), &OutboundMessage{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			Content:   "echo: " + msg.Content,
		})
	})

	ts := httptest.NewServer(rest.Routes())
	defer ts.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "content": "hello"})
	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out OutboundMessage
	json.NewDecoder(resp.Body).Decode(&out)
	if out.Content != "echo: hello" {
		t.Errorf("content = %q", out.Content)
	}
}

func TestRESTAdapterRejectsEmpty(t *testing.T) {
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	rest.OnMessage(func(*InboundMessage) {})
	ts := httptest.NewServer(rest.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/message", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
