//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/skillgate/internal/actuator"
	"github.com/nidhogg/skillgate/internal/bus"
	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/command"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/metrics"
	"github.com/nidhogg/skillgate/internal/provider"
	"github.com/nidhogg/skillgate/internal/router"
	"github.com/nidhogg/skillgate/internal/skill"
	pgstore "github.com/nidhogg/skillgate/internal/store"
	"github.com/nidhogg/skillgate/internal/trigger"
)

// Package-level shared state, set by TestMain.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("skillgate_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// stubLLM serves an OpenAI-compatible chat endpoint. Classification prompts
// get verdict, wallpaper prompts get a fixed sigil prompt.
func stubLLM(t *testing.T, verdict string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []provider.Message `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply := "OK"
		for _, m := range req.Messages {
			switch {
			case strings.Contains(m.Content, "Classify"):
				reply = verdict
			case strings.Contains(m.Content, "wallpaper"):
				reply = "neon sigil over a cracked moon"
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":    "stub",
			"model": "stub-model",
			"choices": []map[string]interface{}{{
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

// CaptureAdapter is a test gateway adapter that records all outbound messages.
type CaptureAdapter struct {
	sent    []*gateway.OutboundMessage
	handler gateway.MessageHandler
	mu      sync.Mutex
}

func (c *CaptureAdapter) Platform() string                   { return "test" }
func (c *CaptureAdapter) Connect(ctx context.Context) error  { return nil }
func (c *CaptureAdapter) OnMessage(h gateway.MessageHandler) { c.handler = h }
func (c *CaptureAdapter) Close() error                       { return nil }
func (c *CaptureAdapter) Status() gateway.AdapterStatus {
	return gateway.AdapterStatus{Platform: "test", Connected: true}
}

func (c *CaptureAdapter) Send(ctx context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *CaptureAdapter) Broadcast(ctx context.Context, msg *gateway.BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, &gateway.OutboundMessage{
		Platform:  "test",
		ChannelID: "broadcast",
		Source:    msg.Source,
		Content:   msg.Content,
	})
	return nil
}

// Inject simulates an inbound message from a user.
func (c *CaptureAdapter) Inject(msg *gateway.InboundMessage) {
	msg.Platform = "test"
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if c.handler != nil {
		c.handler(msg)
	}
}

// Sent returns a copy of all captured outbound messages.
func (c *CaptureAdapter) Sent() []*gateway.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*gateway.OutboundMessage, len(c.sent))
	copy(cp, c.sent)
	return cp
}

// Reset clears captured messages.
func (c *CaptureAdapter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

// stack is a fully wired skillgate backed by the test containers.
type stack struct {
	capture  *CaptureAdapter
	sw       *gateway.Switch
	disp     *dispatch.Dispatcher
	router   *router.MessageRouter
	bus      *bus.Bus
	watcher  *trigger.MailWatcher
	fire     trigger.DispatchFunc
	tracker  *metrics.Tracker
	llm      *httptest.Server
	gw       *gateway.Gateway
	shutdown func()
}

// setupStack wires the same components cmd/skillgate does, with the
// CaptureAdapter as the only chat platform and the stub LLM as provider.
// prefix isolates the Redis streams of one test from another.
func setupStack(t *testing.T, verdict, prefix string) *stack {
	t.Helper()
	ctx := context.Background()

	llm := stubLLM(t, verdict)
	providers := provider.NewRouter(testLogger)
	providers.Register(provider.NewOpenAIProvider(provider.ProviderConfig{
		ID: "stub", Type: "openai", Name: "Stub", Endpoint: llm.URL,
		Timeout: 5 * time.Second, Retries: 1,
	}, testLogger))
	providers.SetDefault("stub")
	model := provider.NewClient(providers, "stub-model", 5*time.Second)

	b, err := bus.New(ctx, testRedisURL, prefix, testLogger)
	if err != nil {
		t.Fatalf("bus: %v", err)
	}

	gw := gateway.NewGateway(testLogger)
	capture := &CaptureAdapter{}
	broadcaster := gateway.NewBroadcaster(gw, testLogger)
	shell := actuator.NewShell(actuator.Options{Timeout: 5 * time.Second}, broadcaster, testLogger)

	sw := gateway.NewSwitch(gateway.Online, testLogger)
	sw.OnToggle(router.StateHook(broadcaster))

	tracker := metrics.NewTracker(time.Minute)
	factory := capability.NewFactory(testPGStore, model, shell, tracker, testLogger)

	skills := skill.NewRegistry()
	if err := skill.RegisterBuiltins(skills, nil); err != nil {
		t.Fatalf("register skills: %v", err)
	}

	disp := dispatch.New(skills, sw, factory, dispatch.Options{
		SkillTimeout: 10 * time.Second,
		HistorySize:  50,
	}, testLogger)
	disp.AddSink(testPGStore)
	disp.AddSink(b)
	disp.AddSink(router.ReportSink(broadcaster))

	fire := func(ctx context.Context, name string, payload any) {
		disp.Dispatch(ctx, name, payload)
	}
	watcher := trigger.NewMailWatcher(testPGStore, fire, testLogger)

	cmds := command.NewRegistry()
	command.RegisterBuiltins(cmds, sw, disp, skills, gw)
	command.RegisterProviderCommands(cmds, providers)
	msgRouter := router.New(cmds, disp, testPGStore, watcher, gw, testLogger)

	// The gateway resolves its handler per message; set it before traffic flows.
	gw.SetHandler(msgRouter.Handle)
	gw.Register(capture)
	if err := gw.ConnectAll(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	s := &stack{
		capture: capture,
		sw:      sw,
		disp:    disp,
		router:  msgRouter,
		bus:     b,
		watcher: watcher,
		fire:    fire,
		tracker: tracker,
		llm:     llm,
		gw:      gw,
	}
	s.shutdown = func() {
		sw.Wait()
		gw.Close()
		b.Close()
	}
	t.Cleanup(s.shutdown)
	return s
}

// lastReply returns the content of the most recent non-broadcast message.
func (s *stack) lastReply(t *testing.T) string {
	t.Helper()
	sent := s.capture.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].ChannelID != "broadcast" {
			return sent[i].Content
		}
	}
	t.Fatal("no reply captured")
	return ""
}

// broadcasts returns the captured broadcast contents.
func (s *stack) broadcasts() []string {
	var out []string
	for _, m := range s.capture.Sent() {
		if m.ChannelID == "broadcast" {
			out = append(out, m.Content)
		}
	}
	return out
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// archiveAll clears the shared mailbox between tests.
func archiveAll(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	unread, err := testPGStore.FetchUnread(ctx)
	if err != nil {
		t.Fatalf("fetch unread: %v", err)
	}
	for _, m := range unread {
		if err := testPGStore.Archive(ctx, m.ID); err != nil {
			t.Fatalf("archive %s: %v", m.ID, err)
		}
	}
}
