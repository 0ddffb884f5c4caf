package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RESTAdapter implements GatewayAdapter for HTTP-based message ingestion.
// Each POST opens a one-shot channel that the reply is delivered on.
type RESTAdapter struct {
	handler  MessageHandler
	channels map[string]chan *OutboundMessage // channelID -> pending responses
	timeout  time.Duration
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRESTAdapter creates a REST gateway adapter. Requests wait up to timeout
// for a reply; zero means 60s.
func NewRESTAdapter(timeout time.Duration, logger *zap.Logger) *RESTAdapter {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RESTAdapter{
		channels: make(map[string]chan *OutboundMessage),
		timeout:  timeout,
		logger:   logger,
	}
}

func (a *RESTAdapter) Platform() string { return "rest" }

func (a *RESTAdapter) Connect(_ context.Context) error { return nil }

func (a *RESTAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handler = h
}

func (a *RESTAdapter) Close() error { return nil }

func (a *RESTAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AdapterStatus{
		Platform:  "rest",
		Connected: true,
		Details:   fmt.Sprintf("pending=%d", len(a.channels)),
	}
}

// Send delivers a message to a waiting REST channel.
func (a *RESTAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	ch, ok := a.channels[msg.ChannelID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no active channel: %s", msg.ChannelID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("channel %s buffer full", msg.ChannelID)
	}
}

// Routes returns a chi router with REST gateway endpoints.
func (a *RESTAdapter) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/message", a.handleMessage)
	return r
}

// handleMessage accepts an inbound message via HTTP and waits for the reply.
func (a *RESTAdapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		UserName string `json:"user_name"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusBadRequest)
		return
	}

	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler == nil {
		http.Error(w, `{"error":"no message handler"}`, http.StatusServiceUnavailable)
		return
	}

	channelID := uuid.New().String()
	ch := make(chan *OutboundMessage, 1)

	a.mu.Lock()
	a.channels[channelID] = ch
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.channels, channelID)
		a.mu.Unlock()
	}()

	go handler(&InboundMessage{
		Platform:  "rest",
		ChannelID: channelID,
		UserID:    req.UserID,
		UserName:  req.UserName,
		Content:   req.Content,
		Timestamp: time.Now(),
	})

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()

	select {
	case msg := <-ch:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(msg)
	case <-timer.C:
		http.Error(w, `{"error":"response timeout"}`, http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// Broadcast sends to all waiting REST channels.
func (a *RESTAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for id, ch := range a.channels {
		select {
		case ch <- &OutboundMessage{
			Platform:  "rest",
			ChannelID: id,
			Source:    msg.Source,
			Content:   fmt.Sprintf("[%s] %s\n%s", msg.Type, msg.Title, msg.Content),
		}:
		default:
		}
	}
	return nil
}
