package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultHistorySize = 200

// BroadcastRecord tracks a sent broadcast for history.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
	Error   string            `json:"error,omitempty"`
}

// Broadcaster fans skill notifications and statuses out to every connected
// chat platform and keeps a bounded history of what was sent.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	size    int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		gateway: gw,
		size:    defaultHistorySize,
		logger:  logger,
	}
}

// Send broadcasts a message to all or selected platforms via the gateway.
// The message is recorded in history even when a platform fails.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	if msg.Type == "" {
		return errors.New("broadcast type is required")
	}

	b.logger.Info("sending broadcast",
		zap.String("type", string(msg.Type)),
		zap.String("title", msg.Title),
		zap.String("source", msg.Source),
	)

	err := b.gateway.Broadcast(ctx, msg)

	targets := msg.Platforms
	if len(targets) == 0 {
		targets = b.gateway.Adapters()
	}
	rec := BroadcastRecord{Message: msg, SentAt: time.Now(), Targets: targets}
	if err != nil {
		rec.Error = err.Error()
	}

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > b.size {
		b.history = append([]BroadcastRecord(nil), b.history[len(b.history)-b.size:]...)
	}
	b.mu.Unlock()

	return err
}

// Notify sends a best-effort notification. Failures are logged only.
func (b *Broadcaster) Notify(ctx context.Context, title, body string) {
	if err := b.Send(ctx, &BroadcastMessage{
		Type:    BroadcastNotification,
		Title:   title,
		Content: body,
	}); err != nil {
		b.logger.Warn("notification delivery failed", zap.String("title", title), zap.Error(err))
	}
}

// History returns up to limit most recent broadcast records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	start := len(b.history) - limit
	return append([]BroadcastRecord(nil), b.history[start:]...)
}
