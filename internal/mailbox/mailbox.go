// Package mailbox is an in-memory message store used when no database is
// configured.
package mailbox

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillgate/internal/capability"
	"go.uber.org/zap"
)

type entry struct {
	mail     capability.Mail
	archived bool
}

// Memory holds delivered mail in process memory.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]*entry
	logger   *zap.Logger
}

// NewMemory creates an empty mailbox.
func NewMemory(logger *zap.Logger) *Memory {
	return &Memory{
		messages: make(map[string]*entry),
		logger:   logger,
	}
}

// Deliver stores a new unread message and returns it with ID and timestamp
// filled in.
func (m *Memory) Deliver(_ context.Context, mail capability.Mail) (capability.Mail, error) {
	if mail.ID == "" {
		mail.ID = uuid.New().String()
	}
	if mail.ReceivedAt.IsZero() {
		mail.ReceivedAt = time.Now()
	}
	mail.Subject = strings.TrimSpace(mail.Subject)

	m.mu.Lock()
	m.messages[mail.ID] = &entry{mail: mail}
	m.mu.Unlock()

	m.logger.Debug("mail delivered", zap.String("id", mail.ID), zap.String("from", mail.From))
	return mail, nil
}

// FetchUnread returns unread mail, oldest first.
func (m *Memory) FetchUnread(_ context.Context) ([]capability.Mail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]capability.Mail, 0, len(m.messages))
	for _, e := range m.messages {
		if !e.archived {
			out = append(out, e.mail)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

// Archive marks a message archived. Archiving twice is a no-op; unknown IDs
// fail with capability.ErrMessageNotFound.
func (m *Memory) Archive(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.messages[id]
	if !ok {
		return capability.ErrMessageNotFound
	}
	e.archived = true
	return nil
}

// Len returns the number of stored messages and how many are unread.
func (m *Memory) Len() (total, unread int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.messages {
		total++
		if !e.archived {
			unread++
		}
	}
	return total, unread
}

var _ capability.Mailbox = (*Memory)(nil)
