package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
)

// DefaultModel is the model name sent when none is configured.
const DefaultModel = "sophia-sovereign-5.2"

// Client adapts the Router to the language-model capability. Every call is
// bounded by the client timeout; exceeding it yields ErrModelTimeout.
type Client struct {
	router  *Router
	model   string
	timeout time.Duration
}

// NewClient creates a client. A zero timeout means no client-side bound.
func NewClient(router *Router, model string, timeout time.Duration) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{router: router, model: model, timeout: timeout}
}

// Chat sends the messages and returns the first choice's text. The caller's
// skill, if tagged on ctx, selects the provider binding.
func (c *Client) Chat(ctx context.Context, messages []capability.ChatMessage) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := &ChatRequest{Model: c.model, Messages: make([]Message, len(messages)), NoStream: true}
	for i, m := range messages {
		req.Messages[i] = Message{Role: m.Role, Content: m.Content}
	}

	resp, err := c.router.Route(ctx, capability.SkillFrom(ctx), req)
	if err != nil {
		if errors.Is(err, capability.ErrModelTimeout) || errors.Is(err, capability.ErrModelUnavailable) {
			return "", err
		}
		return "", classify(ctx, err)
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", capability.ErrModelTimeout, ctx.Err())
	}
	return resp.Content, nil
}

var _ capability.Model = (*Client)(nil)
