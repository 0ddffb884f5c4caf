package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nidhogg/skillgate/internal/capability"
	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by skill.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // skillID -> providerID
	fallbacks map[string][]string // skillID -> fallback provider chain
	defaults  string              // default provider ID
	chain     []string            // fallbacks for unbound skills
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind associates a skill with a specific provider.
func (r *Router) Bind(skillID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[skillID] = providerID
}

// SetFallbacks configures fallback providers for a skill. An empty skillID
// sets the chain used by skills without their own.
func (r *Router) SetFallbacks(skillID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if skillID == "" {
		r.chain = providerIDs
		return
	}
	r.fallbacks[skillID] = providerIDs
}

// Route sends a chat request through the provider bound to the skill, then
// its fallbacks in order. Timeouts are not retried on fallbacks because the
// caller's deadline is already spent.
func (r *Router) Route(ctx context.Context, skillID string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary := r.getProvider(skillID)
	chain, ok := r.fallbacks[skillID]
	if !ok {
		chain = r.chain
	}
	fallbacks := make([]Provider, 0, len(chain))
	for _, id := range chain {
		if p, ok := r.providers[id]; ok {
			fallbacks = append(fallbacks, p)
		}
	}
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("%w: no provider available for skill %s", capability.ErrModelUnavailable, skillID)
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}

	for _, fb := range fallbacks {
		if errors.Is(err, capability.ErrModelTimeout) || ctx.Err() != nil {
			break
		}
		r.logger.Warn("provider failed, trying fallback",
			zap.String("skill", skillID), zap.String("fallback", fb.ID()), zap.Error(err))
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
	}

	return nil, fmt.Errorf("all providers failed for skill %s: %w", skillID, err)
}

func (r *Router) getProvider(skillID string) Provider {
	if pid, ok := r.bindings[skillID]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers sorted by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
