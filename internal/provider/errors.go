package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/avast/retry-go/v4"
	"github.com/nidhogg/skillgate/internal/capability"
)

// APIError is a non-2xx answer from a provider endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies every API error as the model being unavailable.
func (e *APIError) Unwrap() error { return capability.ErrModelUnavailable }

func (e *APIError) retryable() bool { return e.StatusCode >= 500 }

// classify maps a transport failure onto the capability taxonomy: deadlines
// become ErrModelTimeout, everything else ErrModelUnavailable.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, capability.ErrModelTimeout) || errors.Is(err, capability.ErrModelUnavailable) {
		return err
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", capability.ErrModelTimeout, err)
	}
	return fmt.Errorf("%w: %v", capability.ErrModelUnavailable, err)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	if !retry.IsRecoverable(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var api *APIError
	if errors.As(err, &api) {
		return api.retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return false
	}
	return true
}
