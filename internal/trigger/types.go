package trigger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
)

// Trigger names recognised by the built-in event sources.
const (
	EmailReceived   = "email_received"
	SystemIdle      = "system_idle"
	MoonPhaseChange = "moon_phase_change"
	TypingMetrics   = "typing_metrics"
)

// IdlePayload accompanies system_idle.
type IdlePayload struct {
	IdleSeconds float64 `json:"idle_seconds"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
}

// IdleFor returns the idle duration.
func (p IdlePayload) IdleFor() time.Duration {
	return time.Duration(p.IdleSeconds * float64(time.Second))
}

// MoonPayload accompanies moon_phase_change.
type MoonPayload struct {
	Phase    string `json:"phase"`
	Previous string `json:"previous,omitempty"`
}

// MailPayload accompanies email_received.
type MailPayload struct {
	IDs     []string `json:"ids,omitempty"`
	From    string   `json:"from,omitempty"`
	Subject string   `json:"subject,omitempty"`
}

// DecodePayload turns a raw JSON payload into the typed payload for the named
// trigger. Unknown triggers decode into a generic map. An empty payload
// decodes to nil.
func DecodePayload(name string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		out any
		err error
	)
	switch name {
	case TypingMetrics:
		var p capability.MetricsSnapshot
		err = json.Unmarshal(raw, &p)
		out = p
	case SystemIdle:
		var p IdlePayload
		err = json.Unmarshal(raw, &p)
		out = p
	case MoonPhaseChange:
		var p MoonPayload
		err = json.Unmarshal(raw, &p)
		out = p
	case EmailReceived:
		var p MailPayload
		err = json.Unmarshal(raw, &p)
		out = p
	default:
		var p map[string]any
		err = json.Unmarshal(raw, &p)
		out = p
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", name, err)
	}
	return out, nil
}
