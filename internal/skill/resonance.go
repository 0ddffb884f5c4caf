package skill

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

const (
	DefaultCPMThreshold       = 400
	DefaultBackspaceThreshold = 20
	// DefaultTrack is played when the model does not name a usable track.
	DefaultTrack = "spotify:track:0BEp9L3ZgR5vK8ZqEaQZk1"

	defaultResonancePrompt  = "User is stressed. Recommend a dark burial/phonk track URI."
	defaultResonanceCommand = "open {uri}"
)

var trackURIRe = regexp.MustCompile(`spotify:track:[a-zA-Z0-9]+`)

// Resonance detects stressed typing and plays a track.
//
// Default action: when the reply carries no spotify:track URI, or the model
// call fails, DefaultTrack (or the configured default) is played.
type Resonance struct {
	cpmThreshold       float64
	backspaceThreshold int
	defaultTrack       string
	prompt             string
	command            string
}

// NewResonance builds the skill from optional settings.
func NewResonance(s *Settings) *Resonance {
	r := &Resonance{
		cpmThreshold:       DefaultCPMThreshold,
		backspaceThreshold: DefaultBackspaceThreshold,
		defaultTrack:       DefaultTrack,
		prompt:             defaultResonancePrompt,
		command:            defaultResonanceCommand,
	}
	if s != nil {
		if s.CPMThreshold > 0 {
			r.cpmThreshold = s.CPMThreshold
		}
		if s.BackspaceThreshold > 0 {
			r.backspaceThreshold = s.BackspaceThreshold
		}
		if s.Default != "" {
			r.defaultTrack = s.Default
		}
		if s.Prompt != "" {
			r.prompt = s.Prompt
		}
		if s.Command != "" {
			r.command = s.Command
		}
	}
	return r
}

func (r *Resonance) ID() string          { return "resonance_injection" }
func (r *Resonance) Name() string        { return "Resonance Injection" }
func (r *Resonance) Description() string { return "Detects stress and injects bass." }
func (r *Resonance) Triggers() []string  { return []string{trigger.TypingMetrics} }

// Stressed is the local heuristic: fast typing combined with many corrections.
func (r *Resonance) Stressed(m capability.MetricsSnapshot) bool {
	return m.CPM > r.cpmThreshold && m.Backspaces > r.backspaceThreshold
}

func (r *Resonance) Execute(ctx context.Context, cc *capability.Context) (*Result, error) {
	if !r.Stressed(cc.Metrics.Snapshot()) {
		return nil, nil
	}

	uri, source := r.pickTrack(ctx, cc)

	line := strings.ReplaceAll(r.command, "{uri}", shellQuote(uri))
	if _, err := cc.OS.RunCommand(ctx, line); err != nil {
		var ce *capability.CommandError
		if errors.As(err, &ce) {
			return &Result{Status: fmt.Sprintf(
				"[Resonance Injection] User stress detected. Injection of %s (%s) failed: exit code %d.",
				uri, source, ce.ExitCode)}, nil
		}
		return nil, fmt.Errorf("run %q: %w", line, err)
	}

	return &Result{Status: fmt.Sprintf(
		"[Resonance Injection] User stress detected. Injecting: %s (%s)", uri, source)}, nil
}

func (r *Resonance) pickTrack(ctx context.Context, cc *capability.Context) (uri, source string) {
	reply, err := cc.Model.Chat(ctx, []capability.ChatMessage{{Role: "system", Content: r.prompt}})
	if err != nil {
		cc.Logger.Warn("track recommendation failed, using default", zap.Error(err))
		return r.defaultTrack, "default"
	}
	if tok, ok := ExtractToken(trackURIRe, reply); ok {
		return tok, "recommended"
	}
	cc.Logger.Info("no track uri in reply, using default")
	return r.defaultTrack, "default"
}
