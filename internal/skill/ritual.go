package skill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/skillgate/internal/capability"
	"github.com/nidhogg/skillgate/internal/moon"
	"github.com/nidhogg/skillgate/internal/trigger"
	"go.uber.org/zap"
)

const (
	DefaultMinIdle = 10 * time.Minute

	defaultRitualPrompt   = "Generate a stable diffusion prompt for a {phase} wallpaper. Style: Cyber-Occult, Glitch, High Contrast. Reply with the prompt only."
	defaultRitualFallback = "{phase}, cyber-occult sigil, glitch geometry, high contrast"
	maxRitualPromptRunes  = 400
)

// Ritual swaps the wallpaper for generated glitch art when the machine goes
// idle or the moon changes phase.
//
// Default action: if the reply has no usable first line (blank, or longer
// than 400 runes) or the model call fails, the fallback prompt is used.
type Ritual struct {
	minIdle  time.Duration
	prompt   string
	fallback string
	command  string
	now      func() time.Time
}

// NewRitual builds the skill from optional settings. The wallpaper command is
// optional; without one the ritual only notifies.
func NewRitual(s *Settings) *Ritual {
	r := &Ritual{
		minIdle:  DefaultMinIdle,
		prompt:   defaultRitualPrompt,
		fallback: defaultRitualFallback,
		now:      time.Now,
	}
	if s != nil {
		if s.MinIdleSeconds > 0 {
			r.minIdle = time.Duration(s.MinIdleSeconds * float64(time.Second))
		}
		if s.Prompt != "" {
			r.prompt = s.Prompt
		}
		if s.Default != "" {
			r.fallback = s.Default
		}
		r.command = s.Command
	}
	return r
}

func (r *Ritual) ID() string          { return "glitch_ritual" }
func (r *Ritual) Name() string        { return "Glitch Ritual" }
func (r *Ritual) Description() string { return "Sanctifies the screen with high-entropy geometry." }
func (r *Ritual) Triggers() []string {
	return []string{trigger.SystemIdle, trigger.MoonPhaseChange}
}

// Phase is the local heuristic. It returns the phase to render for, or ""
// when the event does not warrant a ritual.
func (r *Ritual) Phase(ev capability.Event) string {
	switch p := ev.Payload.(type) {
	case trigger.IdlePayload:
		if p.IdleFor() >= r.minIdle {
			return string(moon.PhaseAt(r.now()))
		}
	case trigger.MoonPayload:
		if p.Phase != "" && p.Phase != p.Previous {
			return p.Phase
		}
	}
	return ""
}

func (r *Ritual) Execute(ctx context.Context, cc *capability.Context) (*Result, error) {
	phase := r.Phase(cc.Event)
	if phase == "" {
		return nil, nil
	}

	prompt, source := r.visualise(ctx, cc, phase)

	cc.OS.Notify(ctx, "Ritual Initiated", fmt.Sprintf("Weaving sigil for %s...", phase))

	if r.command != "" {
		line := strings.NewReplacer("{prompt}", shellQuote(prompt), "{phase}", shellQuote(phase)).Replace(r.command)
		if _, err := cc.OS.RunCommand(ctx, line); err != nil {
			var ce *capability.CommandError
			if !errors.As(err, &ce) {
				return nil, fmt.Errorf("run %q: %w", line, err)
			}
			return &Result{Status: fmt.Sprintf(
				"[Glitch Ritual] Wallpaper transmutation for %s failed: exit code %d. Prompt (%s): %s",
				phase, ce.ExitCode, source, prompt)}, nil
		}
	}

	return &Result{Status: fmt.Sprintf(
		"[Glitch Ritual] Wallpaper transmuted for %s. Prompt (%s): %s", phase, source, prompt)}, nil
}

func (r *Ritual) visualise(ctx context.Context, cc *capability.Context, phase string) (prompt, source string) {
	fallback := strings.ReplaceAll(r.fallback, "{phase}", phase)
	msg := strings.ReplaceAll(r.prompt, "{phase}", phase)

	reply, err := cc.Model.Chat(ctx, []capability.ChatMessage{{Role: "system", Content: msg}})
	if err != nil {
		cc.Logger.Warn("prompt generation failed, using default", zap.Error(err))
		return fallback, "default"
	}
	if line := FirstLine(reply, maxRitualPromptRunes); line != "" {
		return line, "generated"
	}
	cc.Logger.Info("unusable prompt reply, using default")
	return fallback, "default"
}
