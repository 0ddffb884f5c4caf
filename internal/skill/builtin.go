package skill

import "fmt"

// RegisterBuiltins adds the built-in skills to the registry, applying any
// per-skill settings keyed by skill ID. Disabled skills are skipped.
func RegisterBuiltins(reg *Registry, settings map[string]*Settings) error {
	builtins := []Skill{
		NewHygiene(settings["epistemic_hygiene"]),
		NewRitual(settings["glitch_ritual"]),
		NewResonance(settings["resonance_injection"]),
	}
	for _, s := range builtins {
		if !settings[s.ID()].IsEnabled() {
			continue
		}
		if err := reg.Register(s); err != nil {
			return fmt.Errorf("register builtin %s: %w", s.ID(), err)
		}
	}
	return nil
}
