package skill

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateSkillName is returned when a skill name is already registered.
	ErrDuplicateSkillName = errors.New("duplicate skill name")
	// ErrNoTriggers is returned for a skill that answers to no trigger.
	ErrNoTriggers = errors.New("skill has no triggers")
)

// Registry holds all known skills, indexed by trigger name.
// All operations are thread-safe. Skills cannot be removed once registered.
type Registry struct {
	mu        sync.RWMutex
	ordered   []Skill
	byName    map[string]Skill
	byTrigger map[string][]Skill
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]Skill),
		byTrigger: make(map[string][]Skill),
	}
}

// Register adds a skill. The skill's trigger set is captured at this point and
// never re-read.
func (r *Registry) Register(s Skill) error {
	name := s.Name()
	triggers := s.Triggers()
	if len(triggers) == 0 {
		return fmt.Errorf("register %q: %w", name, ErrNoTriggers)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateSkillName)
	}
	r.byName[name] = s
	r.ordered = append(r.ordered, s)

	seen := make(map[string]struct{}, len(triggers))
	for _, t := range triggers {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		r.byTrigger[t] = append(r.byTrigger[t], s)
	}
	return nil
}

// SkillsFor returns the skills answering to trigger, in registration order.
// The result is empty, not nil-with-error, when nothing matches.
func (r *Registry) SkillsFor(trigger string) []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := r.byTrigger[trigger]
	out := make([]Skill, len(matched))
	copy(out, matched)
	return out
}

// Get returns a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// All returns every registered skill in registration order.
func (r *Registry) All() []Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Skill, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Triggers returns the set of trigger names with at least one skill.
func (r *Registry) Triggers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byTrigger))
	for t := range r.byTrigger {
		names = append(names, t)
	}
	return names
}
