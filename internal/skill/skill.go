package skill

import (
	"context"

	"github.com/nidhogg/skillgate/internal/capability"
)

// Skill is a unit of automation bound to one or more triggers.
// Skills are immutable after registration.
type Skill interface {
	ID() string
	Name() string
	Description() string
	Triggers() []string
	// Execute runs the skill against a capability context scoped to a single
	// invocation. A nil Result means the skill decided no action was needed.
	Execute(ctx context.Context, cc *capability.Context) (*Result, error)
}

// Result holds the human-readable status of a skill that acted.
type Result struct {
	Status string `json:"status"`
}

// Info is the serialisable description of a registered skill.
type Info struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Triggers    []string `json:"triggers"`
}

// Describe returns the Info for s.
func Describe(s Skill) Info {
	return Info{
		ID:          s.ID(),
		Name:        s.Name(),
		Description: s.Description(),
		Triggers:    append([]string(nil), s.Triggers()...),
	}
}
