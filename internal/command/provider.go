package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/skillgate/internal/provider"
)

// ProviderSwitcher manages provider defaults and per-skill bindings.
type ProviderSwitcher interface {
	SetDefault(providerID string)
	DefaultID() string
	Bind(skillID, providerID string)
	GetProvider(id string) (provider.Provider, bool)
	ListProviders() []provider.Provider
}

// RegisterProviderCommands registers /provider.
func RegisterProviderCommands(reg *Registry, switcher ProviderSwitcher) {
	reg.Register(providerCommand(switcher))
}

func providerCommand(switcher ProviderSwitcher) *Command {
	return &Command{
		Name:        "provider",
		Description: "List providers, switch the default, or bind a skill",
		Usage:       "/provider [<provider_id> | bind <skill> <provider_id>]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.Fields(args)
			switch {
			case len(parts) == 0:
				var sb strings.Builder
				sb.WriteString("Available providers:\n")
				def := switcher.DefaultID()
				for _, p := range switcher.ListProviders() {
					marker := "  "
					if p.ID() == def {
						marker = "* "
					}
					fmt.Fprintf(&sb, "%s%s (%s)\n", marker, p.Name(), p.ID())
				}
				return &CommandResult{Content: strings.TrimRight(sb.String(), "\n")}, nil

			case parts[0] == "bind":
				if len(parts) != 3 {
					return &CommandResult{Content: "Usage: /provider bind <skill> <provider_id>"}, nil
				}
				if _, ok := switcher.GetProvider(parts[2]); !ok {
					return &CommandResult{Content: fmt.Sprintf("Unknown provider %q.", parts[2])}, nil
				}
				switcher.Bind(parts[1], parts[2])
				return &CommandResult{
					Content: fmt.Sprintf("Skill %q now uses provider %q.", parts[1], parts[2]),
					Data:    map[string]string{"skill": parts[1], "provider_id": parts[2]},
				}, nil

			default:
				id := parts[0]
				if _, ok := switcher.GetProvider(id); !ok {
					return &CommandResult{Content: fmt.Sprintf("Unknown provider %q.", id)}, nil
				}
				switcher.SetDefault(id)
				return &CommandResult{Content: fmt.Sprintf("Default provider switched to %q.", id)}, nil
			}
		},
	}
}
