package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/skill"
	"github.com/nidhogg/skillgate/internal/trigger"
)

// ---------------------------------------------------------------------------
// Interfaces so builtin commands can be tested with fakes.
// ---------------------------------------------------------------------------

// GatewaySwitch reads and flips the gateway state.
type GatewaySwitch interface {
	State() gateway.State
	Toggle(ctx context.Context) gateway.State
}

// Dispatcher raises triggers and exposes recent reports.
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger string, payload any) *dispatch.Report
	History(limit int) []*dispatch.Report
}

// SkillLister lists registered skills.
type SkillLister interface {
	All() []skill.Skill
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []gateway.AdapterStatus
}

const defaultHistory = 5

// RegisterBuiltins registers /help, /gateway, /skills, /trigger and /history.
func RegisterBuiltins(reg *Registry, sw GatewaySwitch, disp Dispatcher, skills SkillLister, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(gatewayCommand(sw, status))
	reg.Register(skillsCommand(skills))
	reg.Register(triggerCommand(disp))
	reg.Register(historyCommand(disp))
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /gateway
// ---------------------------------------------------------------------------

func gatewayCommand(sw GatewaySwitch, status StatusProvider) *Command {
	return &Command{
		Name:        "gateway",
		Description: "Show or toggle the gateway state",
		Usage:       "/gateway [status|toggle]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			switch strings.ToLower(strings.TrimSpace(args)) {
			case "", "status":
			case "toggle":
				state := sw.Toggle(ctx)
				return &CommandResult{
					Content: fmt.Sprintf("Gateway is now %s.", state),
					Data:    map[string]any{"active": state == gateway.Online, "state": state},
				}, nil
			default:
				return &CommandResult{Content: "Usage: /gateway [status|toggle]"}, nil
			}

			state := sw.State()
			var b strings.Builder
			fmt.Fprintf(&b, "Gateway is %s.\n", state)
			if status != nil {
				for _, a := range status.StatusAll() {
					conn := "disconnected"
					if a.Connected {
						conn = "connected"
					}
					fmt.Fprintf(&b, "  %s: %s\n", a.Platform, conn)
				}
			}
			return &CommandResult{
				Content: strings.TrimRight(b.String(), "\n"),
				Data:    map[string]any{"active": state == gateway.Online, "state": state},
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /skills
// ---------------------------------------------------------------------------

func skillsCommand(lister SkillLister) *Command {
	return &Command{
		Name:        "skills",
		Description: "List registered skills",
		Usage:       "/skills",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			skills := lister.All()
			if len(skills) == 0 {
				return &CommandResult{Content: "No skills registered yet."}, nil
			}
			infos := make([]skill.Info, 0, len(skills))
			var b strings.Builder
			b.WriteString("Registered skills:\n")
			for _, s := range skills {
				info := skill.Describe(s)
				infos = append(infos, info)
				fmt.Fprintf(&b, "  %s: %s [%s]\n", info.Name, info.Description, strings.Join(info.Triggers, ", "))
			}
			return &CommandResult{Content: b.String(), Data: infos}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /trigger
// ---------------------------------------------------------------------------

func triggerCommand(disp Dispatcher) *Command {
	return &Command{
		Name:        "trigger",
		Description: "Raise a trigger by hand",
		Usage:       "/trigger <name> [json payload]",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(strings.TrimSpace(args), " ", 2)
			name := parts[0]
			if name == "" {
				return &CommandResult{Content: "Usage: /trigger <name> [json payload]"}, nil
			}
			var raw json.RawMessage
			if len(parts) > 1 {
				raw = json.RawMessage(strings.TrimSpace(parts[1]))
			}
			payload, err := trigger.DecodePayload(name, raw)
			if err != nil {
				return &CommandResult{Content: "Invalid payload: " + err.Error()}, nil
			}
			rep := disp.Dispatch(ctx, name, payload)
			return &CommandResult{Content: rep.Summary(), Data: rep}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /history
// ---------------------------------------------------------------------------

func historyCommand(disp Dispatcher) *Command {
	return &Command{
		Name:        "history",
		Description: "Show recent dispatches",
		Usage:       "/history [n]",
		Handler: func(_ context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			n := defaultHistory
			if a := strings.TrimSpace(args); a != "" {
				v, err := strconv.Atoi(a)
				if err != nil || v <= 0 {
					return &CommandResult{Content: "Usage: /history [n]"}, nil
				}
				n = v
			}
			reports := disp.History(n)
			if len(reports) == 0 {
				return &CommandResult{Content: "No dispatches yet."}, nil
			}
			var b strings.Builder
			b.WriteString("Recent dispatches:\n")
			for _, r := range reports {
				outcome := fmt.Sprintf("%d acted, %d failed, %d silent", len(r.Statuses), len(r.Failures), len(r.Silent))
				if r.Suppressed {
					outcome = "suppressed"
				}
				fmt.Fprintf(&b, "  %s %s (%s): %s\n", r.StartedAt.Format("15:04:05"), r.Trigger, r.State, outcome)
			}
			return &CommandResult{Content: b.String(), Data: reports}, nil
		},
	}
}
