package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/nidhogg/skillgate/internal/bus"
	"github.com/nidhogg/skillgate/internal/dispatch"
	"github.com/nidhogg/skillgate/internal/gateway"
	"github.com/nidhogg/skillgate/internal/skill"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type stateResponse struct {
	Active bool          `json:"active"`
	State  gateway.State `json:"state"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the gateway state and adapter connections",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c := clientFor(cmd)
		out := cmd.OutOrStdout()

		var st stateResponse
		data, err := c.getJSON(cmd.Context(), "/gateway/status", &st)
		if err != nil {
			return err
		}
		if rawJSON(cmd) {
			fmt.Fprintln(out, string(data))
			return nil
		}
		fmt.Fprintf(out, "Gateway: %s\n", colorState(st.State))

		var adapters []gateway.AdapterStatus
		if _, err := c.getJSON(cmd.Context(), "/api/gateway/adapters", &adapters); err != nil {
			return err
		}
		for _, a := range adapters {
			icon := "\033[31m✗\033[0m"
			if a.Connected {
				icon = "\033[32m✓\033[0m"
			}
			fmt.Fprintf(out, "  %s %s", icon, a.Platform)
			if a.Details != "" {
				fmt.Fprintf(out, " (%s)", a.Details)
			}
			if a.Error != "" {
				fmt.Fprintf(out, " \033[31m%s\033[0m", a.Error)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle [online|offline]",
	Short: "Flip the gateway, or bring it to the given state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body interface{}
		if len(args) == 1 {
			want, err := gateway.ParseState(args[0])
			if err != nil {
				return err
			}
			body = map[string]bool{"active": want == gateway.Online}
		}
		var st stateResponse
		data, err := clientFor(cmd).postJSON(cmd.Context(), "/gateway/toggle", body, &st)
		if err != nil {
			return err
		}
		if rawJSON(cmd) {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Gateway is now %s\n", colorState(st.State))
		return nil
	},
}

var triggerCmd = &cobra.Command{
	Use:   "trigger <name> [json payload]",
	Short: "Raise a trigger and print the dispatch report",
	Long: `Raise a trigger through the HTTP API and print what the skills said.

With --redis the trigger is appended to the Redis trigger stream instead and
the command returns without waiting for the dispatch.

Example:
  skillctl trigger system_idle '{"idle_seconds": 900}'
  skillctl trigger moon_phase_change '{"phase": "Full Moon"}' --redis redis://localhost:6379`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		var payload json.RawMessage
		if len(args) == 2 {
			payload = json.RawMessage(args[1])
			if !json.Valid(payload) {
				return fmt.Errorf("payload is not valid JSON")
			}
		}

		if redisURL, _ := cmd.Flags().GetString("redis"); redisURL != "" {
			prefix, _ := cmd.Flags().GetString("prefix")
			b, err := bus.New(cmd.Context(), redisURL, prefix, zap.NewNop())
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.PublishTrigger(cmd.Context(), &bus.TriggerMessage{Trigger: name, Payload: payload, Source: "skillctl"}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s to the trigger stream\n", name)
			return nil
		}

		var rep dispatch.Report
		data, err := clientFor(cmd).postJSON(cmd.Context(), "/api/triggers/"+url.PathEscape(name), payload, &rep)
		if err != nil {
			return err
		}
		if rawJSON(cmd) {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		printReport(cmd.OutOrStdout(), &rep)
		return nil
	},
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "List registered skills",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var infos []skill.Info
		data, err := clientFor(cmd).getJSON(cmd.Context(), "/api/skills", &infos)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if rawJSON(cmd) {
			fmt.Fprintln(out, string(data))
			return nil
		}
		if len(infos) == 0 {
			fmt.Fprintln(out, "No skills registered.")
			return nil
		}
		for _, s := range infos {
			fmt.Fprintf(out, "\033[36m%s\033[0m (%s)\n  %s\n  triggers: %s\n", s.Name, s.ID, s.Description, strings.Join(s.Triggers, ", "))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent dispatches, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var reps []dispatch.Report
		data, err := clientFor(cmd).getJSON(cmd.Context(), fmt.Sprintf("/api/dispatches?limit=%d", limit), &reps)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if rawJSON(cmd) {
			fmt.Fprintln(out, string(data))
			return nil
		}
		if len(reps) == 0 {
			fmt.Fprintln(out, "No dispatches yet.")
			return nil
		}
		for i := range reps {
			printReport(out, &reps[i])
		}
		return nil
	},
}

var typeCmd = &cobra.Command{
	Use:   "type",
	Short: "Report keystroke counts to the typing tracker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		chars, _ := cmd.Flags().GetInt("chars")
		backspaces, _ := cmd.Flags().GetInt("backspaces")
		var snap struct {
			CPM        float64 `json:"cpm"`
			Backspaces int     `json:"backspaces"`
		}
		data, err := clientFor(cmd).postJSON(cmd.Context(), "/api/metrics/keystrokes",
			map[string]int{"chars": chars, "backspaces": backspaces}, &snap)
		if err != nil {
			return err
		}
		if rawJSON(cmd) {
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cpm=%.0f backspaces=%d\n", snap.CPM, snap.Backspaces)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat through the REST gateway",
	Long: `Open an interactive session with the REST gateway. Lines starting with
/ are commands (/help, /gateway, /skills, /trigger, /history); anything else
is filed as mail and raises email_received.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		return chatLoop(cmd, cmd.InOrStdin(), user)
	},
}

func init() {
	triggerCmd.Flags().String("redis", "", "publish to this Redis URL instead of calling the API")
	triggerCmd.Flags().String("prefix", bus.DefaultPrefix, "Redis stream prefix")
	historyCmd.Flags().IntP("limit", "n", 10, "number of dispatches to show")
	typeCmd.Flags().Int("chars", 0, "characters typed")
	typeCmd.Flags().Int("backspaces", 0, "backspaces pressed")
	chatCmd.Flags().String("user", "cli-user", "user name for chat")
}

func chatLoop(cmd *cobra.Command, in io.Reader, user string) error {
	c := clientFor(cmd)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "skillgate chat. Type 'exit' or 'quit' to leave, /help for commands.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(out, "Bye!")
			return nil
		}

		var msg gateway.OutboundMessage
		_, err := c.postJSON(cmd.Context(), "/api/gateway/rest/message", map[string]string{
			"user_id":   user,
			"user_name": user,
			"content":   input,
		}, &msg)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "\033[31m%v\033[0m\n", err)
			continue
		}
		if msg.Source != "" {
			fmt.Fprintf(out, "\033[36m[%s]\033[0m %s\n", msg.Source, msg.Content)
		} else {
			fmt.Fprintln(out, msg.Content)
		}
	}
}

func printReport(out io.Writer, r *dispatch.Report) {
	fmt.Fprintf(out, "%s %s [%s] %s\n", r.StartedAt.Format("2006-01-02 15:04:05"), r.Trigger, colorState(r.State), r.Duration)
	for _, line := range strings.Split(r.Summary(), "\n") {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

func colorState(s gateway.State) string {
	if s == gateway.Online {
		return "\033[32m" + string(s) + "\033[0m"
	}
	return "\033[31m" + string(s) + "\033[0m"
}
