package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "skillctl",
	Short: "Control a running skillgate server",
	Long: `skillctl talks to the skillgate HTTP API: flip the gateway, raise
triggers, inspect skills and recent dispatches, and chat through the REST
gateway.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("SKILLGATE_SERVER", "http://localhost:3210"), "skillgate server URL")
	rootCmd.PersistentFlags().Bool("json", false, "print raw JSON responses")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toggleCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(typeCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31m%v\033[0m\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func clientFor(cmd *cobra.Command) *client {
	server, _ := cmd.Flags().GetString("server")
	return newClient(server)
}

func rawJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}
