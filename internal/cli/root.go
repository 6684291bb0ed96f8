// Package cli is the entrypoint-level command surface for the murmurd
// binary: a thin cobra root wiring the `run` (daemon) and `hook`
// (agent-subprocess callback proxy) subcommands. Argument-parsing depth
// beyond this surface is out of scope (§1) — the daemon's own request
// surface is the socket protocol, not flags.
package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var socketOverride string

var rootCmd = &cobra.Command{
	Use:   "murmurd",
	Short: "Local supervisor for AI coding agents across Git worktrees",
	Long: `murmurd is a long-lived daemon that orchestrates AI coding subprocesses
("agents") across one or more Git projects. Each agent runs in its own Git
worktree, produces a branch, and — on successful completion — has its
branch merged into the project's default base branch and its tracking
issue closed.

Clients (CLIs, TUIs) talk to murmurd over a Unix domain socket using a
framed JSON request/response and event-stream protocol.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketOverride, "socket", "", "override the daemon socket path (default: $MURMUR_SOCKET_PATH or $XDG_RUNTIME_DIR/murmur.sock)")
	rootCmd.AddCommand(runCmd, hookCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Println(Version)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
