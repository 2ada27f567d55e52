// Package cli is the terminal front end of solidchess.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/park285/solid-chess/internal/obslog"
)

// RootOptions holds global flags and the runtime factory shared by all
// commands.
type RootOptions struct {
	Verbose bool

	// Open overrides runtime construction (for testing).
	Open Opener
}

// NewRootCommand creates the solidchess command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: OpenFromEnv})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solidchess",
		Short: "Correspondence and real-time chess over personal storage",
		Long: `Play chess with another person without a game server.

Games, moves and invitations live in each player's own storage; moves are
announced through the opponent's inbox, or over a direct WebRTC data channel
for real-time games.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Verbose {
				return nil
			}
			o := obslog.OptionsFromEnv()
			o.Level = "debug"
			return obslog.Init(o)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newNewCommand(opts))
	cmd.AddCommand(newInvitationsCommand(opts))
	cmd.AddCommand(newJoinCommand(opts))
	cmd.AddCommand(newDeclineCommand(opts))
	cmd.AddCommand(newGamesCommand(opts))
	cmd.AddCommand(newContinueCommand(opts))

	return cmd
}
