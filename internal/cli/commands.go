package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/solid-chess/internal/handshake"
	"github.com/park285/solid-chess/internal/session"
)

type newOptions struct {
	*RootOptions
	Color    string
	Name     string
	FEN      string
	RealTime bool
}

func newNewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &newOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "new <opponent-webid>",
		Short: "Invite an opponent to a new game and play it",
		Example: `  solidchess new https://bob.example/profile/card#me --color white
  solidchess new https://bob.example/profile/card#me --realtime --name "friday blitz"`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			gameURL, err := rt.Session.NewGame(cmd.Context(), session.NewGameRequest{
				Opponent:      args[0],
				Color:         handshake.ParseColorChoice(opts.Color),
				Name:          opts.Name,
				StartPosition: opts.FEN,
				RealTime:      opts.RealTime,
			})
			if err != nil {
				return rt.explain(err)
			}
			rt.Out.Println(rt.Catalog.Text("events.game_started", map[string]string{
				"Game":     gameURL,
				"Opponent": rt.Directory.DisplayName(cmd.Context(), args[0]),
			}))
			return play(cmd.Context(), rt, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&opts.Color, "color", "c", "random", "your color (white|black|random)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "game name")
	cmd.Flags().StringVar(&opts.FEN, "fen", "", "custom start position")
	cmd.Flags().BoolVar(&opts.RealTime, "realtime", false, "negotiate a direct connection once accepted")

	return cmd
}

func newInvitationsCommand(opts *RootOptions) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:          "invitations",
		Short:        "List games you have been invited to",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Session.PollNow(cmd.Context()); err != nil {
				return err
			}
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-cmd.Context().Done():
				}
			}
			list := rt.Session.Joinable()
			if len(list) == 0 {
				rt.Out.Println("no pending invitations")
				return nil
			}
			for _, j := range list {
				mode := "inbox"
				if j.RealTime {
					mode = "real-time"
				}
				rt.Out.Println(fmt.Sprintf("%s\t%s\t%s\t%s", j.Game, j.OpponentName, mode, j.Name))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 0, "keep listening this long before listing")
	return cmd
}

func newJoinCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "join <game-url>",
		Short:        "Accept an invitation and play the game",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Session.PollNow(cmd.Context()); err != nil {
				return err
			}
			if err := rt.Session.Join(cmd.Context(), args[0]); err != nil {
				return rt.explain(err)
			}
			return play(cmd.Context(), rt, cmd.InOrStdin())
		},
	}
}

func newDeclineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "decline <game-url>",
		Short:        "Decline an invitation",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Session.PollNow(cmd.Context()); err != nil {
				return err
			}
			if err := rt.Session.Decline(cmd.Context(), args[0]); err != nil {
				return rt.explain(err)
			}
			rt.Out.Println("declined")
			return nil
		},
	}
}

func newGamesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "games",
		Short:        "List games you can continue",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			games, err := rt.Session.GamesToContinue(cmd.Context())
			if err != nil {
				return err
			}
			if len(games) == 0 {
				rt.Out.Println("no games yet")
				return nil
			}
			for _, g := range games {
				rt.Out.Println(g.Game)
			}
			return nil
		},
	}
}

func newContinueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "continue <game-url>",
		Short:        "Resume a game from storage",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.Open(cmd.Context(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Session.Continue(cmd.Context(), args[0]); err != nil {
				return rt.explain(err)
			}
			return play(cmd.Context(), rt, cmd.InOrStdin())
		},
	}
}
