package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/apiclient"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/reviewsync"
	"github.com/conorfennell/knoldeck/internal/study"
)

func newStudyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "study <deck-id>",
		Short: "Study the due cards of a deck against a knoldeck server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Client.User == "" {
				return errors.New("--user is required")
			}
			client := apiclient.New(a.cfg.Client.ServerURL, a.cfg.Client.User, a.cfg.Client.Timeout)
			cards, err := client.DueCards(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to load due cards: %w", err)
			}

			coord := reviewsync.NewCoordinator(client,
				reviewsync.WithDelays(a.cfg.Sync.Delays),
				reviewsync.WithLogger(a.logger),
			)
			_, err = study.Run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cards, coord, nil)
			return err
		},
	}

	d := config.Default()
	cmd.Flags().String("server", d.Client.ServerURL, "Base URL of the knoldeck server")
	cmd.Flags().String("user", d.Client.User, "User to study as")
	cmd.Flags().Duration("timeout", d.Client.Timeout, "Per-request timeout")
	return cmd
}
