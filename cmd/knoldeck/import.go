package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/importer"
)

func newImportCmd(a *app) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "import <deck-name> <dir-or-git-url>",
		Short: "Import Q:/A: markdown cards into a deck",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Client.User == "" {
				return errors.New("--user is required")
			}
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			im := importer.New(db.ForUser(a.cfg.Client.User),
				importer.WithReposDir(a.cfg.Import.ReposDir),
				importer.WithPrune(prune),
				importer.WithLogger(a.logger),
			)
			report, err := im.Import(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Deck %s (%s): %d cards found, %d new, %d unchanged, %d pruned.\n",
				args[0], report.DeckID, report.Parsed, report.Created, report.Existing, report.Pruned)
			if len(report.Problems) > 0 {
				fmt.Fprintf(out, "\n%d problem(s):\n", len(report.Problems))
				for _, p := range report.Problems {
					fmt.Fprintf(out, "- %s\n", p)
				}
			}
			return nil
		},
	}

	d := config.Default()
	cmd.Flags().String("user", d.Client.User, "Owner of the deck")
	cmd.Flags().String("repos-dir", d.Import.ReposDir, "Directory for git checkouts")
	cmd.Flags().BoolVar(&prune, "prune", false, "Delete deck cards no longer present in the source")
	addStorageFlags(cmd)
	return cmd
}
