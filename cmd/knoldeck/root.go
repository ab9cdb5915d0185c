package main

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/logging"
	"github.com/conorfennell/knoldeck/internal/storage"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var configPath, envFile string

	root := &cobra.Command{
		Use:          "knoldeck",
		Short:        "Spaced-repetition flashcards with SM-2 scheduling",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.New(cfg.Log, cmd.ErrOrStderr())
			slog.SetDefault(a.logger)
			return nil
		},
	}

	d := config.Default()
	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded into the environment")
	pf.String("log-level", d.Log.Level, "Log level: debug, info, warn or error")
	pf.String("log-format", d.Log.Format, "Log format: text or json")

	root.AddCommand(newServeCmd(a), newImportCmd(a), newStudyCmd(a))
	return root
}

func (a *app) openDB() (*storage.DB, error) {
	db, err := storage.Open(a.cfg.Storage.Driver, a.cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a.logger.Info("database opened", "driver", a.cfg.Storage.Driver)
	return db, nil
}

// addStorageFlags registers the flags that select the database.
func addStorageFlags(cmd *cobra.Command) {
	d := config.Default()
	cmd.Flags().String("db", d.Storage.DSN, "Database DSN (a file path for sqlite)")
	cmd.Flags().String("db-driver", d.Storage.Driver, "Database driver: sqlite or postgres")
}
