package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/EBISPOT/zooma-sub003/internal/config"
	"github.com/EBISPOT/zooma-sub003/internal/store"
)

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Load the current annotations of another store",
	Long:  "Reads the current annotations of a second store page by page and loads them into the configured store, resolving each against what is already there.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		from := config.StoreConfig{MaxConns: cfg.Store.MaxConns, MinConns: cfg.Store.MinConns}
		from.Driver, _ = cmd.Flags().GetString("from-driver")
		from.Path, _ = cmd.Flags().GetString("from-path")
		from.DatabaseURL, _ = cmd.Flags().GetString("from-url")
		name, _ := cmd.Flags().GetString("name")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if from.Path == "" && from.DatabaseURL == "" {
			return eris.New("mirror: --from-path or --from-url is required")
		}

		src, err := store.Open(ctx, from)
		if err != nil {
			return eris.Wrap(err, "mirror: open source store")
		}
		defer src.Close() //nolint:errcheck

		env, err := initLoading(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Service.AddDatasource(store.AsDatasource(src, name)); err != nil {
			return eris.Wrap(err, "mirror")
		}

		rc, err := env.Service.LoadSelected(ctx, []string{name})
		if err != nil {
			return eris.Wrap(err, "mirror")
		}
		return awaitReceipt(ctx, rc, timeout)
	},
}

func init() {
	mirrorCmd.Flags().String("from-driver", "sqlite", "source store driver (sqlite or postgres)")
	mirrorCmd.Flags().String("from-path", "", "source sqlite database path")
	mirrorCmd.Flags().String("from-url", "", "source postgres connection string")
	mirrorCmd.Flags().String("name", "mirror", "datasource name recorded on mirrored annotations")
	mirrorCmd.Flags().Duration("timeout", 0, "give up waiting after this long (0 waits until done)")
	rootCmd.AddCommand(mirrorCmd)
}
