package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/metrics"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load annotations from the configured datasources",
	Long:  "Schedules a load of every datasource in the manifest, or of the datasources named with --datasource, and waits for the receipt to complete.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initLoading(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Metrics.Addr != "" {
			go serveMetrics(ctx, cfg.Metrics.Addr, env.Metrics)
		}

		names, _ := cmd.Flags().GetStringSlice("datasource")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		rc, err := env.Service.LoadSelected(ctx, names)
		if err != nil {
			return eris.Wrap(err, "load")
		}
		return awaitReceipt(ctx, rc, timeout)
	},
}

// awaitReceipt waits for rc, bounded by timeout when positive, and prints
// its final status.
func awaitReceipt(ctx context.Context, rc receipt.Receipt, timeout time.Duration) error {
	log := zap.L().With(zap.String("receipt", rc.ID()), zap.String("datasource", rc.Datasource()))
	log.Info("load scheduled")

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := rc.Wait(waitCtx)
	formatReceipts(os.Stdout, []receipt.Status{rc.Status()})
	if err != nil {
		log.Error("load failed", zap.Error(err))
		return eris.Wrapf(err, "receipt %s", rc.ID())
	}
	log.Info("load complete", zap.Duration("elapsed", rc.Completed().Sub(rc.Submitted())))
	return nil
}

// metricsRouter serves only the Prometheus endpoint.
func metricsRouter(m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// serveMetrics exposes m on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	srv := &http.Server{Addr: addr, Handler: metricsRouter(m), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	zap.L().Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.L().Error("metrics server failed", zap.Error(err))
	}
}

func init() {
	loadCmd.Flags().StringSlice("datasource", nil, "datasource names to load (default all)")
	loadCmd.Flags().Duration("timeout", 0, "give up waiting after this long (0 waits until done)")
	rootCmd.AddCommand(loadCmd)
}
