package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EBISPOT/zooma-sub003/internal/datasource"
	"github.com/EBISPOT/zooma-sub003/internal/loading"
	"github.com/EBISPOT/zooma-sub003/internal/monitoring"
	"github.com/EBISPOT/zooma-sub003/internal/receipt"
	"github.com/EBISPOT/zooma-sub003/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the loading service with an operational HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initLoading(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, env.Service.Receipts())
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", servePort),
			Handler:           buildRouter(env.Service, env.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", servePort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// buildRouter exposes health, metrics, receipts and load triggering for svc.
func buildRouter(svc *loading.Service, st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": string(svc.Status()),
		})
	})

	r.Handle("/metrics", svc.Metrics().Handler())

	r.Get("/receipts", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		statuses, err := st.ListReceipts(r.Context(), limit)
		if err != nil {
			zap.L().Error("list receipts failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not list receipts")
			return
		}
		if statuses == nil {
			statuses = []receipt.Status{}
		}
		writeJSON(w, http.StatusOK, statuses)
	})

	r.Get("/receipts/{id}", func(w http.ResponseWriter, r *http.Request) {
		status, err := svc.Receipts().Status(chi.URLParam(r, "id"))
		if errors.Is(err, receipt.ErrUnknownReceipt) {
			writeError(w, http.StatusNotFound, "unknown receipt")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	r.Post("/load", func(w http.ResponseWriter, r *http.Request) {
		var names []string
		if q := r.URL.Query().Get("datasource"); q != "" {
			for _, n := range strings.Split(q, ",") {
				if n = strings.TrimSpace(n); n != "" {
					names = append(names, n)
				}
			}
		}

		// The load outlives the request.
		rc, err := svc.LoadSelected(context.WithoutCancel(r.Context()), names)
		switch {
		case errors.Is(err, loading.ErrShutdown):
			writeError(w, http.StatusServiceUnavailable, "service is shutting down")
			return
		case errors.Is(err, loading.ErrNoDatasources):
			writeError(w, http.StatusConflict, "no datasources registered")
			return
		case errors.Is(err, datasource.ErrUnknownDatasource):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			zap.L().Error("load request failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not schedule load")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":     "accepted",
			"receipt":    rc.ID(),
			"datasource": rc.Datasource(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "server port")
	rootCmd.AddCommand(serveCmd)
}
