package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/tokenguard"
	"github.com/MrEthical07/tokenguard/authz"
	"github.com/MrEthical07/tokenguard/httpauth"
	"github.com/MrEthical07/tokenguard/internal/logging"
	promexport "github.com/MrEthical07/tokenguard/metrics/export/prometheus"
	"github.com/MrEthical07/tokenguard/principal"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

var (
	listenAddr  string
	redisAddr   string
	databaseURL string
	adminSeed   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the token endpoints over HTTP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&redisAddr, "redis", "", "redis address, or \"memory\" (env "+envRedisAddr+")")
	serveCmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres DSN for principals; in-memory when empty (env "+envDatabaseURL+")")
	serveCmd.Flags().StringVar(&adminSeed, "admin", "", "seed an administrator as identifier:password")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(ctx, flagOrEnv(redisAddr, envRedisAddr), logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	store, closeStore, err := openStore(ctx, flagOrEnv(databaseURL, envDatabaseURL), logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var sink tokenguard.AuditSink
	if cfg.Audit.Enabled {
		sink = tokenguard.NewJSONWriterSink(os.Stdout)
	}

	engine, err := tokenguard.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalStore(store).
		WithAuditSink(sink).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	store.OnDelete(principal.RevokeOnDelete(engine))

	if adminSeed != "" {
		identifier, secret, ok := strings.Cut(adminSeed, ":")
		if !ok || identifier == "" || secret == "" {
			return errors.New("--admin must be identifier:password")
		}
		if err := seedAdmin(ctx, store, cfg.Password, identifier, secret); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		logger.Info("administrator seeded", slog.String("identifier", identifier))
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           newRouter(engine, store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", listenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newRouter(engine *tokenguard.Engine, store principalStore, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	h := httpauth.NewHandler(engine, engine.Config().Cookie, httpauth.WithLogger(logger))
	h.Routes(r)

	r.Get("/healthz", healthz(engine))
	if engine.Config().Metrics.Enabled {
		r.Handle("/metrics", promexport.Handler(engine))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Get("/me", whoami)
		r.With(httpauth.RequireRoles(authz.RoleAdmin)).
			Delete("/admin/principals/{id}", deletePrincipal(store))
	})
	return r
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthz reports 503 while the ledger cannot be reached, since every refresh
// would fail closed.
func healthz(engine *tokenguard.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := engine.Ledger().(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), engine.Config().Ledger.OperationTimeout)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				httpauth.WriteError(w, fmt.Errorf("%w: %v", tokenguard.ErrUnavailable, err))
				return
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func whoami(w http.ResponseWriter, r *http.Request) {
	claims, _ := httpauth.ClaimsFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"subject":    claims.Subject,
		"roles":      claims.Roles.Strings(),
		"expires_at": claims.ExpiresAt.Unix(),
	})
}

// deletePrincipal removes a principal. The store's delete hook revokes its
// refresh tokens.
func deletePrincipal(store principalStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := store.Delete(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, tokenguard.ErrPrincipalNotFound):
			httpauth.WriteError(w, tokenguard.ErrNotFound)
		case err != nil:
			httpauth.WriteError(w, err)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
