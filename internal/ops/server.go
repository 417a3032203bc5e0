package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockyardhq/stockyard-backend/pkg/config"
	"github.com/stockyardhq/stockyard-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger exposes the health check surface of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams carries the dependencies surfaced by the ops endpoints.
type RouterParams struct {
	Config *config.Config
	Logger *logger.Logger
	DB     Pinger
	Redis  Pinger
}

// NewRouter builds the operational HTTP surface of a worker: liveness,
// readiness, and Prometheus metrics.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthLive(params.Config))
	r.Get("/readyz", healthReady(params))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func healthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stockyard-Env", cfg.App.Env)
		writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
	}
}

func healthReady(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Stockyard-Env", params.Config.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]Pinger{
			"db":    params.DB,
			"redis": params.Redis,
		}
		failed := map[string]string{}
		for name, dep := range checks {
			if dep == nil {
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				if params.Logger != nil {
					params.Logger.Error(params.Logger.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				failed[name] = err.Error()
			}
		}

		if len(failed) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "degraded",
				"failed": failed,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs the ops server until ctx is cancelled, then drains it.
func Serve(ctx context.Context, logg *logger.Logger, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if logg != nil {
		logg.Info(ctx, "ops server shut down")
	}
	return <-errCh
}
