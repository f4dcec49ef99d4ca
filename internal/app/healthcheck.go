package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
)

// status is the body served at /status.
type status struct {
	RunID   string `json:"run_id"`
	State   string `json:"state"`
	Model   string `json:"model"`
	Version string `json:"version"`
}

// healthHandler reports liveness.
func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	app.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// statusHandler reports the run's identity and pipeline state.
func (app *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	app.logger.Debug("Status endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	st := status{RunID: app.runID, State: app.State().String(), Model: app.config.ModelPath}
	app.mu.Lock()
	if app.resolved != nil {
		st.Model = app.resolved.ModelName
		st.Version = app.resolved.Dataset.Version
	}
	app.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, st); err != nil {
		app.logger.Warn("Failed to write status.", "error", err)
	}
}

func (app *App) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", app.healthHandler)
	mux.HandleFunc("/status", app.statusHandler)
	return mux
}

// startStatusServer serves /health and /status on the configured port for
// the duration of the run. Port 0 disables it.
func (app *App) startStatusServer(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	if app.config.StatusPort <= 0 {
		logger.Debug("Status server disabled.")
		return nil
	}

	addr := fmt.Sprintf(":%d", app.config.StatusPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: app.statusMux(), ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	app.mu.Lock()
	app.httpServer = srv
	app.serverDone = done
	app.mu.Unlock()

	go func() {
		defer close(done)
		logger.Info("Status server starting", "address", fmt.Sprintf("http://localhost%s/status", addr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server failed unexpectedly", "error", err)
		}
	}()
	return nil
}

func (app *App) closeStatusServer(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	app.mu.Lock()
	srv, done := app.httpServer, app.serverDone
	app.mu.Unlock()
	if srv == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Status server shutdown failed", "error", err)
	}
	<-done
	logger.Debug("Status server shut down gracefully.")
}
