package web

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/logging"
	"github.com/hpungsan/kapy/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates the HTTP server for the read-only memory browser.
func NewServer(env *ops.Env, version, bind string, port int) (*http.Server, error) {
	// Strip the "templates/" and "static/" prefixes.
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("template sub-FS: %w", err)
	}
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("static sub-FS: %w", err)
	}

	logger := logging.OrNop(env.Logger)
	renderer, err := NewRenderer(templateSub, version, logger)
	if err != nil {
		return nil, err
	}

	h := &Handlers{
		env:      env,
		renderer: renderer,
		logger:   logger,
	}

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           h.routes(staticSub),
		ReadHeaderTimeout: 10 * time.Second,
	}, nil
}

func (h *Handlers) routes(static fs.FS) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/records", http.StatusFound)
	})
	mux.HandleFunc("GET /records", h.HandleList)
	mux.HandleFunc("GET /records/{id}", h.HandleDetail)
	mux.HandleFunc("GET /search", h.HandleSearch)
	mux.HandleFunc("GET /preferences", h.HandlePreferences)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self'; style-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run serves until ctx is done or SIGINT/SIGTERM arrives, then shuts down
// gracefully.
func Run(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("web UI running", zap.String("addr", "http://"+srv.Addr))
	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
