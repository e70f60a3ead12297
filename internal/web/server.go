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

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/logger"
	"github.com/hpungsan/efact/internal/ops"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// NewServer creates and configures the HTTP server for the efact web UI.
// Browser sessions are closed when the server shuts down.
func NewServer(rt *ops.Runtime, log *zap.Logger, version, bind string, port int) *http.Server {
	log = logger.OrNop(log).Named("web")
	cfg := rt.Config()

	idle := time.Duration(cfg.WebSessionIdleMinutes) * time.Minute
	sessions := NewSessions(idle, func(id string) *document.Session {
		return rt.Session(id)
	}, log)
	// an idle browser session ends for good: its stored token goes too
	sessions.OnExpire(func(id string) {
		if err := rt.Forget(id); err != nil {
			log.Warn("forget expired session failed", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           NewHandler(sessions, cfg.LoginNotice, version, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(sessions.Close)
	return srv
}

// NewHandler builds the routed, header-wrapped handler of the web UI.
func NewHandler(sessions *Sessions, loginNotice, version string, log *zap.Logger) http.Handler {
	log = logger.OrNop(log)

	// Create sub-FS for templates (strip "templates/" prefix)
	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		log.Fatal("failed to create template sub-FS", zap.Error(err))
	}

	// Create sub-FS for static files (strip "static/" prefix)
	staticSub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatal("failed to create static sub-FS", zap.Error(err))
	}

	h := &Handlers{
		sessions: sessions,
		renderer: NewRenderer(templateSub, version, log),
		notice:   renderMarkdown(loginNotice),
		logger:   log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/documents", http.StatusFound)
	})
	mux.HandleFunc("GET /login", h.HandleLoginForm)
	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("GET /documents", h.HandleDocuments)
	mux.HandleFunc("GET /documents/handle/{id}", h.HandleHandle)
	mux.HandleFunc("POST /logout", h.HandleLogout)
	mux.HandleFunc("GET /status", h.HandleStatus)

	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticSub)))

	return securityHeaders(mux)
}

// securityHeaders adds security-related HTTP headers to all responses.
// Documents are framed by the viewer page, so same-origin framing is allowed.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self'; style-src 'self'; frame-src 'self'; frame-ancestors 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, log *zap.Logger) error {
	log = logger.OrNop(log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	fmt.Fprintf(os.Stderr, "efact UI running at http://%s\n", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		log.Warn("server is binding to all interfaces and may be accessible from the network",
			zap.String("addr", srv.Addr))
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
