// Package ops implements the efact operations shared by the CLI, the MCP
// server and the web UI. Each operation takes a document session and a typed
// input and returns a JSON-friendly output.
package ops

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/config"
	"github.com/hpungsan/efact/internal/credential"
	"github.com/hpungsan/efact/internal/db"
	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/logger"
	"github.com/hpungsan/efact/internal/transport"
)

// SessionEnv names the environment variable that pins the CLI/MCP session.
const SessionEnv = "EFACT_SESSION"

// Runtime holds what every document session of a process shares: the
// configured HTTP clients, the handle registry and the session store.
type Runtime struct {
	cfg      *config.Config
	db       *sql.DB
	logger   *zap.Logger
	grant    credential.Exchanger
	docs     *http.Client
	registry document.Registry
}

// NewRuntime wires clients and the handle registry from cfg.
func NewRuntime(cfg *config.Config, database *sql.DB, log *zap.Logger) *Runtime {
	log = logger.OrNop(log)
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	tokenClient := transport.NewClient(timeout,
		transport.WithHeader("Authorization", cfg.BasicAuthorization()),
		transport.WithLogger(log.Named("token")),
	)
	docClient := transport.NewClient(timeout, transport.WithLogger(log.Named("documents")))

	return &Runtime{
		cfg:      cfg,
		db:       database,
		logger:   log,
		grant:    credential.NewPasswordGrant(cfg.TokenURL, tokenClient),
		docs:     docClient,
		registry: document.NewStorageRegistry(cfg.HandleBaseURL),
	}
}

// Config returns the runtime configuration.
func (r *Runtime) Config() *config.Config { return r.cfg }

// DB returns the session store.
func (r *Runtime) DB() *sql.DB { return r.db }

// Registry returns the shared handle registry.
func (r *Runtime) Registry() document.Registry { return r.registry }

// Session creates a document session whose credential lives in the
// sessionID slot of the session store. A token persisted earlier under the
// same ID is restored.
func (r *Runtime) Session(sessionID string, options ...document.Option) *document.Session {
	log := r.logger.With(zap.String("session", shortID(sessionID)))
	store := credential.New(db.Scope(r.db, sessionID), r.grant, credential.WithLogger(log))

	opts := []document.Option{
		document.WithLogger(log),
		document.WithMaxBytes(r.cfg.MaxDocumentBytes),
		document.WithKeepTokenOnExpiry(r.cfg.KeepTokenOnExpiry),
		document.WithTicket(r.cfg.DefaultTicket),
	}
	return document.New(store, r.docs, r.registry, endpoints(r.cfg), append(opts, options...)...)
}

// Forget removes everything stored for sessionID, including its token.
func (r *Runtime) Forget(sessionID string) error {
	n, err := db.DeleteSession(r.db, sessionID)
	if err != nil {
		return err
	}
	r.logger.Debug("session forgotten", zap.String("session", shortID(sessionID)), zap.Int("slots", n))
	return nil
}

func endpoints(cfg *config.Config) document.Endpoints {
	return document.Endpoints{
		Rendered:   cfg.Endpoints.Rendered,
		Structured: cfg.Endpoints.Structured,
		Receipt:    cfg.Endpoints.Receipt,
	}
}

// ResolveSessionID returns $EFACT_SESSION, or an ID bound to the parent
// process so that every command run from one shell shares a session.
func ResolveSessionID() string {
	if id := strings.TrimSpace(os.Getenv(SessionEnv)); id != "" {
		return id
	}
	return fmt.Sprintf("tty-%d", os.Getppid())
}

// shortID keeps log lines from carrying full browser session IDs.
func shortID(id string) string {
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
