package ops

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/efact/internal/config"
	"github.com/hpungsan/efact/internal/db"
	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/errors"
)

type stubRemote struct {
	srv *httptest.Server

	mu         sync.Mutex
	basicAuths []string
}

func (s *stubRemote) BasicAuths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.basicAuths...)
}

// setupRuntime starts a token + document stub and a fresh session store.
func setupRuntime(t *testing.T) (*Runtime, *sql.DB, *stubRemote) {
	t.Helper()
	remote := &stubRemote{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		remote.mu.Lock()
		remote.basicAuths = append(remote.basicAuths, r.Header.Get("Authorization"))
		remote.mu.Unlock()
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /pdf/{ticket}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 " + r.PathValue("ticket")))
	})
	mux.HandleFunc("GET /xml/{ticket}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("ticket") == "T-404" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<Invoice id=\"" + r.PathValue("ticket") + "\"/>"))
	})
	mux.HandleFunc("GET /cdr/{ticket}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<ApplicationResponse/>"))
	})
	remote.srv = httptest.NewServer(mux)
	t.Cleanup(remote.srv.Close)

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.TokenURL = remote.srv.URL + "/oauth/token"
	cfg.ClientID = "viewer"
	cfg.ClientSecret = "s3cret"
	cfg.Endpoints = config.Endpoints{
		Rendered:   remote.srv.URL + "/pdf",
		Structured: remote.srv.URL + "/xml",
		Receipt:    remote.srv.URL + "/cdr",
	}
	cfg.HandleBaseURL = "mem://localhost/efact-ops-test/" + strings.ReplaceAll(t.Name(), "/", "-")
	cfg.RequestTimeoutSeconds = 5

	return NewRuntime(cfg, database, nil), database, remote
}

func TestLogin_SendsClientHeaderAndPersists(t *testing.T) {
	rt, _, remote := setupRuntime(t)
	ctx := context.Background()

	sess := rt.Session("shell-1")
	defer sess.Close()

	out, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !out.Authenticated {
		t.Error("Authenticated = false, want true")
	}
	if got := remote.BasicAuths(); len(got) != 1 || got[0] != "Basic dmlld2VyOnMzY3JldA==" {
		t.Errorf("token endpoint saw Authorization %v", got)
	}

	// same session ID restores the token, another one does not
	again := rt.Session("shell-1")
	defer again.Close()
	if !again.Authenticated() {
		t.Error("token not restored for the same session")
	}
	other := rt.Session("shell-2")
	defer other.Close()
	if other.Authenticated() {
		t.Error("token leaked into a different session")
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	sess := rt.Session("s")
	defer sess.Close()

	_, err := Login(context.Background(), sess, LoginInput{Username: "alice", Password: "wrong"})
	if !errors.Is(err, errors.ErrInvalidCredentials) {
		t.Fatalf("Login error = %v, want INVALID_CREDENTIALS", err)
	}
	if sess.Authenticated() {
		t.Error("failed login must not store a token")
	}
}

func TestFetch_WithoutLogin(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	sess := rt.Session("s")
	defer sess.Close()

	_, err := Fetch(context.Background(), sess, FetchInput{Kind: "xml", Ticket: "T-1"})
	if !errors.Is(err, errors.ErrAuthRequired) {
		t.Fatalf("Fetch error = %v, want AUTH_REQUIRED", err)
	}
}

func TestFetch_StructuredWithContent(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	ctx := context.Background()
	sess := rt.Session("s")
	defer sess.Close()

	if _, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	out, err := Fetch(ctx, sess, FetchInput{Kind: "xml", Ticket: " T-1 ", IncludeContent: true})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if out.Kind != document.Structured {
		t.Errorf("Kind = %q, want structured", out.Kind)
	}
	if out.Ticket != "T-1" {
		t.Errorf("Ticket = %q, want T-1", out.Ticket)
	}
	if out.Text != `<Invoice id="T-1"/>` {
		t.Errorf("Text = %q", out.Text)
	}
	if string(out.Content) != out.Text {
		t.Errorf("Content = %q, want the same bytes as Text", out.Content)
	}
	if out.Handle == nil || out.Handle.ContentType != "application/xml" {
		t.Errorf("Handle = %+v", out.Handle)
	}
	if rt.Registry().Live() != 1 {
		t.Errorf("Live() = %d, want 1", rt.Registry().Live())
	}
}

func TestFetch_DefaultKindAndTicket(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	rt.cfg.DefaultTicket = "T-7"
	ctx := context.Background()
	sess := rt.Session("s")
	defer sess.Close()

	if _, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	out, err := Fetch(ctx, sess, FetchInput{})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if out.Kind != document.Rendered || out.Ticket != "T-7" {
		t.Errorf("got %s/%s, want rendered/T-7", out.Kind, out.Ticket)
	}
	if out.Text != "" {
		t.Errorf("rendered documents carry no text, got %q", out.Text)
	}
}

func TestFetch_NotFound(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	ctx := context.Background()
	sess := rt.Session("s")
	defer sess.Close()

	if _, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	_, err := Fetch(ctx, sess, FetchInput{Kind: "structured", Ticket: "T-404"})
	if !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Fetch error = %v, want NOT_FOUND", err)
	}
	if !strings.Contains(err.Error(), "structured") {
		t.Errorf("error %q does not name the kind", err)
	}
}

func TestFetch_UnknownKind(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	sess := rt.Session("s")
	defer sess.Close()

	_, err := Fetch(context.Background(), sess, FetchInput{Kind: "zip", Ticket: "T-1"})
	if !errors.Is(err, errors.ErrValidation) {
		t.Fatalf("Fetch error = %v, want VALIDATION", err)
	}
}

func TestLogoutAndStatus(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	ctx := context.Background()
	sess := rt.Session("s")
	defer sess.Close()

	if _, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := Fetch(ctx, sess, FetchInput{Kind: "cdr", Ticket: "T-1"}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	st := Status("s", sess)
	if !st.Authenticated || st.Kind != document.Receipt || st.Handle == nil {
		t.Errorf("Status = %+v", st)
	}

	out, err := Logout(ctx, sess)
	if err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if !out.LoggedOut {
		t.Error("LoggedOut = false")
	}

	st = Status("s", sess)
	if st.Authenticated || st.Handle != nil {
		t.Errorf("Status after logout = %+v", st)
	}
	if rt.Registry().Live() != 0 {
		t.Errorf("Live() = %d, want 0", rt.Registry().Live())
	}
	if rt.Session("s").Authenticated() {
		t.Error("logout must clear the persisted token")
	}
}

func TestSave(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	ctx := context.Background()
	sess := rt.Session("s")
	defer sess.Close()

	if _, err := Save(ctx, sess, SaveInput{Path: filepath.Join(t.TempDir(), "x.pdf")}); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("Save without a document error = %v, want NOT_FOUND", err)
	}

	if _, err := Login(ctx, sess, LoginInput{Username: "alice", Password: "secret"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := Fetch(ctx, sess, FetchInput{Ticket: "T-1"}); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "invoice.pdf")
	out, err := Save(ctx, sess, SaveInput{Path: dest})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "%PDF-1.4 T-1" {
		t.Errorf("saved %q", data)
	}
	if out.Size != len(data) || out.ContentType != "application/pdf" {
		t.Errorf("SaveOutput = %+v", out)
	}

	if _, err := Save(ctx, sess, SaveInput{Path: dest}); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("second Save error = %v, want VALIDATION", err)
	}
	if _, err := Save(ctx, sess, SaveInput{Path: dest, Overwrite: true}); err != nil {
		t.Errorf("Save with overwrite failed: %v", err)
	}
}

func TestDefaultFileName(t *testing.T) {
	tests := []struct {
		handle document.Handle
		want   string
	}{
		{document.Handle{Ticket: "T-1", Kind: document.Rendered, ContentType: "application/pdf"}, "T-1-rendered.pdf"},
		{document.Handle{Ticket: "F001/99", Kind: document.Structured, ContentType: "text/xml; charset=utf-8"}, "F001_99-structured.xml"},
		{document.Handle{Ticket: "T-1", Kind: document.Receipt, ContentType: "application/zip"}, "T-1-receipt.zip"},
		{document.Handle{Ticket: "T-1", Kind: document.Receipt}, "T-1-receipt.xml"},
		{document.Handle{Ticket: "..", Kind: document.Rendered}, "document-rendered.pdf"},
	}
	for _, tt := range tests {
		if got := DefaultFileName(&tt.handle); got != tt.want {
			t.Errorf("DefaultFileName(%+v) = %q, want %q", tt.handle, got, tt.want)
		}
	}
}

func TestResolveSessionID(t *testing.T) {
	t.Setenv(SessionEnv, " pinned ")
	if got := ResolveSessionID(); got != "pinned" {
		t.Errorf("ResolveSessionID() = %q, want pinned", got)
	}

	t.Setenv(SessionEnv, "")
	if got := ResolveSessionID(); !strings.HasPrefix(got, "tty-") {
		t.Errorf("ResolveSessionID() = %q, want tty- prefix", got)
	}
}

func TestPurge(t *testing.T) {
	_, database, _ := setupRuntime(t)
	ctx := context.Background()

	if err := db.SetValue(database, "old", "efact_token", "tok"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	if err := db.SetValue(database, "new", "efact_token", "tok"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	stale := time.Now().Add(-48 * time.Hour).Unix()
	if _, err := database.Exec(`UPDATE session_values SET updated_at = ? WHERE session_id = 'old'`, stale); err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	out, err := Purge(ctx, database, PurgeInput{OlderThanHours: 12})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if out.Purged != 1 {
		t.Errorf("Purged = %d, want 1", out.Purged)
	}
	if !strings.Contains(out.Message, "Removed 1 session entry") {
		t.Errorf("Message = %q", out.Message)
	}

	out, err = Purge(ctx, database, PurgeInput{OlderThanHours: 12})
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if out.Purged != 0 || out.Message != "No stale sessions to purge" {
		t.Errorf("second Purge = %+v", out)
	}
}
