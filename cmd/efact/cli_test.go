package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/efact/internal/config"
	"github.com/hpungsan/efact/internal/db"
	"github.com/hpungsan/efact/internal/ops"
)

// setupRuntime starts a stub e-invoice service and returns a runtime wired
// to it. The CLI session is pinned through EFACT_SESSION.
func setupRuntime(t *testing.T) *ops.Runtime {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok1","token_type":"bearer"}`))
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
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(`<Invoice id="` + r.PathValue("ticket") + `"/>`))
	})
	mux.HandleFunc("GET /cdr/{ticket}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("ticket") != "Z-1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write([]byte("PK\x03\x04receipt"))
	})
	remote := httptest.NewServer(mux)
	t.Cleanup(remote.Close)

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.TokenURL = remote.URL + "/oauth/token"
	cfg.Endpoints = config.Endpoints{
		Rendered:   remote.URL + "/pdf",
		Structured: remote.URL + "/xml",
		Receipt:    remote.URL + "/cdr",
	}
	cfg.HandleBaseURL = "mem://localhost/efact-cli-test/" + strings.ReplaceAll(t.Name(), "/", "-")

	t.Setenv(ops.SessionEnv, "cli-test")
	return ops.NewRuntime(cfg, database, nil)
}

// runCLI runs args and returns what the command printed to stdout.
func runCLI(t *testing.T, rt *ops.Runtime, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(rt, nil)

	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := app.Run(append([]string{"efact"}, args...))

	w.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	os.Stdout = oldStdout

	return buf.String(), err
}

// withStdin replaces stdin with a pipe carrying content for the duration of fn.
func withStdin(t *testing.T, content string, fn func()) {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	go func() {
		_, _ = w.WriteString(content)
		w.Close()
	}()

	oldStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()
	fn()
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"12h", 12, false},
		{"1h", 1, false},
		{"7d", 168, false},
		{"0h", 0, true},
		{"-1d", 0, true},
		{"12", 0, true},
		{"xh", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseDuration(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDuration(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	tests := map[string]string{
		"secret\n":         "secret",
		"secret\r\n":       "secret",
		"secret":           "secret",
		"one\ntwo\n":       "one",
		"":                 "",
		" spaced secret \n": " spaced secret ",
	}
	for in, want := range tests {
		if got := firstLine(in); got != want {
			t.Errorf("firstLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCLILoginFetchLogout(t *testing.T) {
	rt := setupRuntime(t)

	// password piped via stdin
	var out string
	var err error
	withStdin(t, "secret\n", func() {
		out, err = runCLI(t, rt, "login", "-u", "alice")
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	var login ops.LoginOutput
	if err := json.Unmarshal([]byte(out), &login); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if !login.Authenticated {
		t.Error("expected authenticated=true")
	}

	// the token outlives the process-level session
	out, err = runCLI(t, rt, "status")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status ops.StatusOutput
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if !status.Authenticated || status.Session != "cli-test" {
		t.Errorf("status = %+v", status)
	}

	t.Run("structured is printed", func(t *testing.T) {
		out, err := runCLI(t, rt, "fetch", "--kind", "xml", "T-1")
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		var fetched map[string]any
		if err := json.Unmarshal([]byte(out), &fetched); err != nil {
			t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
		}
		if fetched["text"] != `<Invoice id="T-1"/>` {
			t.Errorf("text = %v", fetched["text"])
		}
		if _, ok := fetched["saved"]; ok {
			t.Error("structured fetch without --out must not write a file")
		}
	})

	t.Run("rendered is saved", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "invoice.pdf")
		out, err := runCLI(t, rt, "fetch", "--ticket", "F001-1", "--out", path)
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if !strings.Contains(out, `"saved"`) {
			t.Errorf("output missing saved: %s", out)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read saved file: %v", err)
		}
		if string(data) != "%PDF-1.4 F001-1" {
			t.Errorf("saved = %q", data)
		}

		// second run refuses to clobber the file
		if _, err := runCLI(t, rt, "fetch", "--ticket", "F001-1", "--out", path); err == nil {
			t.Error("expected error for existing file")
		}
		if _, err := runCLI(t, rt, "fetch", "--ticket", "F001-1", "--out", path, "--overwrite"); err != nil {
			t.Errorf("overwrite failed: %v", err)
		}
	})

	t.Run("rendered default file name", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		if _, err := runCLI(t, rt, "fetch", "-t", "F001-2"); err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(dir, "F001-2-rendered.pdf")); err != nil {
			t.Errorf("default file not written: %v", err)
		}
	})

	t.Run("zipped receipt is written", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)

		out, err := runCLI(t, rt, "fetch", "--kind", "cdr", "Z-1")
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		if !strings.Contains(out, `"saved"`) {
			t.Errorf("output should report the saved file: %s", out)
		}
		data, err := os.ReadFile(filepath.Join(dir, "Z-1-receipt.zip"))
		if err != nil {
			t.Fatalf("receipt not written: %v", err)
		}
		if string(data) != "PK\x03\x04receipt" {
			t.Errorf("content = %q", data)
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := runCLI(t, rt, "fetch", "--kind", "cdr", "T-1")
		if err == nil || !strings.Contains(err.Error(), "[NOT_FOUND]") {
			t.Errorf("err = %v, want [NOT_FOUND]", err)
		}
	})

	if _, err := runCLI(t, rt, "logout"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	_, err = runCLI(t, rt, "fetch", "--kind", "xml", "T-1")
	if err == nil || !strings.Contains(err.Error(), "[AUTH_REQUIRED]") {
		t.Errorf("fetch after logout: err = %v, want [AUTH_REQUIRED]", err)
	}
}

func TestCLIErrorHandling(t *testing.T) {
	rt := setupRuntime(t)

	t.Run("wrong password", func(t *testing.T) {
		_, err := runCLI(t, rt, "login", "-u", "alice", "-p", "wrong")
		if err == nil || !strings.Contains(err.Error(), "[INVALID_CREDENTIALS]") {
			t.Errorf("err = %v, want [INVALID_CREDENTIALS]", err)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		var err error
		withStdin(t, "", func() {
			_, err = runCLI(t, rt, "login", "-u", "alice")
		})
		if err == nil || !strings.Contains(err.Error(), "[VALIDATION]") {
			t.Errorf("err = %v, want [VALIDATION]", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := runCLI(t, rt, "fetch", "--kind", "html", "T-1")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("invalid duration format returns error", func(t *testing.T) {
		_, err := runCLI(t, rt, "purge", "--older-than=invalid")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("unconfigured remote", func(t *testing.T) {
		orig := rt.Config().TokenURL
		rt.Config().TokenURL = ""
		defer func() { rt.Config().TokenURL = orig }()
		_, err := runCLI(t, rt, "login", "-u", "alice", "-p", "secret")
		if err == nil || !strings.Contains(err.Error(), "TokenURL") {
			t.Errorf("err = %v, want config error naming TokenURL", err)
		}
	})
}

func TestCLIPurge(t *testing.T) {
	rt := setupRuntime(t)
	if err := db.SetValue(rt.DB(), "old", "efact_token", "x"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if _, err := rt.DB().Exec(`UPDATE session_values SET updated_at = updated_at - 3*86400`); err != nil {
		t.Fatalf("age entry: %v", err)
	}

	out, err := runCLI(t, rt, "purge", "--older-than", "2d")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	var output ops.PurgeOutput
	if err := json.Unmarshal([]byte(out), &output); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
	if output.Purged != 1 {
		t.Errorf("purged = %d, want 1", output.Purged)
	}
}

func TestReadStdinWithLimit(t *testing.T) {
	t.Run("within limit", func(t *testing.T) {
		withStdin(t, "small content", func() {
			result, err := readStdin(1000)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if result != "small content" {
				t.Errorf("expected %q, got %q", "small content", result)
			}
		})
	})

	t.Run("exceeds limit", func(t *testing.T) {
		withStdin(t, strings.Repeat("x", 100), func() {
			if _, err := readStdin(50); err == nil {
				t.Error("expected error for content exceeding limit, got nil")
			}
		})
	})
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"efact"}, false},
		{"login command", []string{"efact", "login"}, true},
		{"fetch command", []string{"efact", "fetch"}, true},
		{"serve command", []string{"efact", "serve"}, true},
		{"help flag", []string{"efact", "--help"}, true},
		{"short version flag", []string{"efact", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"efact", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"efact"}, false},
		{"help flag", []string{"efact", "--help"}, true},
		{"short help flag", []string{"efact", "-h"}, true},
		{"version flag", []string{"efact", "--version"}, true},
		{"help subcommand", []string{"efact", "help"}, true},
		{"fetch command is not help", []string{"efact", "fetch"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}
