package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Endpoints holds the base URL of each document kind's remote endpoint.
type Endpoints struct {
	Rendered   string `json:"rendered,omitempty" validate:"required,url"`
	Structured string `json:"structured,omitempty" validate:"required,url"`
	Receipt    string `json:"receipt,omitempty" validate:"required,url"`
}

// Config holds application configuration.
type Config struct {
	// TokenURL is the password-grant token endpoint.
	TokenURL string `json:"token_url,omitempty" validate:"required,url"`

	// ClientAuthorization is the full pre-shared client header value,
	// e.g. "Basic Y2xpZW50OnNlY3JldA==". Takes precedence over ClientID/ClientSecret.
	ClientAuthorization string `json:"client_authorization,omitempty"`

	// ClientID and ClientSecret build the Basic header when ClientAuthorization is empty.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	Endpoints Endpoints `json:"endpoints"`

	// DefaultTicket pre-fills the ticket of every new document session.
	DefaultTicket string `json:"default_ticket,omitempty"`

	// RequestTimeoutSeconds bounds every remote call.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty" validate:"gte=0"`

	// MaxDocumentBytes caps the size of a fetched payload.
	MaxDocumentBytes int64 `json:"max_document_bytes,omitempty" validate:"gte=0"`

	// SessionTTLHours drops persisted session slots unused for longer than this.
	SessionTTLHours int `json:"session_ttl_hours,omitempty" validate:"gte=0"`

	// KeepTokenOnExpiry disables clearing the credential when a document
	// fetch is answered with 401.
	KeepTokenOnExpiry bool `json:"keep_token_on_expiry,omitempty"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn warning error"`

	// LogFile enables a rotated JSON log at this path.
	LogFile string `json:"log_file,omitempty"`

	// LoginNotice is markdown shown above the web login form.
	LoginNotice string `json:"login_notice,omitempty"`

	// HandleBaseURL is where fetched payloads are registered (afs URL).
	HandleBaseURL string `json:"handle_base_url,omitempty"`

	// WebSessionIdleMinutes evicts idle browser sessions from the web UI.
	WebSessionIdleMinutes int `json:"web_session_idle_minutes,omitempty" validate:"gte=0"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeoutSeconds: 30,
		MaxDocumentBytes:      20 << 20,
		SessionTTLHours:       12,
		LogLevel:              "warn",
		HandleBaseURL:         "mem://localhost/efact/handles",
		WebSessionIdleMinutes: 60,
	}
}

// Load loads configuration from baseDir/config.json, then baseDir/.env and
// the process environment. Returns default config if no file exists.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.efact.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	env, err := readEnv(baseDir)
	if err != nil {
		return nil, err
	}
	return Merge(cfg, env), nil
}

// LoadWithRepo loads configuration from both global (~/.efact) and repo (.efact) directories.
// Repo config is found by walking upward from startDir to find the nearest .efact/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Environment values win over both.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	env, err := readEnv(globalDir)
	if err != nil {
		return nil, err
	}

	return Merge(Merge(Merge(DefaultConfig(), global), repo), env), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .efact/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".efact", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// BasicAuthorization returns the Authorization header value sent with the
// password grant, or "" when no client credential is configured.
func (c *Config) BasicAuthorization() string {
	if c.ClientAuthorization != "" {
		if strings.HasPrefix(strings.ToLower(c.ClientAuthorization), "basic ") {
			return c.ClientAuthorization
		}
		return "Basic " + c.ClientAuthorization
	}
	if c.ClientID == "" {
		return ""
	}
	raw := c.ClientID + ":" + c.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the settings needed to talk to the remote services.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// readEnv builds an overlay from baseDir/.env and EFACT_* process variables.
// Process variables win over the .env file.
func readEnv(baseDir string) (*Config, error) {
	vars := map[string]string{}
	envPath := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		fileVars, err := godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", envPath, err)
		}
		vars = fileVars
	}
	for _, key := range envKeys {
		if v, ok := os.LookupEnv(key); ok {
			vars[key] = v
		}
	}
	return fromEnv(vars)
}

var envKeys = []string{
	"EFACT_TOKEN_URL",
	"EFACT_CLIENT_AUTHORIZATION",
	"EFACT_CLIENT_ID",
	"EFACT_CLIENT_SECRET",
	"EFACT_RENDERED_URL",
	"EFACT_STRUCTURED_URL",
	"EFACT_RECEIPT_URL",
	"EFACT_DEFAULT_TICKET",
	"EFACT_LOG_LEVEL",
	"EFACT_LOG_FILE",
	"EFACT_REQUEST_TIMEOUT_SECONDS",
}

func fromEnv(vars map[string]string) (*Config, error) {
	cfg := &Config{
		TokenURL:            vars["EFACT_TOKEN_URL"],
		ClientAuthorization: vars["EFACT_CLIENT_AUTHORIZATION"],
		ClientID:            vars["EFACT_CLIENT_ID"],
		ClientSecret:        vars["EFACT_CLIENT_SECRET"],
		Endpoints: Endpoints{
			Rendered:   vars["EFACT_RENDERED_URL"],
			Structured: vars["EFACT_STRUCTURED_URL"],
			Receipt:    vars["EFACT_RECEIPT_URL"],
		},
		DefaultTicket: vars["EFACT_DEFAULT_TICKET"],
		LogLevel:      vars["EFACT_LOG_LEVEL"],
		LogFile:       vars["EFACT_LOG_FILE"],
	}
	if s := vars["EFACT_REQUEST_TIMEOUT_SECONDS"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("EFACT_REQUEST_TIMEOUT_SECONDS: %w", err)
		}
		cfg.RequestTimeoutSeconds = n
	}
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.TokenURL = pickString(base.TokenURL, overlay.TokenURL)
	result.ClientAuthorization = pickString(base.ClientAuthorization, overlay.ClientAuthorization)
	result.ClientID = pickString(base.ClientID, overlay.ClientID)
	result.ClientSecret = pickString(base.ClientSecret, overlay.ClientSecret)
	result.Endpoints = Endpoints{
		Rendered:   pickString(base.Endpoints.Rendered, overlay.Endpoints.Rendered),
		Structured: pickString(base.Endpoints.Structured, overlay.Endpoints.Structured),
		Receipt:    pickString(base.Endpoints.Receipt, overlay.Endpoints.Receipt),
	}
	result.DefaultTicket = pickString(base.DefaultTicket, overlay.DefaultTicket)
	result.LogLevel = pickString(base.LogLevel, overlay.LogLevel)
	result.LogFile = pickString(base.LogFile, overlay.LogFile)
	result.LoginNotice = pickString(base.LoginNotice, overlay.LoginNotice)
	result.HandleBaseURL = pickString(base.HandleBaseURL, overlay.HandleBaseURL)

	result.RequestTimeoutSeconds = pickInt(base.RequestTimeoutSeconds, overlay.RequestTimeoutSeconds)
	result.SessionTTLHours = pickInt(base.SessionTTLHours, overlay.SessionTTLHours)
	result.WebSessionIdleMinutes = pickInt(base.WebSessionIdleMinutes, overlay.WebSessionIdleMinutes)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.MaxDocumentBytes = overlay.MaxDocumentBytes
	if result.MaxDocumentBytes == 0 {
		result.MaxDocumentBytes = base.MaxDocumentBytes
	}

	// Booleans: overlay wins if true, else base
	result.KeepTokenOnExpiry = base.KeepTokenOnExpiry || overlay.KeepTokenOnExpiry

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func pickString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
