// Package document retrieves ticketed documents with the current credential
// and keeps at most one live handle to the last payload fetched.
package document

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/logger"
)

// DefaultMaxBytes caps a payload when no limit is configured.
const DefaultMaxBytes int64 = 20 << 20

// Credentials is the credential capability a Session depends on.
type Credentials interface {
	Authenticate(ctx context.Context, username, password string) error
	Token() (string, bool)
	Clear() error
}

// Doer performs HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// State is a snapshot of a Session as seen by a presentation layer.
type State struct {
	Kind      Kind             `json:"kind"`
	Ticket    string           `json:"ticket"`
	Loading   bool             `json:"loading"`
	Error     string           `json:"error,omitempty"`
	ErrorCode errors.ErrorCode `json:"error_code,omitempty"`
	Text      string           `json:"text,omitempty"`
	Handle    *Handle          `json:"handle,omitempty"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the Session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger.OrNop(l)
	}
}

// WithMaxBytes caps the size of a fetched payload. n <= 0 keeps the default.
func WithMaxBytes(n int64) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithKeepTokenOnExpiry keeps the credential when a document fetch answers 401.
func WithKeepTokenOnExpiry(keep bool) Option {
	return func(s *Session) {
		s.keepToken = keep
	}
}

// WithTicket sets the initial ticket.
func WithTicket(ticket string) Option {
	return func(s *Session) {
		s.state.Ticket = strings.TrimSpace(ticket)
	}
}

// Session orchestrates authenticated document fetches for one user session.
//
// A load runs as revoke, fetch, create. The mutex is released during the
// fetch; a generation counter discards results of loads that were superseded
// by SelectKind, Logout or Close while they were in flight.
type Session struct {
	creds     Credentials
	doer      Doer
	registry  Registry
	endpoints Endpoints
	logger    *zap.Logger
	maxBytes  int64
	keepToken bool

	mu       sync.Mutex
	state    State
	gen      uint64
	inFlight bool
	cancel   context.CancelFunc
	closed   bool
	subs     map[int]func(State)
	next     int
}

// New creates a Session in the Idle state with DefaultKind selected.
func New(creds Credentials, doer Doer, registry Registry, endpoints Endpoints, options ...Option) *Session {
	s := &Session{
		creds:     creds,
		doer:      doer,
		registry:  registry,
		endpoints: endpoints,
		logger:    zap.NewNop(),
		maxBytes:  DefaultMaxBytes,
		state:     State{Kind: DefaultKind},
		subs:      map[int]func(State){},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Authenticate delegates to the credential store. A failure is also recorded
// in the state.
func (s *Session) Authenticate(ctx context.Context, username, password string) error {
	err := s.creds.Authenticate(ctx, username, password)

	s.mu.Lock()
	if err != nil {
		s.setErrorLocked(errors.ClassifyError(errors.LoginScope(), err))
	} else {
		s.state.Error, s.state.ErrorCode = "", ""
	}
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	return err
}

// Authenticated reports whether a credential is present.
func (s *Session) Authenticated() bool {
	_, ok := s.creds.Token()
	return ok
}

// SetTicket records the ticket used by the next load.
func (s *Session) SetTicket(ticket string) {
	s.mu.Lock()
	s.state.Ticket = strings.TrimSpace(ticket)
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
}

// SelectKind cancels any in-flight load, discards the current document,
// records kind and loads it.
func (s *Session) SelectKind(ctx context.Context, kind Kind) error {
	if !kind.Valid() {
		return errors.NewValidation("unknown document kind " + string(kind))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewCanceled()
	}
	s.abortLocked()
	s.revokeLocked(ctx)
	s.state.Kind = kind
	s.state.Error, s.state.ErrorCode = "", ""
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	return s.LoadCurrent(ctx)
}

// LoadCurrent fetches the selected kind for the current ticket.
//
// It returns AUTH_REQUIRED without touching state when no credential is
// present, VALIDATION when the ticket is empty and BUSY when a load is
// already in flight. Any other failure is classified, recorded in the state
// and returned.
func (s *Session) LoadCurrent(ctx context.Context) error {
	token, ok := s.creds.Token()
	if !ok {
		return errors.NewAuthRequired()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.NewCanceled()
	}
	ticket := strings.TrimSpace(s.state.Ticket)
	if ticket == "" {
		return s.failLocked(errors.NewValidation("ticket is required"))
	}
	if s.inFlight {
		s.mu.Unlock()
		return errors.NewBusy()
	}
	kind := s.state.Kind.orDefault()
	locator, err := s.endpoints.Resolve(kind, ticket)
	if err != nil {
		return s.failLocked(errors.As(err))
	}

	s.revokeLocked(ctx)
	s.state.Error, s.state.ErrorCode = "", ""
	s.state.Loading = true
	s.inFlight = true
	s.gen++
	gen := s.gen
	fetchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	s.logger.Debug("loading document", zap.String("kind", string(kind)), zap.String("ticket", ticket))

	data, contentType, fetchErr := s.fetch(fetchCtx, locator, token, kind)
	cancel()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded load", zap.String("kind", string(kind)))
		return errors.NewCanceled()
	}
	s.inFlight = false
	s.cancel = nil
	s.state.Loading = false

	if fetchErr != nil {
		classified := errors.ClassifyError(errors.DocumentScope(string(kind)), fetchErr)
		s.logger.Info("document load failed",
			zap.String("kind", string(kind)),
			zap.String("code", string(classified.Code)),
			zap.Error(fetchErr))
		expired := classified.Code == errors.ErrSessionExpired && !s.keepToken
		err := s.failLocked(classified)
		if expired {
			if cErr := s.creds.Clear(); cErr != nil {
				s.logger.Warn("clear expired token failed", zap.Error(cErr))
			}
		}
		return err
	}

	h, err := s.registry.Create(ctx, kind, ticket, contentType, data)
	if err != nil {
		return s.failLocked(errors.As(err))
	}
	s.state.Handle = h
	if hasText(kind, contentType) {
		s.state.Text = decodeText(data)
	}
	st, subs = s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	s.logger.Debug("document loaded",
		zap.String("kind", string(kind)),
		zap.String("handle", h.ID),
		zap.Int("size", h.Size))
	return nil
}

// Logout cancels any in-flight load, discards the current document and
// clears the credential. It is valid in any state.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.abortLocked()
	s.revokeLocked(ctx)
	s.state.Error, s.state.ErrorCode = "", ""
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	return s.creds.Clear()
}

// Payload returns the live handle and its bytes.
func (s *Session) Payload(ctx context.Context) (*Handle, []byte, error) {
	s.mu.Lock()
	h := s.state.Handle
	s.mu.Unlock()

	if h == nil {
		return nil, nil, errors.NewNotFound("no document loaded")
	}
	data, err := s.registry.Open(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	return h, data, nil
}

// State returns the current snapshot.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn, delivers the current state to it immediately and
// again after every change. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	st := s.state
	s.mu.Unlock()

	fn(st)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close revokes any outstanding handle and stops the session. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.abortLocked()
	h := s.state.Handle
	s.state.Handle = nil
	s.state.Text = ""
	s.subs = map[int]func(State){}
	return s.registry.Revoke(context.Background(), h)
}

// abortLocked cancels an in-flight load and invalidates its result.
func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.inFlight {
		s.gen++
		s.inFlight = false
	}
	s.state.Loading = false
}

func (s *Session) revokeLocked(ctx context.Context) {
	h := s.state.Handle
	s.state.Handle = nil
	s.state.Text = ""
	if h == nil {
		return
	}
	if err := s.registry.Revoke(ctx, h); err != nil {
		s.logger.Warn("revoke handle failed", zap.String("handle", h.ID), zap.Error(err))
	}
}

func (s *Session) setErrorLocked(e *errors.EfactError) {
	s.state.Error = e.Message
	s.state.ErrorCode = e.Code
}

// failLocked records e, unlocks, publishes and returns e.
func (s *Session) failLocked(e *errors.EfactError) error {
	s.setErrorLocked(e)
	st, subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, st)
	return e
}

func (s *Session) snapshotLocked() (State, []func(State)) {
	subs := make([]func(State), 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return s.state, subs
}

func publish(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}
