// Package credential owns the bearer token: acquiring it through a password
// grant, persisting it in a session-scoped slot and publishing every change.
package credential

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/errors"
	"github.com/hpungsan/efact/internal/logger"
)

// TokenKey is the slot the token is persisted under.
const TokenKey = "efact_token"

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the Store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger.OrNop(l)
	}
}

// Store is the single source of truth for the bearer token.
type Store struct {
	mu        sync.Mutex
	kv        KV
	exchanger Exchanger
	logger    *zap.Logger

	token string
	subs  map[int]func(string)
	next  int
}

// New creates a Store and restores any token already persisted in kv.
// A failed restore leaves the store empty.
func New(kv KV, exchanger Exchanger, options ...Option) *Store {
	s := &Store{
		kv:        kv,
		exchanger: exchanger,
		logger:    zap.NewNop(),
		subs:      map[int]func(string){},
	}
	for _, opt := range options {
		opt(s)
	}

	token, ok, err := kv.Get(TokenKey)
	switch {
	case err != nil:
		s.logger.Warn("restore token failed", zap.Error(err))
	case ok:
		s.token = token
		s.logger.Debug("token restored")
	}
	return s
}

// Authenticate exchanges username and password for a token and stores it.
// On failure any previous token is left untouched.
func (s *Store) Authenticate(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return errors.NewValidation("username and password are required")
	}

	token, err := s.exchanger.Exchange(ctx, username, password)
	if err != nil {
		classified := errors.ClassifyError(errors.LoginScope(), err)
		s.logger.Info("authentication failed",
			zap.String("code", string(classified.Code)),
			zap.Error(err))
		return classified
	}

	s.mu.Lock()
	if err := s.kv.Set(TokenKey, token); err != nil {
		s.mu.Unlock()
		return errors.NewInternal(err)
	}
	s.token = token
	subs := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("authenticated", zap.String("username", username))
	publish(subs, token)
	return nil
}

// Token returns the in-memory token. The bool is false when none is set.
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

// Clear removes the token from memory and from the persisted slot.
// Memory is always cleared; the returned error reports a persistence failure.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token = ""
	err := s.kv.Delete(TokenKey)
	subs := s.snapshotLocked()
	s.mu.Unlock()

	publish(subs, "")
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Subscribe registers fn and immediately delivers the current token to it
// ("" when absent). fn is called again after every mutation. The returned
// func unsubscribes.
func (s *Store) Subscribe(fn func(token string)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = fn
	current := s.token
	s.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) snapshotLocked() []func(string) {
	subs := make([]func(string), 0, len(s.subs))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func publish(subs []func(string), token string) {
	for _, fn := range subs {
		fn(token)
	}
}
