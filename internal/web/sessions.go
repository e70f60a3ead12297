package web

import (
	"crypto/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/logger"
)

// sessionCookie carries the browser session ID. It has no Expires so the
// browser drops it on restart, which ends the session.
const sessionCookie = "efact_session"

// Opener creates the document session for a browser session ID.
type Opener func(sessionID string) *document.Session

// Sessions holds one document session per browser session. Idle sessions are
// evicted and closed, which revokes their handles.
type Sessions struct {
	mu      sync.Mutex
	cache   *cache.Cache
	open    Opener
	expire  func(sessionID string)
	closing atomic.Bool
	logger  *zap.Logger
}

// NewSessions creates a session table evicting entries idle for longer than idle.
func NewSessions(idle time.Duration, open Opener, log *zap.Logger) *Sessions {
	if idle <= 0 {
		idle = time.Hour
	}
	s := &Sessions{
		cache:  cache.New(idle, idle/2),
		open:   open,
		logger: logger.OrNop(log),
	}
	s.cache.OnEvicted(func(id string, v interface{}) {
		sess, ok := v.(*document.Session)
		if !ok {
			return
		}
		if err := sess.Close(); err != nil {
			s.logger.Warn("close evicted session failed", zap.Error(err))
		}
		if s.expire != nil && !s.closing.Load() {
			s.expire(id)
		}
		s.logger.Debug("web session evicted")
	})
	return s
}

// OnExpire registers fn to run when a session is evicted for being idle.
// Sessions closed by Close are not reported.
func (s *Sessions) OnExpire(fn func(sessionID string)) {
	s.expire = fn
}

// Get returns the session for id, opening it on first use. Every call
// restarts the idle timer.
func (s *Sessions) Get(id string) *document.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(id); ok {
		sess := v.(*document.Session)
		s.cache.SetDefault(id, sess)
		return sess
	}

	// an expired entry may still be held until the janitor runs
	s.cache.Delete(id)

	sess := s.open(id)
	s.cache.SetDefault(id, sess)
	return sess
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	return s.cache.ItemCount()
}

// Close closes every session.
func (s *Sessions) Close() {
	s.closing.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.cache.Items() {
		s.cache.Delete(id)
	}
	s.cache.DeleteExpired()
}

// sessionFor returns the browser's session, issuing a cookie when the
// request carries none or an invalid one.
func (s *Sessions) sessionFor(w http.ResponseWriter, r *http.Request) *document.Session {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if _, err := ulid.ParseStrict(c.Value); err == nil {
			return s.Get(c.Value)
		}
	}

	id := newSessionID()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	return s.Get(id)
}

func newSessionID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
