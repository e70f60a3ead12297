package document

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/viant/afs"

	"github.com/hpungsan/efact/internal/errors"
)

// DefaultHandleBaseURL is where payloads live when no base is configured.
const DefaultHandleBaseURL = "mem://localhost/efact/handles"

// Handle is a revocable local reference to a fetched payload.
type Handle struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Ticket      string    `json:"ticket"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasText reports whether the payload behind h is shown as text.
func (h *Handle) HasText() bool {
	return h != nil && hasText(h.Kind, h.ContentType)
}

// Registry creates, reads and revokes handles.
type Registry interface {
	Create(ctx context.Context, kind Kind, ticket, contentType string, data []byte) (*Handle, error)
	Open(ctx context.Context, h *Handle) ([]byte, error)
	Revoke(ctx context.Context, h *Handle) error
	Live() int
}

// StorageRegistry is a Registry that keeps payloads in an afs storage
// location, one object per handle.
type StorageRegistry struct {
	fs      afs.Service
	baseURL string

	mu   sync.Mutex
	live map[string]*Handle
}

// NewStorageRegistry creates a registry rooted at baseURL
// (DefaultHandleBaseURL when empty).
func NewStorageRegistry(baseURL string) *StorageRegistry {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultHandleBaseURL
	}
	return &StorageRegistry{
		fs:      afs.New(),
		baseURL: baseURL,
		live:    map[string]*Handle{},
	}
}

// Create stores data and returns a live handle to it.
func (r *StorageRegistry) Create(ctx context.Context, kind Kind, ticket, contentType string, data []byte) (*Handle, error) {
	id := newID()
	h := &Handle{
		ID:          id,
		Kind:        kind,
		Ticket:      ticket,
		ContentType: contentType,
		Size:        len(data),
		URL:         r.baseURL + "/" + id,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.fs.Upload(ctx, h.URL, 0600, bytes.NewReader(data)); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("store payload: %w", err))
	}

	r.mu.Lock()
	r.live[id] = h
	r.mu.Unlock()
	return h, nil
}

// Open returns the payload of a live handle.
func (r *StorageRegistry) Open(ctx context.Context, h *Handle) ([]byte, error) {
	if h == nil || !r.isLive(h.ID) {
		return nil, errors.NewNotFound("document is no longer available; load it again")
	}
	data, err := r.fs.DownloadWithURL(ctx, h.URL)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("read payload: %w", err))
	}
	return data, nil
}

// Revoke deletes the payload behind h. Revoking a nil or already revoked
// handle is a no-op.
func (r *StorageRegistry) Revoke(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}
	r.mu.Lock()
	_, ok := r.live[h.ID]
	delete(r.live, h.ID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	if err := r.fs.Delete(ctx, h.URL); err != nil {
		return errors.NewInternal(fmt.Errorf("revoke payload: %w", err))
	}
	return nil
}

// Live returns the number of handles not yet revoked.
func (r *StorageRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *StorageRegistry) isLive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}

func newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
