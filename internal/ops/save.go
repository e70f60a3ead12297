package ops

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"

	"github.com/hpungsan/efact/internal/document"
	"github.com/hpungsan/efact/internal/errors"
)

// SaveInput contains parameters for the Save operation.
type SaveInput struct {
	Path      string // optional, default: ./<ticket>-<kind>.<ext>
	Overwrite bool
}

// SaveOutput contains the result of the Save operation.
type SaveOutput struct {
	Path        string `json:"path"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
	SavedAt     int64  `json:"saved_at"`
}

// Save writes the session's live document to a local file.
func Save(ctx context.Context, sess *document.Session, input SaveInput) (*SaveOutput, error) {
	h, data, err := sess.Payload(ctx)
	if err != nil {
		return nil, err
	}

	path := input.Path
	if strings.TrimSpace(path) == "" {
		path = DefaultFileName(h)
	}
	if err := ValidateOutputPath(path, input.Overwrite); err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, errors.NewValidation(fmt.Sprintf("invalid path: %v", err))
	}

	if err := afs.New().Upload(ctx, absPath, 0600, bytes.NewReader(data)); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to write document: %w", err))
	}

	return &SaveOutput{
		Path:        absPath,
		Size:        len(data),
		ContentType: h.ContentType,
		SavedAt:     time.Now().Unix(),
	}, nil
}

// DefaultFileName names a download after its ticket and kind.
func DefaultFileName(h *document.Handle) string {
	return fmt.Sprintf("%s-%s%s", SanitizeForFilename(h.Ticket), h.Kind, extension(h))
}

func extension(h *document.Handle) string {
	mediaType, _, err := mime.ParseMediaType(h.ContentType)
	if err == nil {
		switch mediaType {
		case "application/pdf":
			return ".pdf"
		case "application/xml", "text/xml":
			return ".xml"
		case "application/zip", "application/x-zip-compressed":
			return ".zip"
		}
	}
	if h.Kind == document.Rendered {
		return ".pdf"
	}
	return ".xml"
}
