package document

import (
	"context"
	"io"
	"math"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/hpungsan/efact/internal/errors"
)

// errorBodyLimit bounds how much of a failed response is read for a message.
const errorBodyLimit = 64 << 10

func (s *Session) fetch(ctx context.Context, locator, token string, kind Kind) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, "", errors.NewInternal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.doer.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, "", &errors.HTTPError{
			Status:  resp.StatusCode,
			Message: errors.MessageFromBody(body),
		}
	}

	// one byte past the cap tells an oversized body from an exact fit
	limit := s.maxBytes
	if limit < math.MaxInt64 {
		limit++
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > s.maxBytes {
		return nil, "", errors.NewDocumentTooLarge(string(kind), s.maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// binaryTypes are media types never shown as text, whatever the kind.
var binaryTypes = map[string]bool{
	"application/pdf":              true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/octet-stream":     true,
}

// hasText reports whether a payload of kind with contentType is decoded as
// text. Receipts are often delivered zipped.
func hasText(kind Kind, contentType string) bool {
	if !kind.HasText() {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return true
	}
	return !binaryTypes[mediaType]
}

// decodeText returns data as UTF-8 text without a byte order mark. A UTF-16
// BOM switches the decoding to UTF-16; invalid sequences become U+FFFD.
func decodeText(data []byte) string {
	dec := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	text, _, err := transform.Bytes(dec, data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "\uFFFD")
	}
	return string(text)
}
