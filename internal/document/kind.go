package document

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hpungsan/efact/internal/errors"
)

// Kind is the document variant requested for a ticket.
type Kind string

const (
	Rendered   Kind = "rendered"   // printable document, usually PDF
	Structured Kind = "structured" // signed XML source
	Receipt    Kind = "receipt"    // confirmation receipt
)

// DefaultKind is used when no kind has been selected.
const DefaultKind = Rendered

// Kinds lists every kind in display order.
func Kinds() []Kind {
	return []Kind{Rendered, Structured, Receipt}
}

var aliases = map[string]Kind{
	"rendered":   Rendered,
	"pdf":        Rendered,
	"structured": Structured,
	"xml":        Structured,
	"receipt":    Receipt,
	"cdr":        Receipt,
}

// ParseKind accepts a kind name or one of its short aliases (pdf, xml, cdr).
// An empty string yields DefaultKind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultKind, nil
	}
	if k, ok := aliases[s]; ok {
		return k, nil
	}
	return "", errors.NewValidation(fmt.Sprintf("unknown document kind %q; use rendered, structured or receipt", s))
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Rendered, Structured, Receipt:
		return true
	}
	return false
}

// HasText reports whether payloads of this kind can be shown as text.
func (k Kind) HasText() bool {
	return k == Structured || k == Receipt
}

func (k Kind) orDefault() Kind {
	if k.Valid() {
		return k
	}
	return DefaultKind
}

// Endpoints holds the base URL of each kind's document service.
type Endpoints struct {
	Rendered   string
	Structured string
	Receipt    string
}

// Resolve returns the locator for ticket under kind's endpoint. An unknown
// kind resolves as DefaultKind.
func (e Endpoints) Resolve(kind Kind, ticket string) (string, error) {
	var base string
	kind = kind.orDefault()
	switch kind {
	case Structured:
		base = e.Structured
	case Receipt:
		base = e.Receipt
	default:
		base = e.Rendered
	}
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.NewValidation(fmt.Sprintf("no endpoint configured for %s documents", kind))
	}
	return base + "/" + url.PathEscape(strings.TrimSpace(ticket)), nil
}
