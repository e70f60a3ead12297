package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/efact/internal/document"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	Kind           string // rendered|structured|receipt or pdf|xml|cdr; default rendered
	Ticket         string // optional; keeps the session's ticket when empty
	IncludeContent bool   // also return the payload bytes
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	Kind    document.Kind    `json:"kind"`
	Ticket  string           `json:"ticket"`
	Handle  *document.Handle `json:"handle"`
	Text    string           `json:"text,omitempty"`
	Content []byte           `json:"-"`
}

// Fetch selects a kind, loads it for the ticket and returns the new handle.
func Fetch(ctx context.Context, sess *document.Session, input FetchInput) (*FetchOutput, error) {
	kind, err := document.ParseKind(input.Kind)
	if err != nil {
		return nil, err
	}
	if ticket := strings.TrimSpace(input.Ticket); ticket != "" {
		sess.SetTicket(ticket)
	}

	if err := sess.SelectKind(ctx, kind); err != nil {
		return nil, err
	}

	st := sess.State()
	output := &FetchOutput{
		Kind:   st.Kind,
		Ticket: st.Ticket,
		Handle: st.Handle,
		Text:   st.Text,
	}

	if input.IncludeContent {
		_, data, err := sess.Payload(ctx)
		if err != nil {
			return nil, err
		}
		output.Content = data
	}
	return output, nil
}
