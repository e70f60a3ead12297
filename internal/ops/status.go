package ops

import (
	"github.com/hpungsan/efact/internal/document"
)

// StatusOutput describes a session without touching the network.
type StatusOutput struct {
	Session       string           `json:"session,omitempty"`
	Authenticated bool             `json:"authenticated"`
	Kind          document.Kind    `json:"kind"`
	Ticket        string           `json:"ticket,omitempty"`
	Error         string           `json:"error,omitempty"`
	Handle        *document.Handle `json:"handle,omitempty"`
}

// Status reports whether sess holds a credential and what it last loaded.
func Status(sessionID string, sess *document.Session) *StatusOutput {
	st := sess.State()
	return &StatusOutput{
		Session:       sessionID,
		Authenticated: sess.Authenticated(),
		Kind:          st.Kind,
		Ticket:        st.Ticket,
		Error:         st.Error,
		Handle:        st.Handle,
	}
}
