package ops

import (
	"context"

	"github.com/hpungsan/efact/internal/document"
)

// LogoutOutput contains the result of the Logout operation.
type LogoutOutput struct {
	LoggedOut bool   `json:"logged_out"`
	Message   string `json:"message"`
}

// Logout clears the credential and discards any loaded document.
func Logout(ctx context.Context, sess *document.Session) (*LogoutOutput, error) {
	if err := sess.Logout(ctx); err != nil {
		return nil, err
	}
	return &LogoutOutput{
		LoggedOut: true,
		Message:   "Logged out",
	}, nil
}
