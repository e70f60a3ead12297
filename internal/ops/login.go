package ops

import (
	"context"

	"github.com/hpungsan/efact/internal/document"
)

// LoginInput contains parameters for the Login operation.
type LoginInput struct {
	Username string
	Password string
}

// LoginOutput contains the result of the Login operation.
type LoginOutput struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
}

// Login exchanges the credentials for a token and stores it in the session.
func Login(ctx context.Context, sess *document.Session, input LoginInput) (*LoginOutput, error) {
	if err := sess.Authenticate(ctx, input.Username, input.Password); err != nil {
		return nil, err
	}
	return &LoginOutput{
		Authenticated: true,
		Message:       "Logged in",
	}, nil
}
