package credential

import (
	"context"
	stderrors "errors"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hpungsan/efact/internal/errors"
)

// Exchanger trades a username and password for a bearer token.
type Exchanger interface {
	Exchange(ctx context.Context, username, password string) (string, error)
}

// PasswordGrant is an Exchanger for the OAuth2 resource-owner password grant.
// The pre-shared client credential is not part of the form body; the HTTP
// client is expected to send it as a Basic Authorization header.
type PasswordGrant struct {
	config *oauth2.Config
	client *http.Client
}

// NewPasswordGrant creates a PasswordGrant posting to tokenURL through client.
func NewPasswordGrant(tokenURL string, client *http.Client) *PasswordGrant {
	if client == nil {
		client = http.DefaultClient
	}
	return &PasswordGrant{
		config: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

// Exchange implements Exchanger.
func (g *PasswordGrant) Exchange(ctx context.Context, username, password string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	token, err := g.config.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var rErr *oauth2.RetrieveError
		if stderrors.As(err, &rErr) && rErr.Response != nil {
			return "", &errors.HTTPError{
				Status:  rErr.Response.StatusCode,
				Message: retrieveMessage(rErr),
			}
		}
		return "", err
	}
	return token.AccessToken, nil
}

func retrieveMessage(rErr *oauth2.RetrieveError) string {
	if msg := errors.MessageFromBody(rErr.Body); msg != "" {
		return msg
	}
	return rErr.ErrorDescription
}
