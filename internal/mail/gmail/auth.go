package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
)

// Authenticator runs the OAuth authorization-code flow for Gmail
type Authenticator struct {
	config *oauth2.Config
}

// NewAuthenticator creates an authenticator for the given OAuth client
func NewAuthenticator(clientID, clientSecret, redirectURL string) *Authenticator {
	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{gmailapi.GmailModifyScope},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthCodeURL returns the consent page URL; offline access yields a refresh token
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

// Exchange trades an authorization code for a token
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// HTTPClient returns a client that refreshes tok as needed
func (a *Authenticator) HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client {
	return a.config.Client(ctx, tok)
}

// EncodeToken serializes a token for encrypted storage
func EncodeToken(tok *oauth2.Token) (string, error) {
	b, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("failed to encode token: %w", err)
	}
	return string(b), nil
}

// DecodeToken parses a stored token
func DecodeToken(s string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(s), &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}
