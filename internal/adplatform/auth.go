package adplatform

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ignite/conversion-sync/internal/pkg/httpretry"
	"github.com/ignite/conversion-sync/internal/secrets"
)

// Scope is the OAuth scope for the ads API.
const Scope = "https://www.googleapis.com/auth/adwords"

// TokenSource exchanges the stored refresh token for access tokens and
// caches them until they expire.
func TokenSource(ctx context.Context, creds secrets.OAuth, tokenURL string) oauth2.TokenSource {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURI,
		Scopes:       []string{Scope},
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
}

// NewHTTPClient returns a retrying client that authorizes every request
// with a token from ts.
func NewHTTPClient(ts oauth2.TokenSource, timeout time.Duration, maxRetries int) *httpretry.RetryClient {
	base := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   http.DefaultTransport,
		},
	}
	return httpretry.NewRetryClient(base, maxRetries)
}
