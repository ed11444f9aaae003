package adplatform

import (
	"context"
	"fmt"

	"github.com/ignite/conversion-sync/internal/conversions"
	"github.com/ignite/conversion-sync/internal/pkg/logger"
	"github.com/ignite/conversion-sync/internal/secrets"
)

// Provider builds an authenticated Client per run from the credential
// bundle.
type Provider struct {
	secrets secrets.Provider
	cfg     Config
}

// NewProvider returns a Provider reading credentials from sp.
func NewProvider(sp secrets.Provider, cfg Config) *Provider {
	return &Provider{secrets: sp, cfg: cfg}
}

// Fetch resolves identifier (a warehouse project) to its ad account and
// returns a client for it. Token refreshes for the returned client are
// bound to ctx.
func (p *Provider) Fetch(ctx context.Context, identifier string) (conversions.Client, error) {
	creds, err := p.secrets.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}
	account, err := creds.AccountID(identifier)
	if err != nil {
		return nil, err
	}

	cfg := p.cfg
	if cfg.LoginCustomerID == "" {
		cfg.LoginCustomerID = creds.OAuth.CustomerID
	}

	ts := TokenSource(ctx, creds.OAuth, cfg.TokenURL)
	httpClient := NewHTTPClient(ts, cfg.Timeout(), cfg.MaxRetries)

	logger.Info("adplatform: client ready", "project", identifier, "customer_id", account)
	return NewClient(httpClient, cfg, account, creds.OAuth.DeveloperToken), nil
}
