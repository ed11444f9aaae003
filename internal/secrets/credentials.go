// Package secrets loads the ad-platform credential bundle.
//
// The bundle is a JSON document with one account per warehouse project and
// a single OAuth credential block:
//
//	{
//	  "project_id": {"analytics": {"account_id": "1234567890"}},
//	  "credentials": {
//	    "developer_token": "...", "client_id": "...", "client_secret": "...",
//	    "refresh_token": "...", "customer_id": "...", "redirect_uri": "..."
//	  }
//	}
//
// Providers fetch it from AWS Secrets Manager or from the environment.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for credential loading.
var (
	ErrMissingKeys    = errors.New("credentials missing required keys")
	ErrUnknownProject = errors.New("no account configured for project")
)

// Provider fetches the credential bundle.
type Provider interface {
	Credentials(ctx context.Context) (*Credentials, error)
}

// Project holds the ad account a warehouse project uploads to.
type Project struct {
	AccountID string `json:"account_id"`
}

// OAuth is the shared API credential block.
type OAuth struct {
	DeveloperToken string `json:"developer_token"`
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	RefreshToken   string `json:"refresh_token"`
	CustomerID     string `json:"customer_id"`
	RedirectURI    string `json:"redirect_uri"`
}

// Credentials is the parsed bundle.
type Credentials struct {
	Projects map[string]Project `json:"project_id"`
	OAuth    OAuth              `json:"credentials"`
}

// MissingKeysError lists every absent key by its JSON path.
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingKeys, strings.Join(e.Keys, ", "))
}

func (e *MissingKeysError) Unwrap() error { return ErrMissingKeys }

// Parse decodes and validates a credential bundle.
func Parse(data []byte) (*Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every missing key at once.
func (c *Credentials) Validate() error {
	var missing []string
	if len(c.Projects) == 0 {
		missing = append(missing, "project_id")
	}
	for name, p := range c.Projects {
		if p.AccountID == "" {
			missing = append(missing, "project_id."+name+".account_id")
		}
	}
	for _, f := range []struct{ key, v string }{
		{"developer_token", c.OAuth.DeveloperToken},
		{"client_id", c.OAuth.ClientID},
		{"client_secret", c.OAuth.ClientSecret},
		{"refresh_token", c.OAuth.RefreshToken},
		{"customer_id", c.OAuth.CustomerID},
	} {
		if f.v == "" {
			missing = append(missing, "credentials."+f.key)
		}
	}
	if len(missing) > 0 {
		return &MissingKeysError{Keys: missing}
	}
	return nil
}

// AccountID returns the ad account for a project. Dashes are stripped so
// "123-456-7890" and "1234567890" are equivalent.
func (c *Credentials) AccountID(project string) (string, error) {
	p, ok := c.Projects[project]
	if !ok {
		p, ok = c.Projects[strings.ToLower(project)]
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProject, project)
	}
	return strings.ReplaceAll(p.AccountID, "-", ""), nil
}
