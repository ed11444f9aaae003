package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys read by Env.
const (
	EnvBundle         = "ADS_CREDENTIALS_JSON"
	EnvDeveloperToken = "ADS_DEVELOPER_TOKEN"
	EnvClientID       = "ADS_CLIENT_ID"
	EnvClientSecret   = "ADS_CLIENT_SECRET"
	EnvRefreshToken   = "ADS_REFRESH_TOKEN"
	EnvCustomerID     = "ADS_CUSTOMER_ID"
	EnvRedirectURI    = "ADS_REDIRECT_URI"
	// EnvAccountPrefix + upper-cased project name holds that project's account id.
	EnvAccountPrefix = "ADS_ACCOUNT_"
)

// Env builds the bundle from environment variables, optionally layered
// over a dotenv file. A full JSON bundle in ADS_CREDENTIALS_JSON wins over
// the individual keys.
type Env struct {
	// Path is an optional dotenv file. Process variables override it.
	Path string
}

// Credentials reads and validates the bundle.
func (e Env) Credentials(_ context.Context) (*Credentials, error) {
	vars := map[string]string{}
	if e.Path != "" {
		fileVars, err := godotenv.Read(e.Path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path, err)
		}
		vars = fileVars
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "ADS_") {
			vars[k] = v
		}
	}
	return fromVars(vars)
}

func fromVars(vars map[string]string) (*Credentials, error) {
	if bundle := vars[EnvBundle]; bundle != "" {
		return Parse([]byte(bundle))
	}

	c := &Credentials{
		Projects: map[string]Project{},
		OAuth: OAuth{
			DeveloperToken: vars[EnvDeveloperToken],
			ClientID:       vars[EnvClientID],
			ClientSecret:   vars[EnvClientSecret],
			RefreshToken:   vars[EnvRefreshToken],
			CustomerID:     vars[EnvCustomerID],
			RedirectURI:    vars[EnvRedirectURI],
		},
	}
	for k, v := range vars {
		if project, ok := strings.CutPrefix(k, EnvAccountPrefix); ok && project != "" {
			c.Projects[strings.ToLower(project)] = Project{AccountID: v}
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
