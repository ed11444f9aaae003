package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundle = `{
  "project_id": {"analytics": {"account_id": "123-456-7890"}},
  "credentials": {
    "developer_token": "dev-token",
    "client_id": "client.apps.example.com",
    "client_secret": "shh",
    "refresh_token": "1//refresh",
    "customer_id": "9876543210",
    "redirect_uri": "urn:ietf:wg:oauth:2.0:oob"
  }
}`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(bundle))
	require.NoError(t, err)

	assert.Equal(t, "dev-token", c.OAuth.DeveloperToken)
	assert.Equal(t, "9876543210", c.OAuth.CustomerID)

	acct, err := c.AccountID("analytics")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", acct)

	acct, err = c.AccountID("ANALYTICS")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", acct)

	_, err = c.AccountID("marketing")
	assert.ErrorIs(t, err, ErrUnknownProject)
}

func TestParseReportsMissingKeysByName(t *testing.T) {
	_, err := Parse([]byte(`{"project_id": {"analytics": {}}, "credentials": {"client_id": "x"}}`))
	require.ErrorIs(t, err, ErrMissingKeys)

	var mk *MissingKeysError
	require.True(t, errors.As(err, &mk))
	assert.ElementsMatch(t, []string{
		"project_id.analytics.account_id",
		"credentials.developer_token",
		"credentials.client_secret",
		"credentials.refresh_token",
		"credentials.customer_id",
	}, mk.Keys)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingKeys)
}

type fakeSecrets struct {
	out *secretsmanager.GetSecretValueOutput
	err error
	id  string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.id = aws.ToString(in.SecretId)
	return f.out, f.err
}

func TestSecretsManager(t *testing.T) {
	fake := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(bundle)}}
	c, err := NewSecretsManager(fake, "prod/conversion-sync").Credentials(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "prod/conversion-sync", fake.id)
	assert.Equal(t, "shh", c.OAuth.ClientSecret)
}

func TestSecretsManagerBinaryAndErrors(t *testing.T) {
	fake := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte(bundle)}}
	_, err := NewSecretsManager(fake, "s").Credentials(context.Background())
	require.NoError(t, err)

	fake = &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{}}
	_, err = NewSecretsManager(fake, "s").Credentials(context.Background())
	assert.ErrorContains(t, err, "no value")

	fake = &fakeSecrets{err: errors.New("AccessDeniedException")}
	_, err = NewSecretsManager(fake, "s").Credentials(context.Background())
	assert.ErrorContains(t, err, "AccessDeniedException")
}

func TestEnvFromDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ads.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"ADS_DEVELOPER_TOKEN=dev\n"+
			"ADS_CLIENT_ID=cid\n"+
			"ADS_CLIENT_SECRET=secret\n"+
			"ADS_REFRESH_TOKEN=refresh\n"+
			"ADS_CUSTOMER_ID=111\n"+
			"ADS_ACCOUNT_ANALYTICS=222\n"), 0o600))
	t.Setenv(EnvClientSecret, "from-process")

	c, err := Env{Path: path}.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-process", c.OAuth.ClientSecret, "process env overrides the file")

	acct, err := c.AccountID("analytics")
	require.NoError(t, err)
	assert.Equal(t, "222", acct)
}

func TestEnvBundleWins(t *testing.T) {
	c, err := fromVars(map[string]string{
		EnvBundle:         bundle,
		EnvDeveloperToken: "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-token", c.OAuth.DeveloperToken)
}

func TestEnvMissingKeys(t *testing.T) {
	_, err := fromVars(map[string]string{EnvClientID: "x"})
	var mk *MissingKeysError
	require.ErrorAs(t, err, &mk)
	assert.Contains(t, mk.Keys, "project_id")
}
