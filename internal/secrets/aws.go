package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, opts ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManager reads the bundle from one AWS Secrets Manager secret.
type SecretsManager struct {
	client   SecretsAPI
	secretID string
}

// NewSecretsManager returns a provider for secretID.
func NewSecretsManager(client SecretsAPI, secretID string) *SecretsManager {
	return &SecretsManager{client: client, secretID: secretID}
}

// NewSecretsManagerFromConfig builds the AWS client from cfg.
func NewSecretsManagerFromConfig(cfg aws.Config, secretID string) *SecretsManager {
	return NewSecretsManager(secretsmanager.NewFromConfig(cfg), secretID)
}

// Credentials fetches the latest version of the secret.
func (s *SecretsManager) Credentials(ctx context.Context) (*Credentials, error) {
	out, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("secrets manager %s: %w", s.secretID, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return nil, fmt.Errorf("secrets manager %s: secret has no value", s.secretID)
	}

	creds, err := Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("secrets manager %s: %w", s.secretID, err)
	}
	return creds, nil
}
