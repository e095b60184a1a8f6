package clients

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"

	"github.com/ocx/elevate/internal/apierr"
)

// SecretManager implements SecretStore on the Secret Manager API.
type SecretManager struct {
	svc *secretmanager.Service
}

func NewSecretManager(ctx context.Context, opts ...option.ClientOption) (*SecretManager, error) {
	svc, err := secretmanager.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secretmanager: %w", err)
	}
	return &SecretManager{svc: svc}, nil
}

// AccessSecret reads a secret version,
// e.g. projects/p/secrets/smtp/versions/latest.
func (s *SecretManager) AccessSecret(ctx context.Context, secretPath string) ([]byte, error) {
	resp, err := s.svc.Projects.Secrets.Versions.Access(secretPath).Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "secret %s not accessible", secretPath)
	}
	if resp.Payload == nil {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "secret %s payload malformed", secretPath)
	}
	return data, nil
}
