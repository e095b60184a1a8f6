package clients

import (
	"context"
	"fmt"

	iamcredentials "google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"github.com/ocx/elevate/internal/apierr"
)

const jwksURLPrefix = "https://www.googleapis.com/service_accounts/v1/jwk/"

// IAMCredentials implements JwtSigner on the IAM Credentials API. The
// service-account key never leaves the platform; SignJwt returns the complete
// RS256 JWT.
type IAMCredentials struct {
	svc *iamcredentials.Service
}

func NewIAMCredentials(ctx context.Context, opts ...option.ClientOption) (*IAMCredentials, error) {
	svc, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("iamcredentials: %w", err)
	}
	return &IAMCredentials{svc: svc}, nil
}

func (c *IAMCredentials) SignJwt(ctx context.Context, serviceAccount string, payload []byte) (string, error) {
	name := "projects/-/serviceAccounts/" + serviceAccount
	resp, err := c.svc.Projects.ServiceAccounts.SignJwt(name, &iamcredentials.SignJwtRequest{
		Payload: string(payload),
	}).Context(ctx).Do()
	if err != nil {
		return "", apierr.FromGoogleAPI(err, "signing as %s failed", serviceAccount)
	}
	return resp.SignedJwt, nil
}

func (c *IAMCredentials) JwksURL(serviceAccount string) string {
	return jwksURLPrefix + serviceAccount
}

// SelfCheck signs a probe payload to confirm the service can use the signing
// identity.
func (c *IAMCredentials) SelfCheck(ctx context.Context, serviceAccount string) error {
	_, err := c.SignJwt(ctx, serviceAccount, []byte(`{"probe":true}`))
	return err
}
