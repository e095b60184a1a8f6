// Package token serializes MPA requests into signed, audience-scoped JWTs
// and verifies inbound approval tokens. Signing happens remotely through the
// IAM credentials collaborator; verification uses the signing account's
// published JWKS.
package token

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ocx/elevate/internal/activation"
	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/model"
)

const (
	claimBeneficiary   = "beneficiary"
	claimReviewers     = "reviewers"
	claimJustification = "justification"
	claimRole          = "role"
	claimResource      = "resource"
	claimStart         = "start"
	claimEnd           = "end"
)

// KeySetProvider yields the key set tokens are verified against.
type KeySetProvider interface {
	KeySet(ctx context.Context) (jwk.Set, error)
}

// jwksProvider caches the signing account's published JWKS.
type jwksProvider struct {
	cache *jwk.Cache
	url   string
}

func (p *jwksProvider) KeySet(ctx context.Context) (jwk.Set, error) {
	return p.cache.Get(ctx, p.url)
}

// Signer signs and verifies approval tokens for one signing identity.
type Signer struct {
	signer         clients.JwtSigner
	serviceAccount string
	audience       string
	keys           KeySetProvider
	now            func() time.Time
}

// NewSigner wires the remote signer and a JWKS cache for its public keys.
func NewSigner(ctx context.Context, signer clients.JwtSigner, serviceAccount, audience string) (*Signer, error) {
	cache := jwk.NewCache(ctx, jwk.WithRefreshWindow(time.Hour))
	url := signer.JwksURL(serviceAccount)
	if err := cache.Register(url); err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot register JWKS URL %s", url)
	}
	return &Signer{
		signer:         signer,
		serviceAccount: serviceAccount,
		audience:       audience,
		keys:           &jwksProvider{cache: cache, url: url},
		now:            time.Now,
	}, nil
}

// NewSignerWithKeys injects a key set directly; used by tests and offline
// verification tooling.
func NewSignerWithKeys(signer clients.JwtSigner, serviceAccount, audience string, keys KeySetProvider) *Signer {
	return &Signer{
		signer:         signer,
		serviceAccount: serviceAccount,
		audience:       audience,
		keys:           keys,
		now:            time.Now,
	}
}

// Sign encodes an MPA request as an RS256 JWT. The token expires when the
// requested activation window ends.
func (s *Signer) Sign(ctx context.Context, r *activation.Request) (*activation.SignedToken, error) {
	if r.Type != model.ActivationMpa {
		return nil, apierr.New(apierr.InvalidArgument, "only multi-party requests are signed")
	}
	if len(r.Entitlements) != 1 {
		return nil, apierr.New(apierr.InvalidArgument, "request must carry exactly one role")
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	reviewers := make([]string, 0, len(r.Reviewers))
	for _, reviewer := range r.Reviewers {
		reviewers = append(reviewers, reviewer.Email)
	}
	binding := r.Entitlements[0]

	claims := map[string]interface{}{
		jwt.IssuerKey:      s.serviceAccount,
		jwt.AudienceKey:    s.audience,
		jwt.IssuedAtKey:    issuedAt.Unix(),
		jwt.ExpirationKey:  r.EndTime.Unix(),
		jwt.JwtIDKey:       r.ID,
		claimBeneficiary:   r.RequestingUser.Email,
		claimReviewers:     reviewers,
		claimJustification: r.Justification,
		claimRole:          binding.Role,
		claimResource:      binding.Resource(),
		claimStart:         r.StartTime.Unix(),
		claimEnd:           r.EndTime.Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot serialize request %s", r.ID)
	}

	signed, err := s.signer.SignJwt(ctx, s.serviceAccount, payload)
	if err != nil {
		return nil, err
	}
	return &activation.SignedToken{
		Token:     signed,
		IssuedAt:  issuedAt,
		ExpiresAt: r.EndTime,
	}, nil
}

// Verify validates an inbound approval token and reconstructs the request it
// carries. Any signature, audience or expiry mismatch yields InvalidToken.
func (s *Signer) Verify(ctx context.Context, expectedAudience, rawToken string) (*activation.Request, error) {
	set, err := s.keys.KeySet(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, err, "cannot fetch verification keys")
	}

	tok, err := jwt.Parse([]byte(rawToken),
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(s.now)),
		jwt.WithIssuer(s.serviceAccount),
		jwt.WithAudience(expectedAudience),
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidToken, err, "approval token rejected")
	}

	beneficiary, err := stringClaim(tok, claimBeneficiary)
	if err != nil {
		return nil, err
	}
	role, err := stringClaim(tok, claimRole)
	if err != nil {
		return nil, err
	}
	resource, err := stringClaim(tok, claimResource)
	if err != nil {
		return nil, err
	}
	justification, err := stringClaim(tok, claimJustification)
	if err != nil {
		return nil, err
	}
	start, err := epochClaim(tok, claimStart)
	if err != nil {
		return nil, err
	}
	end, err := epochClaim(tok, claimEnd)
	if err != nil {
		return nil, err
	}
	reviewers, err := reviewerClaim(tok)
	if err != nil {
		return nil, err
	}

	binding, err := model.NewProjectRoleBinding(resource, role)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidToken, err, "approval token carries a bad resource")
	}

	return &activation.Request{
		ID:             tok.JwtID(),
		Type:           model.ActivationMpa,
		RequestingUser: model.UserID{Email: beneficiary},
		Entitlements:   []model.ProjectRoleBinding{binding},
		Reviewers:      reviewers,
		Justification:  justification,
		StartTime:      time.Unix(start, 0).UTC(),
		EndTime:        time.Unix(end, 0).UTC(),
	}, nil
}

func stringClaim(tok jwt.Token, name string) (string, error) {
	v, ok := tok.Get(name)
	if !ok {
		return "", apierr.New(apierr.InvalidToken, "approval token lacks %s", name)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", apierr.New(apierr.InvalidToken, "approval token claim %s malformed", name)
	}
	return s, nil
}

func epochClaim(tok jwt.Token, name string) (int64, error) {
	v, ok := tok.Get(name)
	if !ok {
		return 0, apierr.New(apierr.InvalidToken, "approval token lacks %s", name)
	}
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, apierr.Wrap(apierr.InvalidToken, err, "approval token claim %s malformed", name)
		}
		return i, nil
	}
	return 0, apierr.New(apierr.InvalidToken, "approval token claim %s malformed", name)
}

func reviewerClaim(tok jwt.Token) ([]model.UserID, error) {
	v, ok := tok.Get(claimReviewers)
	if !ok {
		return nil, apierr.New(apierr.InvalidToken, "approval token lacks reviewers")
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, apierr.New(apierr.InvalidToken, "approval token reviewers malformed")
	}
	out := make([]model.UserID, 0, len(raw))
	for _, entry := range raw {
		email, ok := entry.(string)
		if !ok || email == "" {
			return nil, apierr.New(apierr.InvalidToken, "approval token reviewers malformed")
		}
		out = append(out, model.UserID{Email: email})
	}
	return out, nil
}

// Obfuscate substitutes the JWT's dot separators so tokens do not look like
// credentials in query strings and mail logs.
func Obfuscate(token string) string {
	return strings.ReplaceAll(token, ".", "~")
}

// Deobfuscate is the inverse of Obfuscate.
func Deobfuscate(token string) string {
	return strings.ReplaceAll(token, "~", ".")
}
