package activation

import (
	"context"
	"log/slog"
	"time"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/catalog"
	"github.com/ocx/elevate/internal/iampolicy"
	"github.com/ocx/elevate/internal/model"
	"github.com/ocx/elevate/internal/policy"
)

// SignedToken is a serialized approval token.
type SignedToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// EntitlementCatalog is the slice of the catalog the activator needs.
type EntitlementCatalog interface {
	Options() catalog.Options
	VerifyUserCanActivate(ctx context.Context, user model.UserID,
		activationType model.ActivationType, bindings []model.ProjectRoleBinding) error
}

// BindingApplier commits a time-bounded binding to the IAM policy.
type BindingApplier interface {
	ApplyTemporaryBinding(ctx context.Context, project model.ProjectID, principal model.PrincipalRef,
		role string, start, end time.Time, reason string, opts iampolicy.Option) error
}

// TokenSigner serializes MPA requests into approval tokens.
type TokenSigner interface {
	Sign(ctx context.Context, r *Request) (*SignedToken, error)
}

// Notifier delivers activation events. CanSend reports whether at least one
// delivery channel is configured.
type Notifier interface {
	CanSend() bool
	RequestActivation(ctx context.Context, r *Request, approvalURL string, expiresAt time.Time) error
	ActivationApproved(ctx context.Context, r *Request, approver model.UserID, a *Activation) error
}

// Activator orchestrates the end-to-end activation of elevation requests.
type Activator struct {
	catalog        EntitlementCatalog
	justifications *policy.Justification
	mutator        BindingApplier
	signer         TokenSigner
	notifier       Notifier
	// approvalURL renders the reviewer-facing link for a signed token.
	approvalURL func(token string) string
	now         func() time.Time
}

func NewActivator(cat EntitlementCatalog, justifications *policy.Justification, mutator BindingApplier,
	signer TokenSigner, notifier Notifier, approvalURL func(token string) string) *Activator {
	return &Activator{
		catalog:        cat,
		justifications: justifications,
		mutator:        mutator,
		signer:         signer,
		notifier:       notifier,
		approvalURL:    approvalURL,
		now:            time.Now,
	}
}

// CreateJitRequest validates inputs and builds a self-approval request.
func (a *Activator) CreateJitRequest(user model.UserID, entitlements []model.ProjectRoleBinding,
	justification string, start time.Time, duration time.Duration) (*Request, error) {

	opts := a.catalog.Options()
	return NewJitRequest(user, entitlements, justification, start, duration,
		opts.ActivationDuration, opts.MaxJitRolesPerSelfApproval)
}

// CreateMpaRequest validates inputs and builds a peer-approval request. It
// fails up front when no notification channel could carry the approval
// request to the reviewers.
func (a *Activator) CreateMpaRequest(user model.UserID, entitlements []model.ProjectRoleBinding,
	reviewers []model.UserID, justification string, start time.Time, duration time.Duration) (*Request, error) {

	if a.notifier == nil || !a.notifier.CanSend() {
		return nil, apierr.New(apierr.FeatureNotAvailable,
			"multi-party approval requires a notification channel, none is configured")
	}
	opts := a.catalog.Options()
	return NewMpaRequest(user, entitlements, reviewers, justification, start, duration,
		opts.ActivationDuration, opts.MinReviewers, opts.MaxReviewers)
}

// RequestApproval signs the MPA request and notifies the reviewers with the
// approval link.
func (a *Activator) RequestApproval(ctx context.Context, r *Request) (*SignedToken, error) {
	if r.Type != model.ActivationMpa {
		return nil, apierr.New(apierr.InvalidArgument, "only multi-party requests need approval")
	}
	signed, err := a.signer.Sign(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := a.notifier.RequestActivation(ctx, r, a.approvalURL(signed.Token), signed.ExpiresAt); err != nil {
		return nil, err
	}
	return signed, nil
}

// Activate commits the request: eligibility check, justification check, one
// temporary binding per role. Prior temporary grants of the same (principal,
// role) are replaced. No rollback is attempted across roles; each apply is
// individually idempotent.
func (a *Activator) Activate(ctx context.Context, r *Request) (*Activation, error) {
	return a.activate(ctx, r, iampolicy.PurgeExistingTemporaryBindings)
}

// Approve commits an MPA request on behalf of a reviewer. The apply
// additionally fails on structurally identical existing bindings, which makes
// token replays harmless.
func (a *Activator) Approve(ctx context.Context, approver model.UserID, r *Request) (*Activation, error) {
	if r.Type != model.ActivationMpa {
		return nil, apierr.New(apierr.InvalidArgument, "only multi-party requests can be approved")
	}
	if approver.Equal(r.RequestingUser) {
		return nil, apierr.New(apierr.AccessDenied, "cannot approve own request")
	}
	if !r.ReviewedBy(approver) {
		return nil, apierr.New(apierr.AccessDenied, "%s is not a reviewer of this request", approver)
	}

	act, err := a.activate(ctx, r,
		iampolicy.PurgeExistingTemporaryBindings|iampolicy.FailIfBindingExists)
	if err != nil {
		return nil, err
	}
	if a.notifier != nil {
		if err := a.notifier.ActivationApproved(ctx, r, approver, act); err != nil {
			// The grant is already committed; a lost notification must not
			// fail the approval.
			slog.Warn("approval notification failed", "request", r.ID, "error", err)
		}
	}
	return act, nil
}

func (a *Activator) activate(ctx context.Context, r *Request, opts iampolicy.Option) (*Activation, error) {
	if err := a.catalog.VerifyUserCanActivate(ctx, r.RequestingUser, r.Type, r.Entitlements); err != nil {
		return nil, err
	}
	if err := a.justifications.Check(r.Justification, r.RequestingUser); err != nil {
		return nil, err
	}

	principal := model.UserPrincipal(r.RequestingUser)
	for _, binding := range r.Entitlements {
		err := a.mutator.ApplyTemporaryBinding(ctx, binding.Project, principal, binding.Role,
			r.StartTime, r.EndTime, r.Justification, opts)
		if err != nil {
			return nil, err
		}
	}
	return &Activation{Request: r, ActivationTime: a.now()}, nil
}
