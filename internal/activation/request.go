// Package activation models elevation requests and orchestrates turning them
// into time-bounded IAM grants.
package activation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

// MinDuration is the floor on any activation window.
const MinDuration = time.Minute

// Request is an immutable elevation request. JIT requests are self-approved;
// MPA requests carry the reviewers who may approve them and live only inside
// signed tokens.
type Request struct {
	ID             string
	Type           model.ActivationType
	RequestingUser model.UserID
	Entitlements   []model.ProjectRoleBinding
	Reviewers      []model.UserID // MPA only
	Justification  string
	StartTime      time.Time
	EndTime        time.Time
}

// Equal compares by id.
func (r *Request) Equal(other *Request) bool {
	return r != nil && other != nil && r.ID == other.ID
}

func (r *Request) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// Activation records a committed request. It is ephemeral; the IAM policy is
// the durable state.
type Activation struct {
	Request        *Request
	ActivationTime time.Time
}

func newRequestID(t model.ActivationType) string {
	prefix := "jit"
	if t == model.ActivationMpa {
		prefix = "mpa"
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func checkWindow(start time.Time, duration, ceiling time.Duration) error {
	if duration < MinDuration {
		return apierr.New(apierr.InvalidArgument, "activation must last at least %s", MinDuration)
	}
	if duration > ceiling {
		return apierr.New(apierr.InvalidArgument, "activation must not exceed %s", ceiling)
	}
	if start.IsZero() {
		return apierr.New(apierr.InvalidArgument, "start time is required")
	}
	return nil
}

// NewJitRequest builds a self-approval request. All entitlements must belong
// to the same project.
func NewJitRequest(user model.UserID, entitlements []model.ProjectRoleBinding,
	justification string, start time.Time, duration, ceiling time.Duration, maxRoles int) (*Request, error) {

	if len(entitlements) == 0 {
		return nil, apierr.New(apierr.InvalidArgument, "at least one role is required")
	}
	if len(entitlements) > maxRoles {
		return nil, apierr.New(apierr.InvalidArgument, "at most %d roles may be activated at once", maxRoles)
	}
	project := entitlements[0].Project
	seen := map[model.ProjectRoleBinding]struct{}{}
	for _, e := range entitlements {
		if e.Project != project {
			return nil, apierr.New(apierr.InvalidArgument, "all roles must belong to project %s", project)
		}
		if _, dup := seen[e]; dup {
			return nil, apierr.New(apierr.InvalidArgument, "duplicate role %s", e)
		}
		seen[e] = struct{}{}
	}
	if err := checkWindow(start, duration, ceiling); err != nil {
		return nil, err
	}
	return &Request{
		ID:             newRequestID(model.ActivationJit),
		Type:           model.ActivationJit,
		RequestingUser: user,
		Entitlements:   entitlements,
		Justification:  justification,
		StartTime:      start,
		EndTime:        start.Add(duration),
	}, nil
}

// NewMpaRequest builds a peer-approval request. Exactly one role; reviewer
// count within [min, max]; the requesting user is never a reviewer.
func NewMpaRequest(user model.UserID, entitlements []model.ProjectRoleBinding, reviewers []model.UserID,
	justification string, start time.Time, duration, ceiling time.Duration, minReviewers, maxReviewers int) (*Request, error) {

	if len(entitlements) != 1 {
		return nil, apierr.New(apierr.InvalidArgument, "multi-party approval covers exactly one role per request")
	}
	if err := checkWindow(start, duration, ceiling); err != nil {
		return nil, err
	}

	unique := map[string]model.UserID{}
	for _, reviewer := range reviewers {
		if reviewer.Equal(user) {
			return nil, apierr.New(apierr.InvalidArgument, "the requesting user cannot review their own request")
		}
		unique[reviewer.Email] = reviewer
	}
	if len(unique) < minReviewers {
		return nil, apierr.New(apierr.InvalidArgument, "at least %d reviewers are required", minReviewers)
	}
	if len(unique) > maxReviewers {
		return nil, apierr.New(apierr.InvalidArgument, "at most %d reviewers are allowed", maxReviewers)
	}
	deduped := make([]model.UserID, 0, len(unique))
	for _, reviewer := range unique {
		deduped = append(deduped, reviewer)
	}

	return &Request{
		ID:             newRequestID(model.ActivationMpa),
		Type:           model.ActivationMpa,
		RequestingUser: user,
		Entitlements:   entitlements,
		Reviewers:      deduped,
		Justification:  justification,
		StartTime:      start,
		EndTime:        start.Add(duration),
	}, nil
}

// ReviewedBy reports whether the user is one of the request's reviewers.
func (r *Request) ReviewedBy(user model.UserID) bool {
	for _, reviewer := range r.Reviewers {
		if reviewer.Equal(user) {
			return true
		}
	}
	return false
}
