// Package catalog discovers which roles a user may elevate into. Discovery
// reads the IAM policy surface through one of two repository backends and is
// wrapped by the Catalog, which layers the configured policy options on top.
package catalog

import (
	"context"
	"sort"

	"github.com/ocx/elevate/internal/model"
)

// Repository derives eligible and active role bindings from raw IAM policy
// data.
type Repository interface {
	// FindProjectsWithEntitlements lists the projects where the user holds
	// at least one eligible binding, sorted by id.
	FindProjectsWithEntitlements(ctx context.Context, user model.UserID) ([]model.ProjectID, error)

	// FindEntitlements returns the user's eligible and active bindings on
	// the project, restricted to the requested activation types and
	// statuses.
	FindEntitlements(ctx context.Context, user model.UserID, project model.ProjectID,
		types []model.ActivationType, statuses []model.EntitlementStatus) (*model.EntitlementSet, error)

	// FindEntitlementHolders returns the users who hold the binding with
	// the given activation type, i.e. the candidate approvers for MPA.
	FindEntitlementHolders(ctx context.Context, binding model.ProjectRoleBinding,
		activationType model.ActivationType) ([]model.UserID, error)
}

func typeRequested(types []model.ActivationType, t model.ActivationType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func statusRequested(statuses []model.EntitlementStatus, s model.EntitlementStatus) bool {
	for _, x := range statuses {
		if x == s {
			return true
		}
	}
	return false
}

func sortProjects(ids map[model.ProjectID]struct{}) []model.ProjectID {
	out := make([]model.ProjectID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortUsers(users map[string]model.UserID) []model.UserID {
	out := make([]model.UserID, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

// eligibilitySets accumulates discovery results keyed by binding; the JIT set
// takes precedence over the MPA set for the same binding.
type eligibilitySets struct {
	jit    map[model.ProjectRoleBinding]struct{}
	mpa    map[model.ProjectRoleBinding]struct{}
	active map[model.ProjectRoleBinding]struct{}
}

func newEligibilitySets() *eligibilitySets {
	return &eligibilitySets{
		jit:    map[model.ProjectRoleBinding]struct{}{},
		mpa:    map[model.ProjectRoleBinding]struct{}{},
		active: map[model.ProjectRoleBinding]struct{}{},
	}
}

// toEntitlementSet applies JIT-over-MPA precedence and the requested type and
// status filters, then sorts.
func (s *eligibilitySets) toEntitlementSet(types []model.ActivationType,
	statuses []model.EntitlementStatus, warnings []string) *model.EntitlementSet {

	out := &model.EntitlementSet{Warnings: warnings}

	if statusRequested(statuses, model.StatusAvailable) {
		if typeRequested(types, model.ActivationJit) {
			for b := range s.jit {
				out.Available = append(out.Available, model.Entitlement{
					Binding: b, Name: b.String(),
					Type: model.ActivationJit, Status: model.StatusAvailable,
				})
			}
		}
		if typeRequested(types, model.ActivationMpa) {
			for b := range s.mpa {
				if _, jit := s.jit[b]; jit {
					// JIT wins for the same binding.
					continue
				}
				out.Available = append(out.Available, model.Entitlement{
					Binding: b, Name: b.String(),
					Type: model.ActivationMpa, Status: model.StatusAvailable,
				})
			}
		}
	}
	if statusRequested(statuses, model.StatusActive) {
		for b := range s.active {
			out.Active = append(out.Active, b)
		}
		sort.Slice(out.Active, func(i, j int) bool {
			return out.Active[i].String() < out.Active[j].String()
		})
	}

	model.SortEntitlements(out.Available)
	return out
}
