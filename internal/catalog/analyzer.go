package catalog

import (
	"context"
	"time"

	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// projectDiscoveryPermission is the minimal permission that makes a project
// visible to its eligible users.
const projectDiscoveryPermission = "resourcemanager.projects.get"

// conditionalEvaluation is the analyzer verdict on sentinel markers: the
// pseudo expression can never be decided, so eligible bindings always come
// back CONDITIONAL.
const conditionalEvaluation = "CONDITIONAL"

// AnalyzerRepository derives entitlements from the policy-analysis API.
type AnalyzerRepository struct {
	analyzer clients.PolicyAnalyzer
	scope    string
	now      func() time.Time
}

func NewAnalyzerRepository(analyzer clients.PolicyAnalyzer, scope string) *AnalyzerRepository {
	return &AnalyzerRepository{analyzer: analyzer, scope: scope, now: time.Now}
}

func (r *AnalyzerRepository) FindProjectsWithEntitlements(ctx context.Context, user model.UserID) ([]model.ProjectID, error) {
	// expandResources only here: the query must walk folders down to the
	// projects they contain.
	result, err := r.analyzer.FindAccessibleResourcesByUser(ctx, r.scope, user,
		projectDiscoveryPermission, "", true)
	if err != nil {
		return nil, err
	}

	ids := map[model.ProjectID]struct{}{}
	for _, entry := range result.Entries {
		if !iamcond.IsJitMarker(entry.Condition) && !iamcond.IsMpaMarker(entry.Condition) {
			continue
		}
		if entry.Evaluation != conditionalEvaluation {
			continue
		}
		for _, name := range entry.Resources {
			if project, err := model.ProjectFromResourceName(name); err == nil {
				ids[project] = struct{}{}
			}
		}
	}
	return sortProjects(ids), nil
}

func (r *AnalyzerRepository) FindEntitlements(ctx context.Context, user model.UserID, project model.ProjectID,
	types []model.ActivationType, statuses []model.EntitlementStatus) (*model.EntitlementSet, error) {

	result, err := r.analyzer.FindAccessibleResourcesByUser(ctx, r.scope, user,
		"", project.Resource().FullName(), false)
	if err != nil {
		return nil, err
	}

	sets := newEligibilitySets()
	for _, entry := range result.Entries {
		binding := model.ProjectRoleBinding{Project: project, Role: entry.Role}
		switch {
		case iamcond.IsJitMarker(entry.Condition):
			if entry.Evaluation == conditionalEvaluation {
				sets.jit[binding] = struct{}{}
			}
		case iamcond.IsMpaMarker(entry.Condition):
			if entry.Evaluation == conditionalEvaluation {
				sets.mpa[binding] = struct{}{}
			}
		case iamcond.IsActivated(entry.Condition):
			if ok, err := iamcond.Evaluate(entry.Condition.Expression, r.now()); err == nil && ok {
				sets.active[binding] = struct{}{}
			}
		}
	}
	return sets.toEntitlementSet(types, statuses, result.NonCriticalErrors), nil
}

func (r *AnalyzerRepository) FindEntitlementHolders(ctx context.Context, binding model.ProjectRoleBinding,
	activationType model.ActivationType) ([]model.UserID, error) {

	result, err := r.analyzer.FindPermissionedPrincipalsByResource(ctx, r.scope,
		binding.Resource(), binding.Role)
	if err != nil {
		return nil, err
	}

	holders := map[string]model.UserID{}
	for _, entry := range result.Entries {
		if !iamcond.IsApprovalMarker(entry.Condition, activationType) {
			continue
		}
		for _, identity := range entry.Identities {
			if email, ok := model.PrincipalRef(identity).UserEmail(); ok {
				holders[email] = model.UserID{Email: email}
			}
		}
	}
	return sortUsers(holders), nil
}
