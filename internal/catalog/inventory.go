package catalog

import (
	"context"
	"time"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/fanout"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// groupLookupAttempts bounds retries of transient directory failures.
const groupLookupAttempts = 3

// InventoryRepository derives entitlements from effective IAM policies
// (project plus ancestors) and the user's direct group memberships. It cannot
// answer the "which projects" query; deployments using it configure the
// project-search override instead.
type InventoryRepository struct {
	analyzer clients.PolicyAnalyzer
	groups   clients.DirectoryGroups
	exec     *fanout.Executor
	scope    string
	now      func() time.Time
}

func NewInventoryRepository(analyzer clients.PolicyAnalyzer, groups clients.DirectoryGroups,
	exec *fanout.Executor, scope string) *InventoryRepository {
	return &InventoryRepository{analyzer: analyzer, groups: groups, exec: exec, scope: scope, now: time.Now}
}

func (r *InventoryRepository) FindProjectsWithEntitlements(ctx context.Context, user model.UserID) ([]model.ProjectID, error) {
	return nil, apierr.New(apierr.NotSupported,
		"project discovery requires the available-projects query with this repository")
}

func (r *InventoryRepository) FindEntitlements(ctx context.Context, user model.UserID, project model.ProjectID,
	types []model.ActivationType, statuses []model.EntitlementStatus) (*model.EntitlementSet, error) {

	var (
		policies []clients.PolicyWithSource
		groups   []model.GroupID
	)
	err := r.exec.Do(ctx,
		func(ctx context.Context) error {
			var err error
			policies, err = r.analyzer.GetEffectiveIamPolicies(ctx, r.scope, project)
			return err
		},
		func(ctx context.Context) error {
			var err error
			groups, err = r.groups.ListDirectGroupMemberships(ctx, user)
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	principals := model.NewPrincipalSet(user, groups)
	sets := newEligibilitySets()
	for _, source := range policies {
		for _, b := range source.Policy.Bindings {
			if !principals.ContainsAny(b.Members) {
				continue
			}
			binding := model.ProjectRoleBinding{Project: project, Role: b.Role}
			switch {
			case iamcond.IsJitMarker(b.Condition):
				sets.jit[binding] = struct{}{}
			case iamcond.IsMpaMarker(b.Condition):
				sets.mpa[binding] = struct{}{}
			case iamcond.IsActivated(b.Condition):
				if ok, err := iamcond.Evaluate(b.Condition.Expression, r.now()); err == nil && ok {
					sets.active[binding] = struct{}{}
				}
			}
		}
	}
	return sets.toEntitlementSet(types, statuses, nil), nil
}

func (r *InventoryRepository) FindEntitlementHolders(ctx context.Context, binding model.ProjectRoleBinding,
	activationType model.ActivationType) ([]model.UserID, error) {

	policies, err := r.analyzer.GetEffectiveIamPolicies(ctx, r.scope, binding.Project)
	if err != nil {
		return nil, err
	}

	holders := map[string]model.UserID{}
	var groupEmails []string
	seenGroups := map[string]struct{}{}
	for _, source := range policies {
		for _, b := range source.Policy.Bindings {
			if b.Role != binding.Role || !iamcond.IsApprovalMarker(b.Condition, activationType) {
				continue
			}
			for _, member := range b.Members {
				ref := model.PrincipalRef(member)
				if email, ok := ref.UserEmail(); ok {
					holders[email] = model.UserID{Email: email}
				} else if email, ok := ref.GroupEmail(); ok {
					if _, seen := seenGroups[email]; !seen {
						seenGroups[email] = struct{}{}
						groupEmails = append(groupEmails, email)
					}
				}
			}
		}
	}

	if len(groupEmails) > 0 {
		producers := make([]func(ctx context.Context) ([]model.UserID, error), len(groupEmails))
		for i, email := range groupEmails {
			email := email
			producers[i] = func(ctx context.Context) ([]model.UserID, error) {
				return r.listMembersWithRetry(ctx, email)
			}
		}
		memberLists, err := fanout.Collect(ctx, r.exec, producers)
		if err != nil {
			return nil, err
		}
		for _, members := range memberLists {
			for _, m := range members {
				holders[m.Email] = m
			}
		}
	}
	return sortUsers(holders), nil
}

func (r *InventoryRepository) listMembersWithRetry(ctx context.Context, groupEmail string) ([]model.UserID, error) {
	var lastErr error
	for attempt := 0; attempt < groupLookupAttempts; attempt++ {
		members, err := r.groups.ListDirectGroupMembers(ctx, groupEmail)
		if err == nil {
			return members, nil
		}
		lastErr = err
		if !apierr.Retriable(err) {
			break
		}
	}
	return nil, lastErr
}
