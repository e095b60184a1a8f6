package catalog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/fanout"
	"github.com/ocx/elevate/internal/model"
)

// Options are the policy knobs layered over raw discovery.
type Options struct {
	// Scope is the discovery root (organizations/…, folders/…, projects/…).
	Scope string
	// ActivationDuration is the ceiling on a granted activation.
	ActivationDuration time.Duration
	// MinReviewers and MaxReviewers bound the MPA reviewer count.
	MinReviewers int
	MaxReviewers int
	// MaxJitRolesPerSelfApproval bounds roles per JIT request.
	MaxJitRolesPerSelfApproval int
	// AvailableProjectsQuery, when set, replaces the analyzer projects query
	// with a resource-manager search.
	AvailableProjectsQuery string
	// RequiredProjectTagPath, when set, restricts eligible projects to those
	// carrying the tag.
	RequiredProjectTagPath string
}

// Catalog exposes project and entitlement listings with the policy options
// applied.
type Catalog struct {
	repo Repository
	crm  clients.ResourceManager
	exec *fanout.Executor
	opts Options
}

func New(repo Repository, crm clients.ResourceManager, exec *fanout.Executor, opts Options) *Catalog {
	return &Catalog{repo: repo, crm: crm, exec: exec, opts: opts}
}

// Options returns the configured policy options.
func (c *Catalog) Options() Options { return c.opts }

// ListProjects returns the projects on which the user holds entitlements,
// honoring the query override and the required-tag filter.
func (c *Catalog) ListProjects(ctx context.Context, user model.UserID) ([]model.ProjectID, error) {
	var (
		projects []model.ProjectID
		err      error
	)
	if c.opts.AvailableProjectsQuery != "" {
		projects, err = c.crm.SearchProjects(ctx, c.opts.AvailableProjectsQuery)
		sort.Slice(projects, func(i, j int) bool { return projects[i] < projects[j] })
	} else {
		projects, err = c.repo.FindProjectsWithEntitlements(ctx, user)
	}
	if err != nil {
		return nil, err
	}
	if c.opts.RequiredProjectTagPath == "" || len(projects) == 0 {
		return projects, nil
	}
	return c.filterByTag(ctx, projects)
}

// filterByTag keeps projects carrying the required tag. One tag lookup per
// project, fanned out.
func (c *Catalog) filterByTag(ctx context.Context, projects []model.ProjectID) ([]model.ProjectID, error) {
	producers := make([]func(ctx context.Context) (bool, error), len(projects))
	for i, p := range projects {
		p := p
		producers[i] = func(ctx context.Context) (bool, error) {
			tags, err := c.crm.GetProjectEffectiveTags(ctx, p.Resource().FullName())
			if err != nil {
				return false, err
			}
			for _, t := range tags {
				if t.NamespacedName == c.opts.RequiredProjectTagPath ||
					strings.HasPrefix(t.NamespacedName, c.opts.RequiredProjectTagPath+"/") {
					return true, nil
				}
			}
			return false, nil
		}
	}
	tagged, err := fanout.Collect(ctx, c.exec, producers)
	if err != nil {
		return nil, err
	}
	out := projects[:0]
	for i, keep := range tagged {
		if keep {
			out = append(out, projects[i])
		}
	}
	return out, nil
}

// ListEntitlements returns the user's entitlements on the project.
func (c *Catalog) ListEntitlements(ctx context.Context, user model.UserID, project model.ProjectID,
	types []model.ActivationType, statuses []model.EntitlementStatus) (*model.EntitlementSet, error) {
	return c.repo.FindEntitlements(ctx, user, project, types, statuses)
}

// ListReviewers returns the users who could approve an MPA request for the
// binding. The requesting user is never a candidate for their own request.
func (c *Catalog) ListReviewers(ctx context.Context, user model.UserID, binding model.ProjectRoleBinding) ([]model.UserID, error) {
	holders, err := c.repo.FindEntitlementHolders(ctx, binding, model.ActivationMpa)
	if err != nil {
		return nil, err
	}
	out := holders[:0]
	for _, h := range holders {
		if !h.Equal(user) {
			out = append(out, h)
		}
	}
	return out, nil
}

// VerifyUserCanActivate confirms every requested binding is in the user's
// AVAILABLE set for the activation type.
func (c *Catalog) VerifyUserCanActivate(ctx context.Context, user model.UserID,
	activationType model.ActivationType, bindings []model.ProjectRoleBinding) error {

	if len(bindings) == 0 {
		return apierr.New(apierr.InvalidArgument, "no roles requested")
	}
	project := bindings[0].Project
	set, err := c.repo.FindEntitlements(ctx, user, project,
		[]model.ActivationType{activationType},
		[]model.EntitlementStatus{model.StatusAvailable})
	if err != nil {
		return err
	}

	available := map[model.ProjectRoleBinding]struct{}{}
	for _, e := range set.Available {
		available[e.Binding] = struct{}{}
	}
	for _, b := range bindings {
		if _, ok := available[b]; !ok {
			return apierr.New(apierr.AccessDenied,
				"%s is not eligible for %s activation of %s", user, activationType, b)
		}
	}
	return nil
}
