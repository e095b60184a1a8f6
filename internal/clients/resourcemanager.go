package clients

import (
	"context"
	"fmt"
	"time"

	crmv1 "google.golang.org/api/cloudresourcemanager/v1"
	crmv3 "google.golang.org/api/cloudresourcemanager/v3"
	"google.golang.org/api/option"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// requestedPolicyVersion asks for conditional bindings in reads and declares
// them in writes.
const requestedPolicyVersion = 3

// CRMClient implements ResourceManager on the Cloud Resource Manager API.
// Ancestry only exists in v1, everything else uses v3.
type CRMClient struct {
	v3 *crmv3.Service
	v1 *crmv1.Service
}

func NewCRMClient(ctx context.Context, opts ...option.ClientOption) (*CRMClient, error) {
	s3, err := crmv3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudresourcemanager v3: %w", err)
	}
	s1, err := crmv1.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudresourcemanager v1: %w", err)
	}
	return &CRMClient{v3: s3, v1: s1}, nil
}

func (c *CRMClient) GetProjectEffectiveTags(ctx context.Context, resourceFullName string) ([]Tag, error) {
	var out []Tag
	call := c.v3.EffectiveTags.List().Parent(resourceFullName)
	err := call.Pages(ctx, func(resp *crmv3.ListEffectiveTagsResponse) error {
		for _, t := range resp.EffectiveTags {
			out = append(out, Tag{NamespacedName: t.NamespacedTagValue, Value: t.TagValue})
		}
		return nil
	})
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "effective tags for %s failed", resourceFullName)
	}
	return out, nil
}

func (c *CRMClient) SearchProjects(ctx context.Context, query string) ([]model.ProjectID, error) {
	var out []model.ProjectID
	err := c.v3.Projects.Search().Query(query).Pages(ctx, func(resp *crmv3.SearchProjectsResponse) error {
		for _, p := range resp.Projects {
			out = append(out, model.ProjectID(p.ProjectId))
		}
		return nil
	})
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "project search %q failed", query)
	}
	return out, nil
}

func (c *CRMClient) GetIamPolicy(ctx context.Context, project model.ProjectID) (*Policy, error) {
	resp, err := c.v3.Projects.GetIamPolicy("projects/"+string(project), &crmv3.GetIamPolicyRequest{
		Options: &crmv3.GetPolicyOptions{RequestedPolicyVersion: requestedPolicyVersion},
	}).Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "reading IAM policy of %s failed", project)
	}
	return mapCRMPolicy(resp), nil
}

func (c *CRMClient) SetIamPolicy(ctx context.Context, project model.ProjectID, policy *Policy, reason string) error {
	call := c.v3.Projects.SetIamPolicy("projects/"+string(project), &crmv3.SetIamPolicyRequest{
		Policy: toCRMPolicy(policy),
	}).Context(ctx)
	if reason != "" {
		// Recorded by the platform as the justification of the IAM change.
		call.Header().Set("X-Goog-Request-Reason", reason)
	}
	if _, err := call.Do(); err != nil {
		return apierr.FromGoogleAPI(err, "writing IAM policy of %s failed", project)
	}
	return nil
}

func (c *CRMClient) GetAncestry(ctx context.Context, project model.ProjectID) ([]model.ResourceID, error) {
	resp, err := c.v1.Projects.GetAncestry(string(project), &crmv1.GetAncestryRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "ancestry of %s failed", project)
	}
	var out []model.ResourceID
	for _, a := range resp.Ancestor {
		if a.ResourceId == nil {
			continue
		}
		out = append(out, model.ResourceID{
			Type: model.ResourceType(a.ResourceId.Type),
			ID:   a.ResourceId.Id,
		})
	}
	return out, nil
}

// SelfCheck probes the API with a minimal project search.
func (c *CRMClient) SelfCheck(ctx context.Context) error {
	call := c.v3.Projects.Search().PageSize(1).Context(ctx)
	if _, err := call.Do(); err != nil {
		return apierr.FromGoogleAPI(err, "resource manager probe failed")
	}
	return nil
}

func mapCRMPolicy(p *crmv3.Policy) *Policy {
	out := &Policy{Etag: p.Etag, Version: p.Version}
	for _, b := range p.Bindings {
		var cond *iamcond.Condition
		if b.Condition != nil {
			cond = &iamcond.Condition{
				Expression:  b.Condition.Expression,
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
			}
		}
		out.Bindings = append(out.Bindings, Binding{
			Role:      b.Role,
			Members:   append([]string(nil), b.Members...),
			Condition: cond,
		})
	}
	return out
}

func toCRMPolicy(p *Policy) *crmv3.Policy {
	out := &crmv3.Policy{Etag: p.Etag, Version: requestedPolicyVersion}
	for _, b := range p.Bindings {
		binding := &crmv3.Binding{Role: b.Role, Members: append([]string(nil), b.Members...)}
		if b.Condition != nil {
			binding.Condition = &crmv3.Expr{
				Expression:  b.Condition.Expression,
				Title:       b.Condition.Title,
				Description: b.Condition.Description,
			}
		}
		out.Bindings = append(out.Bindings, binding)
	}
	return out
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
