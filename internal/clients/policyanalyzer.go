package clients

import (
	"context"
	"fmt"

	cloudasset "google.golang.org/api/cloudasset/v1"
	"google.golang.org/api/option"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// AssetAnalyzer implements PolicyAnalyzer on the Cloud Asset API.
type AssetAnalyzer struct {
	svc *cloudasset.Service
}

// NewAssetAnalyzer builds the client with application default credentials.
func NewAssetAnalyzer(ctx context.Context, opts ...option.ClientOption) (*AssetAnalyzer, error) {
	svc, err := cloudasset.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudasset.NewService: %w", err)
	}
	return &AssetAnalyzer{svc: svc}, nil
}

func (a *AssetAnalyzer) FindAccessibleResourcesByUser(ctx context.Context, scope string, user model.UserID,
	permissionFilter, resourceFilter string, expandResources bool) (*AnalysisResult, error) {

	call := a.svc.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryIdentitySelectorIdentity(string(model.UserPrincipal(user))).
		AnalysisQueryOptionsExpandResources(expandResources).
		AnalysisQueryConditionContextAccessTime(nowRFC3339())
	if permissionFilter != "" {
		call = call.AnalysisQueryAccessSelectorPermissions(permissionFilter)
	}
	if resourceFilter != "" {
		call = call.AnalysisQueryResourceSelectorFullResourceName(resourceFilter)
	}

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "policy analysis for %s failed", user)
	}
	return mapAnalysis(resp), nil
}

func (a *AssetAnalyzer) FindPermissionedPrincipalsByResource(ctx context.Context, scope, resourceFullName, role string) (*AnalysisResult, error) {
	resp, err := a.svc.V1.AnalyzeIamPolicy(scope).
		AnalysisQueryResourceSelectorFullResourceName(resourceFullName).
		AnalysisQueryAccessSelectorRoles(role).
		AnalysisQueryOptionsExpandGroups(true).
		Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "principal analysis for %s on %s failed", role, resourceFullName)
	}
	return mapAnalysis(resp), nil
}

func (a *AssetAnalyzer) GetEffectiveIamPolicies(ctx context.Context, scope string, project model.ProjectID) ([]PolicyWithSource, error) {
	resp, err := a.svc.EffectiveIamPolicies.BatchGet(scope).
		Names(project.Resource().FullName()).
		Context(ctx).Do()
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "effective policy lookup for %s failed", project)
	}

	var out []PolicyWithSource
	for _, result := range resp.PolicyResults {
		for _, info := range result.Policies {
			if info.Policy == nil {
				continue
			}
			out = append(out, PolicyWithSource{
				AttachedResource: info.AttachedResource,
				Policy:           mapAssetPolicy(info.Policy),
			})
		}
	}
	return out, nil
}

// SelfCheck probes the API with a minimal asset listing on the scope.
func (a *AssetAnalyzer) SelfCheck(ctx context.Context, scope string) error {
	_, err := a.svc.Assets.List(scope).PageSize(1).Context(ctx).Do()
	if err != nil {
		return apierr.FromGoogleAPI(err, "asset API probe failed")
	}
	return nil
}

func mapAnalysis(resp *cloudasset.AnalyzeIamPolicyResponse) *AnalysisResult {
	out := &AnalysisResult{}
	if resp.MainAnalysis == nil {
		return out
	}
	for _, state := range resp.MainAnalysis.NonCriticalErrors {
		out.NonCriticalErrors = append(out.NonCriticalErrors, state.Cause)
	}
	for _, result := range resp.MainAnalysis.AnalysisResults {
		if result.IamBinding == nil {
			continue
		}
		var identities []string
		if result.IdentityList != nil {
			for _, id := range result.IdentityList.Identities {
				identities = append(identities, id.Name)
			}
		}
		// One entry per ACL: the ACL carries both the reachable resources and
		// the analyzer's condition verdict.
		for _, acl := range result.AccessControlLists {
			entry := AnalysisEntry{
				Role:       result.IamBinding.Role,
				Condition:  mapExpr(result.IamBinding.Condition),
				Identities: identities,
			}
			if acl.ConditionEvaluation != nil {
				entry.Evaluation = acl.ConditionEvaluation.EvaluationValue
			}
			for _, res := range acl.Resources {
				entry.Resources = append(entry.Resources, res.FullResourceName)
			}
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}

func mapExpr(e *cloudasset.Expr) *iamcond.Condition {
	if e == nil {
		return nil
	}
	return &iamcond.Condition{Expression: e.Expression, Title: e.Title, Description: e.Description}
}

func mapAssetPolicy(p *cloudasset.Policy) *Policy {
	out := &Policy{Etag: p.Etag, Version: p.Version}
	for _, b := range p.Bindings {
		out.Bindings = append(out.Bindings, Binding{
			Role:      b.Role,
			Members:   append([]string(nil), b.Members...),
			Condition: mapExpr(b.Condition),
		})
	}
	return out
}
