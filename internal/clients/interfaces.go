// Package clients defines the narrow collaborator interfaces the elevation
// core consumes, plus their Google Cloud implementations. The core never
// touches SDK types directly; everything crossing the boundary is mapped to
// the domain structs below.
package clients

import (
	"context"

	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// AnalysisEntry is one ACL result of a policy analysis: who can hold which
// role on which resources, under which condition.
type AnalysisEntry struct {
	Role      string
	Resources []string // fully-qualified asset names
	Condition *iamcond.Condition
	// Evaluation is the analyzer's verdict on the condition:
	// "CONDITIONAL", "TRUE", "FALSE" or "" for unconditional bindings.
	Evaluation string
	// Identities holds principal refs when the query asked for them.
	Identities []string
}

// AnalysisResult is the outcome of one policy analysis call.
type AnalysisResult struct {
	Entries []AnalysisEntry
	// NonCriticalErrors are analysis warnings, surfaced verbatim.
	NonCriticalErrors []string
}

// PolicyWithSource is one policy attached somewhere on a project's ancestry.
type PolicyWithSource struct {
	AttachedResource string
	Policy           *Policy
}

// PolicyAnalyzer is the asset-analysis collaborator.
type PolicyAnalyzer interface {
	// FindAccessibleResourcesByUser lists resources under scope where the
	// user holds access, optionally filtered by permission and resource.
	FindAccessibleResourcesByUser(ctx context.Context, scope string, user model.UserID,
		permissionFilter, resourceFilter string, expandResources bool) (*AnalysisResult, error)

	// FindPermissionedPrincipalsByResource lists principals holding role on
	// the resource, groups expanded.
	FindPermissionedPrincipalsByResource(ctx context.Context, scope, resourceFullName, role string) (*AnalysisResult, error)

	// GetEffectiveIamPolicies returns the policies attached to the project
	// and its ancestors.
	GetEffectiveIamPolicies(ctx context.Context, scope string, project model.ProjectID) ([]PolicyWithSource, error)
}

// Tag is an effective resource tag, e.g. env/prod.
type Tag struct {
	NamespacedName string // e.g. 123456789012/env/prod
	Value          string
}

// Policy is an IAM policy document. Etag carries the optimistic concurrency
// token of the read.
type Policy struct {
	Etag     string
	Version  int64
	Bindings []Binding
}

// Binding is one IAM policy entry.
type Binding struct {
	Role      string
	Members   []string
	Condition *iamcond.Condition
}

// ResourceManager is the CRM collaborator.
type ResourceManager interface {
	GetProjectEffectiveTags(ctx context.Context, resourceFullName string) ([]Tag, error)
	SearchProjects(ctx context.Context, query string) ([]model.ProjectID, error)
	GetIamPolicy(ctx context.Context, project model.ProjectID) (*Policy, error)
	// SetIamPolicy writes the policy conditionally on its etag; reason is
	// forwarded as the IAM change justification.
	SetIamPolicy(ctx context.Context, project model.ProjectID, policy *Policy, reason string) error
	GetAncestry(ctx context.Context, project model.ProjectID) ([]model.ResourceID, error)
}

// DirectoryGroups is the workspace directory collaborator.
type DirectoryGroups interface {
	ListDirectGroupMemberships(ctx context.Context, user model.UserID) ([]model.GroupID, error)
	ListDirectGroupMembers(ctx context.Context, groupEmail string) ([]model.UserID, error)
}

// JwtSigner signs JWT payloads with a service account's key without the key
// ever leaving the platform.
type JwtSigner interface {
	SignJwt(ctx context.Context, serviceAccount string, payload []byte) (string, error)
	// JwksURL is the published JWK endpoint holding the account's public keys.
	JwksURL(serviceAccount string) string
}

// SecretStore reads secret material, e.g. the SMTP password.
type SecretStore interface {
	AccessSecret(ctx context.Context, secretPath string) ([]byte, error)
}
