package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

const testScope = "organizations/1234"

var (
	alice = model.UserID{Email: "alice@example.com"}
	bob   = model.UserID{Email: "bob@example.com"}

	projectOne = model.ProjectID("project-1")
	browser    = model.ProjectRoleBinding{Project: projectOne, Role: "roles/browser"}

	allTypes    = []model.ActivationType{model.ActivationJit, model.ActivationMpa}
	allStatuses = []model.EntitlementStatus{model.StatusAvailable, model.StatusActive}
)

// fakeAnalyzer serves canned analysis results.
type fakeAnalyzer struct {
	byUser      *clients.AnalysisResult
	byResource  *clients.AnalysisResult
	effective   []clients.PolicyWithSource
	err         error
	lastExpand  bool
	lastScope   string
	lastProject model.ProjectID
}

func (f *fakeAnalyzer) FindAccessibleResourcesByUser(ctx context.Context, scope string, user model.UserID,
	permissionFilter, resourceFilter string, expandResources bool) (*clients.AnalysisResult, error) {
	f.lastScope, f.lastExpand = scope, expandResources
	return f.byUser, f.err
}

func (f *fakeAnalyzer) FindPermissionedPrincipalsByResource(ctx context.Context, scope, resourceFullName, role string) (*clients.AnalysisResult, error) {
	return f.byResource, f.err
}

func (f *fakeAnalyzer) GetEffectiveIamPolicies(ctx context.Context, scope string, project model.ProjectID) ([]clients.PolicyWithSource, error) {
	f.lastProject = project
	return f.effective, f.err
}

func jitCond() *iamcond.Condition { return &iamcond.Condition{Expression: iamcond.JitMarker} }
func mpaCond() *iamcond.Condition { return &iamcond.Condition{Expression: iamcond.MpaMarker} }

func activeCond(now time.Time) *iamcond.Condition {
	c := iamcond.TemporaryCondition(now.Add(-time.Minute), 10*time.Minute)
	return c
}

func expiredCond(now time.Time) *iamcond.Condition {
	return iamcond.TemporaryCondition(now.Add(-time.Hour), 5*time.Minute)
}

func TestFindEntitlements_ClassifiesMarkers(t *testing.T) {
	now := time.Now()
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/viewer", Condition: mpaCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/editor", Condition: activeCond(now), Evaluation: "TRUE"},
			{Role: "roles/owner"}, // unconditional bindings are not entitlements
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	assert.False(t, fake.lastExpand, "single-project queries never expand resources")

	require.Len(t, set.Available, 2)
	assert.Equal(t, "roles/browser", set.Available[0].Binding.Role)
	assert.Equal(t, model.ActivationJit, set.Available[0].Type)
	assert.Equal(t, "roles/viewer", set.Available[1].Binding.Role)
	assert.Equal(t, model.ActivationMpa, set.Available[1].Type)

	require.Len(t, set.Active, 1)
	assert.Equal(t, "roles/editor", set.Active[0].Role)
}

// Sentinel purity: any extra conjunct disqualifies the binding.
func TestFindEntitlements_ExtraConjunctsIgnored(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser",
				Condition:  &iamcond.Condition{Expression: iamcond.JitMarker + ` && resource.name == "x"`},
				Evaluation: "CONDITIONAL"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	assert.Empty(t, set.Available)
}

// JIT-over-MPA precedence for the same binding.
func TestFindEntitlements_JitWinsOverMpa(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: mpaCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	require.Len(t, set.Available, 1)
	assert.Equal(t, model.ActivationJit, set.Available[0].Type)
}

// Duplicate JIT results for the same binding collapse to one entitlement.
func TestFindEntitlements_DuplicatesCollapse(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	assert.Len(t, set.Available, 1)
}

func TestFindEntitlements_ExpiredGrantNotActive(t *testing.T) {
	now := time.Now()
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: expiredCond(now), Evaluation: "FALSE"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	assert.Empty(t, set.Active)
	assert.Empty(t, set.Available)
}

func TestFindEntitlements_TypeAndStatusFilters(t *testing.T) {
	now := time.Now()
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/viewer", Condition: mpaCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/editor", Condition: activeCond(now), Evaluation: "TRUE"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne,
		[]model.ActivationType{model.ActivationMpa},
		[]model.EntitlementStatus{model.StatusAvailable})
	require.NoError(t, err)
	require.Len(t, set.Available, 1)
	assert.Equal(t, model.ActivationMpa, set.Available[0].Type)
	assert.Empty(t, set.Active, "active bindings were not requested")
}

func TestFindEntitlements_WarningsSurfacedVerbatim(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		NonCriticalErrors: []string{"folder 99 skipped: permission denied"},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	assert.Equal(t, []string{"folder 99 skipped: permission denied"}, set.Warnings)
}

// Determinism: a fixed analysis yields the same set on every call.
func TestFindEntitlements_Deterministic(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/b", Condition: jitCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/a", Condition: jitCond(), Evaluation: "CONDITIONAL"},
			{Role: "roles/c", Condition: mpaCond(), Evaluation: "CONDITIONAL"},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	first, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
		require.NoError(t, err)
		assert.Equal(t, first.Available, again.Available)
	}
}

func TestFindProjectsWithEntitlements(t *testing.T) {
	fake := &fakeAnalyzer{byUser: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL",
				Resources: []string{
					"//cloudresourcemanager.googleapis.com/projects/project-2",
					"//cloudresourcemanager.googleapis.com/projects/project-1",
				}},
			{Role: "roles/viewer", Condition: mpaCond(), Evaluation: "CONDITIONAL",
				Resources: []string{"//cloudresourcemanager.googleapis.com/projects/project-1"}},
			// unconditional access does not make a project eligible
			{Role: "roles/owner",
				Resources: []string{"//cloudresourcemanager.googleapis.com/projects/project-3"}},
			// folders in the result set are skipped
			{Role: "roles/browser", Condition: jitCond(), Evaluation: "CONDITIONAL",
				Resources: []string{"//cloudresourcemanager.googleapis.com/folders/9"}},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	projects, err := repo.FindProjectsWithEntitlements(context.Background(), alice)
	require.NoError(t, err)
	assert.True(t, fake.lastExpand, "the projects query must expand resources")
	assert.Equal(t, []model.ProjectID{"project-1", "project-2"}, projects, "sorted, deduplicated")
}

func TestFindEntitlementHolders(t *testing.T) {
	fake := &fakeAnalyzer{byResource: &clients.AnalysisResult{
		Entries: []clients.AnalysisEntry{
			{Role: "roles/browser", Condition: mpaCond(),
				Identities: []string{"user:carol@example.com", "user:bob@example.com", "serviceAccount:svc@p.iam"}},
			{Role: "roles/browser", Condition: jitCond(),
				Identities: []string{"user:dave@example.com"}},
		},
	}}
	repo := NewAnalyzerRepository(fake, testScope)

	holders, err := repo.FindEntitlementHolders(context.Background(), browser, model.ActivationMpa)
	require.NoError(t, err)
	require.Len(t, holders, 2, "JIT-only holders and service accounts are not approvers")
	assert.Equal(t, "bob@example.com", holders[0].Email)
	assert.Equal(t, "carol@example.com", holders[1].Email)
}
