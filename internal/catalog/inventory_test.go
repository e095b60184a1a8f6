package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/fanout"
	"github.com/ocx/elevate/internal/model"
)

type fakeGroups struct {
	memberships map[string][]model.GroupID
	members     map[string][]model.UserID
	failures    map[string]int // transient errors to serve before succeeding
	calls       int
}

func (f *fakeGroups) ListDirectGroupMemberships(ctx context.Context, user model.UserID) ([]model.GroupID, error) {
	return f.memberships[user.Email], nil
}

func (f *fakeGroups) ListDirectGroupMembers(ctx context.Context, groupEmail string) ([]model.UserID, error) {
	f.calls++
	if f.failures[groupEmail] > 0 {
		f.failures[groupEmail]--
		return nil, apierr.New(apierr.QuotaExceeded, "rate limited")
	}
	return f.members[groupEmail], nil
}

func newInventory(t *testing.T, analyzer *fakeAnalyzer, groups *fakeGroups) (*InventoryRepository, func()) {
	t.Helper()
	exec := fanout.New(4, 32)
	repo := NewInventoryRepository(analyzer, groups, exec, testScope)
	return repo, exec.Close
}

func TestInventory_FindProjectsNotSupported(t *testing.T) {
	repo, done := newInventory(t, &fakeAnalyzer{}, &fakeGroups{})
	defer done()

	_, err := repo.FindProjectsWithEntitlements(context.Background(), alice)
	require.Error(t, err)
	assert.Equal(t, apierr.NotSupported, apierr.KindOf(err))
}

func TestInventory_FindEntitlements_PrincipalSetFiltering(t *testing.T) {
	now := time.Now()
	analyzer := &fakeAnalyzer{effective: []clients.PolicyWithSource{
		{
			AttachedResource: "projects/project-1",
			Policy: &clients.Policy{Bindings: []clients.Binding{
				// direct user binding
				{Role: "roles/browser", Members: []string{"user:alice@example.com"}, Condition: jitCond()},
				// via group membership
				{Role: "roles/viewer", Members: []string{"group:eng@example.com"}, Condition: mpaCond()},
				// someone else's binding
				{Role: "roles/editor", Members: []string{"user:bob@example.com"}, Condition: jitCond()},
				// active grant for alice
				{Role: "roles/browser", Members: []string{"user:alice@example.com"}, Condition: activeCond(now)},
				// expired grant
				{Role: "roles/viewer", Members: []string{"user:alice@example.com"}, Condition: expiredCond(now)},
			}},
		},
		{
			// inherited from the organization node
			AttachedResource: "organizations/1234",
			Policy: &clients.Policy{Bindings: []clients.Binding{
				{Role: "roles/backup", Members: []string{"user:alice@example.com"}, Condition: jitCond()},
			}},
		},
	}}
	groups := &fakeGroups{memberships: map[string][]model.GroupID{
		"alice@example.com": {{Email: "eng@example.com"}},
	}}
	repo, done := newInventory(t, analyzer, groups)
	defer done()

	set, err := repo.FindEntitlements(context.Background(), alice, projectOne, allTypes, allStatuses)
	require.NoError(t, err)

	roles := map[string]model.ActivationType{}
	for _, e := range set.Available {
		roles[e.Binding.Role] = e.Type
	}
	assert.Equal(t, map[string]model.ActivationType{
		"roles/browser": model.ActivationJit,
		"roles/viewer":  model.ActivationMpa,
		"roles/backup":  model.ActivationJit,
	}, roles)

	require.Len(t, set.Active, 1)
	assert.Equal(t, "roles/browser", set.Active[0].Role)
}

func TestInventory_FindEntitlementHolders_ExpandsGroups(t *testing.T) {
	analyzer := &fakeAnalyzer{effective: []clients.PolicyWithSource{
		{
			AttachedResource: "projects/project-1",
			Policy: &clients.Policy{Bindings: []clients.Binding{
				{Role: "roles/browser", Members: []string{"user:carol@example.com", "group:eng@example.com"}, Condition: mpaCond()},
				{Role: "roles/browser", Members: []string{"group:jit-only@example.com"}, Condition: jitCond()},
				{Role: "roles/other", Members: []string{"user:eve@example.com"}, Condition: mpaCond()},
			}},
		},
	}}
	groups := &fakeGroups{members: map[string][]model.UserID{
		"eng@example.com": {{Email: "bob@example.com"}, {Email: "carol@example.com"}},
	}}
	repo, done := newInventory(t, analyzer, groups)
	defer done()

	holders, err := repo.FindEntitlementHolders(context.Background(), browser, model.ActivationMpa)
	require.NoError(t, err)

	var emails []string
	for _, h := range holders {
		emails = append(emails, h.Email)
	}
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, emails)
}

func TestInventory_GroupLookupRetriesTransientFailures(t *testing.T) {
	analyzer := &fakeAnalyzer{effective: []clients.PolicyWithSource{
		{
			AttachedResource: "projects/project-1",
			Policy: &clients.Policy{Bindings: []clients.Binding{
				{Role: "roles/browser", Members: []string{"group:eng@example.com"}, Condition: mpaCond()},
			}},
		},
	}}
	groups := &fakeGroups{
		members:  map[string][]model.UserID{"eng@example.com": {{Email: "bob@example.com"}}},
		failures: map[string]int{"eng@example.com": 2},
	}
	repo, done := newInventory(t, analyzer, groups)
	defer done()

	holders, err := repo.FindEntitlementHolders(context.Background(), browser, model.ActivationMpa)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, 3, groups.calls, "two transient failures then success")
}
