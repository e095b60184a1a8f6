// Package iampolicy mutates project IAM policies to apply time-bounded role
// bindings. The policy document is the single source of truth: every apply is
// a fresh read-modify-write, serialized against concurrent writers by the
// platform's etag check.
package iampolicy

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/clients"
	"github.com/ocx/elevate/internal/iamcond"
	"github.com/ocx/elevate/internal/model"
)

// Option toggles apply behavior.
type Option int

const (
	// PurgeExistingTemporaryBindings removes prior activated grants for the
	// same (principal, role) before appending the new one.
	PurgeExistingTemporaryBindings Option = 1 << iota
	// FailIfBindingExists rejects the apply when a structurally equal
	// binding is already present. Purging runs first, so an identical but
	// purgeable old grant is replaced rather than reported.
	FailIfBindingExists
)

const (
	conflictRetries = 3
	initialBackoff  = 100 * time.Millisecond
)

// Mutator applies temporary bindings through the resource-manager
// collaborator.
type Mutator struct {
	crm     clients.ResourceManager
	logger  *log.Logger
	backoff func(attempt int) // replaced in tests

	// OnRetry, when set, observes etag conflicts (metrics hook).
	OnRetry func()
}

func NewMutator(crm clients.ResourceManager) *Mutator {
	m := &Mutator{
		crm:    crm,
		logger: log.New(log.Writer(), "[IAM] ", log.LstdFlags),
	}
	m.backoff = func(attempt int) {
		time.Sleep(initialBackoff << attempt)
	}
	return m
}

// ApplyTemporaryBinding grants role to principal on the project for
// [start, end), recording reason as the IAM change justification.
func (m *Mutator) ApplyTemporaryBinding(ctx context.Context, project model.ProjectID,
	principal model.PrincipalRef, role string, start, end time.Time, reason string, opts Option) error {

	if !end.After(start) {
		return apierr.New(apierr.InvalidArgument, "end must be after start")
	}

	newBinding := clients.Binding{
		Role:    role,
		Members: []string{string(principal)},
		Condition: func() *iamcond.Condition {
			c := iamcond.TemporaryCondition(start, end.Sub(start))
			c.Description = reason
			return c
		}(),
	}

	var lastErr error
	for attempt := 0; attempt <= conflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			if m.OnRetry != nil {
				m.OnRetry()
			}
			m.backoff(attempt - 1)
		}

		policy, err := m.crm.GetIamPolicy(ctx, project)
		if err != nil {
			return err
		}

		if opts&PurgeExistingTemporaryBindings != 0 {
			policy.Bindings = purge(policy.Bindings, string(principal), role)
		}
		if opts&FailIfBindingExists != 0 {
			for _, b := range policy.Bindings {
				if BindingEqual(b, newBinding, false) {
					return apierr.New(apierr.AlreadyExists,
						"an identical grant of %s for %s already exists on %s", role, principal, project)
				}
			}
		}
		policy.Bindings = append(policy.Bindings, newBinding)

		err = m.crm.SetIamPolicy(ctx, project, policy, reason)
		if err == nil {
			return nil
		}
		if !apierr.Is(err, apierr.Conflict) {
			return err
		}
		lastErr = err
		m.logger.Printf("etag conflict writing policy of %s (attempt %d/%d)", project, attempt+1, conflictRetries+1)
	}
	return apierr.Wrap(apierr.ConflictRetryExhausted, lastErr,
		"policy of %s kept changing underneath, giving up after %d attempts", project, conflictRetries+1)
}

// purge drops activated temporary grants of role held solely by principal.
// Permanent bindings, other principals and other roles are untouched.
func purge(bindings []clients.Binding, principal, role string) []clients.Binding {
	out := bindings[:0]
	for _, b := range bindings {
		if b.Role == role &&
			iamcond.IsActivated(b.Condition) &&
			len(b.Members) == 1 && b.Members[0] == principal {
			continue
		}
		out = append(out, b)
	}
	return out
}

// BindingEqual compares role, member sets (order-insensitive) and, unless
// ignoreCondition, the condition's title, expression and description.
func BindingEqual(a, b clients.Binding, ignoreCondition bool) bool {
	if a.Role != b.Role {
		return false
	}
	if !sameMembers(a.Members, b.Members) {
		return false
	}
	if ignoreCondition {
		return true
	}
	return iamcond.Equal(a.Condition, b.Condition)
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
