package model

import "sort"

// ActivationType says how an entitlement is turned into an active grant.
type ActivationType string

const (
	// ActivationJit is self-approved just-in-time elevation.
	ActivationJit ActivationType = "JIT"
	// ActivationMpa requires peer approval.
	ActivationMpa ActivationType = "MPA"
)

// EntitlementStatus is the lifecycle state of an entitlement for a user.
type EntitlementStatus int

const (
	StatusAvailable EntitlementStatus = iota
	StatusActive
	StatusActivationPending
)

func (s EntitlementStatus) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusActive:
		return "ACTIVE"
	case StatusActivationPending:
		return "ACTIVATION_PENDING"
	}
	return "UNKNOWN"
}

// Entitlement is a role a user may hold on a project, with how and whether it
// is currently held.
type Entitlement struct {
	Binding ProjectRoleBinding
	Name    string // display name, defaults to the binding's string form
	Type    ActivationType
	Status  EntitlementStatus
}

// ID is the stable identifier of the entitlement: the binding's string form.
func (e Entitlement) ID() string { return e.Binding.String() }

// SortEntitlements orders by status first (AVAILABLE < ACTIVE < PENDING),
// then by display name.
func SortEntitlements(items []Entitlement) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Status != items[j].Status {
			return items[i].Status < items[j].Status
		}
		return items[i].Name < items[j].Name
	})
}

// EntitlementSet is the result of entitlement discovery for one user on one
// project.
type EntitlementSet struct {
	// Available is sorted per SortEntitlements.
	Available []Entitlement
	// Active holds the bindings of currently valid temporary grants. It may
	// intersect Available by binding; the presentation layer promotes the
	// intersection to ACTIVE.
	Active []ProjectRoleBinding
	// Warnings carries non-critical discovery errors verbatim.
	Warnings []string
}

// IsActive reports whether the binding has a currently valid grant.
func (s EntitlementSet) IsActive(b ProjectRoleBinding) bool {
	for _, a := range s.Active {
		if a == b {
			return true
		}
	}
	return false
}

// Merged returns the available entitlements with intersecting active bindings
// promoted to ACTIVE, re-sorted.
func (s EntitlementSet) Merged() []Entitlement {
	out := make([]Entitlement, 0, len(s.Available))
	for _, e := range s.Available {
		if s.IsActive(e.Binding) {
			e.Status = StatusActive
		}
		out = append(out, e)
	}
	SortEntitlements(out)
	return out
}
