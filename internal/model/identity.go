package model

import "strings"

// UserID identifies an end user. Two UserIDs are the same user when their
// emails match; the directory id is informational.
type UserID struct {
	ID    string
	Email string
}

// Equal compares by email alone.
func (u UserID) Equal(other UserID) bool { return u.Email == other.Email }

func (u UserID) String() string { return u.Email }

// GroupID identifies a directory group by email.
type GroupID struct {
	Email string
}

func (g GroupID) String() string { return g.Email }

// PrincipalRef is a tagged principal string as it appears in IAM binding
// member lists ("user:alice@example.com", "group:eng@example.com").
type PrincipalRef string

// UserPrincipal builds the member-list form of a user.
func UserPrincipal(u UserID) PrincipalRef {
	return PrincipalRef("user:" + u.Email)
}

// GroupPrincipal builds the member-list form of a group.
func GroupPrincipal(g GroupID) PrincipalRef {
	return PrincipalRef("group:" + g.Email)
}

// UserEmail returns the email of a user-typed principal ref.
func (p PrincipalRef) UserEmail() (string, bool) {
	return strings.CutPrefix(string(p), "user:")
}

// GroupEmail returns the email of a group-typed principal ref.
func (p PrincipalRef) GroupEmail() (string, bool) {
	return strings.CutPrefix(string(p), "group:")
}

// PrincipalSet is the set of principal refs a user acts as: themselves plus
// their direct groups.
type PrincipalSet map[PrincipalRef]struct{}

// NewPrincipalSet builds the set for a user and their groups.
func NewPrincipalSet(user UserID, groups []GroupID) PrincipalSet {
	set := PrincipalSet{UserPrincipal(user): {}}
	for _, g := range groups {
		set[GroupPrincipal(g)] = struct{}{}
	}
	return set
}

// ContainsAny reports whether any of the given members is in the set.
func (s PrincipalSet) ContainsAny(members []string) bool {
	for _, m := range members {
		if _, ok := s[PrincipalRef(m)]; ok {
			return true
		}
	}
	return false
}
