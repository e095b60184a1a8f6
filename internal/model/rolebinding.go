package model

import "fmt"

// RoleBinding pairs a resource with a role.
type RoleBinding struct {
	Resource string // fully-qualified asset name
	Role     string // e.g. roles/browser
}

func (b RoleBinding) String() string {
	return fmt.Sprintf("%s:%s", b.Resource, b.Role)
}

// ProjectRoleBinding is a RoleBinding whose resource is a project. It carries
// the derived project id so callers never re-parse the asset name.
type ProjectRoleBinding struct {
	Project ProjectID
	Role    string
}

// NewProjectRoleBinding derives the binding from a fully-qualified project
// name.
func NewProjectRoleBinding(resourceFullName, role string) (ProjectRoleBinding, error) {
	project, err := ProjectFromResourceName(resourceFullName)
	if err != nil {
		return ProjectRoleBinding{}, err
	}
	return ProjectRoleBinding{Project: project, Role: role}, nil
}

// Resource returns the fully-qualified project name.
func (b ProjectRoleBinding) Resource() string {
	return b.Project.Resource().FullName()
}

// RoleBinding widens back to the generic form.
func (b ProjectRoleBinding) RoleBinding() RoleBinding {
	return RoleBinding{Resource: b.Resource(), Role: b.Role}
}

func (b ProjectRoleBinding) String() string {
	return b.RoleBinding().String()
}
