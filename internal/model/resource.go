// Package model holds the immutable value objects of the elevation domain:
// resource identifiers, principals, role bindings and entitlements.
package model

import (
	"fmt"
	"strings"

	"github.com/ocx/elevate/internal/apierr"
)

// ResourceType enumerates the CRM resource node types.
type ResourceType string

const (
	TypeProject      ResourceType = "project"
	TypeFolder       ResourceType = "folder"
	TypeOrganization ResourceType = "organization"
)

const resourceNamePrefix = "//cloudresourcemanager.googleapis.com/"

// ResourceID identifies a CRM resource node.
type ResourceID struct {
	Type ResourceType
	ID   string
}

// FullName returns the fully-qualified asset name,
// e.g. //cloudresourcemanager.googleapis.com/projects/my-project.
func (r ResourceID) FullName() string {
	return fmt.Sprintf("%s%ss/%s", resourceNamePrefix, r.Type, r.ID)
}

func (r ResourceID) String() string { return r.FullName() }

// ProjectID is the short project identifier. Projects compare by id.
type ProjectID string

func (p ProjectID) String() string { return string(p) }

// Resource returns the project's resource identifier.
func (p ProjectID) Resource() ResourceID {
	return ResourceID{Type: TypeProject, ID: string(p)}
}

// ParseResourceName parses a fully-qualified CRM asset name.
func ParseResourceName(name string) (ResourceID, error) {
	rest, ok := strings.CutPrefix(name, resourceNamePrefix)
	if !ok {
		return ResourceID{}, apierr.New(apierr.InvalidArgument, "not a resource manager asset name: %q", name)
	}
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return ResourceID{}, apierr.New(apierr.InvalidArgument, "malformed resource name: %q", name)
	}
	switch parts[0] {
	case "projects":
		return ResourceID{Type: TypeProject, ID: parts[1]}, nil
	case "folders":
		return ResourceID{Type: TypeFolder, ID: parts[1]}, nil
	case "organizations":
		return ResourceID{Type: TypeOrganization, ID: parts[1]}, nil
	}
	return ResourceID{}, apierr.New(apierr.InvalidArgument, "unknown resource type in %q", name)
}

// ProjectFromResourceName parses a fully-qualified name and requires it to be
// a project.
func ProjectFromResourceName(name string) (ProjectID, error) {
	id, err := ParseResourceName(name)
	if err != nil {
		return "", err
	}
	if id.Type != TypeProject {
		return "", apierr.New(apierr.InvalidArgument, "%q is not a project", name)
	}
	return ProjectID(id.ID), nil
}
