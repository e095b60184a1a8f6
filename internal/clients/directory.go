package clients

import (
	"context"
	"fmt"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/option"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

// Directory implements DirectoryGroups on the Admin SDK Directory API.
type Directory struct {
	svc      *admin.Service
	customer string
}

func NewDirectory(ctx context.Context, customerID string, opts ...option.ClientOption) (*Directory, error) {
	svc, err := admin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("admin directory: %w", err)
	}
	if customerID == "" {
		customerID = "my_customer"
	}
	return &Directory{svc: svc, customer: customerID}, nil
}

func (d *Directory) ListDirectGroupMemberships(ctx context.Context, user model.UserID) ([]model.GroupID, error) {
	var out []model.GroupID
	err := d.svc.Groups.List().UserKey(user.Email).Pages(ctx, func(resp *admin.Groups) error {
		for _, g := range resp.Groups {
			out = append(out, model.GroupID{Email: g.Email})
		}
		return nil
	})
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "group memberships of %s failed", user)
	}
	return out, nil
}

func (d *Directory) ListDirectGroupMembers(ctx context.Context, groupEmail string) ([]model.UserID, error) {
	var out []model.UserID
	err := d.svc.Members.List(groupEmail).Pages(ctx, func(resp *admin.Members) error {
		for _, m := range resp.Members {
			// Nested groups are not expanded; the caller decides whether a
			// second hop is needed.
			if m.Type != "USER" {
				continue
			}
			out = append(out, model.UserID{ID: m.Id, Email: m.Email})
		}
		return nil
	})
	if err != nil {
		return nil, apierr.FromGoogleAPI(err, "members of %s failed", groupEmail)
	}
	return out, nil
}

// SelfCheck probes the API by listing one group of the customer.
func (d *Directory) SelfCheck(ctx context.Context) error {
	_, err := d.svc.Groups.List().Customer(d.customer).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return apierr.FromGoogleAPI(err, "directory probe failed")
	}
	return nil
}
