// Package iamcond classifies the sentinel IAM conditions that mark a binding
// as JIT-eligible, MPA-eligible or an activated temporary grant.
//
// Markers are matched byte-for-byte after trimming. They are pseudo
// expressions that the platform always evaluates as CONDITIONAL; they are
// never parsed as real CEL. A condition with any extra conjunct is not
// recognized.
package iamcond

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

const (
	// JitMarker marks a binding as eligible for self-approval.
	JitMarker = "has({}.jitAccessConstraint)"
	// MpaMarker marks a binding as eligible for peer approval.
	MpaMarker = "has({}.multiPartyApprovalConstraint)"
	// ActivatedTitle is the reserved title of temporary grants created by
	// this service.
	ActivatedTitle = "JIT access activation"
)

// Condition mirrors an IAM binding condition.
type Condition struct {
	Expression  string
	Title       string
	Description string
}

var activatedExpr = regexp.MustCompile(
	`^\(request\.time >= timestamp\("([^"]+)"\) && request\.time < timestamp\("([^"]+)"\)\)$`)

// IsJitMarker reports whether the condition is exactly the JIT sentinel.
func IsJitMarker(c *Condition) bool {
	return c != nil && strings.TrimSpace(c.Expression) == JitMarker
}

// IsMpaMarker reports whether the condition is exactly the MPA sentinel.
func IsMpaMarker(c *Condition) bool {
	return c != nil && strings.TrimSpace(c.Expression) == MpaMarker
}

// IsApprovalMarker dispatches on the activation type.
func IsApprovalMarker(c *Condition, t model.ActivationType) bool {
	if t == model.ActivationJit {
		return IsJitMarker(c)
	}
	return IsMpaMarker(c)
}

// IsActivated reports whether the condition carries the reserved activation
// title. The title compare is case-insensitive.
func IsActivated(c *Condition) bool {
	return c != nil && strings.EqualFold(c.Title, ActivatedTitle)
}

// Evaluate parses the two timestamps out of an activated expression and
// reports whether start <= now < end.
func Evaluate(expression string, now time.Time) (bool, error) {
	start, end, err := ParseWindow(expression)
	if err != nil {
		return false, err
	}
	return !now.Before(start) && now.Before(end), nil
}

// ParseWindow extracts the validity window of an activated expression.
func ParseWindow(expression string) (start, end time.Time, err error) {
	m := activatedExpr.FindStringSubmatch(strings.TrimSpace(expression))
	if m == nil {
		return time.Time{}, time.Time{}, apierr.New(apierr.InvalidArgument,
			"not a temporary access condition: %q", expression)
	}
	start, err = time.Parse(time.RFC3339, m[1])
	if err != nil {
		return time.Time{}, time.Time{}, apierr.Wrap(apierr.InvalidArgument, err, "bad start timestamp")
	}
	end, err = time.Parse(time.RFC3339, m[2])
	if err != nil {
		return time.Time{}, time.Time{}, apierr.Wrap(apierr.InvalidArgument, err, "bad end timestamp")
	}
	return start, end, nil
}

// TemporaryCondition builds the condition for a grant valid in
// [start, start+duration). Timestamps are UTC, truncated to seconds.
func TemporaryCondition(start time.Time, duration time.Duration) *Condition {
	s := start.UTC().Truncate(time.Second)
	e := s.Add(duration)
	return &Condition{
		Title: ActivatedTitle,
		Expression: fmt.Sprintf(
			`(request.time >= timestamp("%s") && request.time < timestamp("%s"))`,
			s.Format(time.RFC3339), e.Format(time.RFC3339)),
	}
}

// Equal compares two conditions by title, expression and description. A nil
// condition only equals another nil condition.
func Equal(a, b *Condition) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Title == b.Title && a.Expression == b.Expression && a.Description == b.Description
}
