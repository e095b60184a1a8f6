// Package policy validates caller-supplied activation justifications.
package policy

import (
	"regexp"
	"strings"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

// Justification accepts justification strings matching a configured pattern.
type Justification struct {
	pattern *regexp.Regexp
	hint    string
}

// NewJustification compiles the configured pattern. The pattern is anchored:
// the whole justification must match.
func NewJustification(pattern, hint string) (*Justification, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidArgument, err, "bad justification pattern %q", pattern)
	}
	return &Justification{pattern: re, hint: hint}, nil
}

// Check validates the justification for the given user.
func (j *Justification) Check(justification string, user model.UserID) error {
	if strings.TrimSpace(justification) == "" {
		return apierr.New(apierr.InvalidArgument, "a justification is required (%s)", j.hint)
	}
	if !j.pattern.MatchString(justification) {
		return apierr.New(apierr.InvalidArgument, "justification does not match the required format (%s)", j.hint)
	}
	return nil
}

// Hint is the human-readable description shown in UIs.
func (j *Justification) Hint() string { return j.hint }
