package iamcond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/model"
)

func TestIsJitMarker(t *testing.T) {
	assert.True(t, IsJitMarker(&Condition{Expression: "has({}.jitAccessConstraint)"}))
	assert.True(t, IsJitMarker(&Condition{Expression: "  has({}.jitAccessConstraint)\n"}),
		"surrounding whitespace is trimmed")

	assert.False(t, IsJitMarker(nil))
	assert.False(t, IsJitMarker(&Condition{Expression: "has({}.multiPartyApprovalConstraint)"}))
	assert.False(t, IsJitMarker(&Condition{Expression: ""}))
}

// A marker with any extra conjunct must never classify as eligible.
func TestMarkers_ExtraConjunctsRejected(t *testing.T) {
	for _, expr := range []string{
		`has({}.jitAccessConstraint) && resource.name == "x"`,
		`true && has({}.jitAccessConstraint)`,
		`has({}.jitAccessConstraint) `,
		`has({}.multiPartyApprovalConstraint) || true`,
	} {
		cond := &Condition{Expression: expr}
		if expr == `has({}.jitAccessConstraint) ` {
			// trailing space alone trims away
			assert.True(t, IsJitMarker(cond), expr)
			continue
		}
		assert.False(t, IsJitMarker(cond), expr)
		assert.False(t, IsMpaMarker(cond), expr)
	}
}

func TestIsApprovalMarker(t *testing.T) {
	jit := &Condition{Expression: JitMarker}
	mpa := &Condition{Expression: MpaMarker}

	assert.True(t, IsApprovalMarker(jit, model.ActivationJit))
	assert.False(t, IsApprovalMarker(jit, model.ActivationMpa))
	assert.True(t, IsApprovalMarker(mpa, model.ActivationMpa))
	assert.False(t, IsApprovalMarker(mpa, model.ActivationJit))
}

func TestIsActivated(t *testing.T) {
	assert.True(t, IsActivated(&Condition{Title: "JIT access activation"}))
	assert.True(t, IsActivated(&Condition{Title: "jit access activation"}), "title compare is case-insensitive")
	assert.False(t, IsActivated(&Condition{Title: "something else"}))
	assert.False(t, IsActivated(nil))
}

func TestTemporaryCondition_RoundTrip(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	cond := TemporaryCondition(start, 5*time.Minute)

	assert.Equal(t, ActivatedTitle, cond.Title)
	assert.Equal(t,
		`(request.time >= timestamp("2024-03-01T10:30:00Z") && request.time < timestamp("2024-03-01T10:35:00Z"))`,
		cond.Expression)
	assert.True(t, IsActivated(cond))

	// Evaluate is true exactly on [start, start+d).
	cases := []struct {
		now  time.Time
		want bool
	}{
		{start.Add(-time.Second), false},
		{start, true},
		{start.Add(4 * time.Minute), true},
		{start.Add(5*time.Minute - time.Second), true},
		{start.Add(5 * time.Minute), false},
		{start.Add(time.Hour), false},
	}
	for _, tc := range cases {
		got, err := Evaluate(cond.Expression, tc.now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "at %s", tc.now)
	}
}

func TestTemporaryCondition_TruncatesToSeconds(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.UTC)
	cond := TemporaryCondition(start, time.Minute)
	assert.Contains(t, cond.Expression, `timestamp("2024-03-01T10:30:00Z")`)
}

func TestEvaluate_RejectsNonActivatedExpressions(t *testing.T) {
	for _, expr := range []string{
		"",
		JitMarker,
		`(request.time >= timestamp("not-a-time") && request.time < timestamp("2024-03-01T10:35:00Z"))`,
		`(request.time >= timestamp("2024-03-01T10:30:00Z"))`,
	} {
		_, err := Evaluate(expr, time.Now())
		assert.Error(t, err, expr)
	}
}

func TestEqual(t *testing.T) {
	a := &Condition{Title: "t", Expression: "e", Description: "d"}
	assert.True(t, Equal(a, &Condition{Title: "t", Expression: "e", Description: "d"}))
	assert.False(t, Equal(a, &Condition{Title: "t", Expression: "e"}))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}
