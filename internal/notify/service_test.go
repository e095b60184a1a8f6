package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/elevate/internal/activation"
	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

type recordingSink struct {
	name    string
	canSend bool
	events  []*Event
	err     error
}

func (s *recordingSink) Name() string  { return s.name }
func (s *recordingSink) CanSend() bool { return s.canSend }

func (s *recordingSink) Send(ctx context.Context, event *Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func testRequest(t *testing.T) *activation.Request {
	t.Helper()
	r, err := activation.NewMpaRequest(
		model.UserID{Email: "alice@example.com"},
		[]model.ProjectRoleBinding{{Project: "project-1", Role: "roles/iam.admin"}},
		[]model.UserID{{Email: "bob@example.com"}},
		"ticket-9", time.Now(), 10*time.Minute, time.Hour, 1, 10)
	require.NoError(t, err)
	return r
}

func TestCanSend(t *testing.T) {
	assert.False(t, NewService().CanSend())
	assert.False(t, NewService(&recordingSink{canSend: false}).CanSend())
	assert.True(t, NewService(&recordingSink{canSend: false}, &recordingSink{canSend: true}).CanSend())
}

func TestRequestActivation_FansOutToAbleSinks(t *testing.T) {
	able := &recordingSink{name: "able", canSend: true}
	declined := &recordingSink{name: "declined", canSend: false}
	svc := NewService(declined, able)

	r := testRequest(t)
	expires := r.EndTime
	err := svc.RequestActivation(context.Background(), r, "https://elevate.example.com/approve?activation=x~y~z", expires)
	require.NoError(t, err)

	assert.Empty(t, declined.events)
	require.Len(t, able.events, 1)
	event := able.events[0]
	assert.Equal(t, EventRequestActivation, event.Type)
	assert.Equal(t, r.ID, event.RequestID)
	assert.Equal(t, "alice@example.com", event.Beneficiary)
	assert.Equal(t, []string{"bob@example.com"}, event.Reviewers)
	assert.Equal(t, []string{"roles/iam.admin"}, event.Roles)
	assert.Equal(t, "project-1", event.Project)
	assert.Contains(t, event.ApprovalURL, "activation=")
	assert.Equal(t, expires, event.ExpiresAt)
}

func TestRequestActivation_NoAbleSink(t *testing.T) {
	svc := NewService(&recordingSink{canSend: false})
	err := svc.RequestActivation(context.Background(), testRequest(t), "url", time.Now())
	require.Error(t, err)
	assert.Equal(t, apierr.FeatureNotAvailable, apierr.KindOf(err))
}

func TestActivationApproved(t *testing.T) {
	sink := &recordingSink{canSend: true}
	svc := NewService(sink)

	r := testRequest(t)
	act := &activation.Activation{Request: r, ActivationTime: time.Now()}
	err := svc.ActivationApproved(context.Background(), r, model.UserID{Email: "bob@example.com"}, act)
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, EventActivationApproved, event.Type)
	assert.Equal(t, "bob@example.com", event.Approver)
	assert.Equal(t, act.ActivationTime, event.ActivationTime)
}

func TestSend_FirstFailureReportedAfterAllSinksTried(t *testing.T) {
	failing := &recordingSink{name: "failing", canSend: true, err: assert.AnError}
	working := &recordingSink{name: "working", canSend: true}
	svc := NewService(failing, working)

	err := svc.RequestActivation(context.Background(), testRequest(t), "url", time.Now())
	assert.Error(t, err)
	assert.Len(t, working.events, 1, "later sinks still receive the event")
}

func TestRenderMail_RequestActivation(t *testing.T) {
	r := testRequest(t)
	event := newEvent(EventRequestActivation, r, time.Now())
	event.ApprovalURL = "https://elevate.example.com/approve?activation=a~b~c"
	event.ExpiresAt = r.EndTime

	recipients, subject, body := renderMail(event)
	assert.Equal(t, []string{"bob@example.com"}, recipients)
	assert.Contains(t, subject, "alice@example.com")
	assert.Contains(t, subject, "roles/iam.admin")
	assert.Contains(t, body, "ticket-9")
	assert.Contains(t, body, event.ApprovalURL)
}

func TestRenderMail_ActivationApproved(t *testing.T) {
	r := testRequest(t)
	event := newEvent(EventActivationApproved, r, time.Now())
	event.Approver = "bob@example.com"

	recipients, subject, body := renderMail(event)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, recipients)
	assert.Contains(t, subject, "approved")
	assert.Contains(t, body, "project-1")
}
