// Package notify produces activation events and fans them out to delivery
// sinks: Pub/Sub for durable cross-service consumption, Cloud Tasks for
// webhook delivery, SMTP for reviewer mails. Delivery semantics beyond
// handing the event to a sink are the sinks' problem.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/elevate/internal/activation"
	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/model"
)

// EventType discriminates activation events.
type EventType string

const (
	// EventRequestActivation asks reviewers to approve a pending request.
	EventRequestActivation EventType = "elevate.activation.requested"
	// EventActivationApproved announces a committed approval.
	EventActivationApproved EventType = "elevate.activation.approved"
)

// Event is the structured notification payload handed to sinks.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	Time          time.Time `json:"time"`
	RequestID     string    `json:"request_id"`
	Beneficiary   string    `json:"beneficiary"`
	Reviewers     []string  `json:"reviewers,omitempty"`
	Roles         []string  `json:"roles"`
	Project       string    `json:"project"`
	Justification string    `json:"justification"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`

	// RequestActivation only.
	ApprovalURL string    `json:"approval_url,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`

	// ActivationApproved only.
	Approver       string    `json:"approver,omitempty"`
	ActivationTime time.Time `json:"activation_time,omitempty"`
}

// JSON serializes the event for wire delivery.
func (e *Event) JSON() ([]byte, error) { return json.Marshal(e) }

func newEvent(t EventType, r *activation.Request, now time.Time) *Event {
	reviewers := make([]string, 0, len(r.Reviewers))
	for _, reviewer := range r.Reviewers {
		reviewers = append(reviewers, reviewer.Email)
	}
	roles := make([]string, 0, len(r.Entitlements))
	for _, e := range r.Entitlements {
		roles = append(roles, e.Role)
	}
	return &Event{
		ID:            "evt-" + uuid.NewString(),
		Type:          t,
		Time:          now,
		RequestID:     r.ID,
		Beneficiary:   r.RequestingUser.Email,
		Reviewers:     reviewers,
		Roles:         roles,
		Project:       string(r.Entitlements[0].Project),
		Justification: r.Justification,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
	}
}

// Sink is one delivery channel. A sink may decline (CanSend false) when it is
// not configured for the deployment.
type Sink interface {
	Name() string
	CanSend() bool
	Send(ctx context.Context, event *Event) error
}

var errNoSink = apierr.New(apierr.FeatureNotAvailable, "no notification channel is able to deliver")

var _ activation.Notifier = (*Service)(nil)

// Service implements the activator's Notifier on a set of sinks.
type Service struct {
	sinks []Sink
	now   func() time.Time
}

func NewService(sinks ...Sink) *Service {
	return &Service{sinks: sinks, now: time.Now}
}

// CanSend reports whether at least one sink can deliver.
func (s *Service) CanSend() bool {
	for _, sink := range s.sinks {
		if sink.CanSend() {
			return true
		}
	}
	return false
}

func (s *Service) RequestActivation(ctx context.Context, r *activation.Request, approvalURL string, expiresAt time.Time) error {
	event := newEvent(EventRequestActivation, r, s.now())
	event.ApprovalURL = approvalURL
	event.ExpiresAt = expiresAt
	return s.send(ctx, event)
}

func (s *Service) ActivationApproved(ctx context.Context, r *activation.Request, approver model.UserID, a *activation.Activation) error {
	event := newEvent(EventActivationApproved, r, s.now())
	event.Approver = approver.Email
	event.ActivationTime = a.ActivationTime
	return s.send(ctx, event)
}

// send fans the event to every able sink. The first failure is returned after
// all sinks had their chance.
func (s *Service) send(ctx context.Context, event *Event) error {
	var firstErr error
	delivered := false
	for _, sink := range s.sinks {
		if !sink.CanSend() {
			continue
		}
		delivered = true
		if err := sink.Send(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !delivered && firstErr == nil {
		return errNoSink
	}
	return firstErr
}
