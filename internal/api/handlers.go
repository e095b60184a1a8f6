package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ocx/elevate/internal/apierr"
	"github.com/ocx/elevate/internal/middleware"
	"github.com/ocx/elevate/internal/model"
	"github.com/ocx/elevate/internal/token"
)

// handlePolicy returns the activation policy options for UIs.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	opts := s.catalog.Options()
	s.writeJSON(w, map[string]interface{}{
		"activation_timeout_min":          int(opts.ActivationDuration.Minutes()),
		"min_reviewers":                   opts.MinReviewers,
		"max_reviewers":                   opts.MaxReviewers,
		"max_jit_roles_per_self_approval": opts.MaxJitRolesPerSelfApproval,
		"justification_hint":              s.activatorHint(),
	})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	started := time.Now()

	projects, err := s.catalog.ListProjects(r.Context(), user)
	s.metrics.CatalogLatency.WithLabelValues("list_projects").Observe(time.Since(started).Seconds())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if projects == nil {
		projects = []model.ProjectID{}
	}
	s.writeJSON(w, map[string]interface{}{"projects": projects})
}

func (s *Server) handleListEntitlements(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	project := model.ProjectID(mux.Vars(r)["project"])
	started := time.Now()

	set, cached := s.entCache.Get(r.Context(), user, project)
	if cached {
		s.metrics.CacheHits.WithLabelValues("hit").Inc()
	} else {
		s.metrics.CacheHits.WithLabelValues("miss").Inc()
		var err error
		set, err = s.catalog.ListEntitlements(r.Context(), user, project,
			[]model.ActivationType{model.ActivationJit, model.ActivationMpa},
			[]model.EntitlementStatus{model.StatusAvailable, model.StatusActive})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.entCache.Put(r.Context(), user, project, set)
	}
	s.metrics.CatalogLatency.WithLabelValues("list_entitlements").Observe(time.Since(started).Seconds())

	type entitlementView struct {
		ID     string `json:"id"`
		Role   string `json:"role"`
		Name   string `json:"name"`
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	views := []entitlementView{}
	for _, e := range set.Merged() {
		views = append(views, entitlementView{
			ID:     e.ID(),
			Role:   e.Binding.Role,
			Name:   e.Name,
			Type:   string(e.Type),
			Status: e.Status.String(),
		})
	}
	s.writeJSON(w, map[string]interface{}{
		"entitlements": views,
		"warnings":     set.Warnings,
	})
}

func (s *Server) handleListReviewers(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	project := model.ProjectID(mux.Vars(r)["project"])
	role := r.URL.Query().Get("role")
	if role == "" {
		s.writeError(w, apierr.New(apierr.InvalidArgument, "role query parameter is required"))
		return
	}
	started := time.Now()

	reviewers, err := s.catalog.ListReviewers(r.Context(), user,
		model.ProjectRoleBinding{Project: project, Role: role})
	s.metrics.CatalogLatency.WithLabelValues("list_reviewers").Observe(time.Since(started).Seconds())
	if err != nil {
		s.writeError(w, err)
		return
	}

	emails := []string{}
	for _, reviewer := range reviewers {
		emails = append(emails, reviewer.Email)
	}
	s.writeJSON(w, map[string]interface{}{"reviewers": emails})
}

type activateBody struct {
	Roles           []string `json:"roles"`
	Justification   string   `json:"justification"`
	StartTime       string   `json:"start_time,omitempty"` // RFC3339, defaults to now
	DurationMinutes int      `json:"duration_minutes"`
}

func (b *activateBody) window(now time.Time) (time.Time, time.Duration, error) {
	start := now
	if b.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, b.StartTime)
		if err != nil {
			return time.Time{}, 0, apierr.Wrap(apierr.InvalidArgument, err, "bad start_time")
		}
		start = parsed
	}
	return start, time.Duration(b.DurationMinutes) * time.Minute, nil
}

func bindingsFor(project model.ProjectID, roles []string) []model.ProjectRoleBinding {
	out := make([]model.ProjectRoleBinding, 0, len(roles))
	for _, role := range roles {
		out = append(out, model.ProjectRoleBinding{Project: project, Role: role})
	}
	return out
}

// handleActivate grants a self-approved (JIT) activation.
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	project := model.ProjectID(mux.Vars(r)["project"])

	var body activateBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, apierr.Wrap(apierr.InvalidArgument, err, "bad request body"))
		return
	}
	start, duration, err := body.window(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	request, err := s.activator.CreateJitRequest(user, bindingsFor(project, body.Roles),
		body.Justification, start, duration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	act, err := s.activator.Activate(r.Context(), request)
	if err != nil {
		s.metrics.ActivationsTotal.WithLabelValues(string(model.ActivationJit), "error").Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.ActivationsTotal.WithLabelValues(string(model.ActivationJit), "granted").Inc()
	s.metrics.ActivationRoles.Observe(float64(len(request.Entitlements)))

	s.writeJSON(w, map[string]interface{}{
		"id":              request.ID,
		"activation_time": act.ActivationTime,
		"start_time":      request.StartTime,
		"end_time":        request.EndTime,
	})
}

type requestBody struct {
	Role            string   `json:"role"`
	Reviewers       []string `json:"reviewers"`
	Justification   string   `json:"justification"`
	StartTime       string   `json:"start_time,omitempty"`
	DurationMinutes int      `json:"duration_minutes"`
}

// handleRequest creates an MPA request and notifies the reviewers through the
// configured sinks.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())
	project := model.ProjectID(mux.Vars(r)["project"])

	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, apierr.Wrap(apierr.InvalidArgument, err, "bad request body"))
		return
	}
	window := activateBody{StartTime: body.StartTime, DurationMinutes: body.DurationMinutes}
	start, duration, err := window.window(time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}

	reviewers := make([]model.UserID, 0, len(body.Reviewers))
	for _, email := range body.Reviewers {
		reviewers = append(reviewers, model.UserID{Email: email})
	}

	request, err := s.activator.CreateMpaRequest(user,
		bindingsFor(project, []string{body.Role}), reviewers,
		body.Justification, start, duration)
	if err != nil {
		s.writeError(w, err)
		return
	}
	signed, err := s.activator.RequestApproval(r.Context(), request)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, map[string]interface{}{
		"id":         request.ID,
		"expires_at": signed.ExpiresAt,
	})
}

// handleApprove verifies an inbound approval token and commits the grant on
// behalf of the approver.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	approver, _ := middleware.UserFromContext(r.Context())
	obfuscated := r.URL.Query().Get("activation")
	if obfuscated == "" {
		s.writeError(w, apierr.New(apierr.InvalidArgument, "activation token is required"))
		return
	}

	request, err := s.signer.Verify(r.Context(), s.cfg.GCP.ActivationURL, token.Deobfuscate(obfuscated))
	if err != nil {
		s.metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.TokenVerifications.WithLabelValues("ok").Inc()

	act, err := s.activator.Approve(r.Context(), approver, request)
	if err != nil {
		s.metrics.ActivationsTotal.WithLabelValues(string(model.ActivationMpa), "error").Inc()
		s.writeError(w, err)
		return
	}
	s.metrics.ActivationsTotal.WithLabelValues(string(model.ActivationMpa), "granted").Inc()

	s.writeJSON(w, map[string]interface{}{
		"id":              request.ID,
		"beneficiary":     request.RequestingUser.Email,
		"approved_by":     approver.Email,
		"activation_time": act.ActivationTime,
		"start_time":      request.StartTime,
		"end_time":        request.EndTime,
	})
}

func (s *Server) activatorHint() string {
	return s.cfg.Elevation.JustificationHint
}
