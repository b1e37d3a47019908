package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/orbitplan/orbitapi/internal/auth"
	"github.com/orbitplan/orbitapi/internal/config"
	"github.com/orbitplan/orbitapi/internal/db/models"
	"github.com/orbitplan/orbitapi/internal/repository"
	"github.com/orbitplan/orbitapi/internal/services/iam"
	"github.com/orbitplan/orbitapi/internal/services/tenancy"
)

// UserIDParam is the chi route parameter naming a member.
const UserIDParam = "userId"

// OrganizationResponse is the wire form of an organization.
type OrganizationResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ProjectResponse is the wire form of a project.
type ProjectResponse struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// MemberResponse is the wire form of an organization or project membership.
type MemberResponse struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// BoardResponse is returned by the project board endpoint.
type BoardResponse struct {
	ProjectID string   `json:"project_id"`
	Role      string   `json:"role"`
	Columns   []string `json:"columns"`
}

func toOrganization(o *models.Organization) OrganizationResponse {
	return OrganizationResponse{ID: o.ID, Name: o.Name, Color: o.Color, CreatedBy: o.CreatedBy, CreatedAt: o.CreatedAt}
}

func toProject(p *models.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		OrganizationID: p.OrganizationID,
		Name:           p.Name,
		Description:    p.Description,
		CreatedBy:      p.CreatedBy,
		CreatedAt:      p.CreatedAt,
	}
}

type createOrganizationRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type switchOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

type switchProjectRequest struct {
	ProjectID string `json:"project_id"`
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type updateMemberRequest struct {
	Role string `json:"role"`
}

// TenancyHandlers serves the organization and project endpoints. Every
// handler runs behind ResolveContext and RLSSession.
type TenancyHandlers struct {
	tenancy *tenancy.Service
	iam     iamHandlerService
	cookies config.CookieConfig
}

// NewTenancyHandlers wires the handlers.
func NewTenancyHandlers(svc *tenancy.Service, iamService iamHandlerService, cookies config.CookieConfig) *TenancyHandlers {
	return &TenancyHandlers{tenancy: svc, iam: iamService, cookies: cookies}
}

// requestContext returns the resolved context; the guard chain guarantees it.
func requestContext(r *http.Request) *auth.RequestContext {
	rc, _ := auth.RequestContextFrom(r.Context())
	return rc
}

// memberParam returns the {userId} route parameter, or "" when malformed.
func memberParam(r *http.Request) string {
	id := chi.URLParam(r, UserIDParam)
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}

// CreateOrganization handles POST /api/organizations
func (h *TenancyHandlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc := requestContext(r)

	org, err := h.tenancy.CreateOrganization(r.Context(), rc.ActingUserID, req.Name, req.Color)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	setActiveOrganization(w, h.cookies, org.ID)
	writeJSON(w, http.StatusCreated, toOrganization(org))
}

// SwitchOrganization handles POST /api/organizations/switch
func (h *TenancyHandlers) SwitchOrganization(w http.ResponseWriter, r *http.Request) {
	var req switchOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc := requestContext(r)

	if err := h.tenancy.SwitchOrganization(r.Context(), rc.ActingUserID, req.OrganizationID); err != nil {
		if errors.Is(err, tenancy.ErrNotMember) {
			err = ErrOrganizationUnavailable
		}
		writeServiceError(w, r, err)
		return
	}
	setActiveOrganization(w, h.cookies, req.OrganizationID)
	writeJSON(w, http.StatusOK, switchOrganizationRequest{OrganizationID: req.OrganizationID})
}

// SwitchProject handles POST /api/projects/switch
func (h *TenancyHandlers) SwitchProject(w http.ResponseWriter, r *http.Request) {
	var req switchProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc := requestContext(r)
	ctx := r.Context()

	if _, err := uuid.Parse(req.ProjectID); err != nil {
		writeServiceError(w, r, ErrProjectUnavailable)
		return
	}
	if _, err := h.tenancy.GetProject(ctx, rc.Organization.ID, req.ProjectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			err = ErrProjectUnavailable
		}
		writeServiceError(w, r, err)
		return
	}
	if err := h.iam.AuthorizeProject(ctx, rc.ActingUserID, req.ProjectID, auth.ProjectRead); err != nil {
		if errors.Is(err, iam.ErrPermissionDenied) {
			err = ErrProjectUnavailable
		}
		writeServiceError(w, r, err)
		return
	}
	setActiveProject(w, h.cookies, req.ProjectID)
	writeJSON(w, http.StatusOK, switchProjectRequest{ProjectID: req.ProjectID})
}

// ListOrganizationMembers handles GET /api/organizations/members
func (h *TenancyHandlers) ListOrganizationMembers(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	members, err := h.tenancy.ListOrganizationMembers(r.Context(), rc.Organization.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, MemberResponse{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// AddOrganizationMember handles POST /api/organizations/members
func (h *TenancyHandlers) AddOrganizationMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		writeServiceError(w, r, repository.ErrNotFound)
		return
	}
	rc := requestContext(r)

	m, err := h.tenancy.AddOrganizationMember(r.Context(), rc.ActingUserID, rc.Organization.ID, req.UserID, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberResponse{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
}

// UpdateOrganizationMember handles PATCH /api/organizations/members/{userId}
func (h *TenancyHandlers) UpdateOrganizationMember(w http.ResponseWriter, r *http.Request) {
	var req updateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := memberParam(r)
	if userID == "" {
		writeServiceError(w, r, tenancy.ErrNotMember)
		return
	}
	rc := requestContext(r)

	if err := h.tenancy.UpdateOrganizationMemberRole(r.Context(), rc.ActingUserID, rc.Organization.ID, userID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveOrganizationMember handles DELETE /api/organizations/members/{userId}
func (h *TenancyHandlers) RemoveOrganizationMember(w http.ResponseWriter, r *http.Request) {
	userID := memberParam(r)
	if userID == "" {
		writeServiceError(w, r, tenancy.ErrNotMember)
		return
	}
	rc := requestContext(r)

	if err := h.tenancy.RemoveOrganizationMember(r.Context(), rc.ActingUserID, rc.Organization.ID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateProject handles POST /api/projects
func (h *TenancyHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rc := requestContext(r)

	project, err := h.tenancy.CreateProject(r.Context(), rc.Organization.ID, rc.ActingUserID, req.Name, req.Description)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProject(project))
}

// GetProject handles GET /api/projects/{projectId}
func (h *TenancyHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	project, err := h.tenancy.GetProject(r.Context(), rc.Organization.ID, rc.Project.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProject(project))
}

// ListProjectMembers handles GET /api/projects/{projectId}/members
func (h *TenancyHandlers) ListProjectMembers(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	members, err := h.tenancy.ListProjectMembers(r.Context(), rc.Project.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]MemberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, MemberResponse{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

// AddProjectMember handles POST /api/projects/{projectId}/members
func (h *TenancyHandlers) AddProjectMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		writeServiceError(w, r, tenancy.ErrNotMember)
		return
	}
	rc := requestContext(r)

	m, err := h.tenancy.AddProjectMember(r.Context(), rc.ActingUserID, rc.Project.ID, req.UserID, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberResponse{UserID: m.UserID, Role: m.Role, JoinedAt: m.JoinedAt})
}

// UpdateProjectMember handles PATCH /api/projects/{projectId}/members/{userId}
func (h *TenancyHandlers) UpdateProjectMember(w http.ResponseWriter, r *http.Request) {
	var req updateMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID := memberParam(r)
	if userID == "" {
		writeServiceError(w, r, tenancy.ErrNotMember)
		return
	}
	rc := requestContext(r)

	if err := h.tenancy.UpdateProjectMemberRole(r.Context(), rc.ActingUserID, rc.Project.ID, userID, req.Role); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveProjectMember handles DELETE /api/projects/{projectId}/members/{userId}
func (h *TenancyHandlers) RemoveProjectMember(w http.ResponseWriter, r *http.Request) {
	userID := memberParam(r)
	if userID == "" {
		writeServiceError(w, r, tenancy.ErrNotMember)
		return
	}
	rc := requestContext(r)

	if err := h.tenancy.RemoveProjectMember(r.Context(), rc.ActingUserID, rc.Project.ID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Board handles GET /api/projects/{projectId}/board
func (h *TenancyHandlers) Board(w http.ResponseWriter, r *http.Request) {
	rc := requestContext(r)
	writeJSON(w, http.StatusOK, BoardResponse{
		ProjectID: rc.Project.ID,
		Role:      string(rc.Project.Role),
		Columns:   []string{"backlog", "in_progress", "done"},
	})
}
