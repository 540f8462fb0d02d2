package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/linetrace-io/linetrace/internal/storage"
)

type (
	createTenantRequest struct {
		Code     string                  `json:"code"`
		Name     string                  `json:"name"`
		Settings *storage.TenantSettings `json:"settings,omitempty"`
	}

	createUserRequest struct {
		TenantID string `json:"tenant_id"`
		Username string `json:"username"`
		Password string `json:"password"`
	}

	loginRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// loginResponse carries the freshly minted API key. The raw key is
	// shown exactly once; only its HMAC is stored.
	loginResponse struct {
		TenantID string `json:"tenant_id"`
		APIKey   string `json:"api_key"`
	}
)

// handleListTenants lists all tenants. Admin only.
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	tenants, err := s.deps.Tenants.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list tenants", "error", err.Error())

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list tenants"))

		return
	}

	if tenants == nil {
		tenants = []*storage.Tenant{}
	}

	s.writeJSON(w, r, http.StatusOK, map[string]any{"tenants": tenants})
}

// handleCreateTenant provisions a tenant. Admin only.
func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req createTenantRequest

	if problem := decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("code is required"))

		return
	}

	tenant := &storage.Tenant{
		Code: req.Code,
		Name: strings.TrimSpace(req.Name),
	}

	if tenant.Name == "" {
		tenant.Name = tenant.Code
	}

	if req.Settings != nil {
		tenant.Settings = *req.Settings
	}

	if err := s.deps.Tenants.Create(r.Context(), tenant); err != nil {
		if errors.Is(err, storage.ErrTenantExists) {
			WriteErrorResponse(w, r, s.logger,
				Conflict("A tenant with that code already exists").WithErrorCode("E_TENANT_EXISTS"))

			return
		}

		s.logger.Error("failed to create tenant", "code", req.Code, "error", err.Error())

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create tenant"))

		return
	}

	s.writeJSON(w, r, http.StatusCreated, tenant)
}

// handleLogin exchanges username/password credentials for a tenant API
// key.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	if problem := decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if req.Username == "" || req.Password == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("username and password are required"))

		return
	}

	user, err := s.deps.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			WriteErrorResponse(w, r, s.logger, Unauthorized("Invalid username or password"))

			return
		}

		s.logger.Error("login failed", "username", req.Username, "error", err.Error())

		WriteErrorResponse(w, r, s.logger, InternalServerError("Login failed"))

		return
	}

	_, rawKey, err := s.deps.Keys.Create(r.Context(), user.TenantID, "login:"+user.Username)
	if err != nil {
		s.logger.Error("failed to issue API key", "tenant_id", user.TenantID, "error", err.Error())

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to issue API key"))

		return
	}

	s.logger.Info("user logged in",
		"username", user.Username,
		"tenant_id", user.TenantID,
	)

	s.writeJSON(w, r, http.StatusOK, loginResponse{
		TenantID: user.TenantID,
		APIKey:   rawKey,
	})
}

// handleCreateUser registers a login user for a tenant. Admin only.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req createUserRequest

	if problem := decodeJSONBody(r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	if req.TenantID == "" || req.Username == "" || req.Password == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("tenant_id, username, and password are required"))

		return
	}

	user, err := s.deps.Users.Create(r.Context(), req.TenantID, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserExists):
			WriteErrorResponse(w, r, s.logger,
				Conflict("A user with that username already exists").WithErrorCode("E_USER_EXISTS"))
		case errors.Is(err, storage.ErrTenantNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("Tenant not found"))
		default:
			s.logger.Error("failed to create user", "username", req.Username, "error", err.Error())

			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create user"))
		}

		return
	}

	s.writeJSON(w, r, http.StatusCreated, user)
}

// decodeJSONBody decodes a JSON request body, rejecting unknown fields.
func decodeJSONBody(r *http.Request, target any) *ProblemDetail {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(target); err != nil {
		return BadRequest("Request body must be valid JSON: " + err.Error())
	}

	return nil
}
