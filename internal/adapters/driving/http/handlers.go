package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/swaggo/swag"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driving"
)

// ErrorResponse represents an API error response
// @Description API error response
type ErrorResponse struct {
	Error string `json:"error" example:"invalid request body"`
}

// OAuthErrorResponse represents an install-flow error
// @Description Install flow error response
type OAuthErrorResponse struct {
	Error            string `json:"error" example:"exchange_failed"`
	ErrorDescription string `json:"error_description,omitempty" example:"token endpoint returned 400: invalid_grant"`
	UpstreamStatus   int    `json:"upstream_status,omitempty" example:"400"`
}

// StatusResponse represents a simple status response
// @Description Simple status response
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// ReadyResponse reports dependency health
// @Description Readiness response with per-dependency status
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// VersionResponse represents the API version response
// @Description API version response
type VersionResponse struct {
	Version string `json:"version" example:"1.0.0"`
}

// UserContextRequest carries an encrypted SSO payload
// @Description Encrypted SSO payload from the embedding page
type UserContextRequest struct {
	Encrypted string `json:"encrypted" example:"U2FsdGVkX1..."`
}

// Health endpoints

// handleHealth godoc
// @Summary      Health check
// @Description  Returns the health status of the API
// @Tags         Health
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /health [get]
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady godoc
// @Summary      Readiness check
// @Description  Pings the token store and the lock backend
// @Tags         Health
// @Produce      json
// @Success      200  {object}  ReadyResponse
// @Failure      503  {object}  ReadyResponse
// @Router       /ready [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := ReadyResponse{Status: "ready", Checks: map[string]string{}}
	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(ctx); err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}
	check("store", s.store)
	check("lock", s.lock)

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleVersion godoc
// @Summary      Get API version
// @Description  Returns the current API version
// @Tags         Health
// @Produce      json
// @Success      200  {object}  VersionResponse
// @Router       /version [get]
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// handleOpenAPI serves the registered OpenAPI document.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		writeError(w, http.StatusNotFound, "api documentation not registered")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(doc))
}

// Install flow endpoints

// handleAuthorize godoc
// @Summary      Start an install
// @Description  Redirects to the provider consent page. Send Accept: application/json to get the URL instead.
// @Tags         Install
// @Produce      json
// @Param        user_type  query     string  false  "Install target hint (Company or Location)"
// @Param        returnTo   query     string  false  "Where to send the browser after the callback"
// @Success      200        {object}  driving.AuthorizeResponse
// @Success      302
// @Failure      503        {object}  ErrorResponse
// @Router       /oauth/authorize [get]
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	returnTo := q.Get("returnTo")
	if returnTo == "" {
		returnTo = q.Get("return_to")
	}
	if returnTo != "" && !s.returnTo.allows(returnTo) {
		writeError(w, http.StatusBadRequest, "returnTo must be a local path or an allowed provider page")
		return
	}

	resp, err := s.installService.Authorize(r.Context(), driving.AuthorizeRequest{
		UserType: domain.ParseUserType(q.Get("user_type")),
		ReturnTo: returnTo,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	http.Redirect(w, r, resp.AuthorizationURL, http.StatusFound)
}

// handleCallback godoc
// @Summary      Install callback
// @Description  Receives the provider redirect, stores the install and, for agencies, mints sub-account tokens
// @Tags         Install
// @Produce      json
// @Param        code               query     string  false  "Authorization code"
// @Param        state              query     string  true   "State parameter"
// @Param        user_type          query     string  false  "Install target hint"
// @Param        error              query     string  false  "Provider error code"
// @Param        error_description  query     string  false  "Provider error description"
// @Success      200                {object}  driving.CallbackResponse
// @Success      302
// @Failure      400                {object}  OAuthErrorResponse
// @Failure      422                {object}  OAuthErrorResponse
// @Failure      502                {object}  OAuthErrorResponse
// @Router       /oauth/callback [get]
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.installService.Callback(r.Context(), driving.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		UserType:         domain.ParseUserType(q.Get("user_type")),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		var oauthErr *driving.OAuthError
		if errors.As(err, &oauthErr) {
			s.writeOAuthError(w, r, oauthErr)
			return
		}
		s.writeDomainError(w, r, err)
		return
	}

	if resp.ReturnTo != "" && s.returnTo.allows(resp.ReturnTo) {
		http.Redirect(w, r, withInstallParams(resp), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleResolveUserContext godoc
// @Summary      Resolve SSO context
// @Description  Decrypts the provider SSO payload and returns the matching install
// @Tags         Install
// @Accept       json
// @Produce      json
// @Param        request  body      UserContextRequest  true  "Encrypted payload"
// @Success      200      {object}  driving.UserContextResponse
// @Failure      400      {object}  ErrorResponse
// @Failure      503      {object}  ErrorResponse
// @Router       /api/v1/sso/context [post]
func (s *Server) handleResolveUserContext(w http.ResponseWriter, r *http.Request) {
	var req UserContextRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.installService.ResolveUserContext(r.Context(), req.Encrypted)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Administrative endpoints

// handleDiscover godoc
// @Summary      Discover sub-accounts
// @Description  Enumerates the agency's sub-accounts and mints a token for each. Without companyId an arbitrary agency install is used.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        companyId  query     string  false  "Agency id"
// @Success      200        {object}  domain.DiscoveryResult
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse  "Discovery already running"
// @Failure      503        {object}  ErrorResponse
// @Router       /api/v1/agencies/discover [post]
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	agencyID := strings.TrimSpace(r.URL.Query().Get("companyId"))
	if agencyID == "" {
		install, err := s.installService.GetAgencyInstall(r.Context(), "")
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		agencyID = install.AgencyID
	}
	if agencyID == "" {
		writeError(w, http.StatusUnprocessableEntity, "agency install has no agency id")
		return
	}

	result, err := s.discoveryService.DiscoverAndMint(r.Context(), agencyID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetAgencyInstall godoc
// @Summary      Get agency install
// @Description  Returns the agency install for companyId, or an arbitrary agency install when omitted
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        companyId  query     string  false  "Agency id"
// @Success      200        {object}  domain.InstallSummary
// @Failure      404        {object}  ErrorResponse
// @Router       /api/v1/agency [get]
func (s *Server) handleGetAgencyInstall(w http.ResponseWriter, r *http.Request) {
	summary, err := s.installService.GetAgencyInstall(r.Context(), r.URL.Query().Get("companyId"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleGetInstall godoc
// @Summary      Get install
// @Description  Returns the install stored under a tenant key, without token values
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        tenantKey  path      string  true  "Tenant key, e.g. agency_C1 or location_L9"
// @Success      200        {object}  domain.InstallSummary
// @Failure      404        {object}  ErrorResponse
// @Router       /api/v1/installs/{tenantKey} [get]
func (s *Server) handleGetInstall(w http.ResponseWriter, r *http.Request) {
	summary, err := s.installService.GetInstall(r.Context(), r.PathValue("tenantKey"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// handleRefreshInstall godoc
// @Summary      Refresh install tokens
// @Description  Forces a refresh-token exchange for the tenant
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        tenantKey  path      string  true  "Tenant key"
// @Success      200        {object}  domain.InstallSummary
// @Failure      404        {object}  ErrorResponse
// @Failure      409        {object}  ErrorResponse  "No refresh token on file"
// @Failure      502        {object}  OAuthErrorResponse
// @Router       /api/v1/installs/{tenantKey}/refresh [post]
func (s *Server) handleRefreshInstall(w http.ResponseWriter, r *http.Request) {
	summary, err := s.installService.RefreshTenant(r.Context(), r.PathValue("tenantKey"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Query names accepted for the install status lookup. Embedding contexts
// disagree on naming, so the first non-empty alias wins.
var (
	subAccountIDParams = []string{"location_id", "locationId", "location", "subAccountId", "accountId"}
	agencyIDParams     = []string{"agency_id", "agencyId", "companyId"}
)

// handleInstalled godoc
// @Summary      Install status
// @Description  Reports whether the app is installed for a sub-account, or for an agency when no sub-account id is given
// @Tags         Install
// @Produce      json
// @Param        locationId  query     string  false  "Sub-account id (aliases: location_id, location, subAccountId, accountId)"
// @Param        companyId   query     string  false  "Agency id (aliases: agency_id, agencyId)"
// @Success      200         {object}  domain.InstallStatus
// @Failure      503         {object}  ErrorResponse
// @Router       /api/v1/installed [get]
func (s *Server) handleInstalled(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex")

	q := r.URL.Query()
	status, err := s.installService.InstalledStatus(r.Context(), driving.InstalledQuery{
		SubAccountID: firstParam(q, subAccountIDParams),
		AgencyID:     firstParam(q, agencyIDParams),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleSubAccountToken godoc
// @Summary      Sub-account access token
// @Description  Exchanges the stored refresh token of a sub-account and returns the new short-lived access token
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        locationId  query     string  true  "Sub-account id"
// @Success      200         {object}  driving.AccessTokenResponse
// @Failure      400         {object}  ErrorResponse
// @Failure      404         {object}  ErrorResponse
// @Failure      409         {object}  ErrorResponse  "No refresh token on file"
// @Failure      502         {object}  OAuthErrorResponse
// @Router       /api/v1/tokens/location [get]
func (s *Server) handleSubAccountToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	subAccountID := strings.TrimSpace(r.URL.Query().Get("locationId"))
	if subAccountID == "" {
		writeError(w, http.StatusBadRequest, "locationId is required")
		return
	}
	resp, err := s.installService.SubAccountAccessToken(r.Context(), subAccountID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Helper functions

// firstParam returns the first non-blank value among names.
func firstParam(q url.Values, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// writeOAuthError maps an install-flow error to a status code.
func (s *Server) writeOAuthError(w http.ResponseWriter, r *http.Request, e *driving.OAuthError) {
	resp := OAuthErrorResponse{Error: e.Code, ErrorDescription: e.Description}
	status := http.StatusBadRequest

	var upstream *domain.UpstreamTokenError
	switch {
	case errors.As(e, &upstream):
		status = http.StatusBadGateway
		resp.UpstreamStatus = upstream.Status
	case errors.Is(e, domain.ErrIdentityAmbiguous):
		status = http.StatusUnprocessableEntity
	case errors.Is(e, domain.ErrServiceUnavailable):
		status = http.StatusBadGateway
	}

	s.logger.Warn("install callback failed",
		"error", e.Code,
		"status", status,
		"request_id", GetRequestID(r.Context()))
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors to status codes. Upstream bodies are
// already truncated and never contain token values.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var upstreamTok *domain.UpstreamTokenError
	var upstream *domain.UpstreamError
	switch {
	case errors.As(err, &upstreamTok):
		writeJSON(w, http.StatusBadGateway, OAuthErrorResponse{
			Error:            "upstream_token_error",
			ErrorDescription: upstreamTok.Error(),
			UpstreamStatus:   upstreamTok.Status,
		})
		return
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrDiscoveryInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, domain.ErrNoRefreshToken), errors.Is(err, domain.ErrNoAccessToken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "error", err, "request_id", GetRequestID(r.Context()))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	case errors.As(err, &upstream):
		writeJSON(w, http.StatusBadGateway, OAuthErrorResponse{
			Error:            "upstream_error",
			ErrorDescription: upstream.Error(),
			UpstreamStatus:   upstream.Status,
		})
		return
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	s.logger.Error("request failed", "error", err, "request_id", GetRequestID(r.Context()))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// withInstallParams appends the install outcome to the returnTo path.
func withInstallParams(resp *driving.CallbackResponse) string {
	u, err := url.Parse(resp.ReturnTo)
	if err != nil {
		return resp.ReturnTo
	}
	q := u.Query()
	if resp.Install != nil {
		q.Set("tenant_key", resp.Install.TenantKey)
		q.Set("scope_kind", string(resp.Install.ScopeKind))
	}
	if resp.Discovery != nil {
		q.Set("minted", strconv.Itoa(resp.Discovery.Minted))
		q.Set("found", strconv.Itoa(resp.Discovery.Found))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
