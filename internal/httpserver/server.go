package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/auth"
	"github.com/apitize/version-service/internal/config"
	"github.com/apitize/version-service/internal/models"
	"github.com/apitize/version-service/internal/service"
)

type Server struct {
	cfg config.Config
	svc *service.Service
}

func New(cfg config.Config, svc *service.Service) *Server {
	return &Server{cfg: cfg, svc: svc}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(auth.MiddlewareConfig{
			JWTSecret:         []byte(s.cfg.JWTSecret),
			AllowTenantHeader: s.cfg.AllowTenantHeader,
		}))

		r.Route("/apis/{apiID}", func(r chi.Router) {
			r.Post("/versions", s.handleCreateVersion)
			r.Get("/versions", s.handleListVersions)
			r.Get("/versions/latest", s.handleGetLatestVersion)
			r.Get("/versions/{version}", s.handleGetVersion)
			r.Post("/versions/{version}/publish", s.handlePublishVersion)
			r.Post("/versions/{version}/deprecate", s.handleDeprecateVersion)
			r.Post("/versions/{version}/retire", s.handleRetireVersion)

			r.Get("/compatibility", s.handleCompareVersions)

			r.Post("/migrations", s.handleCreateMigrationPlan)
			r.Get("/migrations/{planID}", s.handleGetMigrationPlan)
			r.Post("/migrations/{planID}/status", s.handleUpdatePlanStatus)

			r.Put("/policy", s.handlePutPolicy)
			r.Get("/policy", s.handleGetPolicy)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.svc.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = "down"
		status["error"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["db"] = "up"
	respondJSON(w, http.StatusOK, status)
}

type createVersionRequest struct {
	Version    string                      `json:"version"`
	Status     models.VersionStatus        `json:"status,omitempty"`
	Spec       json.RawMessage             `json:"spec"`
	Deployment models.DeploymentDescriptor `json:"deployment"`
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req createVersionRequest
	if err := decodeJSON(w, r, &req, 4<<20); err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
		return
	}
	if req.Version == "" || len(req.Spec) == 0 {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "version and spec are required")
		return
	}
	switch req.Status {
	case "", models.StatusDraft, models.StatusPublished:
	default:
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "initial status must be draft or published")
		return
	}
	v, err := s.svc.CreateVersion(r.Context(), tenantID, service.CreateVersionRequest{
		APIID:      chi.URLParam(r, "apiID"),
		Version:    req.Version,
		Status:     req.Status,
		Spec:       req.Spec,
		Deployment: req.Deployment,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	status := models.VersionStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.StatusDraft, models.StatusPublished, models.StatusDeprecated, models.StatusRetired:
	default:
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "unknown status filter")
		return
	}
	versions, err := s.svc.ListVersions(r.Context(), tenantID, chi.URLParam(r, "apiID"), status)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if versions == nil {
		versions = []models.APIVersion{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"versions": versions})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	v, err := s.svc.GetVersion(r.Context(), tenantID, chi.URLParam(r, "apiID"), chi.URLParam(r, "version"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleGetLatestVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	v, err := s.svc.GetLatestVersion(r.Context(), tenantID, chi.URLParam(r, "apiID"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handlePublishVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	v, err := s.svc.PublishVersion(r.Context(), tenantID, chi.URLParam(r, "apiID"), chi.URLParam(r, "version"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

type deprecateRequest struct {
	Reason             string     `json:"reason"`
	MigrationGuide     string     `json:"migrationGuide,omitempty"`
	SupportEndDate     *time.Time `json:"supportEndDate,omitempty"`
	ReplacementVersion string     `json:"replacementVersion,omitempty"`
}

func (s *Server) handleDeprecateVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req deprecateRequest
	if err := decodeJSON(w, r, &req, 64*1024); err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
		return
	}
	plan := models.DeprecationPlan{
		Reason:             req.Reason,
		MigrationGuide:     req.MigrationGuide,
		ReplacementVersion: req.ReplacementVersion,
	}
	if req.SupportEndDate != nil {
		plan.SupportEndDate = req.SupportEndDate.UTC()
	}
	v, err := s.svc.DeprecateVersion(r.Context(), tenantID, chi.URLParam(r, "apiID"), chi.URLParam(r, "version"), plan)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleRetireVersion(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	v, err := s.svc.RetireVersion(r.Context(), tenantID, chi.URLParam(r, "apiID"), chi.URLParam(r, "version"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (s *Server) handleCompareVersions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from == "" || to == "" {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "from and to query parameters are required")
		return
	}
	report, err := s.svc.CompareVersions(r.Context(), tenantID, chi.URLParam(r, "apiID"), from, to)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type createPlanRequest struct {
	FromVersion string                   `json:"fromVersion"`
	ToVersion   string                   `json:"toVersion"`
	Strategy    models.MigrationStrategy `json:"strategy"`
}

func (s *Server) handleCreateMigrationPlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req createPlanRequest
	if err := decodeJSON(w, r, &req, 64*1024); err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
		return
	}
	if req.FromVersion == "" || req.ToVersion == "" || req.Strategy == "" {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "fromVersion, toVersion, and strategy are required")
		return
	}
	plan, err := s.svc.CreateMigrationPlan(r.Context(), tenantID, chi.URLParam(r, "apiID"), req.FromVersion, req.ToVersion, req.Strategy)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetMigrationPlan(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "invalid plan id")
		return
	}
	plan, err := s.svc.GetMigrationPlan(r.Context(), tenantID, planID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	// Plans are addressed under their api; a plan id of the same tenant is
	// not reachable through another api's route.
	if plan.APIID != chi.URLParam(r, "apiID") {
		respondError(w, http.StatusNotFound, "APITIZE_NOT_FOUND", models.ErrPlanNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

type planStatusRequest struct {
	Status models.PlanStatus `json:"status"`
}

func (s *Server) handleUpdatePlanStatus(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	planID, err := uuid.Parse(chi.URLParam(r, "planID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "invalid plan id")
		return
	}
	var req planStatusRequest
	if err := decodeJSON(w, r, &req, 16*1024); err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
		return
	}
	existing, err := s.svc.GetMigrationPlan(r.Context(), tenantID, planID)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	if existing.APIID != chi.URLParam(r, "apiID") {
		respondError(w, http.StatusNotFound, "APITIZE_NOT_FOUND", models.ErrPlanNotFound.Error())
		return
	}
	plan, err := s.svc.UpdateMigrationPlanStatus(r.Context(), tenantID, planID, req.Status)
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

type policyRequest struct {
	MaxVersions       int                       `json:"maxVersions"`
	SupportPeriodDays int                       `json:"supportPeriodDays"`
	WarningLeadDays   int                       `json:"warningLeadDays,omitempty"`
	AutoRetire        bool                      `json:"autoRetire,omitempty"`
	AllowedBreaking   models.CompatibilityLevel `json:"allowedBreaking,omitempty"`
}

func policyResponse(p models.LifecyclePolicy) map[string]interface{} {
	return map[string]interface{}{
		"tenantId":          p.TenantID,
		"apiId":             p.APIID,
		"maxVersions":       p.MaxVersions,
		"supportPeriodDays": int(p.SupportPeriod / (24 * time.Hour)),
		"warningLeadDays":   int(p.WarningLeadTime / (24 * time.Hour)),
		"autoRetire":        p.AutoRetire,
		"allowedBreaking":   p.AllowedBreaking,
		"createdAt":         p.CreatedAt,
		"updatedAt":         p.UpdatedAt,
	}
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	var req policyRequest
	if err := decodeJSON(w, r, &req, 16*1024); err != nil {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
		return
	}
	if req.MaxVersions <= 0 || req.SupportPeriodDays <= 0 {
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", "maxVersions and supportPeriodDays must be positive")
		return
	}
	policy, err := s.svc.PutLifecyclePolicy(r.Context(), models.LifecyclePolicy{
		TenantID:        tenantID,
		APIID:           chi.URLParam(r, "apiID"),
		MaxVersions:     req.MaxVersions,
		SupportPeriod:   time.Duration(req.SupportPeriodDays) * 24 * time.Hour,
		WarningLeadTime: time.Duration(req.WarningLeadDays) * 24 * time.Hour,
		AutoRetire:      req.AutoRetire,
		AllowedBreaking: req.AllowedBreaking,
	})
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policyResponse(policy))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenant(w, r)
	if !ok {
		return
	}
	policy, err := s.svc.GetLifecyclePolicy(r.Context(), tenantID, chi.URLParam(r, "apiID"))
	if err != nil {
		s.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, policyResponse(policy))
}

func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID, err := auth.TenantID(r.Context())
	if err != nil {
		respondError(w, http.StatusUnauthorized, "APITIZE_AUTH", err.Error())
		return "", false
	}
	return tenantID, true
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrVersionNotFound),
		errors.Is(err, models.ErrPolicyNotFound),
		errors.Is(err, models.ErrPlanNotFound):
		respondError(w, http.StatusNotFound, "APITIZE_NOT_FOUND", err.Error())
	case errors.Is(err, models.ErrDuplicateVersion),
		errors.Is(err, models.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "APITIZE_CONFLICT", err.Error())
	case errors.Is(err, models.ErrInvalidVersionFormat),
		errors.Is(err, models.ErrInvalidSpecification),
		errors.Is(err, models.ErrUnknownStrategy):
		respondError(w, http.StatusBadRequest, "APITIZE_BAD_REQUEST", err.Error())
	case errors.Is(err, models.ErrTenantContextMissing):
		respondError(w, http.StatusUnauthorized, "APITIZE_AUTH", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "APITIZE_INTERNAL", err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, limit int64) error {
	if limit <= 0 {
		limit = 1 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
		"code":  code,
	})
}
