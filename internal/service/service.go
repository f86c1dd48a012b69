package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/compat"
	"github.com/apitize/version-service/internal/deploy"
	"github.com/apitize/version-service/internal/lifecycle"
	"github.com/apitize/version-service/internal/migration"
	"github.com/apitize/version-service/internal/models"
	"github.com/apitize/version-service/internal/semver"
	"github.com/apitize/version-service/internal/specstore"
	"github.com/apitize/version-service/internal/store"
)

type Service struct {
	store  store.Store
	specs  specstore.SpecStore
	deploy deploy.Client
	engine *lifecycle.Engine
}

func New(st store.Store, specs specstore.SpecStore, dep deploy.Client) *Service {
	s := &Service{store: st, specs: specs, deploy: dep}
	s.engine = lifecycle.NewEngine(st, s)
	return s
}

type CreateVersionRequest struct {
	APIID      string                      `json:"apiId"`
	Version    string                      `json:"version"`
	Status     models.VersionStatus        `json:"status,omitempty"`
	Spec       json.RawMessage             `json:"spec"`
	Deployment models.DeploymentDescriptor `json:"deployment"`
}

// CreateVersion validates and persists a new immutable version record. The
// compatibility level is computed once here, against the latest published
// version at creation time, and never recomputed.
func (s *Service) CreateVersion(ctx context.Context, tenantID string, req CreateVersionRequest) (models.APIVersion, error) {
	if req.APIID == "" || req.Version == "" {
		return models.APIVersion{}, fmt.Errorf("apiId and version required")
	}
	if !semver.Valid(req.Version) {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: %w", req.APIID, req.Version, models.ErrInvalidVersionFormat)
	}
	status := req.Status
	if status == "" {
		status = models.StatusDraft
	}
	if status != models.StatusDraft && status != models.StatusPublished {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: initial status must be draft or published", req.APIID, req.Version)
	}
	if len(req.Spec) == 0 {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: %w: empty document", req.APIID, req.Version, models.ErrInvalidSpecification)
	}
	if _, err := compat.ParseSpec(req.Spec); err != nil {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: %w", req.APIID, req.Version, err)
	}

	level := models.LevelPatch
	published, err := s.store.ListVersions(ctx, tenantID, req.APIID, models.StatusPublished)
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: %w", req.APIID, req.Version, err)
	}
	versions := make([]string, 0, len(published))
	for _, v := range published {
		versions = append(versions, v.Version)
	}
	if latest := semver.Latest(versions); latest != "" {
		level = semver.DiffLevel(latest, req.Version)
	}

	// The record insert is the uniqueness gate. The document upload happens
	// only after it succeeds: a rejected duplicate must not touch the
	// stored specification of the existing version.
	v, err := s.store.CreateVersion(ctx, store.VersionInput{
		TenantID:           tenantID,
		APIID:              req.APIID,
		Version:            req.Version,
		Status:             status,
		CompatibilityLevel: level,
		SpecKey:            s.specs.Key(tenantID, req.APIID, req.Version),
		Deployment:         req.Deployment,
	})
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: %w", req.APIID, req.Version, err)
	}
	if _, err := s.specs.Put(ctx, tenantID, req.APIID, req.Version, req.Spec); err != nil {
		return models.APIVersion{}, fmt.Errorf("createVersion %s/%s: store spec: %w", req.APIID, req.Version, err)
	}

	s.emitEvent(ctx, models.EventVersionCreated, v, nil)
	if v.Status == models.StatusPublished {
		s.emitEvent(ctx, models.EventVersionPublished, v, nil)
		s.applyLifecyclePolicy(ctx, tenantID, v.APIID, v.Version)
	}
	return v, nil
}

func (s *Service) GetVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error) {
	v, err := s.store.GetVersion(ctx, tenantID, apiID, version)
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("getVersion %s/%s: %w", apiID, version, err)
	}
	return v, nil
}

func (s *Service) ListVersions(ctx context.Context, tenantID, apiID string, status models.VersionStatus) ([]models.APIVersion, error) {
	return s.store.ListVersions(ctx, tenantID, apiID, status)
}

// GetLatestVersion returns the highest-precedence version across all
// statuses; callers wanting only published versions filter via ListVersions.
func (s *Service) GetLatestVersion(ctx context.Context, tenantID, apiID string) (models.APIVersion, error) {
	all, err := s.store.ListVersions(ctx, tenantID, apiID, "")
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("getLatestVersion %s: %w", apiID, err)
	}
	if len(all) == 0 {
		return models.APIVersion{}, fmt.Errorf("getLatestVersion %s: %w", apiID, models.ErrVersionNotFound)
	}
	latest := all[0]
	for _, v := range all[1:] {
		if semver.Compare(v.Version, latest.Version) > 0 {
			latest = v
		}
	}
	return latest, nil
}

// PublishVersion moves a draft forward and then applies the tenant's
// lifecycle policy.
func (s *Service) PublishVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error) {
	v, err := s.store.TransitionVersion(ctx, store.TransitionInput{
		TenantID: tenantID,
		APIID:    apiID,
		Version:  version,
		To:       models.StatusPublished,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("publishVersion %s/%s: %w", apiID, version, err)
	}
	s.emitEvent(ctx, models.EventVersionPublished, v, nil)
	s.applyLifecyclePolicy(ctx, tenantID, apiID, version)
	return v, nil
}

// DeprecateVersion transitions published -> deprecated and records the
// deprecation plan. The notification is an outbox event: failing to enqueue
// it never rolls back the transition.
func (s *Service) DeprecateVersion(ctx context.Context, tenantID, apiID, version string, plan models.DeprecationPlan) (models.APIVersion, error) {
	if plan.Reason == "" {
		plan.Reason = "deprecated by tenant administrator"
	}
	v, err := s.store.TransitionVersion(ctx, store.TransitionInput{
		TenantID:    tenantID,
		APIID:       apiID,
		Version:     version,
		To:          models.StatusDeprecated,
		At:          time.Now().UTC(),
		Deprecation: &plan,
	})
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("deprecateVersion %s/%s: %w", apiID, version, err)
	}
	s.emitEvent(ctx, models.EventVersionDeprecated, v, map[string]interface{}{
		"reason":             plan.Reason,
		"supportEndDate":     plan.SupportEndDate,
		"replacementVersion": plan.ReplacementVersion,
	})
	return v, nil
}

// RetireVersion transitions deprecated -> retired and asks the deployment
// collaborator to tear down the active deployment. Teardown failures are
// logged, not propagated.
func (s *Service) RetireVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error) {
	v, err := s.store.TransitionVersion(ctx, store.TransitionInput{
		TenantID: tenantID,
		APIID:    apiID,
		Version:  version,
		To:       models.StatusRetired,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return models.APIVersion{}, fmt.Errorf("retireVersion %s/%s: %w", apiID, version, err)
	}
	if err := s.deploy.ReleaseDeployment(ctx, tenantID, apiID, version); err != nil {
		log.Printf("[service] release deployment %s/%s: %v", apiID, version, err)
	}
	s.emitEvent(ctx, models.EventVersionRetired, v, nil)
	return v, nil
}

// CompareVersions diffs the stored specification documents of two versions.
func (s *Service) CompareVersions(ctx context.Context, tenantID, apiID, fromVersion, toVersion string) (models.CompatibilityReport, error) {
	fromDoc, err := s.loadSpec(ctx, tenantID, apiID, fromVersion)
	if err != nil {
		return models.CompatibilityReport{}, err
	}
	toDoc, err := s.loadSpec(ctx, tenantID, apiID, toVersion)
	if err != nil {
		return models.CompatibilityReport{}, err
	}
	return compat.Compare(apiID, fromVersion, toVersion, fromDoc, toDoc), nil
}

// CreateMigrationPlan builds and persists a plan for moving traffic between
// two versions. The compatibility report is attached for audit and never
// blocks creation.
func (s *Service) CreateMigrationPlan(ctx context.Context, tenantID, apiID, fromVersion, toVersion string, strategy models.MigrationStrategy) (models.MigrationPlan, error) {
	report, err := s.CompareVersions(ctx, tenantID, apiID, fromVersion, toVersion)
	if err != nil {
		return models.MigrationPlan{}, err
	}
	plan, err := migration.BuildPlan(tenantID, apiID, fromVersion, toVersion, strategy, report)
	if err != nil {
		return models.MigrationPlan{}, fmt.Errorf("createMigrationPlan %s: %w", apiID, err)
	}
	stored, err := s.store.CreatePlan(ctx, plan)
	if err != nil {
		return models.MigrationPlan{}, fmt.Errorf("createMigrationPlan %s: %w", apiID, err)
	}
	s.emitEvent(ctx, models.EventMigrationPlanned, models.APIVersion{TenantID: tenantID, APIID: apiID, Version: toVersion}, map[string]interface{}{
		"planId":      stored.ID.String(),
		"fromVersion": fromVersion,
		"strategy":    string(strategy),
	})
	return stored, nil
}

func (s *Service) GetMigrationPlan(ctx context.Context, tenantID string, id uuid.UUID) (models.MigrationPlan, error) {
	return s.store.GetPlan(ctx, tenantID, id)
}

// UpdateMigrationPlanStatus advances a plan; execution itself is owned by
// the external deployment collaborator.
func (s *Service) UpdateMigrationPlanStatus(ctx context.Context, tenantID string, id uuid.UUID, to models.PlanStatus) (models.MigrationPlan, error) {
	var from models.PlanStatus
	switch to {
	case models.PlanInProgress:
		from = models.PlanPlanned
	case models.PlanCompleted, models.PlanFailed:
		from = models.PlanInProgress
	default:
		return models.MigrationPlan{}, fmt.Errorf("updatePlanStatus %s: %w", id, models.ErrInvalidTransition)
	}
	p, err := s.store.TransitionPlan(ctx, tenantID, id, from, to)
	if err != nil {
		return models.MigrationPlan{}, fmt.Errorf("updatePlanStatus %s: %w", id, err)
	}
	return p, nil
}

func (s *Service) PutLifecyclePolicy(ctx context.Context, policy models.LifecyclePolicy) (models.LifecyclePolicy, error) {
	if policy.MaxVersions <= 0 {
		return models.LifecyclePolicy{}, fmt.Errorf("putPolicy %s: maxVersions must be positive", policy.APIID)
	}
	if policy.SupportPeriod <= 0 {
		return models.LifecyclePolicy{}, fmt.Errorf("putPolicy %s: supportPeriod must be positive", policy.APIID)
	}
	if policy.AllowedBreaking == "" {
		policy.AllowedBreaking = models.LevelMajor
	}
	return s.store.PutPolicy(ctx, policy)
}

func (s *Service) GetLifecyclePolicy(ctx context.Context, tenantID, apiID string) (models.LifecyclePolicy, error) {
	return s.store.GetPolicy(ctx, tenantID, apiID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) loadSpec(ctx context.Context, tenantID, apiID, version string) (*openapi3.T, error) {
	record, err := s.store.GetVersion(ctx, tenantID, apiID, version)
	if err != nil {
		return nil, fmt.Errorf("compareVersions %s/%s: %w", apiID, version, err)
	}
	raw, err := s.specs.Get(ctx, record.SpecKey)
	if err != nil {
		return nil, fmt.Errorf("compareVersions %s/%s: load spec: %w", apiID, version, err)
	}
	parsed, err := compat.ParseSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("compareVersions %s/%s: %w", apiID, version, err)
	}
	return parsed, nil
}

func (s *Service) applyLifecyclePolicy(ctx context.Context, tenantID, apiID, newVersion string) {
	if _, err := s.engine.Apply(ctx, tenantID, apiID, newVersion); err != nil {
		log.Printf("[service] lifecycle policy for %s: %v", apiID, err)
	}
}

// emitEvent enqueues an outbox row. Enqueue failures are logged; the
// primary state transition always wins over secondary effects.
func (s *Service) emitEvent(ctx context.Context, eventType string, v models.APIVersion, extra map[string]interface{}) {
	payload := map[string]interface{}{
		"status":             string(v.Status),
		"compatibilityLevel": string(v.CompatibilityLevel),
	}
	for k, val := range extra {
		payload[k] = val
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[service] marshal event payload %s: %v", eventType, err)
		return
	}
	err = s.store.InsertEvent(ctx, models.DomainEvent{
		Type:     eventType,
		TenantID: v.TenantID,
		APIID:    v.APIID,
		Version:  v.Version,
		Payload:  raw,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[service] enqueue event %s for %s/%s: %v", eventType, v.APIID, v.Version, err)
	}
}
