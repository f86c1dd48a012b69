// Package lifecycle applies per-tenant version retention policy after a
// publish: when the published count exceeds the policy limit, the oldest
// published versions (by semantic-version precedence) are deprecated in
// favor of the newly published one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/apitize/version-service/internal/models"
	"github.com/apitize/version-service/internal/semver"
	"github.com/apitize/version-service/internal/store"
)

// Deprecator performs the actual status transition; implemented by the
// service so deprecations triggered here carry the same side effects as
// caller-initiated ones.
type Deprecator interface {
	DeprecateVersion(ctx context.Context, tenantID, apiID, version string, plan models.DeprecationPlan) (models.APIVersion, error)
}

type Engine struct {
	store      store.Store
	deprecator Deprecator
}

func NewEngine(st store.Store, dep Deprecator) *Engine {
	return &Engine{store: st, deprecator: dep}
}

// Apply evaluates the tenant's policy for apiID after newVersion was
// published. No-op when no policy is configured. Returns the versions that
// were auto-deprecated.
func (e *Engine) Apply(ctx context.Context, tenantID, apiID, newVersion string) ([]models.APIVersion, error) {
	policy, err := e.store.GetPolicy(ctx, tenantID, apiID)
	if err != nil {
		if errors.Is(err, models.ErrPolicyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load lifecycle policy: %w", err)
	}
	if policy.MaxVersions <= 0 {
		return nil, nil
	}

	published, err := e.store.ListVersions(ctx, tenantID, apiID, models.StatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published versions: %w", err)
	}
	excess := len(published) - policy.MaxVersions
	if excess <= 0 {
		return nil, nil
	}

	versions := make([]string, 0, len(published))
	for _, v := range published {
		versions = append(versions, v.Version)
	}
	semver.SortAscending(versions)

	plan := models.DeprecationPlan{
		Reason:             fmt.Sprintf("superseded: published version limit is %d", policy.MaxVersions),
		MigrationGuide:     fmt.Sprintf("migrate callers to version %s", newVersion),
		SupportEndDate:     time.Now().UTC().Add(policy.SupportPeriod),
		ReplacementVersion: newVersion,
	}

	var deprecated []models.APIVersion
	for _, version := range versions[:excess] {
		v, err := e.deprecator.DeprecateVersion(ctx, tenantID, apiID, version, plan)
		if err != nil {
			return deprecated, fmt.Errorf("auto-deprecate %s/%s: %w", apiID, version, err)
		}
		log.Printf("[lifecycle] auto-deprecated %s/%s (tenant=%s, replacement=%s)", apiID, version, tenantID, newVersion)
		deprecated = append(deprecated, v)
	}
	return deprecated, nil
}
