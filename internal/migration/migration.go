// Package migration builds strategy-driven migration plans. Step sequences
// come from a fixed per-strategy table; every plan starts with a
// pre-deployment validation step and ends with a cleanup step that depends
// on the immediately preceding step.
package migration

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/models"
)

type stepTemplate struct {
	name               string
	stepType           models.StepType
	validationRequired bool
}

func deploymentSteps(strategy models.MigrationStrategy) ([]stepTemplate, bool) {
	switch strategy {
	case models.StrategyBlueGreen:
		return []stepTemplate{
			{"Deploy Green Environment", models.StepDeployment, false},
			{"Switch Traffic", models.StepDeployment, true},
		}, true
	case models.StrategyCanary:
		return []stepTemplate{
			{"Deploy Canary (10%)", models.StepDeployment, true},
			{"Increase Traffic (50%)", models.StepDeployment, true},
			{"Full Deployment", models.StepDeployment, false},
		}, true
	case models.StrategyRolling:
		return []stepTemplate{
			{"Replace Batch 1/3", models.StepDeployment, true},
			{"Replace Batch 2/3", models.StepDeployment, false},
			{"Replace Batch 3/3", models.StepDeployment, false},
		}, true
	case models.StrategyImmediate:
		return []stepTemplate{
			{"Deploy All Instances", models.StepDeployment, false},
		}, true
	}
	return nil, false
}

// BuildPlan assembles a migration plan for the given strategy. The
// compatibility report is attached for audit purposes and never blocks plan
// creation: breaking changes are expected to be part of what is migrated.
func BuildPlan(tenantID, apiID, fromVersion, toVersion string, strategy models.MigrationStrategy, report models.CompatibilityReport) (models.MigrationPlan, error) {
	deploySteps, ok := deploymentSteps(strategy)
	if !ok {
		return models.MigrationPlan{}, fmt.Errorf("%w: %q", models.ErrUnknownStrategy, strategy)
	}

	templates := make([]stepTemplate, 0, len(deploySteps)+2)
	templates = append(templates, stepTemplate{"Pre-deployment Validation", models.StepPreparation, true})
	templates = append(templates, deploySteps...)
	templates = append(templates, stepTemplate{"Cleanup Old Resources", models.StepCleanup, false})

	steps := make([]models.MigrationStep, 0, len(templates))
	var prev uuid.UUID
	for i, tmpl := range templates {
		step := models.MigrationStep{
			ID:                 uuid.New(),
			Name:               tmpl.name,
			Type:               tmpl.stepType,
			Status:             models.StepPending,
			ValidationRequired: tmpl.validationRequired,
		}
		if i > 0 {
			step.Dependencies = []uuid.UUID{prev}
		}
		prev = step.ID
		steps = append(steps, step)
	}

	return models.MigrationPlan{
		ID:          uuid.New(),
		TenantID:    tenantID,
		APIID:       apiID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
		Strategy:    strategy,
		Status:      models.PlanPlanned,
		Steps:       steps,
		Rollback:    rollbackPlan(fromVersion),
		Validation:  validationBundle(fromVersion, toVersion),
		Report:      report,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

// rollbackPlan is a static template: the same two trigger conditions apply
// regardless of strategy or report severity. TODO: scale trigger thresholds
// to the compatibility report's worst severity once the product decides the
// static template is not intentional.
func rollbackPlan(fromVersion string) models.RollbackPlan {
	halt := models.MigrationStep{
		ID:     uuid.New(),
		Name:   "Halt Rollout",
		Type:   models.StepDeployment,
		Status: models.StepPending,
	}
	restore := models.MigrationStep{
		ID:           uuid.New(),
		Name:         fmt.Sprintf("Restore Version %s", fromVersion),
		Type:         models.StepDeployment,
		Status:       models.StepPending,
		Dependencies: []uuid.UUID{halt.ID},
	}
	return models.RollbackPlan{
		Triggers: []models.RollbackTrigger{
			{Metric: "error-rate", Threshold: 5, Unit: "percent"},
			{Metric: "p95-response-time", Threshold: 2000, Unit: "ms"},
		},
		Steps: []models.MigrationStep{halt, restore},
	}
}

func validationBundle(fromVersion, toVersion string) models.ValidationBundle {
	return models.ValidationBundle{
		PreDeployment: []models.TestDescriptor{
			{Name: "contract-tests", Kind: "contract", Target: toVersion},
			{Name: "smoke-tests", Kind: "smoke", Target: toVersion},
		},
		PostDeployment: []models.TestDescriptor{
			{Name: "health-check", Kind: "health", Target: toVersion},
			{Name: "error-rate-watch", Kind: "metrics", Target: fromVersion},
		},
	}
}
