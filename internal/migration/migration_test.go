package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitize/version-service/internal/migration"
	"github.com/apitize/version-service/internal/models"
)

func buildPlan(t *testing.T, strategy models.MigrationStrategy) models.MigrationPlan {
	t.Helper()
	plan, err := migration.BuildPlan("tenant-1", "orders-api", "1.0.0", "2.0.0", strategy, models.CompatibilityReport{Score: 75})
	require.NoError(t, err)
	return plan
}

func stepNames(plan models.MigrationPlan) []string {
	names := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestCanaryStepOrder(t *testing.T) {
	plan := buildPlan(t, models.StrategyCanary)

	assert.Equal(t, []string{
		"Pre-deployment Validation",
		"Deploy Canary (10%)",
		"Increase Traffic (50%)",
		"Full Deployment",
		"Cleanup Old Resources",
	}, stepNames(plan))

	// Each step depends on exactly the immediately preceding step.
	require.Empty(t, plan.Steps[0].Dependencies)
	for i := 1; i < len(plan.Steps); i++ {
		require.Len(t, plan.Steps[i].Dependencies, 1)
		assert.Equal(t, plan.Steps[i-1].ID, plan.Steps[i].Dependencies[0])
	}
}

func TestBlueGreenHasFourSteps(t *testing.T) {
	plan := buildPlan(t, models.StrategyBlueGreen)
	assert.Equal(t, []string{
		"Pre-deployment Validation",
		"Deploy Green Environment",
		"Switch Traffic",
		"Cleanup Old Resources",
	}, stepNames(plan))
}

func TestPlanBookends(t *testing.T) {
	for _, strategy := range []models.MigrationStrategy{
		models.StrategyBlueGreen, models.StrategyCanary, models.StrategyRolling, models.StrategyImmediate,
	} {
		plan := buildPlan(t, strategy)
		first := plan.Steps[0]
		last := plan.Steps[len(plan.Steps)-1]
		assert.Equal(t, "Pre-deployment Validation", first.Name, string(strategy))
		assert.Equal(t, models.StepPreparation, first.Type, string(strategy))
		assert.True(t, first.ValidationRequired, string(strategy))
		assert.Equal(t, "Cleanup Old Resources", last.Name, string(strategy))
		assert.Equal(t, models.StepCleanup, last.Type, string(strategy))
		require.Len(t, last.Dependencies, 1, string(strategy))
		assert.Equal(t, plan.Steps[len(plan.Steps)-2].ID, last.Dependencies[0], string(strategy))
	}
}

func TestRollbackTemplateIsStatic(t *testing.T) {
	breaking := models.CompatibilityReport{
		Score: 0,
		BreakingChanges: []models.BreakingChange{
			{Type: "removed-endpoint", Severity: models.SeverityCritical},
		},
	}
	clean := models.CompatibilityReport{Score: 100, Compatible: true}

	planA, err := migration.BuildPlan("t", "a", "1.0.0", "2.0.0", models.StrategyCanary, breaking)
	require.NoError(t, err)
	planB, err := migration.BuildPlan("t", "a", "1.0.0", "1.0.1", models.StrategyCanary, clean)
	require.NoError(t, err)

	assert.Equal(t, planA.Rollback.Triggers, planB.Rollback.Triggers)
	require.Len(t, planA.Rollback.Triggers, 2)
	assert.Equal(t, "error-rate", planA.Rollback.Triggers[0].Metric)
	assert.Equal(t, "p95-response-time", planA.Rollback.Triggers[1].Metric)
}

func TestPlanEmbedsReport(t *testing.T) {
	plan := buildPlan(t, models.StrategyImmediate)
	assert.Equal(t, 75, plan.Report.Score)
	assert.Equal(t, models.PlanPlanned, plan.Status)
}

func TestUnknownStrategy(t *testing.T) {
	_, err := migration.BuildPlan("t", "a", "1.0.0", "2.0.0", "big-bang", models.CompatibilityReport{})
	assert.ErrorIs(t, err, models.ErrUnknownStrategy)
}
