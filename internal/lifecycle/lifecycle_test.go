package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apitize/version-service/internal/lifecycle"
	"github.com/apitize/version-service/internal/models"
	"github.com/apitize/version-service/internal/store"
)

type fakeDeprecator struct {
	st    *store.MemoryStore
	calls []string
	plans []models.DeprecationPlan
}

func (f *fakeDeprecator) DeprecateVersion(ctx context.Context, tenantID, apiID, version string, plan models.DeprecationPlan) (models.APIVersion, error) {
	f.calls = append(f.calls, version)
	f.plans = append(f.plans, plan)
	return f.st.TransitionVersion(ctx, store.TransitionInput{
		TenantID: tenantID, APIID: apiID, Version: version,
		To: models.StatusDeprecated, At: time.Now().UTC(), Deprecation: &plan,
	})
}

func seedPublished(t *testing.T, st *store.MemoryStore, versions ...string) {
	t.Helper()
	for _, v := range versions {
		_, err := st.CreateVersion(context.Background(), store.VersionInput{
			TenantID: "tenant-1", APIID: "orders-api", Version: v,
			Status: models.StatusPublished, CompatibilityLevel: models.LevelMinor,
		})
		require.NoError(t, err)
	}
}

func TestApplyWithoutPolicyIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	dep := &fakeDeprecator{st: st}
	seedPublished(t, st, "1.0.0", "1.1.0", "1.2.0")

	deprecated, err := lifecycle.NewEngine(st, dep).Apply(context.Background(), "tenant-1", "orders-api", "1.2.0")
	require.NoError(t, err)
	assert.Empty(t, deprecated)
	assert.Empty(t, dep.calls)
}

func TestApplyDeprecatesOldestBeyondLimit(t *testing.T) {
	st := store.NewMemoryStore()
	dep := &fakeDeprecator{st: st}
	ctx := context.Background()

	_, err := st.PutPolicy(ctx, models.LifecyclePolicy{
		TenantID: "tenant-1", APIID: "orders-api",
		MaxVersions: 3, SupportPeriod: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	// 1.10.0 sorts after 1.9.0 under semver precedence, before it
	// lexically. Two over the limit of three.
	seedPublished(t, st, "1.9.0", "1.10.0", "1.0.0", "2.0.0", "1.2.0")

	deprecated, err := lifecycle.NewEngine(st, dep).Apply(ctx, "tenant-1", "orders-api", "2.0.0")
	require.NoError(t, err)
	require.Len(t, deprecated, 2)
	assert.Equal(t, []string{"1.0.0", "1.2.0"}, dep.calls)

	for _, plan := range dep.plans {
		assert.Equal(t, "2.0.0", plan.ReplacementVersion)
		assert.False(t, plan.SupportEndDate.IsZero())
	}

	remaining, err := st.ListVersions(ctx, "tenant-1", "orders-api", models.StatusPublished)
	require.NoError(t, err)
	assert.Len(t, remaining, 3)
}

func TestApplyUnderLimitIsNoop(t *testing.T) {
	st := store.NewMemoryStore()
	dep := &fakeDeprecator{st: st}
	ctx := context.Background()

	_, err := st.PutPolicy(ctx, models.LifecyclePolicy{
		TenantID: "tenant-1", APIID: "orders-api",
		MaxVersions: 5, SupportPeriod: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	seedPublished(t, st, "1.0.0", "1.1.0")

	deprecated, err := lifecycle.NewEngine(st, dep).Apply(ctx, "tenant-1", "orders-api", "1.1.0")
	require.NoError(t, err)
	assert.Empty(t, deprecated)
	assert.Empty(t, dep.calls)
}
