package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/models"
)

type versionKey struct {
	tenantID string
	apiID    string
	version  string
}

type policyKey struct {
	tenantID string
	apiID    string
}

// MemoryStore mirrors PGStore semantics for tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[versionKey]models.APIVersion
	policies map[policyKey]models.LifecyclePolicy
	plans    map[uuid.UUID]models.MigrationPlan
	events   map[uuid.UUID]models.DomainEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions: map[versionKey]models.APIVersion{},
		policies: map[policyKey]models.LifecyclePolicy{},
		plans:    map[uuid.UUID]models.MigrationPlan{},
		events:   map[uuid.UUID]models.DomainEvent{},
	}
}

func (m *MemoryStore) CreateVersion(ctx context.Context, in VersionInput) (models.APIVersion, error) {
	key := versionKey{in.TenantID, in.APIID, in.Version}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.versions[key]; exists {
		return models.APIVersion{}, models.ErrDuplicateVersion
	}
	v := models.APIVersion{
		TenantID:           in.TenantID,
		APIID:              in.APIID,
		Version:            in.Version,
		Status:             in.Status,
		CompatibilityLevel: in.CompatibilityLevel,
		SpecKey:            in.SpecKey,
		Deployment:         in.Deployment,
		Metrics:            models.MetricsSnapshot{},
		CreatedAt:          time.Now().UTC(),
	}
	if v.Status == models.StatusPublished {
		now := v.CreatedAt
		v.PublishedAt = &now
	}
	m.versions[key] = v
	return v, nil
}

func (m *MemoryStore) GetVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[versionKey{tenantID, apiID, version}]
	if !ok {
		return models.APIVersion{}, models.ErrVersionNotFound
	}
	return v, nil
}

func (m *MemoryStore) ListVersions(ctx context.Context, tenantID, apiID string, status models.VersionStatus) ([]models.APIVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var versions []models.APIVersion
	for key, v := range m.versions {
		if key.tenantID != tenantID || key.apiID != apiID {
			continue
		}
		if status != "" && v.Status != status {
			continue
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (m *MemoryStore) TransitionVersion(ctx context.Context, in TransitionInput) (models.APIVersion, error) {
	from, err := prevStatus(in.To)
	if err != nil {
		return models.APIVersion{}, err
	}
	key := versionKey{in.TenantID, in.APIID, in.Version}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[key]
	if !ok {
		return models.APIVersion{}, models.ErrVersionNotFound
	}
	if v.Status != from {
		return models.APIVersion{}, models.ErrInvalidTransition
	}
	at := in.At
	v.Status = in.To
	switch in.To {
	case models.StatusPublished:
		v.PublishedAt = &at
	case models.StatusDeprecated:
		v.DeprecatedAt = &at
		if in.Deprecation != nil {
			plan := *in.Deprecation
			v.Deprecation = &plan
		}
	case models.StatusRetired:
		v.RetiredAt = &at
	}
	m.versions[key] = v
	return v, nil
}

func (m *MemoryStore) PutPolicy(ctx context.Context, policy models.LifecyclePolicy) (models.LifecyclePolicy, error) {
	key := policyKey{policy.TenantID, policy.APIID}
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.policies[key]; ok {
		policy.CreatedAt = existing.CreatedAt
	} else {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	m.policies[key] = policy
	return policy, nil
}

func (m *MemoryStore) GetPolicy(ctx context.Context, tenantID, apiID string) (models.LifecyclePolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[policyKey{tenantID, apiID}]
	if !ok {
		return models.LifecyclePolicy{}, models.ErrPolicyNotFound
	}
	return p, nil
}

func (m *MemoryStore) CreatePlan(ctx context.Context, plan models.MigrationPlan) (models.MigrationPlan, error) {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	now := time.Now().UTC()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return plan, nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, tenantID string, id uuid.UUID) (models.MigrationPlan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok || p.TenantID != tenantID {
		return models.MigrationPlan{}, models.ErrPlanNotFound
	}
	return p, nil
}

func (m *MemoryStore) TransitionPlan(ctx context.Context, tenantID string, id uuid.UUID, from, to models.PlanStatus) (models.MigrationPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok || p.TenantID != tenantID {
		return models.MigrationPlan{}, models.ErrPlanNotFound
	}
	if p.Status != from {
		return models.MigrationPlan{}, models.ErrInvalidTransition
	}
	p.Status = to
	p.UpdatedAt = time.Now().UTC()
	m.plans[id] = p
	return p, nil
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev models.DomainEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Status = models.EventPending
	ev.CreatedAt = time.Now().UTC()
	if len(ev.Payload) == 0 {
		ev.Payload = []byte("{}")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[ev.ID] = ev
	return nil
}

func (m *MemoryStore) ClaimPendingEvents(ctx context.Context, limit int) ([]models.DomainEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []models.DomainEvent
	for _, ev := range m.events {
		if ev.Status == models.EventPending {
			pending = append(pending, ev)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	for i, ev := range pending {
		ev.Attempts++
		m.events[ev.ID] = ev
		pending[i] = ev
	}
	return pending, nil
}

func (m *MemoryStore) MarkEventResult(ctx context.Context, id uuid.UUID, status models.EventStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil
	}
	ev.Status = status
	ev.LastError = lastError
	if status == models.EventSent {
		now := time.Now().UTC()
		ev.SentAt = &now
		ev.LastError = ""
	}
	m.events[id] = ev
	return nil
}

// Events returns a snapshot of all outbox rows, newest last. Test helper.
func (m *MemoryStore) Events() []models.DomainEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []models.DomainEvent
	for _, ev := range m.events {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
