package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apitize/version-service/internal/models"
)

// Store is the durable record store for version records, lifecycle policies,
// migration plans, and the domain-event outbox.
type Store interface {
	CreateVersion(ctx context.Context, in VersionInput) (models.APIVersion, error)
	GetVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error)
	ListVersions(ctx context.Context, tenantID, apiID string, status models.VersionStatus) ([]models.APIVersion, error)
	TransitionVersion(ctx context.Context, in TransitionInput) (models.APIVersion, error)

	PutPolicy(ctx context.Context, policy models.LifecyclePolicy) (models.LifecyclePolicy, error)
	GetPolicy(ctx context.Context, tenantID, apiID string) (models.LifecyclePolicy, error)

	CreatePlan(ctx context.Context, plan models.MigrationPlan) (models.MigrationPlan, error)
	GetPlan(ctx context.Context, tenantID string, id uuid.UUID) (models.MigrationPlan, error)
	TransitionPlan(ctx context.Context, tenantID string, id uuid.UUID, from, to models.PlanStatus) (models.MigrationPlan, error)

	InsertEvent(ctx context.Context, ev models.DomainEvent) error
	ClaimPendingEvents(ctx context.Context, limit int) ([]models.DomainEvent, error)
	MarkEventResult(ctx context.Context, id uuid.UUID, status models.EventStatus, lastError string) error

	Ping(ctx context.Context) error
}

type VersionInput struct {
	TenantID           string
	APIID              string
	Version            string
	Status             models.VersionStatus
	CompatibilityLevel models.CompatibilityLevel
	SpecKey            string
	Deployment         models.DeploymentDescriptor
}

// TransitionInput moves a version one step forward. The store applies the
// update conditionally on the current status so concurrent writers cannot
// skip or repeat a transition.
type TransitionInput struct {
	TenantID    string
	APIID       string
	Version     string
	To          models.VersionStatus
	At          time.Time
	Deprecation *models.DeprecationPlan
}

// prevStatus returns the only status a version may transition to `to` from.
func prevStatus(to models.VersionStatus) (models.VersionStatus, error) {
	switch to {
	case models.StatusPublished:
		return models.StatusDraft, nil
	case models.StatusDeprecated:
		return models.StatusPublished, nil
	case models.StatusRetired:
		return models.StatusDeprecated, nil
	}
	return "", fmt.Errorf("no transition to status %q", to)
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const versionColumns = `tenant_id, api_id, version, status, compatibility_level, spec_key, deployment, metrics, deprecation, created_at, published_at, deprecated_at, retired_at`

func scanVersion(row rowScanner) (models.APIVersion, error) {
	var (
		v            models.APIVersion
		deployment   []byte
		metrics      []byte
		deprecation  []byte
		publishedAt  sql.NullTime
		deprecatedAt sql.NullTime
		retiredAt    sql.NullTime
	)
	if err := row.Scan(
		&v.TenantID,
		&v.APIID,
		&v.Version,
		&v.Status,
		&v.CompatibilityLevel,
		&v.SpecKey,
		&deployment,
		&metrics,
		&deprecation,
		&v.CreatedAt,
		&publishedAt,
		&deprecatedAt,
		&retiredAt,
	); err != nil {
		return models.APIVersion{}, err
	}
	if len(deployment) > 0 {
		if err := json.Unmarshal(deployment, &v.Deployment); err != nil {
			return models.APIVersion{}, fmt.Errorf("decode deployment: %w", err)
		}
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &v.Metrics); err != nil {
			return models.APIVersion{}, fmt.Errorf("decode metrics: %w", err)
		}
	}
	if len(deprecation) > 0 {
		var plan models.DeprecationPlan
		if err := json.Unmarshal(deprecation, &plan); err != nil {
			return models.APIVersion{}, fmt.Errorf("decode deprecation: %w", err)
		}
		v.Deprecation = &plan
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		v.PublishedAt = &t
	}
	if deprecatedAt.Valid {
		t := deprecatedAt.Time
		v.DeprecatedAt = &t
	}
	if retiredAt.Valid {
		t := retiredAt.Time
		v.RetiredAt = &t
	}
	return v, nil
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

// CreateVersion is a single conditional write: the ON CONFLICT guard makes
// concurrent creates for the same identity race-safe.
func (s *PGStore) CreateVersion(ctx context.Context, in VersionInput) (models.APIVersion, error) {
	var publishedAt sql.NullTime
	if in.Status == models.StatusPublished {
		publishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	query := `
		INSERT INTO api_versions (tenant_id, api_id, version, status, compatibility_level, spec_key, deployment, metrics, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, api_id, version) DO NOTHING
		RETURNING ` + versionColumns
	row := s.db.QueryRowContext(ctx, query,
		in.TenantID, in.APIID, in.Version, in.Status, in.CompatibilityLevel, in.SpecKey,
		mustJSON(in.Deployment), mustJSON(models.MetricsSnapshot{}), publishedAt)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.APIVersion{}, models.ErrDuplicateVersion
		}
		return models.APIVersion{}, fmt.Errorf("insert version: %w", err)
	}
	return v, nil
}

func (s *PGStore) GetVersion(ctx context.Context, tenantID, apiID, version string) (models.APIVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM api_versions WHERE tenant_id=$1 AND api_id=$2 AND version=$3`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, tenantID, apiID, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.APIVersion{}, models.ErrVersionNotFound
		}
		return models.APIVersion{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *PGStore) ListVersions(ctx context.Context, tenantID, apiID string, status models.VersionStatus) ([]models.APIVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM api_versions WHERE tenant_id=$1 AND api_id=$2`
	args := []interface{}{tenantID, apiID}
	if status != "" {
		query += ` AND status=$3`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []models.APIVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, nil
}

func (s *PGStore) TransitionVersion(ctx context.Context, in TransitionInput) (models.APIVersion, error) {
	from, err := prevStatus(in.To)
	if err != nil {
		return models.APIVersion{}, err
	}

	var row *sql.Row
	switch in.To {
	case models.StatusPublished:
		query := `
			UPDATE api_versions SET status=$4, published_at=$5
			WHERE tenant_id=$1 AND api_id=$2 AND version=$3 AND status=$6
			RETURNING ` + versionColumns
		row = s.db.QueryRowContext(ctx, query, in.TenantID, in.APIID, in.Version, in.To, in.At, from)
	case models.StatusDeprecated:
		query := `
			UPDATE api_versions SET status=$4, deprecated_at=$5, deprecation=$6
			WHERE tenant_id=$1 AND api_id=$2 AND version=$3 AND status=$7
			RETURNING ` + versionColumns
		row = s.db.QueryRowContext(ctx, query, in.TenantID, in.APIID, in.Version, in.To, in.At, mustJSON(in.Deprecation), from)
	case models.StatusRetired:
		query := `
			UPDATE api_versions SET status=$4, retired_at=$5
			WHERE tenant_id=$1 AND api_id=$2 AND version=$3 AND status=$6
			RETURNING ` + versionColumns
		row = s.db.QueryRowContext(ctx, query, in.TenantID, in.APIID, in.Version, in.To, in.At, from)
	}

	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish a missing record from a wrong-status record.
			if _, getErr := s.GetVersion(ctx, in.TenantID, in.APIID, in.Version); errors.Is(getErr, models.ErrVersionNotFound) {
				return models.APIVersion{}, models.ErrVersionNotFound
			}
			return models.APIVersion{}, models.ErrInvalidTransition
		}
		return models.APIVersion{}, fmt.Errorf("transition version: %w", err)
	}
	return v, nil
}

func scanPolicy(row rowScanner) (models.LifecyclePolicy, error) {
	var (
		p           models.LifecyclePolicy
		supportSecs int64
		warningSecs int64
	)
	if err := row.Scan(
		&p.TenantID,
		&p.APIID,
		&p.MaxVersions,
		&supportSecs,
		&warningSecs,
		&p.AutoRetire,
		&p.AllowedBreaking,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return models.LifecyclePolicy{}, err
	}
	p.SupportPeriod = time.Duration(supportSecs) * time.Second
	p.WarningLeadTime = time.Duration(warningSecs) * time.Second
	return p, nil
}

func (s *PGStore) PutPolicy(ctx context.Context, policy models.LifecyclePolicy) (models.LifecyclePolicy, error) {
	query := `
		INSERT INTO lifecycle_policies (tenant_id, api_id, max_versions, support_period_secs, warning_lead_secs, auto_retire, allowed_breaking)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tenant_id, api_id) DO UPDATE SET
			max_versions=EXCLUDED.max_versions,
			support_period_secs=EXCLUDED.support_period_secs,
			warning_lead_secs=EXCLUDED.warning_lead_secs,
			auto_retire=EXCLUDED.auto_retire,
			allowed_breaking=EXCLUDED.allowed_breaking,
			updated_at=NOW()
		RETURNING tenant_id, api_id, max_versions, support_period_secs, warning_lead_secs, auto_retire, allowed_breaking, created_at, updated_at
	`
	row := s.db.QueryRowContext(ctx, query,
		policy.TenantID, policy.APIID, policy.MaxVersions,
		int64(policy.SupportPeriod/time.Second), int64(policy.WarningLeadTime/time.Second),
		policy.AutoRetire, policy.AllowedBreaking)
	p, err := scanPolicy(row)
	if err != nil {
		return models.LifecyclePolicy{}, fmt.Errorf("put policy: %w", err)
	}
	return p, nil
}

func (s *PGStore) GetPolicy(ctx context.Context, tenantID, apiID string) (models.LifecyclePolicy, error) {
	const query = `
		SELECT tenant_id, api_id, max_versions, support_period_secs, warning_lead_secs, auto_retire, allowed_breaking, created_at, updated_at
		FROM lifecycle_policies WHERE tenant_id=$1 AND api_id=$2
	`
	p, err := scanPolicy(s.db.QueryRowContext(ctx, query, tenantID, apiID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.LifecyclePolicy{}, models.ErrPolicyNotFound
		}
		return models.LifecyclePolicy{}, fmt.Errorf("get policy: %w", err)
	}
	return p, nil
}

const planColumns = `id, tenant_id, api_id, from_version, to_version, strategy, status, steps, rollback, validation, report, created_at, updated_at`

func scanPlan(row rowScanner) (models.MigrationPlan, error) {
	var (
		p          models.MigrationPlan
		steps      []byte
		rollback   []byte
		validation []byte
		report     []byte
	)
	if err := row.Scan(
		&p.ID,
		&p.TenantID,
		&p.APIID,
		&p.FromVersion,
		&p.ToVersion,
		&p.Strategy,
		&p.Status,
		&steps,
		&rollback,
		&validation,
		&report,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return models.MigrationPlan{}, err
	}
	if err := json.Unmarshal(steps, &p.Steps); err != nil {
		return models.MigrationPlan{}, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal(rollback, &p.Rollback); err != nil {
		return models.MigrationPlan{}, fmt.Errorf("decode rollback: %w", err)
	}
	if err := json.Unmarshal(validation, &p.Validation); err != nil {
		return models.MigrationPlan{}, fmt.Errorf("decode validation: %w", err)
	}
	if err := json.Unmarshal(report, &p.Report); err != nil {
		return models.MigrationPlan{}, fmt.Errorf("decode report: %w", err)
	}
	return p, nil
}

func (s *PGStore) CreatePlan(ctx context.Context, plan models.MigrationPlan) (models.MigrationPlan, error) {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	query := `
		INSERT INTO migration_plans (id, tenant_id, api_id, from_version, to_version, strategy, status, steps, rollback, validation, report)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING ` + planColumns
	row := s.db.QueryRowContext(ctx, query,
		plan.ID, plan.TenantID, plan.APIID, plan.FromVersion, plan.ToVersion, plan.Strategy, plan.Status,
		mustJSON(plan.Steps), mustJSON(plan.Rollback), mustJSON(plan.Validation), mustJSON(plan.Report))
	p, err := scanPlan(row)
	if err != nil {
		return models.MigrationPlan{}, fmt.Errorf("insert migration plan: %w", err)
	}
	return p, nil
}

func (s *PGStore) GetPlan(ctx context.Context, tenantID string, id uuid.UUID) (models.MigrationPlan, error) {
	query := `SELECT ` + planColumns + ` FROM migration_plans WHERE tenant_id=$1 AND id=$2`
	p, err := scanPlan(s.db.QueryRowContext(ctx, query, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MigrationPlan{}, models.ErrPlanNotFound
		}
		return models.MigrationPlan{}, fmt.Errorf("get migration plan: %w", err)
	}
	return p, nil
}

func (s *PGStore) TransitionPlan(ctx context.Context, tenantID string, id uuid.UUID, from, to models.PlanStatus) (models.MigrationPlan, error) {
	query := `
		UPDATE migration_plans SET status=$3, updated_at=NOW()
		WHERE tenant_id=$1 AND id=$2 AND status=$4
		RETURNING ` + planColumns
	p, err := scanPlan(s.db.QueryRowContext(ctx, query, tenantID, id, to, from))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetPlan(ctx, tenantID, id); errors.Is(getErr, models.ErrPlanNotFound) {
				return models.MigrationPlan{}, models.ErrPlanNotFound
			}
			return models.MigrationPlan{}, models.ErrInvalidTransition
		}
		return models.MigrationPlan{}, fmt.Errorf("transition migration plan: %w", err)
	}
	return p, nil
}

func (s *PGStore) InsertEvent(ctx context.Context, ev models.DomainEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	query := `
		INSERT INTO domain_events (id, event_type, tenant_id, api_id, version, payload, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if _, err := s.db.ExecContext(ctx, query, ev.ID, ev.Type, ev.TenantID, ev.APIID, ev.Version, payload, models.EventPending); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ClaimPendingEvents bumps the attempt counter on up to limit pending rows
// and returns them. FOR UPDATE SKIP LOCKED keeps concurrent dispatchers from
// claiming the same rows.
func (s *PGStore) ClaimPendingEvents(ctx context.Context, limit int) ([]models.DomainEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		UPDATE domain_events SET attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM domain_events
			WHERE status=$1
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		RETURNING id, event_type, tenant_id, api_id, version, payload, status, attempts, last_error, created_at, sent_at
	`
	rows, err := s.db.QueryContext(ctx, query, models.EventPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim events: %w", err)
	}
	defer rows.Close()

	var events []models.DomainEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (models.DomainEvent, error) {
	var (
		ev        models.DomainEvent
		payload   []byte
		lastError sql.NullString
		sentAt    sql.NullTime
	)
	if err := row.Scan(
		&ev.ID,
		&ev.Type,
		&ev.TenantID,
		&ev.APIID,
		&ev.Version,
		&payload,
		&ev.Status,
		&ev.Attempts,
		&lastError,
		&ev.CreatedAt,
		&sentAt,
	); err != nil {
		return models.DomainEvent{}, err
	}
	ev.Payload = append([]byte(nil), payload...)
	if lastError.Valid {
		ev.LastError = lastError.String
	}
	if sentAt.Valid {
		t := sentAt.Time
		ev.SentAt = &t
	}
	return ev, nil
}

// MarkEventResult records a delivery outcome. A row marked back to pending
// stays claimable for a later retry; failed is terminal.
func (s *PGStore) MarkEventResult(ctx context.Context, id uuid.UUID, status models.EventStatus, lastError string) error {
	var errVal sql.NullString
	if lastError != "" {
		errVal = sql.NullString{String: lastError, Valid: true}
	}
	var sentAt sql.NullTime
	if status == models.EventSent {
		sentAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	query := `UPDATE domain_events SET status=$2, last_error=$3, sent_at=$4 WHERE id=$1`
	if _, err := s.db.ExecContext(ctx, query, id, status, errVal, sentAt); err != nil {
		return fmt.Errorf("mark event result: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
