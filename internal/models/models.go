package models

import (
	"time"

	"github.com/google/uuid"
)

type VersionStatus string

const (
	StatusDraft      VersionStatus = "draft"
	StatusPublished  VersionStatus = "published"
	StatusDeprecated VersionStatus = "deprecated"
	StatusRetired    VersionStatus = "retired"
)

type CompatibilityLevel string

const (
	LevelPatch CompatibilityLevel = "patch"
	LevelMinor CompatibilityLevel = "minor"
	LevelMajor CompatibilityLevel = "major"
)

// DeploymentDescriptor is informational only; nothing here is validated
// against live infrastructure.
type DeploymentDescriptor struct {
	Environment string `json:"environment,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Replicas    int    `json:"replicas,omitempty"`
	CPU         string `json:"cpu,omitempty"`
	Memory      string `json:"memory,omitempty"`
}

// MetricsSnapshot is externally supplied and read-only from this service's
// perspective.
type MetricsSnapshot struct {
	RequestCount    int64   `json:"requestCount"`
	ErrorCount      int64   `json:"errorCount"`
	AdoptionPercent float64 `json:"adoptionPercent"`
}

type DeprecationPlan struct {
	Reason             string    `json:"reason"`
	MigrationGuide     string    `json:"migrationGuide,omitempty"`
	SupportEndDate     time.Time `json:"supportEndDate"`
	ReplacementVersion string    `json:"replacementVersion,omitempty"`
}

// APIVersion is one immutable snapshot of an API's contract. Identity is
// (tenantId, apiId, version); status only moves forward through
// draft -> published -> deprecated -> retired.
type APIVersion struct {
	TenantID           string               `json:"tenantId"`
	APIID              string               `json:"apiId"`
	Version            string               `json:"version"`
	Status             VersionStatus        `json:"status"`
	CompatibilityLevel CompatibilityLevel   `json:"compatibilityLevel"`
	SpecKey            string               `json:"specKey"`
	Deployment         DeploymentDescriptor `json:"deployment"`
	Metrics            MetricsSnapshot      `json:"metrics"`
	Deprecation        *DeprecationPlan     `json:"deprecation,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	PublishedAt        *time.Time           `json:"publishedAt,omitempty"`
	DeprecatedAt       *time.Time           `json:"deprecatedAt,omitempty"`
	RetiredAt          *time.Time           `json:"retiredAt,omitempty"`
}

// LifecyclePolicy is per (tenant, api) configuration consumed whenever a
// version is published.
type LifecyclePolicy struct {
	TenantID        string             `json:"tenantId"`
	APIID           string             `json:"apiId"`
	MaxVersions     int                `json:"maxVersions"`
	SupportPeriod   time.Duration      `json:"supportPeriod"`
	WarningLeadTime time.Duration      `json:"warningLeadTime"`
	AutoRetire      bool               `json:"autoRetire"`
	AllowedBreaking CompatibilityLevel `json:"allowedBreaking"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type BreakingChange struct {
	Type       string   `json:"type"`
	Path       string   `json:"path"`
	Method     string   `json:"method,omitempty"`
	Severity   Severity `json:"severity"`
	Impact     string   `json:"impact"`
	Mitigation string   `json:"mitigation,omitempty"`
}

type CompatibilityWarning struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	Method string `json:"method,omitempty"`
	Detail string `json:"detail"`
}

// CompatibilityReport is computed on demand and never a source of truth by
// itself; migration plans embed the report produced at planning time.
type CompatibilityReport struct {
	APIID           string                 `json:"apiId"`
	FromVersion     string                 `json:"fromVersion"`
	ToVersion       string                 `json:"toVersion"`
	Compatible      bool                   `json:"compatible"`
	Score           int                    `json:"score"`
	BreakingChanges []BreakingChange       `json:"breakingChanges,omitempty"`
	Warnings        []CompatibilityWarning `json:"warnings,omitempty"`
	GeneratedAt     time.Time              `json:"generatedAt"`
}

type MigrationStrategy string

const (
	StrategyBlueGreen MigrationStrategy = "blue-green"
	StrategyCanary    MigrationStrategy = "canary"
	StrategyRolling   MigrationStrategy = "rolling"
	StrategyImmediate MigrationStrategy = "immediate"
)

type StepType string

const (
	StepPreparation  StepType = "preparation"
	StepDeployment   StepType = "deployment"
	StepVerification StepType = "verification"
	StepCleanup      StepType = "cleanup"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in-progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

type MigrationStep struct {
	ID                 uuid.UUID   `json:"id"`
	Name               string      `json:"name"`
	Type               StepType    `json:"type"`
	Status             StepStatus  `json:"status"`
	Dependencies       []uuid.UUID `json:"dependencies,omitempty"`
	ValidationRequired bool        `json:"validationRequired"`
}

type RollbackTrigger struct {
	Metric    string  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Unit      string  `json:"unit"`
}

type RollbackPlan struct {
	Triggers []RollbackTrigger `json:"triggers"`
	Steps    []MigrationStep   `json:"steps"`
}

type TestDescriptor struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

type ValidationBundle struct {
	PreDeployment  []TestDescriptor `json:"preDeployment"`
	PostDeployment []TestDescriptor `json:"postDeployment"`
}

type PlanStatus string

const (
	PlanPlanned    PlanStatus = "planned"
	PlanInProgress PlanStatus = "in-progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

// MigrationPlan describes a planned transition between two versions of one
// api for one tenant. Execution is owned by an external deployment
// collaborator; this service only tracks plan status.
type MigrationPlan struct {
	ID          uuid.UUID           `json:"id"`
	TenantID    string              `json:"tenantId"`
	APIID       string              `json:"apiId"`
	FromVersion string              `json:"fromVersion"`
	ToVersion   string              `json:"toVersion"`
	Strategy    MigrationStrategy   `json:"strategy"`
	Status      PlanStatus          `json:"status"`
	Steps       []MigrationStep     `json:"steps"`
	Rollback    RollbackPlan        `json:"rollback"`
	Validation  ValidationBundle    `json:"validation"`
	Report      CompatibilityReport `json:"report"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type EventStatus string

const (
	EventPending EventStatus = "pending"
	EventSent    EventStatus = "sent"
	EventFailed  EventStatus = "failed"
)

// DomainEvent is an outbox row. State-mutating operations insert one; the
// dispatcher delivers it out of band.
type DomainEvent struct {
	ID        uuid.UUID   `json:"id"`
	Type      string      `json:"type"`
	TenantID  string      `json:"tenantId"`
	APIID     string      `json:"apiId"`
	Version   string      `json:"version,omitempty"`
	Payload   []byte      `json:"payload,omitempty"`
	Status    EventStatus `json:"status"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	SentAt    *time.Time  `json:"sentAt,omitempty"`
}

const (
	EventVersionCreated    = "version.created"
	EventVersionPublished  = "version.published"
	EventVersionDeprecated = "version.deprecated"
	EventVersionRetired    = "version.retired"
	EventMigrationPlanned  = "migration.planned"
)
