package domain

import "time"

// Core domain models shared by the orchestrator, the stores and the HTTP layer.
// JSON tags are the wire shape of the persisted read model.

// Status is the lifecycle state of a ScanJob.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// InFlight reports whether s blocks another submission for the same tenant and domain.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled || to == StatusFailed
	case StatusRunning:
		return to == StatusRunning || to == StatusCompleted || to == StatusFailed || to == StatusCancelled
	}
	return false
}

// FindingStatus is the verdict of one check.
type FindingStatus string

const (
	FindingPass  FindingStatus = "pass"
	FindingWarn  FindingStatus = "warn"
	FindingFail  FindingStatus = "fail"
	FindingError FindingStatus = "error"
	FindingInfo  FindingStatus = "info"
)

func (s FindingStatus) Valid() bool {
	switch s {
	case FindingPass, FindingWarn, FindingFail, FindingError, FindingInfo:
		return true
	}
	return false
}

// RiskLevel grades how much a finding matters.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Alerting reports whether a finding at this level belongs on the breach-alert list.
func (r RiskLevel) Alerting() bool {
	return r == RiskHigh || r == RiskCritical
}

// Vulnerability is a scanner-reported issue nested in a Finding.
type Vulnerability struct {
	Identifier string `json:"identifier"`
	Port       int    `json:"port,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Finding is the structured result of one Check Unit. Immutable once appended to a job.
type Finding struct {
	Check             string          `json:"check"`
	Title             string          `json:"title"`
	Status            FindingStatus   `json:"status"`
	RiskLevel         RiskLevel       `json:"risk_level"`
	StandardReference string          `json:"standard,omitempty"`
	Module            string          `json:"module"`
	Details           string          `json:"details,omitempty"`
	Vulnerabilities   []Vulnerability `json:"vulnerabilities,omitempty"`
}

// Recommendation is a remediation hint derived from findings.
type Recommendation struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
}

// Checklist mirrors the compliance checklist items a scan can prove.
type Checklist struct {
	HTTPS        *bool `json:"https,omitempty"`
	CookieBanner *bool `json:"cookie_banner,omitempty"`
}

// Mark records whether item was proven. Unknown items are ignored.
func (c *Checklist) Mark(item string, ok bool) {
	switch item {
	case "https":
		c.HTTPS = &ok
	case "cookie_banner":
		c.CookieBanner = &ok
	}
}

// ScanJob is one invocation of the scan pipeline and its persisted state.
type ScanJob struct {
	ID              int64            `json:"-"`
	PublicID        string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	UserID          string           `json:"user_id,omitempty"`
	Domain          string           `json:"domain"`
	Tier            Tier             `json:"tier,omitempty"`
	Status          Status           `json:"status"`
	Progress        int              `json:"progress"`
	CurrentStep     string           `json:"current_step"`
	Log             []string         `json:"log"`
	Findings        []Finding        `json:"findings"`
	ChecksTotal     int              `json:"checks_total"`
	ChecksCompleted int              `json:"checks_completed"`
	RiskScore       *float64         `json:"risk_score"`
	Grade           *Grade           `json:"grade"`
	BreachAlerts    []string         `json:"breach_alerts,omitempty"`
	Checklist       Checklist        `json:"checklist"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	External        map[string]any   `json:"external,omitempty"`
	RetryOf         string           `json:"retry_of,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}

// NewScan is the intake request for a ScanJob.
type NewScan struct {
	TenantID string
	UserID   string
	Domain   string
	RetryOf  string
	Log      []string
}

// Checkpoint is an incremental, durable update of a RUNNING job. Zero values are not written
// except Progress, which the stores only ever raise.
type Checkpoint struct {
	Progress        int
	Step            string
	Tier            Tier
	ChecksTotal     int
	ChecksCompleted int
	LogLines        []string
	Findings        []Finding
}

// Outcome is the terminal state written on completion.
type Outcome struct {
	Grade           Grade
	RiskScore       float64
	LogLines        []string
	BreachAlerts    []string
	Checklist       Checklist
	Recommendations []Recommendation
	External        map[string]any
	CompletedAt     time.Time
}

// ExternalResult is a pre-computed verdict returned by an authoritative external scanner.
type ExternalResult struct {
	Grade     Grade
	RiskScore float64
	Raw       map[string]any
}

// Tier is a subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Firm is the owning tenant as seen by the orchestrator.
type Firm struct {
	ID   string
	Name string
	Tier Tier
}

// Posture is the latest score of a domain for a tenant.
type Posture struct {
	TenantID   string
	Domain     string
	ScanID     string
	Grade      Grade
	RiskScore  float64
	Findings   int
	ComputedAt time.Time
}
