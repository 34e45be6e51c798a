// Domain types for the screening engine
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntityType identifies whether a screened party is a natural person or an organization.
type EntityType string

const (
	EntityTypePerson       EntityType = "Person"
	EntityTypeOrganization EntityType = "Organization"
)

// ReasonForCheck is the business justification recorded alongside a screening request.
type ReasonForCheck string

const (
	ReasonClientOnboarding       ReasonForCheck = "Client Onboarding"
	ReasonClaimPayment           ReasonForCheck = "Claim Payment"
	ReasonBusinessPartnerPayment ReasonForCheck = "Business Partner Payment"
	ReasonBusinessPartnerDueDil  ReasonForCheck = "Business Partner Due Diligence"
	ReasonPeriodicReScreen       ReasonForCheck = "Periodic Re-Screen"
	ReasonAdHocComplianceReview  ReasonForCheck = "Ad-Hoc Compliance Review"
)

// validReasonsForCheck is the allowed enum set for ReasonForCheck.
var validReasonsForCheck = map[ReasonForCheck]bool{
	ReasonClientOnboarding:       true,
	ReasonClaimPayment:           true,
	ReasonBusinessPartnerPayment: true,
	ReasonBusinessPartnerDueDil:  true,
	ReasonPeriodicReScreen:       true,
	ReasonAdHocComplianceReview:  true,
}

// ValidReasonForCheck reports whether r is one of the allowed enum values.
func ValidReasonForCheck(r ReasonForCheck) bool {
	return validReasonsForCheck[r]
}

// JobReason distinguishes manually requested screenings from sweep-driven re-screens.
type JobReason string

const (
	JobReasonManual          JobReason = "manual"
	JobReasonUKDeltaRescreen JobReason = "uk_delta_rescreen"
)

// JobStatus is the lifecycle state of a ScreeningJob. Only forward transitions are legal:
// pending -> running -> {completed, failed}.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Transition labels the operational delta between a job's previous and new result status.
// It is a dashboard label only; it never feeds back into a verdict.
type Transition string

const (
	TransitionUnchanged     Transition = "unchanged"
	TransitionNewResult     Transition = "new_result"
	TransitionChanged       Transition = "changed"
	TransitionClearedToFail Transition = "cleared_to_fail"
	TransitionFailToCleared Transition = "fail_to_cleared"
)

// Status is the screening verdict's headline outcome.
type Status string

const (
	StatusCleared              Status = "Cleared"
	StatusFailSanction         Status = "Fail Sanction"
	StatusFailPEP              Status = "Fail PEP"
	StatusFailSanctionAndPEP   Status = "Fail Sanction & PEP"
	StatusClearedFalsePositive Status = "Cleared - False Positive"
)

// RiskLevel is derived from Status.
type RiskLevel string

const (
	RiskCleared    RiskLevel = "Cleared"
	RiskLow        RiskLevel = "Low"
	RiskMedium     RiskLevel = "Medium"
	RiskMediumRisk RiskLevel = "Medium Risk"
	RiskHighRisk   RiskLevel = "High Risk"
)

// Confidence bands the winning match score.
type Confidence string

const (
	ConfidenceVeryHigh     Confidence = "Very High"
	ConfidenceHigh         Confidence = "High"
	ConfidenceMedium       Confidence = "Medium"
	ConfidenceLow          Confidence = "Low"
	ConfidenceManualReview Confidence = "Manual Review"
)

// SourceType tags which watchlist feed a snapshot row came from.
type SourceType string

const (
	SourceSanctions SourceType = "sanctions"
	SourcePEPs      SourceType = "peps"
)

// ScreeningRequest is the transient input to the Dispatcher.
type ScreeningRequest struct {
	Name              string
	DOB               *string
	EntityType        EntityType
	Requestor         string
	BusinessReference string
	ReasonForCheck    ReasonForCheck
}

// TopMatch is an advisory, name-only suggestion. It never contributes to a verdict.
type TopMatch struct {
	Name  string          `json:"name"`
	Score decimal.Decimal `json:"score"`
}

// CheckSummary is the short provenance block attached to every ScreeningResult.
type CheckSummary struct {
	Status string    `json:"status"`
	Source string    `json:"source"`
	Date   time.Time `json:"date"`
}

// ManualOverride is the audit block recorded by MarkFalsePositive.
type ManualOverride struct {
	Actor         string    `json:"actor"`
	Reason        string    `json:"reason,omitempty"`
	OverriddenAt  time.Time `json:"overridden_at"`
	PreviousState string    `json:"previous_status"`
}

// ScreeningResult is the verdict bundle stored as the cache row's JSON payload.
type ScreeningResult struct {
	Status         Status          `json:"status"`
	RiskLevel      RiskLevel       `json:"risk_level"`
	Confidence     Confidence      `json:"confidence"`
	Score          decimal.Decimal `json:"score"`
	IsSanctioned   bool            `json:"is_sanctioned"`
	IsPEP          bool            `json:"is_pep"`
	SanctionsName  string          `json:"sanctions_name,omitempty"`
	BirthDate      *string         `json:"birth_date,omitempty"`
	Regime         string          `json:"regime,omitempty"`
	TopMatches     []TopMatch      `json:"top_matches"`
	CheckSummary   CheckSummary    `json:"check_summary"`
	ManualOverride *ManualOverride `json:"manual_override,omitempty"`
}

// ScreenedEntity is a cache row, keyed by EntityKey, valid for 12 months.
type ScreenedEntity struct {
	EntityKey                string
	DisplayName              string
	NormalizedName           string
	DateOfBirth              *string
	EntityType               EntityType
	LastScreenedAt           time.Time
	ScreeningValidUntil      time.Time
	Status                   Status
	RiskLevel                RiskLevel
	Confidence               Confidence
	Score                    decimal.Decimal
	UKSanctionsFlag          bool
	PEPFlag                  bool
	Result                   ScreeningResult
	LastRequestor            string
	BusinessReference        string
	ReasonForCheck           ReasonForCheck
	ScreenedAgainstUKHash    string
	ScreenedAgainstRefreshID *uuid.UUID
	ManualOverrideUKHash     *string
	ManualOverrideStale      bool
	UpdatedAt                time.Time
}

// Valid reports whether the cache row may be reused in place of a fresh screen.
func (e *ScreenedEntity) Valid(now time.Time) bool {
	return e.ScreeningValidUntil.After(now) && !e.ManualOverrideStale
}

// ScreeningJob is a queue row driving the worker pool.
type ScreeningJob struct {
	JobID             uuid.UUID
	EntityKey         string
	Name              string
	DateOfBirth       *string
	EntityType        EntityType
	Requestor         string
	BusinessReference string
	ReasonForCheck    ReasonForCheck
	Reason            JobReason
	RefreshRunID      *uuid.UUID
	ForceRescreen     bool
	Status            JobStatus
	PreviousStatus    *string
	ResultStatus      *string
	Transition        *Transition
	CreatedAt         time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	ErrorMessage      *string
}

// RefreshRun is the metadata row for one watchlist refresh + delta sweep.
type RefreshRun struct {
	RefreshRunID   uuid.UUID
	RanAt          time.Time
	SanctionsRows  int
	PEPsRows       int
	UKRowCount     int
	UKHash         string
	PrevUKHash     string
	UKChanged      bool
	Added          int
	Removed        int
	Changed        int
	Candidate      int
	Queued         int
	AlreadyPending int
	Reused         int
	Failed         int
}

// DispatchOutcome is the tag returned by the Dispatcher for a single Screen/EnqueueBulk item.
type DispatchOutcome string

const (
	OutcomeReused         DispatchOutcome = "reused"
	OutcomeCompleted      DispatchOutcome = "completed"
	OutcomeQueued         DispatchOutcome = "queued"
	OutcomeAlreadyPending DispatchOutcome = "already_pending"
)

// ScreenResponse is returned by Dispatcher.Screen.
type ScreenResponse struct {
	Outcome DispatchOutcome
	Result  *ScreeningResult
	JobID   *uuid.UUID
}

// BulkItemResponse is returned per item by Dispatcher.EnqueueBulk.
type BulkItemResponse struct {
	Outcome DispatchOutcome
	JobID   *uuid.UUID
}

// WatchlistEntry is the projected row shape the Loader materializes into the Snapshot.
type WatchlistEntry struct {
	Schema     string
	Name       string
	NameNorm   string
	Aliases    string
	BirthDate  *string
	BirthNorm  *string
	ProgramIDs string
	Dataset    string
	Sanctions  string
	SourceType SourceType
}

// ErrorCode is a stable machine-readable validation failure code.
type ErrorCode string

const (
	ErrorCodeMissingName              ErrorCode = "missing_name"
	ErrorCodeMissingRequestor         ErrorCode = "missing_requestor"
	ErrorCodeMissingBusinessReference ErrorCode = "missing_business_reference"
	ErrorCodeInvalidReasonForCheck    ErrorCode = "invalid_reason_for_check"
)

// ValidationError is a caller-facing input validation failure.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return string(e.Code) + ": " + e.Message
}
