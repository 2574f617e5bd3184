package model

import "time"

// CheckName identifies one compatibility check.
type CheckName string

const (
	CheckConnectivity CheckName = "connectivity"
	CheckJSONMode     CheckName = "json_mode"
	CheckProtocol     CheckName = "protocol_compliance"
	CheckVision       CheckName = "vision"
)

// CheckStatus is the outcome of one check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "pass"
	CheckFailed  CheckStatus = "fail"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult is the outcome of one diagnostic check.
type CheckResult struct {
	Name       CheckName   `json:"name"`
	Status     CheckStatus `json:"status"`
	Summary    string      `json:"summary"`
	Details    []string    `json:"details,omitempty"`
	LatencyMs  int64       `json:"latencyMs"`
	JSONFormat string      `json:"jsonFormat,omitempty"`
}

// ReportKind distinguishes the light diagnostics from the full check.
type ReportKind string

const (
	ReportDiagnostics   ReportKind = "diagnostics"
	ReportCompatibility ReportKind = "compatibility"
)

// CheckReport is the DiagnosticsResult / CompatibilityCheckResult record.
type CheckReport struct {
	Kind       ReportKind    `json:"kind"`
	ProfileID  string        `json:"profileId"`
	Model      string        `json:"model"`
	Compatible bool          `json:"compatible"`
	FailedAt   CheckName     `json:"failedAt,omitempty"`
	Checks     []CheckResult `json:"checks"`
	CheckedAt  time.Time     `json:"checkedAt"`
}
