package types

import (
	"fmt"
	"strings"
)

// Status is a workflow state of an issue.
type Status string

// Workflow states
const (
	StatusOpen      Status = "OPEN"
	StatusConfirmed Status = "CONFIRMED"
	StatusReopened  Status = "REOPENED"
	StatusResolved  Status = "RESOLVED"
	StatusClosed    Status = "CLOSED"
)

// Statuses lists every workflow state in display order.
var Statuses = []Status{StatusOpen, StatusConfirmed, StatusReopened, StatusResolved, StatusClosed}

// IsValid checks if the status value is one of the workflow states
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusConfirmed, StatusReopened, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Resolution explains why an issue left the open states. The zero value
// means the issue is unresolved.
type Resolution string

// Resolutions
const (
	ResolutionNone          Resolution = ""
	ResolutionFixed         Resolution = "FIXED"
	ResolutionFalsePositive Resolution = "FALSE-POSITIVE"
	ResolutionWontFix       Resolution = "WONTFIX"
	ResolutionRemoved       Resolution = "REMOVED"
)

// IsValid checks if the resolution is known (the empty resolution is valid)
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionNone, ResolutionFixed, ResolutionFalsePositive, ResolutionWontFix, ResolutionRemoved:
		return true
	}
	return false
}

// Severity is the legacy, rule-derived or manual severity of an issue.
type Severity string

// Severities, lowest first
const (
	SeverityInfo     Severity = "INFO"
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
	SeverityBlocker  Severity = "BLOCKER"
)

// Severities lists every severity, lowest first.
var Severities = []Severity{SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker}

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker:
		return true
	}
	return false
}

// ParseSeverity parses a case-insensitive severity name.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: unknown severity %q", ErrInvalidArgument, s)
	}
	return sev, nil
}

// IssueType categorizes an issue.
type IssueType string

// Issue types
const (
	TypeCodeSmell       IssueType = "CODE_SMELL"
	TypeBug             IssueType = "BUG"
	TypeVulnerability   IssueType = "VULNERABILITY"
	TypeSecurityHotspot IssueType = "SECURITY_HOTSPOT"
)

// IsValid checks if the issue type value is valid
func (t IssueType) IsValid() bool {
	switch t {
	case TypeCodeSmell, TypeBug, TypeVulnerability, TypeSecurityHotspot:
		return true
	}
	return false
}

// IsReviewOnly reports whether issues of this type are only reviewed, never
// triaged through the regular workflow or re-rated.
func (t IssueType) IsReviewOnly() bool {
	return t == TypeSecurityHotspot
}

// ParseIssueType parses a case-insensitive issue type name.
func ParseIssueType(s string) (IssueType, error) {
	t := IssueType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: unknown issue type %q", ErrInvalidArgument, s)
	}
	return t, nil
}

// SoftwareQuality is a dimension an impact is rated against.
type SoftwareQuality string

// Software qualities
const (
	QualityMaintainability SoftwareQuality = "MAINTAINABILITY"
	QualityReliability     SoftwareQuality = "RELIABILITY"
	QualitySecurity        SoftwareQuality = "SECURITY"
)

// IsValid checks if the software quality value is valid
func (q SoftwareQuality) IsValid() bool {
	switch q {
	case QualityMaintainability, QualityReliability, QualitySecurity:
		return true
	}
	return false
}

// ImpactSeverity rates an impact on one software quality.
type ImpactSeverity string

// Impact severities, lowest first
const (
	ImpactInfo    ImpactSeverity = "INFO"
	ImpactLow     ImpactSeverity = "LOW"
	ImpactMedium  ImpactSeverity = "MEDIUM"
	ImpactHigh    ImpactSeverity = "HIGH"
	ImpactBlocker ImpactSeverity = "BLOCKER"
)

// IsValid checks if the impact severity value is valid
func (s ImpactSeverity) IsValid() bool {
	switch s {
	case ImpactInfo, ImpactLow, ImpactMedium, ImpactHigh, ImpactBlocker:
		return true
	}
	return false
}

var severityToImpact = map[Severity]ImpactSeverity{
	SeverityInfo:     ImpactInfo,
	SeverityMinor:    ImpactLow,
	SeverityMajor:    ImpactMedium,
	SeverityCritical: ImpactHigh,
	SeverityBlocker:  ImpactBlocker,
}

// ImpactSeverityOf converts a legacy severity to its impact severity.
func ImpactSeverityOf(s Severity) (ImpactSeverity, bool) {
	v, ok := severityToImpact[s]
	return v, ok
}

// SeverityOf converts an impact severity back to the legacy severity.
func SeverityOf(s ImpactSeverity) (Severity, bool) {
	for sev, imp := range severityToImpact {
		if imp == s {
			return sev, true
		}
	}
	return "", false
}

// QualityOf returns the software quality an issue type primarily impacts.
// Review-only types have none.
func QualityOf(t IssueType) (SoftwareQuality, bool) {
	switch t {
	case TypeCodeSmell:
		return QualityMaintainability, true
	case TypeBug:
		return QualityReliability, true
	case TypeVulnerability:
		return QualitySecurity, true
	}
	return "", false
}

// CleanCodeAttribute is the rule-derived attribute denormalized onto issues.
type CleanCodeAttribute string

// Clean code attributes
const (
	AttributeConventional CleanCodeAttribute = "CONVENTIONAL"
	AttributeFormatted    CleanCodeAttribute = "FORMATTED"
	AttributeIdentifiable CleanCodeAttribute = "IDENTIFIABLE"
	AttributeClear        CleanCodeAttribute = "CLEAR"
	AttributeComplete     CleanCodeAttribute = "COMPLETE"
	AttributeEfficient    CleanCodeAttribute = "EFFICIENT"
	AttributeLogical      CleanCodeAttribute = "LOGICAL"
	AttributeDistinct     CleanCodeAttribute = "DISTINCT"
	AttributeFocused      CleanCodeAttribute = "FOCUSED"
	AttributeModular      CleanCodeAttribute = "MODULAR"
	AttributeTested       CleanCodeAttribute = "TESTED"
	AttributeLawful       CleanCodeAttribute = "LAWFUL"
	AttributeRespectful   CleanCodeAttribute = "RESPECTFUL"
	AttributeTrustworthy  CleanCodeAttribute = "TRUSTWORTHY"
)

// IsValid checks if the attribute is known (empty is accepted for rules
// that predate clean code attributes)
func (a CleanCodeAttribute) IsValid() bool {
	switch a {
	case "", AttributeConventional, AttributeFormatted, AttributeIdentifiable,
		AttributeClear, AttributeComplete, AttributeEfficient, AttributeLogical,
		AttributeDistinct, AttributeFocused, AttributeModular, AttributeTested,
		AttributeLawful, AttributeRespectful, AttributeTrustworthy:
		return true
	}
	return false
}
