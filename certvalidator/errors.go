// Package certvalidator provides X.509 certificate path validation.
// This file contains error types for certificate validation.
package certvalidator

import (
	"errors"
	"fmt"
	"time"

	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
)

// CRLReason represents the reason for certificate revocation.
type CRLReason = revinfo.RevocationReason

// Sentinel errors for errors.Is checks.
var (
	ErrNoTargetFound      = errors.New("no target certificate found")
	ErrNoIssuerFound      = errors.New("no issuer certificate found")
	ErrNoChain            = errors.New("no certification path found")
	ErrTrustAnchorMissing = errors.New("trust anchor for certification path not found")
	ErrNoValidCRL         = errors.New("no valid CRL found")
)

// FailureReason classifies a path validation failure.
type FailureReason int

const (
	ReasonUnknown FailureReason = iota
	ReasonSignature
	ReasonExpired
	ReasonNotYetValid
	ReasonNameChaining
	ReasonNameConstraints
	ReasonPolicy
	ReasonCriticalExtension
	ReasonCAConstraint
	ReasonMaxPathLength
	ReasonKeyUsage
	ReasonRevocation
	ReasonTrustAnchor
	ReasonTargetConstraints
	ReasonHolder
	ReasonAttributes
)

// String returns a human-readable representation of the failure reason.
func (r FailureReason) String() string {
	switch r {
	case ReasonSignature:
		return "signature"
	case ReasonExpired:
		return "expired"
	case ReasonNotYetValid:
		return "not yet valid"
	case ReasonNameChaining:
		return "name chaining"
	case ReasonNameConstraints:
		return "name constraints"
	case ReasonPolicy:
		return "policy"
	case ReasonCriticalExtension:
		return "critical extension"
	case ReasonCAConstraint:
		return "CA constraint"
	case ReasonMaxPathLength:
		return "max path length"
	case ReasonKeyUsage:
		return "key usage"
	case ReasonRevocation:
		return "revocation"
	case ReasonTrustAnchor:
		return "trust anchor"
	case ReasonTargetConstraints:
		return "target constraints"
	case ReasonHolder:
		return "holder"
	case ReasonAttributes:
		return "attributes"
	default:
		return "unknown"
	}
}

// BuildFailure occurs when no certification path could be built. Err holds
// the last error seen on a failed branch, if any.
type BuildFailure struct {
	Message string
	Err     error
}

func (e *BuildFailure) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *BuildFailure) Unwrap() error {
	return e.Err
}

// NewBuildFailure creates a new BuildFailure.
func NewBuildFailure(message string, err error) *BuildFailure {
	return &BuildFailure{Message: message, Err: err}
}

// ValidationFailure reports the failing certificate of a path. Index is the
// 0-based position in the path (target first), or -1 when the failure is not
// tied to a certificate.
type ValidationFailure struct {
	Index  int
	Reason FailureReason
	Err    error
}

func (e *ValidationFailure) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("path validation failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("path validation failed at index %d (%s): %v", e.Index, e.Reason, e.Err)
}

func (e *ValidationFailure) Unwrap() error {
	return e.Err
}

// NewValidationFailure creates a ValidationFailure wrapping err.
func NewValidationFailure(index int, reason FailureReason, err error) *ValidationFailure {
	return &ValidationFailure{Index: index, Reason: reason, Err: err}
}

// failf creates a ValidationFailure with a formatted message.
func failf(index int, reason FailureReason, format string, args ...interface{}) *ValidationFailure {
	return &ValidationFailure{Index: index, Reason: reason, Err: fmt.Errorf(format, args...)}
}

// RevokedError occurs when a certificate has been revoked.
type RevokedError struct {
	Reason         CRLReason
	RevocationTime time.Time
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("certificate revocation after %s, reason: %s",
		e.RevocationTime.UTC().Format(time.RFC3339), e.Reason)
}

// NewRevokedError creates a new RevokedError.
func NewRevokedError(reason CRLReason, revocationTime time.Time) *RevokedError {
	return &RevokedError{Reason: reason, RevocationTime: revocationTime}
}

// StatusUndeterminedError occurs when the CRLs found do not cover every
// revocation reason and no revocation was seen.
type StatusUndeterminedError struct {
	Message string
}

func (e *StatusUndeterminedError) Error() string {
	return e.Message
}

// NewStatusUndeterminedError creates a new StatusUndeterminedError.
func NewStatusUndeterminedError(message string) *StatusUndeterminedError {
	return &StatusUndeterminedError{Message: message}
}

// ConfigurationError occurs when parameters cannot be used.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Field, e.Message)
	}
	return "configuration error: " + e.Message
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(field, message string) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: message}
}

// NameConstraintError occurs when a name violates name constraints.
type NameConstraintError struct {
	Message string
}

func (e *NameConstraintError) Error() string {
	return e.Message
}

// NewNameConstraintError creates a new NameConstraintError.
func NewNameConstraintError(message string) *NameConstraintError {
	return &NameConstraintError{Message: message}
}

// PolicyError occurs during certificate policy processing.
type PolicyError struct {
	Message string
}

func (e *PolicyError) Error() string {
	return e.Message
}

// NewPolicyError creates a new PolicyError.
func NewPolicyError(message string) *PolicyError {
	return &PolicyError{Message: message}
}

// CRLError occurs when a CRL cannot be used for a revocation check.
type CRLError struct {
	Message string
	Err     error
}

func (e *CRLError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CRLError) Unwrap() error {
	return e.Err
}

// NewCRLError creates a new CRLError.
func NewCRLError(message string, err error) *CRLError {
	return &CRLError{Message: message, Err: err}
}
