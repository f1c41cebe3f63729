// Package certvalidator provides X.509 certificate path validation.
// This file implements attribute certificate (AC) validation per RFC 5755.
package certvalidator

import (
	"bytes"
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// AC validation errors
var (
	// ErrACHolderNotFound indicates no certificate matches the AC holder.
	ErrACHolderNotFound = errors.New("holder certificate of attribute certificate not found")

	// ErrACObjectDigestNotSupported indicates an objectDigestInfo holder.
	ErrACObjectDigestNotSupported = errors.New("objectDigestInfo holder not supported")

	// ErrACIssuerNotFound indicates no certificate matches the AC issuer.
	ErrACIssuerNotFound = errors.New("public key certificate for attribute certificate cannot be found")
)

// AttributeCertificate is a parsed RFC 5755 attribute certificate.
type AttributeCertificate struct {
	x509ext.AttributeCertificate
}

// ParseAttributeCertificate parses a DER-encoded attribute certificate.
func ParseAttributeCertificate(der []byte) (*AttributeCertificate, error) {
	decoded, err := x509ext.DecodeAttributeCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse attribute certificate: %w", err)
	}
	return &AttributeCertificate{AttributeCertificate: *decoded}, nil
}

// IssuerNames returns the directory names of the AC issuer.
func (ac *AttributeCertificate) IssuerNames() []pkix.RDNSequence {
	return directoryNames(ac.Issuer.Names())
}

// HasAttribute reports whether the AC carries an attribute of type oid.
func (ac *AttributeCertificate) HasAttribute(oid string) bool {
	for _, attr := range ac.Attributes {
		if attr.Type.String() == oid {
			return true
		}
	}
	return false
}

// CheckValidity checks that date lies within the AC validity period.
func (ac *AttributeCertificate) CheckValidity(date time.Time) error {
	if date.Before(ac.NotBefore) {
		return fmt.Errorf("attribute certificate is not valid until %s", ac.NotBefore.UTC().Format(time.RFC3339))
	}
	if date.After(ac.NotAfter) {
		return fmt.Errorf("attribute certificate expired on %s", ac.NotAfter.UTC().Format(time.RFC3339))
	}
	return nil
}

// Fingerprint returns the SHA-256 fingerprint of the AC encoding.
func (ac *AttributeCertificate) Fingerprint() [32]byte {
	return sha256.Sum256(ac.Raw)
}

// Equal reports whether two ACs have the same encoding.
func (ac *AttributeCertificate) Equal(other *AttributeCertificate) bool {
	return other != nil && bytes.Equal(ac.Raw, other.Raw)
}

func (ac *AttributeCertificate) String() string {
	names := make([]string, 0, len(ac.Issuer.Names()))
	for _, n := range ac.Issuer.Names() {
		names = append(names, n.String())
	}
	return fmt.Sprintf("attribute certificate %s from %s", ac.SerialNumber, strings.Join(names, ", "))
}

func (ac *AttributeCertificate) revSerial() *big.Int             { return ac.SerialNumber }
func (ac *AttributeCertificate) revIssuers() []pkix.RDNSequence  { return ac.IssuerNames() }
func (ac *AttributeCertificate) revExtensions() []pkix.Extension { return ac.Extensions }
func (ac *AttributeCertificate) revNotAfter() time.Time          { return ac.NotAfter }
func (ac *AttributeCertificate) revIsCA() bool                   { return false }
func (ac *AttributeCertificate) revIsAttributeCert() bool        { return true }
func (ac *AttributeCertificate) revDescription() string          { return ac.String() }

// authorityKeyID returns the AC authority key identifier, or nil.
func (ac *AttributeCertificate) authorityKeyID() []byte {
	value := x509ext.Value(ac.Extensions, x509ext.OIDAuthorityKeyIdentifier)
	if value == nil {
		return nil
	}
	keyID, err := x509ext.DecodeAuthorityKeyID(value)
	if err != nil {
		return nil
	}
	return keyID
}

func directoryNames(names []x509ext.GeneralName) []pkix.RDNSequence {
	var out []pkix.RDNSequence
	for _, n := range names {
		if n.Form == x509ext.FormDirectoryName {
			out = append(out, n.DirectoryName)
		}
	}
	return out
}

// AttrCertChecker handles critical AC extensions the validator does not
// know. Check must delete every extension it handles from unresolved.
type AttrCertChecker interface {
	Check(ac *AttributeCertificate, issuerPath, holderPath *CertificationPath, unresolved map[string]bool) error
}

// AttrCertCheckerFunc adapts a function to AttrCertChecker.
type AttrCertCheckerFunc func(ac *AttributeCertificate, issuerPath, holderPath *CertificationPath, unresolved map[string]bool) error

// Check implements AttrCertChecker.
func (f AttrCertCheckerFunc) Check(ac *AttributeCertificate, issuerPath, holderPath *CertificationPath, unresolved map[string]bool) error {
	return f(ac, issuerPath, holderPath, unresolved)
}

// AttrCertResult is the outcome of a successful AC validation.
type AttrCertResult struct {
	AttributeCertificate *AttributeCertificate

	// Issuer is the validation result of the AC issuer path.
	Issuer *ValidationResult

	// Holder is the validated path of the holder certificate.
	Holder *BuildResult
}

// AttrCertValidator validates attribute certificates against the validated
// path of their issuer.
type AttrCertValidator struct {
	validator  *PathValidator
	builder    *PathBuilder
	revocation *RevocationChecker
}

// NewAttrCertValidator creates an AC validator.
func NewAttrCertValidator() *AttrCertValidator {
	return &AttrCertValidator{
		validator:  NewPathValidator(),
		builder:    NewPathBuilder(),
		revocation: NewRevocationChecker(),
	}
}

// Validate checks ac against params. issuerPath starts with the AC issuer
// certificate. Failures tied to the AC itself are *ValidationFailure with
// Index -1; failures of the issuer path come from PathValidator.
func (v *AttrCertValidator) Validate(ctx context.Context, ac *AttributeCertificate, issuerPath *CertificationPath, params *AttrCertBuilderParameters) (*AttrCertResult, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	if issuerPath.Len() == 0 {
		return nil, failf(-1, ReasonUnknown, "attribute certificate issuer path is empty")
	}
	log := params.logger().WithField("attribute_certificate", ac.String())

	// holder
	holder, err := v.resolveHolder(ctx, ac, params)
	if err != nil {
		return nil, err
	}

	// issuer path
	issuerResult, err := v.validator.Validate(ctx, issuerPath, &params.ValidationParameters)
	if err != nil {
		return nil, err
	}
	issuerCert := issuerPath.Target()

	if hasKeyUsageExtension(issuerCert) &&
		issuerCert.KeyUsage&(x509.KeyUsageDigitalSignature|x509.KeyUsageContentCommitment) == 0 {
		return nil, failf(-1, ReasonKeyUsage, "attribute certificate issuer public key cannot be used to validate digital signatures")
	}
	if issuerCert.BasicConstraintsValid && issuerCert.IsCA {
		return nil, failf(-1, ReasonCAConstraint, "attribute certificate issuer is also a public key certificate issuer")
	}

	if !params.isTrustedACIssuer(issuerCert) {
		return nil, failf(-1, ReasonTrustAnchor, "attribute certificate issuer is not directly trusted")
	}

	validDate := params.validationDate()
	if err := ac.CheckValidity(validDate); err != nil {
		reason := ReasonExpired
		if validDate.Before(ac.NotBefore) {
			reason = ReasonNotYetValid
		}
		return nil, NewValidationFailure(-1, reason, err)
	}

	issuerKey, err := PublicKeyOf(issuerCert)
	if err != nil {
		return nil, NewValidationFailure(-1, ReasonSignature, err)
	}
	if err := params.verifier().VerifySignature(&ac.Signed, issuerKey); err != nil {
		return nil, NewValidationFailure(-1, ReasonSignature, fmt.Errorf("attribute certificate signature could not be verified: %w", err))
	}

	if err := checkACCriticalExtensions(ac, issuerPath, holder.Path, params.AttrCertCheckers); err != nil {
		return nil, err
	}

	if err := checkACAttributes(ac, params.ProhibitedAttributes, params.NecessaryAttributes); err != nil {
		return nil, err
	}

	if err := v.checkRevocation(ctx, ac, params, issuerCert, issuerKey, validDate, issuerPath); err != nil {
		return nil, err
	}

	log.Debug("attribute certificate validated")
	return &AttrCertResult{
		AttributeCertificate: ac,
		Issuer:               issuerResult,
		Holder:               holder,
	}, nil
}

// resolveHolder finds the holder certificates named by baseCertificateID
// and entityName and builds a path for one of them.
func (v *AttrCertValidator) resolveHolder(ctx context.Context, ac *AttributeCertificate, params *AttrCertBuilderParameters) (*BuildResult, error) {
	h := ac.Holder
	if h.BaseCertificateID == nil && len(h.EntityName) == 0 {
		if h.ObjectDigestInfo != nil {
			return nil, NewValidationFailure(-1, ReasonHolder, ErrACObjectDigestNotSupported)
		}
		return nil, NewValidationFailure(-1, ReasonHolder, ErrACHolderNotFound)
	}

	var holders []*x509.Certificate
	if is := h.BaseCertificateID; is != nil {
		var found []*x509.Certificate
		for _, issuer := range directoryNames(is.Issuer) {
			certs, err := findCertificates(&CertSelector{Issuer: issuer, SerialNumber: is.Serial}, params.CertStores)
			if err != nil {
				return nil, NewValidationFailure(-1, ReasonHolder, err)
			}
			found = append(found, certs...)
		}
		if len(found) == 0 {
			return nil, NewValidationFailure(-1, ReasonHolder,
				fmt.Errorf("%w: no certificate for base certificate ID", ErrACHolderNotFound))
		}
		holders = append(holders, found...)
	}
	if len(h.EntityName) > 0 {
		var found []*x509.Certificate
		for _, subject := range directoryNames(h.EntityName) {
			certs, err := findCertificates(SelectSubject(subject), params.CertStores)
			if err != nil {
				return nil, NewValidationFailure(-1, ReasonHolder, err)
			}
			found = append(found, certs...)
		}
		if len(found) == 0 {
			return nil, NewValidationFailure(-1, ReasonHolder,
				fmt.Errorf("%w: no certificate for entity name", ErrACHolderNotFound))
		}
		holders = append(holders, found...)
	}

	var lastErr error
	for _, cert := range holders {
		bp := params.BuilderParameters.Clone()
		bp.TargetConstraints = SelectCertificate(cert)
		res, err := v.builder.Build(ctx, bp)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	return nil, NewValidationFailure(-1, ReasonHolder,
		fmt.Errorf("certification path for holder certificate of attribute certificate could not be built: %w", lastErr))
}

// checkACCriticalExtensions consumes targetInformation, hands the rest to
// the checkers and fails on any that remain.
func checkACCriticalExtensions(ac *AttributeCertificate, issuerPath, holderPath *CertificationPath, checkers []AttrCertChecker) error {
	unresolved := x509ext.CriticalIDs(ac.Extensions)
	target := x509ext.OIDTargetInformation.String()
	if unresolved[target] {
		if err := x509ext.CheckTargetInformation(x509ext.Value(ac.Extensions, x509ext.OIDTargetInformation)); err != nil {
			return NewValidationFailure(-1, ReasonCriticalExtension, fmt.Errorf("target information extension could not be read: %w", err))
		}
		delete(unresolved, target)
	}
	for _, checker := range checkers {
		if err := checker.Check(ac, issuerPath, holderPath, unresolved); err != nil {
			return NewValidationFailure(-1, ReasonCriticalExtension, err)
		}
	}
	if len(unresolved) > 0 {
		ids := make([]string, 0, len(unresolved))
		for id := range unresolved {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return failf(-1, ReasonCriticalExtension, "attribute certificate contains unsupported critical extensions: %v", ids)
	}
	return nil
}

func checkACAttributes(ac *AttributeCertificate, prohibited, necessary []string) error {
	for _, oid := range prohibited {
		if ac.HasAttribute(oid) {
			return failf(-1, ReasonAttributes, "attribute certificate contains prohibited attribute: %s", oid)
		}
	}
	for _, oid := range necessary {
		if !ac.HasAttribute(oid) {
			return failf(-1, ReasonAttributes, "attribute certificate does not contain necessary attribute: %s", oid)
		}
	}
	return nil
}

// checkRevocation runs the CRL process for the AC unless it carries
// noRevAvail. An AC with noRevAvail must not point at revocation
// information.
func (v *AttrCertValidator) checkRevocation(ctx context.Context, ac *AttributeCertificate, params *AttrCertBuilderParameters, issuerCert *x509.Certificate, issuerKey crypto.PublicKey, validDate time.Time, issuerPath *CertificationPath) error {
	if _, ok := x509ext.Lookup(ac.Extensions, x509ext.OIDNoRevAvail); ok {
		_, hasDP := x509ext.Lookup(ac.Extensions, x509ext.OIDCRLDistributionPoints)
		_, hasAIA := x509ext.Lookup(ac.Extensions, x509ext.OIDAuthorityInfoAccess)
		if hasDP || hasAIA {
			return failf(-1, ReasonRevocation, "no rev avail extension is set, but also an AC revocation pointer")
		}
		return nil
	}
	if !params.RevocationEnabled {
		return nil
	}
	if err := v.revocation.Check(ctx, ac, &params.ValidationParameters, issuerCert, issuerKey, validDate, issuerPath.Certificates()); err != nil {
		return NewValidationFailure(-1, ReasonRevocation, err)
	}
	return nil
}
