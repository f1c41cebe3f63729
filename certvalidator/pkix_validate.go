// Package certvalidator provides X.509 certificate path validation.
// This file implements RFC 5280 PKIX certification path validation.
package certvalidator

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// handledExtensions are the critical certificate extensions processed by
// the validator itself.
var handledExtensions = []string{
	x509ext.OIDKeyUsage.String(),
	x509ext.OIDCertificatePolicies.String(),
	x509ext.OIDPolicyMappings.String(),
	x509ext.OIDInhibitAnyPolicy.String(),
	x509ext.OIDIssuingDistributionPoint.String(),
	x509ext.OIDDeltaCRLIndicator.String(),
	x509ext.OIDPolicyConstraints.String(),
	x509ext.OIDBasicConstraints.String(),
	x509ext.OIDSubjectAltName.String(),
	x509ext.OIDNameConstraints.String(),
}

// ValidationResult is the outcome of a successful path validation.
type ValidationResult struct {
	TrustAnchor *TrustAnchor
	// PolicyTree is the valid policy tree after wrap-up; it may be empty.
	PolicyTree *PolicyTree
	// PublicKey is the subject public key of the target certificate.
	PublicKey crypto.PublicKey
	Path      *CertificationPath
}

// PathValidator validates certification paths.
type PathValidator struct {
	revocation *RevocationChecker
}

// NewPathValidator creates a validator using the default revocation checker.
func NewPathValidator() *PathValidator {
	return &PathValidator{}
}

func (v *PathValidator) revocationChecker() *RevocationChecker {
	if v.revocation == nil {
		return NewRevocationChecker()
	}
	return v.revocation
}

// Validate checks path against params following RFC 5280 section 6.1.
// Check failures are returned as *ValidationFailure.
func (v *PathValidator) Validate(ctx context.Context, path *CertificationPath, params *ValidationParameters) (*ValidationResult, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	if path.Len() == 0 {
		return nil, failf(-1, ReasonUnknown, "certification path is empty")
	}
	certs := path.certs
	n := len(certs)
	log := params.logger()
	verifier := params.verifier()

	anchor, err := findTrustAnchor(certs[n-1], params.TrustAnchors, verifier)
	if anchor == nil {
		if err != nil {
			return nil, NewValidationFailure(-1, ReasonTrustAnchor, fmt.Errorf("%w: %v", ErrTrustAnchorMissing, err))
		}
		return nil, NewValidationFailure(-1, ReasonTrustAnchor, ErrTrustAnchorMissing)
	}

	if params.TargetConstraints != nil && !params.TargetConstraints.Matches(certs[0]) {
		return nil, failf(0, ReasonTargetConstraints, "target certificate does not match the target constraints")
	}

	state, err := newValidationState(n, anchor, params)
	if err != nil {
		return nil, NewValidationFailure(-1, ReasonTrustAnchor, fmt.Errorf("trust anchor name constraints: %w", err))
	}

	validDate := params.validationDate()
	log.WithFields(logrus.Fields{
		"anchor": anchor.String(),
		"length": n,
		"date":   validDate,
	}).Debug("validating certification path")

	var decl *PolicyDeclaration
	for index := n - 1; index >= 0; index-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		state.index = index
		cert := certs[index]
		log.WithField("cert", DescribeCertificate(cert)).Debugf("processing %s", state.describeCert())

		decl, err = DeclaredPolicies(cert)
		if err != nil {
			return nil, NewValidationFailure(index, ReasonPolicy, err)
		}

		if err := v.processCertificate(ctx, state, certs, decl, params, validDate); err != nil {
			return nil, err
		}
		if index == 0 {
			break
		}
		if err := v.prepareNextCertificate(state, cert, decl, params); err != nil {
			return nil, err
		}
	}

	if err := v.wrapUp(state, certs[0], decl, params); err != nil {
		return nil, err
	}

	key, err := PublicKeyOf(certs[0])
	if err != nil {
		return nil, NewValidationFailure(0, ReasonSignature, fmt.Errorf("target public key could not be decoded: %w", err))
	}
	return &ValidationResult{
		TrustAnchor: anchor,
		PolicyTree:  state.policyTree,
		PublicKey:   key,
		Path:        path,
	}, nil
}

// certificateDate returns the date at which certs[index] must be valid.
func certificateDate(certs []*x509.Certificate, index int, params *ValidationParameters, validDate time.Time) (time.Time, error) {
	if params.ValidityModel != ChainModel || index == 0 {
		return validDate, nil
	}
	issued := certs[index-1]
	if t, ok, err := dateOfCertGen(issued); err != nil {
		return time.Time{}, err
	} else if ok {
		return t, nil
	}
	return issued.NotBefore, nil
}

// processCertificate runs RFC 5280 6.1.3 for the current certificate.
func (v *PathValidator) processCertificate(ctx context.Context, s *validationState, certs []*x509.Certificate, decl *PolicyDeclaration, params *ValidationParameters, validDate time.Time) error {
	index := s.index
	cert := certs[index]
	i := s.i()
	selfIssued := IsSelfIssued(cert)

	// (a)(1)
	if err := verifyCertificate(params.verifier(), cert, s.workingKey); err != nil {
		return failf(index, ReasonSignature, "could not validate certificate signature: %w", err)
	}

	// (a)(2)
	date, err := certificateDate(certs, index, params, validDate)
	if err != nil {
		return NewValidationFailure(index, ReasonUnknown, err)
	}
	if date.Before(cert.NotBefore) {
		return failf(index, ReasonNotYetValid, "certificate not valid until %s", cert.NotBefore.UTC().Format(time.RFC3339))
	}
	if date.After(cert.NotAfter) {
		return failf(index, ReasonExpired, "certificate expired on %s", cert.NotAfter.UTC().Format(time.RFC3339))
	}

	// (a)(3)
	if params.RevocationEnabled {
		var issuerCert *x509.Certificate
		if index+1 < len(certs) {
			issuerCert = certs[index+1]
		} else {
			issuerCert = s.anchor.Certificate()
		}
		err := v.revocationChecker().Check(ctx, CertificateSubject(cert), params, issuerCert, s.workingKey, date, certs)
		if err != nil {
			return NewValidationFailure(index, ReasonRevocation, err)
		}
	}

	// (a)(4)
	issuer, err := x509ext.ParseName(cert.RawIssuer)
	if err != nil || !x509ext.NamesEqual(issuer, s.workingIssuer) {
		return failf(index, ReasonNameChaining, "issuer name %q does not match working issuer %q", cert.Issuer, s.workingIssuer)
	}

	// (b), (c)
	if !(selfIssued && i < s.n) {
		if err := s.nameConstraints.ValidateCertificate(cert); err != nil {
			return NewValidationFailure(index, ReasonNameConstraints, err)
		}
	}

	// (d), (e)
	if decl.HasPolicies {
		s.policyTree.ProcessCertificatePolicies(decl.Policies, i, s.n, selfIssued, decl.PoliciesCritical, s.inhibitAnyPolicy)
	} else {
		s.policyTree.ProcessNoPolicies()
	}
	if params.PolicyQualifiersRejected && decl.PoliciesCritical && decl.HasQualifiers() {
		return NewValidationFailure(index, ReasonPolicy, NewPolicyError("policy qualifiers rejected"))
	}

	// (f)
	if s.explicitPolicy <= 0 && s.policyTree.IsEmpty() {
		return NewValidationFailure(index, ReasonPolicy, NewPolicyError("no valid policy tree found when one expected"))
	}
	return nil
}

// prepareNextCertificate runs RFC 5280 6.1.4 for the current certificate.
func (v *PathValidator) prepareNextCertificate(s *validationState, cert *x509.Certificate, decl *PolicyDeclaration, params *ValidationParameters) error {
	index := s.index
	i := s.i()
	selfIssued := IsSelfIssued(cert)

	if cert.Version == 1 {
		anchorCert := s.anchor.Certificate()
		if i == 1 && anchorCert != nil && CompareCertificates(cert, anchorCert) {
			return nil
		}
		return failf(index, ReasonCAConstraint, "version 1 certificates can't be used as CA certificates")
	}

	// (a), (b)
	if err := s.policyTree.ApplyPolicyMappings(decl.Mappings, i, s.policyMapping, decl.AnyPolicyQualifiers(), decl.PoliciesCritical); err != nil {
		return NewValidationFailure(index, ReasonPolicy, err)
	}

	// (c), (d), (e), (f)
	subject, err := x509ext.ParseName(cert.RawSubject)
	if err != nil {
		return NewValidationFailure(index, ReasonNameChaining, err)
	}
	key, err := PublicKeyOf(cert)
	if err != nil {
		return NewValidationFailure(index, ReasonSignature, fmt.Errorf("subject public key cannot be decoded: %w", err))
	}
	s.workingIssuer = subject
	s.workingKey = key

	// (g)
	if err := s.nameConstraints.ProcessCertificate(cert); err != nil {
		return NewValidationFailure(index, ReasonNameConstraints, err)
	}

	// (h)
	if !selfIssued {
		if s.explicitPolicy != 0 {
			s.explicitPolicy--
		}
		if s.policyMapping != 0 {
			s.policyMapping--
		}
		if s.inhibitAnyPolicy != 0 {
			s.inhibitAnyPolicy--
		}
	}

	// (i)
	if r := decl.Constraints.RequireExplicitPolicy; r >= 0 && r < s.explicitPolicy {
		s.explicitPolicy = r
	}
	if m := decl.Constraints.InhibitPolicyMapping; m >= 0 && m < s.policyMapping {
		s.policyMapping = m
	}

	// (j)
	if skip := decl.InhibitAnyPolicy; skip >= 0 && skip < s.inhibitAnyPolicy {
		s.inhibitAnyPolicy = skip
	}

	// (k)
	if !cert.BasicConstraintsValid || !cert.IsCA {
		return failf(index, ReasonCAConstraint, "not a CA certificate")
	}

	// (l)
	if !selfIssued {
		if s.maxPathLength <= 0 {
			return failf(index, ReasonMaxPathLength, "max path length not greater than zero")
		}
		s.maxPathLength--
	}

	// (m)
	if l := CertPathLength(cert); l >= 0 && l < s.maxPathLength {
		s.maxPathLength = l
	}

	// (n)
	if hasKeyUsageExtension(cert) && cert.KeyUsage&x509.KeyUsageCertSign == 0 {
		return failf(index, ReasonKeyUsage, "issuer certificate key usage does not permit certificate signing")
	}

	// (o)
	return checkCriticalExtensions(index, cert, params.CertCheckers)
}

// wrapUp runs RFC 5280 6.1.5 for the target certificate.
func (v *PathValidator) wrapUp(s *validationState, target *x509.Certificate, decl *PolicyDeclaration, params *ValidationParameters) error {
	// (a)
	if !IsSelfIssued(target) && s.explicitPolicy != 0 {
		s.explicitPolicy--
	}
	// (b)
	if decl.Constraints.RequireExplicitPolicy == 0 {
		s.explicitPolicy = 0
	}

	// (f)
	if err := checkCriticalExtensions(0, target, params.CertCheckers); err != nil {
		return err
	}

	// (g)
	s.policyTree.Intersect(params.InitialPolicies)
	if s.explicitPolicy > 0 || !s.policyTree.IsEmpty() {
		return nil
	}
	return NewValidationFailure(0, ReasonPolicy, NewPolicyError("path processing failed on policy"))
}

// checkCriticalExtensions hands critical extensions the validator does not
// process to the checkers and fails on any that remain.
func checkCriticalExtensions(index int, cert *x509.Certificate, checkers []ExtensionChecker) error {
	unresolved := x509ext.CriticalIDs(cert.Extensions)
	for _, id := range handledExtensions {
		delete(unresolved, id)
	}
	for _, checker := range checkers {
		if err := checker.Check(cert, unresolved); err != nil {
			var vf *ValidationFailure
			if errors.As(err, &vf) {
				return err
			}
			return NewValidationFailure(index, ReasonCriticalExtension, err)
		}
	}
	if len(unresolved) > 0 {
		ids := make([]string, 0, len(unresolved))
		for id := range unresolved {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		return failf(index, ReasonCriticalExtension, "certificate has unsupported critical extension: %v", ids)
	}
	return nil
}
