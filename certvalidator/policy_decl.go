// Package certvalidator provides X.509 certificate path validation.
// This file contains the policy-related declarations of a certificate.
package certvalidator

import (
	"crypto/x509"
	"fmt"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// PolicyDeclaration collects the certificate policies, policy mappings,
// policy constraints and inhibit anyPolicy extensions of one certificate.
type PolicyDeclaration struct {
	HasPolicies      bool
	Policies         []x509ext.PolicyInformation
	PoliciesCritical bool

	Mappings []x509ext.PolicyMapping

	// Constraints fields are -1 when absent.
	Constraints x509ext.PolicyConstraints

	// InhibitAnyPolicy is -1 when the extension is absent.
	InhibitAnyPolicy int
}

// DeclaredPolicies decodes the policy extensions of cert.
func DeclaredPolicies(cert *x509.Certificate) (*PolicyDeclaration, error) {
	decl := &PolicyDeclaration{
		Constraints:      x509ext.PolicyConstraints{RequireExplicitPolicy: -1, InhibitPolicyMapping: -1},
		InhibitAnyPolicy: -1,
	}

	if ext, ok := x509ext.Lookup(cert.Extensions, x509ext.OIDCertificatePolicies); ok {
		policies, err := x509ext.DecodeCertificatePolicies(ext.Value)
		if err != nil {
			return nil, fmt.Errorf("certificate policies extension could not be decoded: %w", err)
		}
		decl.HasPolicies = true
		decl.Policies = policies
		decl.PoliciesCritical = ext.Critical
	}

	if value := x509ext.Value(cert.Extensions, x509ext.OIDPolicyMappings); value != nil {
		mappings, err := x509ext.DecodePolicyMappings(value)
		if err != nil {
			return nil, fmt.Errorf("policy mappings extension could not be decoded: %w", err)
		}
		decl.Mappings = mappings
	}

	if value := x509ext.Value(cert.Extensions, x509ext.OIDPolicyConstraints); value != nil {
		pc, err := x509ext.DecodePolicyConstraints(value)
		if err != nil {
			return nil, fmt.Errorf("policy constraints extension could not be decoded: %w", err)
		}
		decl.Constraints = pc
	}

	if value := x509ext.Value(cert.Extensions, x509ext.OIDInhibitAnyPolicy); value != nil {
		skip, err := x509ext.DecodeInhibitAnyPolicy(value)
		if err != nil {
			return nil, fmt.Errorf("inhibit anyPolicy extension could not be decoded: %w", err)
		}
		decl.InhibitAnyPolicy = skip
	}
	return decl, nil
}

// AnyPolicyQualifiers returns the qualifiers of the anyPolicy entry.
func (d *PolicyDeclaration) AnyPolicyQualifiers() []x509ext.PolicyQualifier {
	for _, p := range d.Policies {
		if p.Policy == AnyPolicy {
			return p.Qualifiers
		}
	}
	return nil
}

// HasQualifiers reports whether any declared policy carries qualifiers.
func (d *PolicyDeclaration) HasQualifiers() bool {
	for _, p := range d.Policies {
		if len(p.Qualifiers) > 0 {
			return true
		}
	}
	return false
}

// PolicyIDs returns the declared policy identifiers in extension order.
func (d *PolicyDeclaration) PolicyIDs() []string {
	ids := make([]string, 0, len(d.Policies))
	for _, p := range d.Policies {
		ids = append(ids, p.Policy)
	}
	return ids
}
