// Package x509ext decodes the X.509 certificate, CRL and attribute certificate
// extensions consumed by the path engine.
package x509ext

import (
	"crypto/x509/pkix"
	"encoding/asn1"
)

// Extension identifiers (RFC 5280, RFC 5755).
var (
	OIDSubjectKeyIdentifier     = asn1.ObjectIdentifier{2, 5, 29, 14}
	OIDKeyUsage                 = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDSubjectAltName           = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDIssuerAltName            = asn1.ObjectIdentifier{2, 5, 29, 18}
	OIDBasicConstraints         = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDCRLNumber                = asn1.ObjectIdentifier{2, 5, 29, 20}
	OIDCRLReason                = asn1.ObjectIdentifier{2, 5, 29, 21}
	OIDHoldInstructionCode      = asn1.ObjectIdentifier{2, 5, 29, 23}
	OIDInvalidityDate           = asn1.ObjectIdentifier{2, 5, 29, 24}
	OIDDeltaCRLIndicator        = asn1.ObjectIdentifier{2, 5, 29, 27}
	OIDIssuingDistributionPoint = asn1.ObjectIdentifier{2, 5, 29, 28}
	OIDCertificateIssuer        = asn1.ObjectIdentifier{2, 5, 29, 29}
	OIDNameConstraints          = asn1.ObjectIdentifier{2, 5, 29, 30}
	OIDCRLDistributionPoints    = asn1.ObjectIdentifier{2, 5, 29, 31}
	OIDCertificatePolicies      = asn1.ObjectIdentifier{2, 5, 29, 32}
	OIDAnyPolicy                = asn1.ObjectIdentifier{2, 5, 29, 32, 0}
	OIDPolicyMappings           = asn1.ObjectIdentifier{2, 5, 29, 33}
	OIDAuthorityKeyIdentifier   = asn1.ObjectIdentifier{2, 5, 29, 35}
	OIDPolicyConstraints        = asn1.ObjectIdentifier{2, 5, 29, 36}
	OIDExtKeyUsage              = asn1.ObjectIdentifier{2, 5, 29, 37}
	OIDFreshestCRL              = asn1.ObjectIdentifier{2, 5, 29, 46}
	OIDInhibitAnyPolicy         = asn1.ObjectIdentifier{2, 5, 29, 54}
	OIDTargetInformation        = asn1.ObjectIdentifier{2, 5, 29, 55}
	OIDNoRevAvail               = asn1.ObjectIdentifier{2, 5, 29, 56}
	OIDAuthorityInfoAccess      = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 1}

	// OIDDateOfCertGen is the ISIS-MTT certificate generation time extension.
	OIDDateOfCertGen = asn1.ObjectIdentifier{1, 3, 36, 8, 3, 1}
)

// Attribute types that the path engine inspects inside distinguished names.
var (
	OIDEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
	OIDSerialNumber = asn1.ObjectIdentifier{2, 5, 4, 5}
)

// AnyPolicy is the dotted form of the anyPolicy identifier.
const AnyPolicy = "2.5.29.32.0"

// Lookup returns the extension identified by oid.
func Lookup(exts []pkix.Extension, oid asn1.ObjectIdentifier) (pkix.Extension, bool) {
	for _, ext := range exts {
		if ext.Id.Equal(oid) {
			return ext, true
		}
	}
	return pkix.Extension{}, false
}

// Value returns the raw value of the extension identified by oid, or nil.
func Value(exts []pkix.Extension, oid asn1.ObjectIdentifier) []byte {
	ext, ok := Lookup(exts, oid)
	if !ok {
		return nil
	}
	return ext.Value
}

// IsCritical reports whether the extension identified by oid is present and critical.
func IsCritical(exts []pkix.Extension, oid asn1.ObjectIdentifier) bool {
	ext, ok := Lookup(exts, oid)
	return ok && ext.Critical
}

// CriticalIDs returns the dotted identifiers of all critical extensions.
// The returned set is owned by the caller.
func CriticalIDs(exts []pkix.Extension) map[string]bool {
	ids := make(map[string]bool)
	for _, ext := range exts {
		if ext.Critical {
			ids[ext.Id.String()] = true
		}
	}
	return ids
}
