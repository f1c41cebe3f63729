// Package revinfo provides revocation information handling for certificate validation.
package revinfo

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// Common errors
var (
	ErrUnsupportedCriticalEntryExtension = errors.New("CRL entry has unsupported critical extensions")
	ErrMalformedCRL                      = errors.New("malformed CRL")
)

// RevocationReason represents the reason for certificate revocation.
type RevocationReason int

const (
	ReasonUnspecified          RevocationReason = 0
	ReasonKeyCompromise        RevocationReason = 1
	ReasonCACompromise         RevocationReason = 2
	ReasonAffiliationChanged   RevocationReason = 3
	ReasonSuperseded           RevocationReason = 4
	ReasonCessationOfOperation RevocationReason = 5
	ReasonCertificateHold      RevocationReason = 6
	ReasonRemoveFromCRL        RevocationReason = 8
	ReasonPrivilegeWithdrawn   RevocationReason = 9
	ReasonAACompromise         RevocationReason = 10
)

// String returns the string representation of a revocation reason.
func (r RevocationReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonKeyCompromise:
		return "keyCompromise"
	case ReasonCACompromise:
		return "cACompromise"
	case ReasonAffiliationChanged:
		return "affiliationChanged"
	case ReasonSuperseded:
		return "superseded"
	case ReasonCessationOfOperation:
		return "cessationOfOperation"
	case ReasonCertificateHold:
		return "certificateHold"
	case ReasonRemoveFromCRL:
		return "removeFromCRL"
	case ReasonPrivilegeWithdrawn:
		return "privilegeWithdrawn"
	case ReasonAACompromise:
		return "aACompromise"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Retroactive reports whether a revocation for this reason also taints use
// of the certificate before the revocation date.
func (r RevocationReason) Retroactive() bool {
	switch r {
	case ReasonUnspecified, ReasonKeyCompromise, ReasonCACompromise, ReasonAACompromise:
		return true
	}
	return false
}

// ReasonsMask is the set of reason codes covered by the CRLs examined so far.
type ReasonsMask struct {
	flags x509ext.ReasonFlags
}

// AllReasons is the mask covering every reason code.
var AllReasons = ReasonsMask{flags: x509ext.AllReasonFlags}

// NewReasonsMask returns a mask holding flags.
func NewReasonsMask(flags x509ext.ReasonFlags) ReasonsMask {
	return ReasonsMask{flags: flags & x509ext.AllReasonFlags}
}

// Flags returns the raw reason flags.
func (m ReasonsMask) Flags() x509ext.ReasonFlags {
	return m.flags
}

// AddReasons adds the reasons of other to m.
func (m *ReasonsMask) AddReasons(other ReasonsMask) {
	m.flags |= other.flags
}

// Intersect returns the reasons present in both masks.
func (m ReasonsMask) Intersect(other ReasonsMask) ReasonsMask {
	return ReasonsMask{flags: m.flags & other.flags}
}

// HasNewReasons reports whether m holds a reason not yet in covered.
func (m ReasonsMask) HasNewReasons(covered ReasonsMask) bool {
	return m.flags&^covered.flags != 0
}

// IsAllReasons reports whether every reason is covered.
func (m ReasonsMask) IsAllReasons() bool {
	return m.flags&x509ext.AllReasonFlags == x509ext.AllReasonFlags
}

func (m ReasonsMask) String() string {
	return fmt.Sprintf("%#x", uint16(m.flags))
}

const (
	statusUnrevoked    = 11
	statusUndetermined = 12
)

// CertStatus is the scratch revocation status of one certificate check.
type CertStatus struct {
	code           int
	revocationTime time.Time
}

// NewCertStatus returns an unrevoked status.
func NewCertStatus() *CertStatus {
	return &CertStatus{code: statusUnrevoked}
}

// IsUnrevoked reports whether no revocation has been seen.
func (s *CertStatus) IsUnrevoked() bool { return s.code == statusUnrevoked }

// IsUndetermined reports whether the status could not be determined.
func (s *CertStatus) IsUndetermined() bool { return s.code == statusUndetermined }

// IsRevoked reports whether the status carries a revocation reason.
func (s *CertStatus) IsRevoked() bool {
	return s.code != statusUnrevoked && s.code != statusUndetermined
}

// SetUnrevoked resets the status.
func (s *CertStatus) SetUnrevoked() {
	s.code = statusUnrevoked
	s.revocationTime = time.Time{}
}

// SetUndetermined marks the status as undetermined.
func (s *CertStatus) SetUndetermined() {
	s.code = statusUndetermined
}

// SetRevoked records a revocation.
func (s *CertStatus) SetRevoked(reason RevocationReason, at time.Time) {
	s.code = int(reason)
	s.revocationTime = at
}

// Reason returns the revocation reason when the status is revoked.
func (s *CertStatus) Reason() RevocationReason {
	return RevocationReason(s.code)
}

// RevocationTime returns the revocation date when the status is revoked.
func (s *CertStatus) RevocationTime() time.Time {
	return s.revocationTime
}

func (s *CertStatus) String() string {
	switch s.code {
	case statusUnrevoked:
		return "unrevoked"
	case statusUndetermined:
		return "undetermined"
	default:
		return "revoked: " + s.Reason().String()
	}
}

// CRLInfo contains a parsed CRL together with its decoded revocation extensions.
type CRLInfo struct {
	// Raw CRL data
	Raw []byte
	// Parsed CRL
	CRL *x509.RevocationList
	// Issuer is the decoded CRL issuer name.
	Issuer pkix.RDNSequence
	// Whether this is a delta CRL
	IsDelta bool
	// Base CRL number (for delta CRLs)
	BaseCRLNumber *big.Int
	// IDP is the issuing distribution point, nil when absent.
	IDP *x509ext.IssuingDistributionPoint
	// Location is where the CRL was obtained from, if known.
	Location string
}

// NewCRLInfo parses a DER encoded CRL.
func NewCRLInfo(raw []byte) (*CRLInfo, error) {
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	return FromRevocationList(crl)
}

// FromRevocationList wraps an already parsed CRL.
func FromRevocationList(crl *x509.RevocationList) (*CRLInfo, error) {
	issuer, err := x509ext.ParseName(crl.RawIssuer)
	if err != nil {
		return nil, fmt.Errorf("%w: issuer: %v", ErrMalformedCRL, err)
	}
	info := &CRLInfo{
		Raw:    crl.Raw,
		CRL:    crl,
		Issuer: issuer,
	}

	if v := x509ext.Value(crl.Extensions, x509ext.OIDDeltaCRLIndicator); v != nil {
		base, err := x509ext.DecodeCRLNumber(v)
		if err != nil {
			return nil, fmt.Errorf("%w: delta CRL indicator: %v", ErrMalformedCRL, err)
		}
		info.IsDelta = true
		info.BaseCRLNumber = base
	}
	if v := x509ext.Value(crl.Extensions, x509ext.OIDIssuingDistributionPoint); v != nil {
		idp, err := x509ext.DecodeIssuingDistributionPoint(v)
		if err != nil {
			return nil, fmt.Errorf("%w: issuing distribution point: %v", ErrMalformedCRL, err)
		}
		info.IDP = idp
	}
	return info, nil
}

// Number returns the CRL number, or nil when absent.
func (ci *CRLInfo) Number() *big.Int {
	return ci.CRL.Number
}

// IsIndirect reports whether the CRL is an indirect CRL.
func (ci *CRLInfo) IsIndirect() bool {
	return ci.IDP != nil && ci.IDP.IndirectCRL
}

// RawIDP returns the raw issuing distribution point extension value.
func (ci *CRLInfo) RawIDP() []byte {
	return x509ext.Value(ci.CRL.Extensions, x509ext.OIDIssuingDistributionPoint)
}

// RawAuthorityKeyID returns the raw authority key identifier extension value.
func (ci *CRLInfo) RawAuthorityKeyID() []byte {
	return x509ext.Value(ci.CRL.Extensions, x509ext.OIDAuthorityKeyIdentifier)
}

// UnsupportedCriticalExtensions lists critical CRL extensions other than the
// issuing distribution point and delta CRL indicator.
func (ci *CRLInfo) UnsupportedCriticalExtensions() []string {
	ids := x509ext.CriticalIDs(ci.CRL.Extensions)
	delete(ids, x509ext.OIDIssuingDistributionPoint.String())
	delete(ids, x509ext.OIDDeltaCRLIndicator.String())
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// Signed returns the signed parts of the CRL.
func (ci *CRLInfo) Signed() (*x509ext.Signed, error) {
	return x509ext.SplitSigned(ci.Raw)
}

// Equal reports whether two infos wrap the same encoded CRL.
func (ci *CRLInfo) Equal(other *CRLInfo) bool {
	return bytes.Equal(ci.Raw, other.Raw)
}

// Entry is a revoked certificate entry resolved against its certificate issuer.
type Entry struct {
	SerialNumber   *big.Int
	RevocationTime time.Time
	Reason         RevocationReason
	// Issuer is the issuer of the revoked certificate.
	Issuer pkix.RDNSequence
}

var supportedEntryExtensions = map[string]bool{
	x509ext.OIDCRLReason.String():           true,
	x509ext.OIDInvalidityDate.String():      true,
	x509ext.OIDCertificateIssuer.String():   true,
	x509ext.OIDHoldInstructionCode.String(): true,
}

// FindEntry returns the entry revoking the certificate with serial issued by
// issuer, or nil. Indirect CRLs carry the certificate issuer entry extension
// forward from one entry to the next.
func (ci *CRLInfo) FindEntry(serial *big.Int, issuer pkix.RDNSequence) (*Entry, error) {
	indirect := ci.IsIndirect()
	if !indirect && !x509ext.NamesEqual(ci.Issuer, issuer) {
		return nil, nil
	}

	current := ci.Issuer
	for _, e := range ci.CRL.RevokedCertificateEntries {
		if indirect {
			if v := x509ext.Value(e.Extensions, x509ext.OIDCertificateIssuer); v != nil {
				names, err := x509ext.DecodeGeneralNames(v)
				if err != nil {
					return nil, fmt.Errorf("%w: certificate issuer entry extension: %v", ErrMalformedCRL, err)
				}
				for _, n := range names {
					if n.Form == x509ext.FormDirectoryName {
						current = n.DirectoryName
						break
					}
				}
			}
		}
		if e.SerialNumber == nil || e.SerialNumber.Cmp(serial) != 0 {
			continue
		}
		if indirect && !x509ext.NamesEqual(current, issuer) {
			continue
		}

		for id := range x509ext.CriticalIDs(e.Extensions) {
			if !supportedEntryExtensions[id] {
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedCriticalEntryExtension, id)
			}
		}
		return &Entry{
			SerialNumber:   e.SerialNumber,
			RevocationTime: e.RevocationTime,
			Reason:         RevocationReason(e.ReasonCode),
			Issuer:         current,
		}, nil
	}
	return nil, nil
}
