// Package certvalidator provides X.509 certificate path validation.
// This file contains the parameters of path building and validation.
package certvalidator

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// ValidityModel selects the date at which each certificate must be valid.
type ValidityModel int

const (
	// PointInTime checks every certificate at the validation date.
	PointInTime ValidityModel = iota
	// ChainModel checks each certificate at the issuing time of the
	// certificate below it (dateOfCertGen, or else notBefore).
	ChainModel
)

func (m ValidityModel) String() string {
	if m == ChainModel {
		return "chain"
	}
	return "point-in-time"
}

// CertSelector matches certificates. Zero fields do not constrain the match.
type CertSelector struct {
	// Certificate matches exactly this certificate.
	Certificate *x509.Certificate

	Subject      pkix.RDNSequence
	Issuer       pkix.RDNSequence
	SerialNumber *big.Int
	SubjectKeyID []byte

	// Match is an additional caller-supplied predicate.
	Match func(*x509.Certificate) bool
}

// SelectCertificate returns a selector matching exactly cert.
func SelectCertificate(cert *x509.Certificate) *CertSelector {
	return &CertSelector{Certificate: cert}
}

// SelectSubject returns a selector matching certificates issued to subject.
func SelectSubject(subject pkix.RDNSequence) *CertSelector {
	return &CertSelector{Subject: subject}
}

// Matches reports whether cert satisfies the selector.
func (s *CertSelector) Matches(cert *x509.Certificate) bool {
	if s == nil {
		return true
	}
	if s.Certificate != nil && !bytes.Equal(s.Certificate.Raw, cert.Raw) {
		return false
	}
	if s.Subject != nil {
		subject, err := x509ext.ParseName(cert.RawSubject)
		if err != nil || !x509ext.NamesEqual(subject, s.Subject) {
			return false
		}
	}
	if s.Issuer != nil {
		issuer, err := x509ext.ParseName(cert.RawIssuer)
		if err != nil || !x509ext.NamesEqual(issuer, s.Issuer) {
			return false
		}
	}
	if s.SerialNumber != nil && (cert.SerialNumber == nil || s.SerialNumber.Cmp(cert.SerialNumber) != 0) {
		return false
	}
	if s.SubjectKeyID != nil && !bytes.Equal(s.SubjectKeyID, cert.SubjectKeyId) {
		return false
	}
	if s.Match != nil && !s.Match(cert) {
		return false
	}
	return true
}

// ExtensionChecker handles critical certificate extensions the validator
// does not know. Check must delete every extension it handles from
// unresolved.
type ExtensionChecker interface {
	Check(cert *x509.Certificate, unresolved map[string]bool) error
}

// ExtensionCheckerFunc adapts a function to ExtensionChecker.
type ExtensionCheckerFunc func(cert *x509.Certificate, unresolved map[string]bool) error

// Check implements ExtensionChecker.
func (f ExtensionCheckerFunc) Check(cert *x509.Certificate, unresolved map[string]bool) error {
	return f(cert, unresolved)
}

// NamedStore is a set of stores published at a location, such as the URI of
// an issuer alternative name or a CRL distribution point.
type NamedStore struct {
	Certs CertStore
	CRLs  revinfo.CRLStore
}

// ValidationParameters configures path validation.
type ValidationParameters struct {
	TrustAnchors      []*TrustAnchor
	TargetConstraints *CertSelector

	// InitialPolicies is the user-initial-policy-set; empty means anyPolicy.
	InitialPolicies []string

	ExplicitPolicyRequired   bool
	AnyPolicyInhibited       bool
	PolicyMappingInhibited   bool
	PolicyQualifiersRejected bool

	RevocationEnabled bool
	UseDeltas         bool

	ValidityModel ValidityModel

	// Date is the validation date. The zero value means the current time of Clock.
	Date  time.Time
	Clock clockwork.Clock

	CertStores     []CertStore
	CRLStores      []revinfo.CRLStore
	AttrCertStores []AttrCertStore
	NamedStores    map[string]*NamedStore

	CertCheckers []ExtensionChecker

	Verifier SignatureVerifier
	Logger   logrus.FieldLogger

	// SerialNumberPrefixMatch lets a serialNumber attribute of a directory
	// name subtree match any serialNumber that starts with it.
	SerialNumberPrefixMatch bool
}

// NewValidationParameters returns parameters with revocation checking
// enabled and the default verifier, clock and logger.
func NewValidationParameters(anchors ...*TrustAnchor) *ValidationParameters {
	return &ValidationParameters{
		TrustAnchors:      anchors,
		RevocationEnabled: true,
		Clock:             clockwork.NewRealClock(),
		Verifier:          NewDefaultSignatureVerifier(),
	}
}

// Clone returns a copy whose slices and maps can be modified independently.
func (p *ValidationParameters) Clone() *ValidationParameters {
	c := *p
	c.TrustAnchors = append([]*TrustAnchor(nil), p.TrustAnchors...)
	c.InitialPolicies = append([]string(nil), p.InitialPolicies...)
	c.CertStores = append([]CertStore(nil), p.CertStores...)
	c.CRLStores = append([]revinfo.CRLStore(nil), p.CRLStores...)
	c.AttrCertStores = append([]AttrCertStore(nil), p.AttrCertStores...)
	c.CertCheckers = append([]ExtensionChecker(nil), p.CertCheckers...)
	if p.NamedStores != nil {
		c.NamedStores = make(map[string]*NamedStore, len(p.NamedStores))
		for k, v := range p.NamedStores {
			c.NamedStores[k] = v
		}
	}
	if p.TargetConstraints != nil {
		tc := *p.TargetConstraints
		c.TargetConstraints = &tc
	}
	return &c
}

// check reports unusable parameters.
func (p *ValidationParameters) check() error {
	if len(p.TrustAnchors) == 0 {
		return NewConfigurationError("TrustAnchors", "trust anchors must not be empty")
	}
	for _, a := range p.TrustAnchors {
		if a == nil {
			return NewConfigurationError("TrustAnchors", "nil trust anchor")
		}
	}
	return nil
}

func (p *ValidationParameters) now() time.Time {
	if p.Clock == nil {
		return time.Now()
	}
	return p.Clock.Now()
}

// validationDate returns the configured date or the current time.
func (p *ValidationParameters) validationDate() time.Time {
	if !p.Date.IsZero() {
		return p.Date
	}
	return p.now()
}

func (p *ValidationParameters) verifier() SignatureVerifier {
	if p.Verifier == nil {
		return NewDefaultSignatureVerifier()
	}
	return p.Verifier
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

func (p *ValidationParameters) logger() logrus.FieldLogger {
	if p.Logger == nil {
		return discardLogger
	}
	return p.Logger
}

// BuilderParameters configures path building.
type BuilderParameters struct {
	ValidationParameters

	// MaxPathLength bounds the number of intermediate certificates; -1 means unbounded.
	MaxPathLength int

	// ExcludedCerts are never used in a path.
	ExcludedCerts []*x509.Certificate
}

// DefaultMaxPathLength is the MaxPathLength of NewBuilderParameters.
const DefaultMaxPathLength = 5

// NewBuilderParameters returns builder parameters with the defaults of
// NewValidationParameters and DefaultMaxPathLength.
func NewBuilderParameters(anchors ...*TrustAnchor) *BuilderParameters {
	return &BuilderParameters{
		ValidationParameters: *NewValidationParameters(anchors...),
		MaxPathLength:        DefaultMaxPathLength,
	}
}

// Clone returns an independent copy.
func (p *BuilderParameters) Clone() *BuilderParameters {
	return &BuilderParameters{
		ValidationParameters: *p.ValidationParameters.Clone(),
		MaxPathLength:        p.MaxPathLength,
		ExcludedCerts:        append([]*x509.Certificate(nil), p.ExcludedCerts...),
	}
}

func (p *BuilderParameters) isExcluded(cert *x509.Certificate) bool {
	for _, ex := range p.ExcludedCerts {
		if bytes.Equal(ex.Raw, cert.Raw) {
			return true
		}
	}
	return false
}
