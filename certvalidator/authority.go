// Package certvalidator provides X.509 certificate path validation.
// This file contains trust anchor handling.
package certvalidator

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// TrustAnchor is a root of trust: either a trusted certificate or a bare
// name and public key. It may carry a DER name constraints extension value
// that scopes what the anchor may certify.
type TrustAnchor struct {
	cert            *x509.Certificate
	name            pkix.RDNSequence
	publicKey       crypto.PublicKey
	keyID           []byte
	nameConstraints []byte
}

// NewCertTrustAnchor creates a trust anchor from a certificate.
func NewCertTrustAnchor(cert *x509.Certificate, nameConstraints []byte) (*TrustAnchor, error) {
	if cert == nil {
		return nil, NewConfigurationError("TrustAnchor", "certificate must not be nil")
	}
	name, err := x509ext.ParseName(cert.RawSubject)
	if err != nil {
		return nil, NewConfigurationError("TrustAnchor", err.Error())
	}
	key, err := PublicKeyOf(cert)
	if err != nil {
		return nil, NewConfigurationError("TrustAnchor", err.Error())
	}
	if err := checkAnchorNameConstraints(nameConstraints); err != nil {
		return nil, err
	}
	return &TrustAnchor{
		cert:            cert,
		name:            name,
		publicKey:       key,
		keyID:           cert.SubjectKeyId,
		nameConstraints: nameConstraints,
	}, nil
}

// NewNameKeyTrustAnchor creates a trust anchor from a distinguished name and
// a public key.
func NewNameKeyTrustAnchor(name pkix.RDNSequence, publicKey crypto.PublicKey, nameConstraints []byte) (*TrustAnchor, error) {
	if len(name) == 0 {
		return nil, NewConfigurationError("TrustAnchor", "name must not be empty")
	}
	if publicKey == nil {
		return nil, NewConfigurationError("TrustAnchor", "public key must not be nil")
	}
	if err := checkAnchorNameConstraints(nameConstraints); err != nil {
		return nil, err
	}
	return &TrustAnchor{name: name, publicKey: publicKey, nameConstraints: nameConstraints}, nil
}

func checkAnchorNameConstraints(der []byte) error {
	if der == nil {
		return nil
	}
	if _, err := x509ext.DecodeNameConstraints(der); err != nil {
		return NewConfigurationError("TrustAnchor", "invalid name constraints: "+err.Error())
	}
	return nil
}

// Certificate returns the anchor certificate, or nil for a name/key anchor.
func (a *TrustAnchor) Certificate() *x509.Certificate {
	return a.cert
}

// Name returns the anchor's subject name.
func (a *TrustAnchor) Name() pkix.RDNSequence {
	return a.name
}

// PublicKey returns the anchor's public key.
func (a *TrustAnchor) PublicKey() crypto.PublicKey {
	return a.publicKey
}

// KeyID returns the subject key identifier when the anchor is a certificate.
func (a *TrustAnchor) KeyID() []byte {
	return a.keyID
}

// NameConstraints returns the DER name constraints value, or nil.
func (a *TrustAnchor) NameConstraints() []byte {
	return a.nameConstraints
}

// Hashable returns a unique identifier for the anchor.
func (a *TrustAnchor) Hashable() string {
	h := sha256.New()
	if a.cert != nil {
		h.Write(a.cert.Raw)
	} else {
		h.Write([]byte(a.name.String()))
		h.Write([]byte(fmt.Sprintf("%v", a.publicKey)))
	}
	return string(h.Sum(nil))
}

func (a *TrustAnchor) String() string {
	return a.name.String()
}

// IsPotentialIssuerOf checks whether the anchor could have issued cert: the
// issuer name must match and, when both identifiers are present, the
// authority key identifier must match the anchor's key identifier.
func (a *TrustAnchor) IsPotentialIssuerOf(cert *x509.Certificate) bool {
	issuer, err := x509ext.ParseName(cert.RawIssuer)
	if err != nil || !x509ext.NamesEqual(issuer, a.name) {
		return false
	}
	if len(cert.AuthorityKeyId) > 0 && len(a.keyID) > 0 {
		return bytes.Equal(cert.AuthorityKeyId, a.keyID)
	}
	return true
}

// findTrustAnchor returns the first anchor that issued cert and whose key
// verifies its signature. When candidates exist but none verifies, the last
// verification error is returned.
func findTrustAnchor(cert *x509.Certificate, anchors []*TrustAnchor, verifier SignatureVerifier) (*TrustAnchor, error) {
	var lastErr error
	for _, anchor := range anchors {
		if !anchor.IsPotentialIssuerOf(cert) {
			continue
		}
		if err := verifyCertificate(verifier, cert, anchor.publicKey); err != nil {
			lastErr = fmt.Errorf("trust anchor %s found but certificate validation failed: %w", anchor, err)
			continue
		}
		return anchor, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}
