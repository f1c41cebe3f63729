// Package certvalidator provides X.509 certificate path validation.
// This file contains certificate helper functions.
package certvalidator

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// CertificateFingerprint returns the SHA-256 fingerprint of a certificate.
func CertificateFingerprint(cert *x509.Certificate) [32]byte {
	return sha256.Sum256(cert.Raw)
}

// CompareCertificates checks if two certificates are identical.
func CompareCertificates(a, b *x509.Certificate) bool {
	return bytes.Equal(a.Raw, b.Raw)
}

// IsSelfIssued checks if a certificate is self-issued (issuer == subject).
// A self-issued certificate may still be signed by a different key.
func IsSelfIssued(cert *x509.Certificate) bool {
	if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
		return true
	}
	issuer, err := x509ext.ParseName(cert.RawIssuer)
	if err != nil {
		return false
	}
	subject, err := x509ext.ParseName(cert.RawSubject)
	if err != nil {
		return false
	}
	return x509ext.NamesEqual(issuer, subject)
}

// IsPotentialIssuerOf checks whether issuer's subject equals cert's issuer
// and, when both are present, its key identifier matches the authority key
// identifier of cert.
func IsPotentialIssuerOf(issuer, cert *x509.Certificate) bool {
	if !namesMatch(issuer.RawSubject, cert.RawIssuer) {
		return false
	}
	if len(cert.AuthorityKeyId) > 0 && len(issuer.SubjectKeyId) > 0 {
		return bytes.Equal(cert.AuthorityKeyId, issuer.SubjectKeyId)
	}
	return true
}

func namesMatch(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	na, err := x509ext.ParseName(a)
	if err != nil {
		return false
	}
	nb, err := x509ext.ParseName(b)
	if err != nil {
		return false
	}
	return x509ext.NamesEqual(na, nb)
}

// CertPathLength returns the path length constraint, or -1 if none.
func CertPathLength(cert *x509.Certificate) int {
	if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
		return cert.MaxPathLen
	}
	return -1
}

// DescribeCertificate returns a short human readable identification.
func DescribeCertificate(cert *x509.Certificate) string {
	return fmt.Sprintf("%s (serial %s)", cert.Subject, cert.SerialNumber)
}

// GetKeyUsage returns the key usage bits as a string slice.
func GetKeyUsage(cert *x509.Certificate) []string {
	var usages []string
	names := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "digitalSignature"},
		{x509.KeyUsageContentCommitment, "contentCommitment"},
		{x509.KeyUsageKeyEncipherment, "keyEncipherment"},
		{x509.KeyUsageDataEncipherment, "dataEncipherment"},
		{x509.KeyUsageKeyAgreement, "keyAgreement"},
		{x509.KeyUsageCertSign, "keyCertSign"},
		{x509.KeyUsageCRLSign, "cRLSign"},
		{x509.KeyUsageEncipherOnly, "encipherOnly"},
		{x509.KeyUsageDecipherOnly, "decipherOnly"},
	}
	for _, n := range names {
		if cert.KeyUsage&n.bit != 0 {
			usages = append(usages, n.name)
		}
	}
	return usages
}

// hasKeyUsageExtension reports whether cert carries a key usage extension.
func hasKeyUsageExtension(cert *x509.Certificate) bool {
	_, ok := x509ext.Lookup(cert.Extensions, x509ext.OIDKeyUsage)
	return ok
}

// issuerAltNameURIs returns the URIs of the issuer alternative name
// extension of cert.
func issuerAltNameURIs(cert *x509.Certificate) ([]string, error) {
	value := x509ext.Value(cert.Extensions, x509ext.OIDIssuerAltName)
	if value == nil {
		return nil, nil
	}
	names, err := x509ext.DecodeGeneralNames(value)
	if err != nil {
		return nil, fmt.Errorf("issuer alternative name extension could not be decoded: %w", err)
	}
	var uris []string
	for _, n := range names {
		if n.Form == x509ext.FormURI {
			uris = append(uris, n.Text)
		}
	}
	return uris, nil
}

// distributionPointURIs returns the full-name URIs of distribution points.
func distributionPointURIs(dps []x509ext.DistributionPoint) []string {
	var uris []string
	for _, dp := range dps {
		if dp.Name == nil {
			continue
		}
		for _, n := range dp.Name.FullName {
			if n.Form == x509ext.FormURI {
				uris = append(uris, n.Text)
			}
		}
	}
	return uris
}

// dateOfCertGen returns the ISIS-MTT certificate generation time of cert.
func dateOfCertGen(cert *x509.Certificate) (time.Time, bool, error) {
	value := x509ext.Value(cert.Extensions, x509ext.OIDDateOfCertGen)
	if value == nil {
		return time.Time{}, false, nil
	}
	t, err := x509ext.DecodeGeneralizedTime(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("date of certificate generation could not be decoded: %w", err)
	}
	return t, true, nil
}

// containsCert reports whether cert is in certs.
func containsCert(certs []*x509.Certificate, cert *x509.Certificate) bool {
	for _, c := range certs {
		if bytes.Equal(c.Raw, cert.Raw) {
			return true
		}
	}
	return false
}
