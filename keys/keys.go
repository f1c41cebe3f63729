// Package keys provides utilities for loading certificates, CRLs and
// attribute certificates from PEM and DER encoded files.
package keys

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/georgepadayatti/certpath/certvalidator"
	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
)

// Common errors
var (
	ErrNoCertFound     = errors.New("no certificate found in data")
	ErrNoCRLFound      = errors.New("no CRL found in data")
	ErrNoAttrCertFound = errors.New("no attribute certificate found in data")
	ErrMultipleCerts   = errors.New("expected exactly one certificate")
)

// PEM block types
const (
	pemCertificate     = "CERTIFICATE"
	pemCRL             = "X509 CRL"
	pemAttrCertificate = "ATTRIBUTE CERTIFICATE"
)

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData loads certificates from PEM or DER encoded data.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		for _, der := range pemBlocks(data, pemCertificate) {
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		// a single certificate or concatenated DER certificates
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var allCerts []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		allCerts = append(allCerts, certs...)
	}
	return allCerts, nil
}

// LoadCRLsFromPemDer loads CRLs from a PEM or DER encoded file.
func LoadCRLsFromPemDer(filename string) ([]*revinfo.CRLInfo, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCRLsFromPemDerData(data)
}

// LoadCRLsFromPemDerData loads CRLs from PEM or DER encoded data. A DER
// input holds exactly one CRL.
func LoadCRLsFromPemDerData(data []byte) ([]*revinfo.CRLInfo, error) {
	ders := [][]byte{data}
	if isPEM(data) {
		ders = pemBlocks(data, pemCRL)
	}

	var crls []*revinfo.CRLInfo
	for _, der := range ders {
		crl, err := revinfo.NewCRLInfo(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CRL: %w", err)
		}
		crls = append(crls, crl)
	}
	if len(crls) == 0 {
		return nil, ErrNoCRLFound
	}
	return crls, nil
}

// LoadCRLsFromPemDerFiles loads CRLs from multiple files.
func LoadCRLsFromPemDerFiles(filenames []string) ([]*revinfo.CRLInfo, error) {
	var all []*revinfo.CRLInfo
	for _, filename := range filenames {
		crls, err := LoadCRLsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load CRLs from %s: %w", filename, err)
		}
		all = append(all, crls...)
	}
	return all, nil
}

// LoadAttrCertsFromPemDer loads attribute certificates from a PEM or DER
// encoded file.
func LoadAttrCertsFromPemDer(filename string) ([]*certvalidator.AttributeCertificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadAttrCertsFromPemDerData(data)
}

// LoadAttrCertsFromPemDerData loads attribute certificates from PEM or DER
// encoded data. A DER input holds exactly one attribute certificate.
func LoadAttrCertsFromPemDerData(data []byte) ([]*certvalidator.AttributeCertificate, error) {
	ders := [][]byte{data}
	if isPEM(data) {
		ders = pemBlocks(data, pemAttrCertificate)
	}

	var acs []*certvalidator.AttributeCertificate
	for _, der := range ders {
		ac, err := certvalidator.ParseAttributeCertificate(der)
		if err != nil {
			return nil, err
		}
		acs = append(acs, ac)
	}
	if len(acs) == 0 {
		return nil, ErrNoAttrCertFound
	}
	return acs, nil
}

// LoadAttrCertsFromPemDerFiles loads attribute certificates from multiple files.
func LoadAttrCertsFromPemDerFiles(filenames []string) ([]*certvalidator.AttributeCertificate, error) {
	var all []*certvalidator.AttributeCertificate
	for _, filename := range filenames {
		acs, err := LoadAttrCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load attribute certificates from %s: %w", filename, err)
		}
		all = append(all, acs...)
	}
	return all, nil
}

// pemBlocks returns the contents of the PEM blocks of type blockType.
func pemBlocks(data []byte, blockType string) [][]byte {
	var out [][]byte
	rest := data
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == blockType {
			out = append(out, block.Bytes)
		}
	}
	return out
}

// isPEM checks if the data appears to be PEM encoded.
func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadCertificationPath loads a certification path from files. The
// certificates are put in chain order, target first.
func LoadCertificationPath(certFiles []string) (*certvalidator.CertificationPath, error) {
	if len(certFiles) == 0 {
		return nil, errors.New("no certificate files provided")
	}
	certs, err := LoadCertsFromPemDerFiles(certFiles)
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certvalidator.NewCertificationPath(certs), nil
}
