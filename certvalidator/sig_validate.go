// Package certvalidator provides X.509 certificate path validation.
// This file contains signature verification for certificates, CRLs and
// attribute certificates.
package certvalidator

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"github.com/cloudflare/circl/sign/mldsa/mldsa87"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// Signature validation errors
var (
	// ErrAlgorithmNotSupported is returned when a signature algorithm is not supported.
	ErrAlgorithmNotSupported = errors.New("algorithm not supported")

	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrPublicKeyUnavailable is returned when a public key cannot be decoded.
	ErrPublicKeyUnavailable = errors.New("public key unavailable")
)

// SignatureAlgorithm represents a signature algorithm family.
type SignatureAlgorithm int

const (
	SigAlgoUnknown SignatureAlgorithm = iota
	SigAlgoRSAPKCS1v15
	SigAlgoRSAPSS
	SigAlgoECDSA
	SigAlgoEd25519
	SigAlgoEd448
	SigAlgoMLDSA44
	SigAlgoMLDSA65
	SigAlgoMLDSA87
)

// String returns the string representation of the signature algorithm.
func (a SignatureAlgorithm) String() string {
	switch a {
	case SigAlgoRSAPKCS1v15:
		return "rsassa_pkcs1v15"
	case SigAlgoRSAPSS:
		return "rsassa_pss"
	case SigAlgoECDSA:
		return "ecdsa"
	case SigAlgoEd25519:
		return "ed25519"
	case SigAlgoEd448:
		return "ed448"
	case SigAlgoMLDSA44:
		return "ml-dsa-44"
	case SigAlgoMLDSA65:
		return "ml-dsa-65"
	case SigAlgoMLDSA87:
		return "ml-dsa-87"
	default:
		return "unknown"
	}
}

// OIDs for signature algorithms
var (
	OIDRSAEncryption = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDRSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 5}
	OIDRSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDRSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDRSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDRSAPSS        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}

	OIDECDSAWithSHA1   = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 1}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDEd25519 = asn1.ObjectIdentifier{1, 3, 101, 112}
	OIDEd448   = asn1.ObjectIdentifier{1, 3, 101, 113}

	// FIPS 204 identifiers, shared by the key and the signature algorithm.
	OIDMLDSA44 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 17}
	OIDMLDSA65 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 18}
	OIDMLDSA87 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 19}

	OIDSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

// GetSignatureAlgorithmFromOID returns the signature algorithm for an OID.
func GetSignatureAlgorithmFromOID(oid asn1.ObjectIdentifier) SignatureAlgorithm {
	switch {
	case oid.Equal(OIDRSAWithSHA1), oid.Equal(OIDRSAWithSHA256),
		oid.Equal(OIDRSAWithSHA384), oid.Equal(OIDRSAWithSHA512):
		return SigAlgoRSAPKCS1v15
	case oid.Equal(OIDRSAPSS):
		return SigAlgoRSAPSS
	case oid.Equal(OIDECDSAWithSHA1), oid.Equal(OIDECDSAWithSHA256),
		oid.Equal(OIDECDSAWithSHA384), oid.Equal(OIDECDSAWithSHA512):
		return SigAlgoECDSA
	case oid.Equal(OIDEd25519):
		return SigAlgoEd25519
	case oid.Equal(OIDEd448):
		return SigAlgoEd448
	case oid.Equal(OIDMLDSA44):
		return SigAlgoMLDSA44
	case oid.Equal(OIDMLDSA65):
		return SigAlgoMLDSA65
	case oid.Equal(OIDMLDSA87):
		return SigAlgoMLDSA87
	default:
		return SigAlgoUnknown
	}
}

// GetHashAlgorithmFromOID returns the hash algorithm for a digest OID.
func GetHashAlgorithmFromOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1
	case oid.Equal(OIDSHA256):
		return crypto.SHA256
	case oid.Equal(OIDSHA384):
		return crypto.SHA384
	case oid.Equal(OIDSHA512):
		return crypto.SHA512
	default:
		return 0
	}
}

// GetHashAlgorithmFromSigOID extracts the hash algorithm from a signature algorithm OID.
func GetHashAlgorithmFromSigOID(oid asn1.ObjectIdentifier) crypto.Hash {
	switch {
	case oid.Equal(OIDRSAWithSHA1), oid.Equal(OIDECDSAWithSHA1):
		return crypto.SHA1
	case oid.Equal(OIDRSAWithSHA256), oid.Equal(OIDECDSAWithSHA256):
		return crypto.SHA256
	case oid.Equal(OIDRSAWithSHA384), oid.Equal(OIDECDSAWithSHA384):
		return crypto.SHA384
	case oid.Equal(OIDRSAWithSHA512), oid.Equal(OIDECDSAWithSHA512):
		return crypto.SHA512
	default:
		return 0
	}
}

// SignatureVerifier checks the signature of a signed object against a key.
// Implementations must be safe for concurrent use.
type SignatureVerifier interface {
	VerifySignature(signed *x509ext.Signed, publicKey crypto.PublicKey) error
}

// DefaultSignatureVerifier verifies RSA, ECDSA and Ed25519 signatures with the
// standard library and Ed448 and ML-DSA signatures with circl.
type DefaultSignatureVerifier struct{}

// NewDefaultSignatureVerifier creates a new default signature verifier.
func NewDefaultSignatureVerifier() *DefaultSignatureVerifier {
	return &DefaultSignatureVerifier{}
}

// VerifySignature implements SignatureVerifier.
func (v *DefaultSignatureVerifier) VerifySignature(signed *x509ext.Signed, publicKey crypto.PublicKey) error {
	if publicKey == nil {
		return ErrPublicKeyUnavailable
	}
	sigAlgo := GetSignatureAlgorithmFromOID(signed.Algorithm.Algorithm)

	switch sigAlgo {
	case SigAlgoRSAPKCS1v15:
		key, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected RSA public key, got %T", publicKey)
		}
		hashAlgo := GetHashAlgorithmFromSigOID(signed.Algorithm.Algorithm)
		if err := rsa.VerifyPKCS1v15(key, hashAlgo, digest(hashAlgo, signed.TBS), signed.Signature); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil

	case SigAlgoRSAPSS:
		return v.verifyRSAPSS(signed, publicKey)

	case SigAlgoECDSA:
		key, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("expected ECDSA public key, got %T", publicKey)
		}
		hashAlgo := GetHashAlgorithmFromSigOID(signed.Algorithm.Algorithm)
		if !ecdsa.VerifyASN1(key, digest(hashAlgo, signed.TBS), signed.Signature) {
			return ErrInvalidSignature
		}
		return nil

	case SigAlgoEd25519:
		key, ok := publicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("expected Ed25519 public key, got %T", publicKey)
		}
		if !ed25519.Verify(key, signed.TBS, signed.Signature) {
			return ErrInvalidSignature
		}
		return nil

	case SigAlgoEd448:
		key, ok := publicKey.(ed448.PublicKey)
		if !ok {
			return fmt.Errorf("expected Ed448 public key, got %T", publicKey)
		}
		if !ed448.Verify(key, signed.TBS, signed.Signature, "") {
			return ErrInvalidSignature
		}
		return nil

	case SigAlgoMLDSA44, SigAlgoMLDSA65, SigAlgoMLDSA87:
		return verifyMLDSA(sigAlgo, publicKey, signed.TBS, signed.Signature)

	default:
		return fmt.Errorf("%w: %s", ErrAlgorithmNotSupported, signed.Algorithm.Algorithm)
	}
}

func digest(hashAlgo crypto.Hash, data []byte) []byte {
	h := hashAlgo.New()
	h.Write(data)
	return h.Sum(nil)
}

type pssParameters struct {
	Hash         pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:0"`
	MGF          pkix.AlgorithmIdentifier `asn1:"optional,explicit,tag:1"`
	SaltLength   int                      `asn1:"optional,explicit,tag:2,default:20"`
	TrailerField int                      `asn1:"optional,explicit,tag:3,default:1"`
}

func (v *DefaultSignatureVerifier) verifyRSAPSS(signed *x509ext.Signed, publicKey crypto.PublicKey) error {
	key, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("expected RSA public key, got %T", publicKey)
	}

	params := pssParameters{SaltLength: 20}
	if len(signed.Algorithm.Parameters.FullBytes) > 0 {
		if _, err := asn1.Unmarshal(signed.Algorithm.Parameters.FullBytes, &params); err != nil {
			return fmt.Errorf("failed to parse PSS parameters: %w", err)
		}
	}
	hashAlgo := GetHashAlgorithmFromOID(params.Hash.Algorithm)
	if hashAlgo == 0 {
		hashAlgo = crypto.SHA1
	}

	opts := &rsa.PSSOptions{SaltLength: params.SaltLength, Hash: hashAlgo}
	if err := rsa.VerifyPSS(key, hashAlgo, digest(hashAlgo, signed.TBS), signed.Signature, opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func verifyMLDSA(alg SignatureAlgorithm, publicKey crypto.PublicKey, msg, sig []byte) error {
	var ok bool
	switch key := publicKey.(type) {
	case *mldsa44.PublicKey:
		ok = alg == SigAlgoMLDSA44 && mldsa44.Verify(key, msg, nil, sig)
	case *mldsa65.PublicKey:
		ok = alg == SigAlgoMLDSA65 && mldsa65.Verify(key, msg, nil, sig)
	case *mldsa87.PublicKey:
		ok = alg == SigAlgoMLDSA87 && mldsa87.Verify(key, msg, nil, sig)
	default:
		return fmt.Errorf("expected %s public key, got %T", alg, publicKey)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// ParsePublicKey decodes a DER SubjectPublicKeyInfo. Keys the standard
// library understands are returned as such; Ed448 and ML-DSA keys are
// returned as circl keys.
func ParsePublicKey(spki []byte) (crypto.PublicKey, error) {
	if key, err := x509.ParsePKIXPublicKey(spki); err == nil {
		return key, nil
	}

	alg, bits, err := x509ext.DecodeSubjectPublicKeyInfo(spki)
	if err != nil {
		return nil, err
	}
	switch GetSignatureAlgorithmFromOID(alg.Algorithm) {
	case SigAlgoEd448:
		if len(bits) != ed448.PublicKeySize {
			return nil, fmt.Errorf("%w: bad Ed448 key length %d", ErrPublicKeyUnavailable, len(bits))
		}
		return ed448.PublicKey(append([]byte(nil), bits...)), nil
	case SigAlgoMLDSA44:
		key := new(mldsa44.PublicKey)
		if err := key.UnmarshalBinary(bits); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyUnavailable, err)
		}
		return key, nil
	case SigAlgoMLDSA65:
		key := new(mldsa65.PublicKey)
		if err := key.UnmarshalBinary(bits); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyUnavailable, err)
		}
		return key, nil
	case SigAlgoMLDSA87:
		key := new(mldsa87.PublicKey)
		if err := key.UnmarshalBinary(bits); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPublicKeyUnavailable, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: algorithm %s", ErrPublicKeyUnavailable, alg.Algorithm)
}

// PublicKeyOf returns the subject public key of cert.
func PublicKeyOf(cert *x509.Certificate) (crypto.PublicKey, error) {
	if cert.PublicKey != nil {
		return cert.PublicKey, nil
	}
	return ParsePublicKey(cert.RawSubjectPublicKeyInfo)
}

// verifyCertificate checks the signature of cert with key.
func verifyCertificate(v SignatureVerifier, cert *x509.Certificate, key crypto.PublicKey) error {
	signed, err := x509ext.SplitSigned(cert.Raw)
	if err != nil {
		return err
	}
	return v.VerifySignature(signed, key)
}
