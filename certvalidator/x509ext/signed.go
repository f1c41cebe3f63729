package x509ext

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// Signed holds the three parts shared by certificates, CRLs and attribute
// certificates: the to-be-signed bytes, the algorithm and the signature.
type Signed struct {
	TBS       []byte
	Algorithm pkix.AlgorithmIdentifier
	Signature []byte
}

// SplitSigned splits a DER signed object into its parts.
func SplitSigned(der []byte) (*Signed, error) {
	input := cryptobyte.String(der)
	var outer, tbs, alg cryptobyte.String
	if !input.ReadASN1(&outer, cryptobyte_asn1.SEQUENCE) ||
		!outer.ReadASN1Element(&tbs, cryptobyte_asn1.SEQUENCE) ||
		!outer.ReadASN1Element(&alg, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("signed object")
	}
	var sig asn1.BitString
	if !outer.ReadASN1BitString(&sig) || !outer.Empty() {
		return nil, malformed("signature value")
	}

	var ai pkix.AlgorithmIdentifier
	if _, err := asn1.Unmarshal(alg, &ai); err != nil {
		return nil, fmt.Errorf("%w: signature algorithm: %v", ErrMalformed, err)
	}
	return &Signed{TBS: tbs, Algorithm: ai, Signature: sig.RightAlign()}, nil
}

// DecodeSubjectPublicKeyInfo returns the algorithm and key bits of a
// SubjectPublicKeyInfo.
func DecodeSubjectPublicKeyInfo(der []byte) (pkix.AlgorithmIdentifier, []byte, error) {
	var ai pkix.AlgorithmIdentifier
	input := cryptobyte.String(der)
	var spki, alg cryptobyte.String
	if !input.ReadASN1(&spki, cryptobyte_asn1.SEQUENCE) ||
		!spki.ReadASN1Element(&alg, cryptobyte_asn1.SEQUENCE) {
		return ai, nil, malformed("subject public key info")
	}
	var key asn1.BitString
	if !spki.ReadASN1BitString(&key) {
		return ai, nil, malformed("subject public key")
	}
	if _, err := asn1.Unmarshal(alg, &ai); err != nil {
		return ai, nil, fmt.Errorf("%w: public key algorithm: %v", ErrMalformed, err)
	}
	return ai, key.RightAlign(), nil
}
