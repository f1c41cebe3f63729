package x509ext

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// AttrCertVersion2 is the encoded version of an RFC 5755 attribute certificate.
const AttrCertVersion2 = 1

// IssuerSerial identifies a public-key certificate by issuer and serial.
type IssuerSerial struct {
	Issuer    []GeneralName
	Serial    *big.Int
	IssuerUID []byte
}

// ObjectDigestInfo identifies an object by its digest.
type ObjectDigestInfo struct {
	DigestedObjectType int
	OtherObjectTypeID  asn1.ObjectIdentifier
	DigestAlgorithm    pkix.AlgorithmIdentifier
	ObjectDigest       []byte
}

// Holder names the entity an attribute certificate is bound to.
type Holder struct {
	BaseCertificateID *IssuerSerial
	EntityName        []GeneralName
	ObjectDigestInfo  *ObjectDigestInfo
}

// AttCertIssuer is the issuer field of an attribute certificate. V1Form is
// set for the v1Form choice; the remaining fields hold the v2Form.
type AttCertIssuer struct {
	V1Form []GeneralName

	IsV2Form          bool
	IssuerName        []GeneralName
	BaseCertificateID *IssuerSerial
	ObjectDigestInfo  *ObjectDigestInfo
}

// Names returns the issuer names of whichever form is present.
func (i AttCertIssuer) Names() []GeneralName {
	if i.IsV2Form {
		return i.IssuerName
	}
	return i.V1Form
}

// Attribute is one attribute of an attribute certificate. Values holds the
// DER encoding of each value.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values [][]byte
}

// AttributeCertificate is a decoded attribute certificate.
type AttributeCertificate struct {
	Raw []byte

	Version        int
	Holder         Holder
	Issuer         AttCertIssuer
	SerialNumber   *big.Int
	NotBefore      time.Time
	NotAfter       time.Time
	Attributes     []Attribute
	IssuerUniqueID []byte
	Extensions     []pkix.Extension

	Signed Signed
}

// DecodeAttributeCertificate decodes a DER attribute certificate.
func DecodeAttributeCertificate(der []byte) (*AttributeCertificate, error) {
	signed, err := SplitSigned(der)
	if err != nil {
		return nil, err
	}
	ac := &AttributeCertificate{
		Raw:    append([]byte(nil), der...),
		Signed: *signed,
	}

	tbs := cryptobyte.String(signed.TBS)
	var info cryptobyte.String
	if !tbs.ReadASN1(&info, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("attribute certificate info")
	}
	if !info.ReadASN1Integer(&ac.Version) {
		return nil, malformed("attribute certificate version")
	}
	if ac.Version != AttrCertVersion2 {
		return nil, malformed("unsupported attribute certificate version")
	}

	var holder cryptobyte.String
	if !info.ReadASN1(&holder, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("holder")
	}
	if ac.Holder, err = readHolder(holder); err != nil {
		return nil, err
	}
	if ac.Issuer, err = readAttCertIssuer(&info); err != nil {
		return nil, err
	}

	var alg cryptobyte.String
	if !info.ReadASN1Element(&alg, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("attribute certificate signature algorithm")
	}
	var inner pkix.AlgorithmIdentifier
	if _, err := asn1.Unmarshal(alg, &inner); err != nil || !inner.Algorithm.Equal(signed.Algorithm.Algorithm) {
		return nil, malformed("signature algorithm mismatch")
	}

	ac.SerialNumber = new(big.Int)
	if !info.ReadASN1Integer(ac.SerialNumber) {
		return nil, malformed("attribute certificate serial number")
	}

	var validity cryptobyte.String
	if !info.ReadASN1(&validity, cryptobyte_asn1.SEQUENCE) ||
		!validity.ReadASN1GeneralizedTime(&ac.NotBefore) ||
		!validity.ReadASN1GeneralizedTime(&ac.NotAfter) {
		return nil, malformed("attribute certificate validity")
	}

	var attrs cryptobyte.String
	if !info.ReadASN1(&attrs, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("attributes")
	}
	for !attrs.Empty() {
		attr, err := readAttribute(&attrs)
		if err != nil {
			return nil, err
		}
		ac.Attributes = append(ac.Attributes, attr)
	}

	if info.PeekASN1Tag(cryptobyte_asn1.BIT_STRING) {
		var uid asn1.BitString
		if !info.ReadASN1BitString(&uid) {
			return nil, malformed("issuer unique identifier")
		}
		ac.IssuerUniqueID = uid.RightAlign()
	}
	if info.PeekASN1Tag(cryptobyte_asn1.SEQUENCE) {
		var exts cryptobyte.String
		if !info.ReadASN1(&exts, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("extensions")
		}
		for !exts.Empty() {
			ext, err := readExtension(&exts)
			if err != nil {
				return nil, err
			}
			ac.Extensions = append(ac.Extensions, ext)
		}
	}
	if !info.Empty() {
		return nil, malformed("trailing data in attribute certificate info")
	}
	return ac, nil
}

func readHolder(s cryptobyte.String) (Holder, error) {
	var h Holder
	var content cryptobyte.String
	var present bool

	if !s.ReadOptionalASN1(&content, &present, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return h, malformed("holder baseCertificateID")
	}
	if present {
		is, err := readIssuerSerial(content)
		if err != nil {
			return h, err
		}
		h.BaseCertificateID = is
	}

	if !s.ReadOptionalASN1(&content, &present, cryptobyte_asn1.Tag(1).Constructed().ContextSpecific()) {
		return h, malformed("holder entityName")
	}
	if present {
		names, err := readGeneralNames(content)
		if err != nil {
			return h, err
		}
		h.EntityName = names
	}

	if !s.ReadOptionalASN1(&content, &present, cryptobyte_asn1.Tag(2).Constructed().ContextSpecific()) {
		return h, malformed("holder objectDigestInfo")
	}
	if present {
		odi, err := readObjectDigestInfo(content)
		if err != nil {
			return h, err
		}
		h.ObjectDigestInfo = odi
	}
	if !s.Empty() {
		return h, malformed("trailing data in holder")
	}
	return h, nil
}

func readAttCertIssuer(s *cryptobyte.String) (AttCertIssuer, error) {
	var issuer AttCertIssuer
	var content cryptobyte.String

	if s.PeekASN1Tag(cryptobyte_asn1.SEQUENCE) {
		if !s.ReadASN1(&content, cryptobyte_asn1.SEQUENCE) {
			return issuer, malformed("issuer v1Form")
		}
		names, err := readGeneralNames(content)
		if err != nil {
			return issuer, err
		}
		issuer.V1Form = names
		return issuer, nil
	}

	if !s.ReadASN1(&content, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return issuer, malformed("issuer")
	}
	issuer.IsV2Form = true

	if content.PeekASN1Tag(cryptobyte_asn1.SEQUENCE) {
		var names cryptobyte.String
		if !content.ReadASN1(&names, cryptobyte_asn1.SEQUENCE) {
			return issuer, malformed("issuer v2Form issuerName")
		}
		decoded, err := readGeneralNames(names)
		if err != nil {
			return issuer, err
		}
		issuer.IssuerName = decoded
	}

	var inner cryptobyte.String
	var present bool
	if !content.ReadOptionalASN1(&inner, &present, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return issuer, malformed("issuer v2Form baseCertificateID")
	}
	if present {
		is, err := readIssuerSerial(inner)
		if err != nil {
			return issuer, err
		}
		issuer.BaseCertificateID = is
	}
	if !content.ReadOptionalASN1(&inner, &present, cryptobyte_asn1.Tag(1).Constructed().ContextSpecific()) {
		return issuer, malformed("issuer v2Form objectDigestInfo")
	}
	if present {
		odi, err := readObjectDigestInfo(inner)
		if err != nil {
			return issuer, err
		}
		issuer.ObjectDigestInfo = odi
	}
	if !content.Empty() {
		return issuer, malformed("trailing data in issuer v2Form")
	}
	return issuer, nil
}

// readIssuerSerial reads the fields of an IssuerSerial from s.
func readIssuerSerial(s cryptobyte.String) (*IssuerSerial, error) {
	var names cryptobyte.String
	if !s.ReadASN1(&names, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("issuerSerial issuer")
	}
	issuer, err := readGeneralNames(names)
	if err != nil {
		return nil, err
	}
	is := &IssuerSerial{Issuer: issuer, Serial: new(big.Int)}
	if !s.ReadASN1Integer(is.Serial) {
		return nil, malformed("issuerSerial serial")
	}
	if s.PeekASN1Tag(cryptobyte_asn1.BIT_STRING) {
		var uid asn1.BitString
		if !s.ReadASN1BitString(&uid) {
			return nil, malformed("issuerSerial issuerUID")
		}
		is.IssuerUID = uid.RightAlign()
	}
	if !s.Empty() {
		return nil, malformed("trailing data in issuerSerial")
	}
	return is, nil
}

// readObjectDigestInfo reads the fields of an ObjectDigestInfo from s.
func readObjectDigestInfo(s cryptobyte.String) (*ObjectDigestInfo, error) {
	odi := &ObjectDigestInfo{}
	if !s.ReadASN1Enum(&odi.DigestedObjectType) {
		return nil, malformed("objectDigestInfo type")
	}
	if s.PeekASN1Tag(cryptobyte_asn1.OBJECT_IDENTIFIER) {
		if !s.ReadASN1ObjectIdentifier(&odi.OtherObjectTypeID) {
			return nil, malformed("objectDigestInfo otherObjectTypeID")
		}
	}
	var alg cryptobyte.String
	if !s.ReadASN1Element(&alg, cryptobyte_asn1.SEQUENCE) {
		return nil, malformed("objectDigestInfo algorithm")
	}
	if _, err := asn1.Unmarshal(alg, &odi.DigestAlgorithm); err != nil {
		return nil, malformed("objectDigestInfo algorithm")
	}
	var digest asn1.BitString
	if !s.ReadASN1BitString(&digest) || !s.Empty() {
		return nil, malformed("objectDigestInfo digest")
	}
	odi.ObjectDigest = digest.RightAlign()
	return odi, nil
}

func readAttribute(s *cryptobyte.String) (Attribute, error) {
	var attr Attribute
	var seq, set cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) ||
		!seq.ReadASN1ObjectIdentifier(&attr.Type) ||
		!seq.ReadASN1(&set, cryptobyte_asn1.SET) ||
		!seq.Empty() {
		return attr, malformed("attribute")
	}
	for !set.Empty() {
		var value cryptobyte.String
		var tag cryptobyte_asn1.Tag
		if !set.ReadAnyASN1Element(&value, &tag) {
			return attr, malformed("attribute value")
		}
		attr.Values = append(attr.Values, append([]byte(nil), value...))
	}
	return attr, nil
}

func readExtension(s *cryptobyte.String) (pkix.Extension, error) {
	var ext pkix.Extension
	var seq, value cryptobyte.String
	if !s.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !seq.ReadASN1ObjectIdentifier(&ext.Id) {
		return ext, malformed("extension")
	}
	if seq.PeekASN1Tag(cryptobyte_asn1.BOOLEAN) {
		if !seq.ReadASN1Boolean(&ext.Critical) {
			return ext, malformed("extension criticality")
		}
	}
	if !seq.ReadASN1(&value, cryptobyte_asn1.OCTET_STRING) || !seq.Empty() {
		return ext, malformed("extension value")
	}
	ext.Value = append([]byte(nil), value...)
	return ext, nil
}

// marshalInto adds the fields of is without the outer tag.
func (is *IssuerSerial) marshalInto(b *cryptobyte.Builder) {
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(names *cryptobyte.Builder) {
		for _, n := range is.Issuer {
			n.marshalInto(names)
		}
	})
	b.AddASN1BigInt(is.Serial)
}

// AttributeCertificateTemplate describes an attribute certificate to encode
// with MarshalAttributeCertificateInfo.
type AttributeCertificateTemplate struct {
	Holder       Holder
	IssuerName   []GeneralName
	Algorithm    pkix.AlgorithmIdentifier
	SerialNumber *big.Int
	NotBefore    time.Time
	NotAfter     time.Time
	Attributes   []Attribute
	Extensions   []pkix.Extension
}

// MarshalAttributeCertificateInfo encodes the to-be-signed part of an
// attribute certificate with a v2Form issuer. ObjectDigestInfo holders are
// not encoded.
func MarshalAttributeCertificateInfo(t *AttributeCertificateTemplate) ([]byte, error) {
	algDER, err := asn1.Marshal(t.Algorithm)
	if err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(info *cryptobyte.Builder) {
		info.AddASN1Int64(AttrCertVersion2)
		info.AddASN1(cryptobyte_asn1.SEQUENCE, func(holder *cryptobyte.Builder) {
			if t.Holder.BaseCertificateID != nil {
				holder.AddASN1(cryptobyte_asn1.Tag(0).Constructed().ContextSpecific(), t.Holder.BaseCertificateID.marshalInto)
			}
			if len(t.Holder.EntityName) > 0 {
				holder.AddASN1(cryptobyte_asn1.Tag(1).Constructed().ContextSpecific(), func(names *cryptobyte.Builder) {
					for _, n := range t.Holder.EntityName {
						n.marshalInto(names)
					}
				})
			}
		})
		info.AddASN1(cryptobyte_asn1.Tag(0).Constructed().ContextSpecific(), func(v2 *cryptobyte.Builder) {
			v2.AddASN1(cryptobyte_asn1.SEQUENCE, func(names *cryptobyte.Builder) {
				for _, n := range t.IssuerName {
					n.marshalInto(names)
				}
			})
		})
		info.AddBytes(algDER)
		info.AddASN1BigInt(t.SerialNumber)
		info.AddASN1(cryptobyte_asn1.SEQUENCE, func(v *cryptobyte.Builder) {
			v.AddASN1GeneralizedTime(t.NotBefore.UTC())
			v.AddASN1GeneralizedTime(t.NotAfter.UTC())
		})
		info.AddASN1(cryptobyte_asn1.SEQUENCE, func(attrs *cryptobyte.Builder) {
			for _, a := range t.Attributes {
				attrs.AddASN1(cryptobyte_asn1.SEQUENCE, func(attr *cryptobyte.Builder) {
					attr.AddASN1ObjectIdentifier(a.Type)
					attr.AddASN1(cryptobyte_asn1.SET, func(set *cryptobyte.Builder) {
						for _, v := range a.Values {
							set.AddBytes(v)
						}
					})
				})
			}
		})
		if len(t.Extensions) > 0 {
			info.AddASN1(cryptobyte_asn1.SEQUENCE, func(exts *cryptobyte.Builder) {
				for _, e := range t.Extensions {
					exts.AddASN1(cryptobyte_asn1.SEQUENCE, func(ext *cryptobyte.Builder) {
						ext.AddASN1ObjectIdentifier(e.Id)
						if e.Critical {
							ext.AddASN1Boolean(true)
						}
						ext.AddASN1OctetString(e.Value)
					})
				}
			})
		}
	})
	return b.Bytes()
}

// MarshalSigned assembles a signed object from its to-be-signed DER, the
// signature algorithm and the signature.
func MarshalSigned(tbs []byte, alg pkix.AlgorithmIdentifier, signature []byte) ([]byte, error) {
	algDER, err := asn1.Marshal(alg)
	if err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddBytes(tbs)
		seq.AddBytes(algDER)
		seq.AddASN1BitString(signature)
	})
	return b.Bytes()
}
