package x509ext

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// ErrMalformed is wrapped by every decoding error of this package.
var ErrMalformed = errors.New("x509ext: malformed extension")

func malformed(what string) error {
	return fmt.Errorf("%w: %s", ErrMalformed, what)
}

// wrap re-encodes implicitly tagged content under a universal tag.
func wrap(tag cryptobyte_asn1.Tag, content []byte) []byte {
	var b cryptobyte.Builder
	b.AddASN1(tag, func(c *cryptobyte.Builder) {
		c.AddBytes(content)
	})
	out, _ := b.Bytes()
	return out
}

func readImplicitInt(s *cryptobyte.String, tag cryptobyte_asn1.Tag) (value int, present bool, ok bool) {
	var content cryptobyte.String
	if !s.ReadOptionalASN1(&content, &present, tag) {
		return 0, false, false
	}
	if !present {
		return 0, false, true
	}
	i := cryptobyte.String(wrap(cryptobyte_asn1.INTEGER, content))
	if !i.ReadASN1Integer(&value) {
		return 0, true, false
	}
	return value, true, true
}

func readImplicitBool(s *cryptobyte.String, tag cryptobyte_asn1.Tag) (value bool, ok bool) {
	var content cryptobyte.String
	var present bool
	if !s.ReadOptionalASN1(&content, &present, tag) {
		return false, false
	}
	if !present {
		return false, true
	}
	if len(content) != 1 {
		return false, false
	}
	return content[0] != 0, true
}

// PolicyQualifier is one PolicyQualifierInfo of a policy.
type PolicyQualifier struct {
	ID asn1.ObjectIdentifier

	// Raw is the DER of the complete PolicyQualifierInfo.
	Raw []byte
}

// PolicyInformation is one entry of the certificate policies extension.
type PolicyInformation struct {
	Policy     string
	Qualifiers []PolicyQualifier
}

// DecodeCertificatePolicies decodes the certificate policies extension.
func DecodeCertificatePolicies(value []byte) ([]PolicyInformation, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("certificate policies")
	}

	var policies []PolicyInformation
	for !seq.Empty() {
		var info cryptobyte.String
		var oid asn1.ObjectIdentifier
		if !seq.ReadASN1(&info, cryptobyte_asn1.SEQUENCE) || !info.ReadASN1ObjectIdentifier(&oid) {
			return nil, malformed("policy information")
		}
		pi := PolicyInformation{Policy: oid.String()}

		if !info.Empty() {
			var quals cryptobyte.String
			if !info.ReadASN1(&quals, cryptobyte_asn1.SEQUENCE) {
				return nil, malformed("policy qualifiers")
			}
			for !quals.Empty() {
				var elem cryptobyte.String
				if !quals.ReadASN1Element(&elem, cryptobyte_asn1.SEQUENCE) {
					return nil, malformed("policy qualifier")
				}
				raw := append([]byte(nil), elem...)
				var body cryptobyte.String
				var qid asn1.ObjectIdentifier
				if !elem.ReadASN1(&body, cryptobyte_asn1.SEQUENCE) || !body.ReadASN1ObjectIdentifier(&qid) {
					return nil, malformed("policy qualifier id")
				}
				pi.Qualifiers = append(pi.Qualifiers, PolicyQualifier{ID: qid, Raw: raw})
			}
		}
		policies = append(policies, pi)
	}
	return policies, nil
}

// PolicyMapping maps an issuer domain policy to a subject domain policy.
type PolicyMapping struct {
	IssuerDomainPolicy  string
	SubjectDomainPolicy string
}

// DecodePolicyMappings decodes the policy mappings extension.
func DecodePolicyMappings(value []byte) ([]PolicyMapping, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("policy mappings")
	}
	var mappings []PolicyMapping
	for !seq.Empty() {
		var pair cryptobyte.String
		var issuer, subject asn1.ObjectIdentifier
		if !seq.ReadASN1(&pair, cryptobyte_asn1.SEQUENCE) ||
			!pair.ReadASN1ObjectIdentifier(&issuer) ||
			!pair.ReadASN1ObjectIdentifier(&subject) {
			return nil, malformed("policy mapping")
		}
		mappings = append(mappings, PolicyMapping{
			IssuerDomainPolicy:  issuer.String(),
			SubjectDomainPolicy: subject.String(),
		})
	}
	return mappings, nil
}

// PolicyConstraints is the decoded policy constraints extension. Absent
// fields are -1.
type PolicyConstraints struct {
	RequireExplicitPolicy int
	InhibitPolicyMapping  int
}

// DecodePolicyConstraints decodes the policy constraints extension.
func DecodePolicyConstraints(value []byte) (PolicyConstraints, error) {
	pc := PolicyConstraints{RequireExplicitPolicy: -1, InhibitPolicyMapping: -1}
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return pc, malformed("policy constraints")
	}
	v, present, ok := readImplicitInt(&seq, cryptobyte_asn1.Tag(0).ContextSpecific())
	if !ok {
		return pc, malformed("requireExplicitPolicy")
	}
	if present {
		pc.RequireExplicitPolicy = v
	}
	v, present, ok = readImplicitInt(&seq, cryptobyte_asn1.Tag(1).ContextSpecific())
	if !ok {
		return pc, malformed("inhibitPolicyMapping")
	}
	if present {
		pc.InhibitPolicyMapping = v
	}
	return pc, nil
}

// DecodeInhibitAnyPolicy decodes the inhibit anyPolicy extension (SkipCerts).
func DecodeInhibitAnyPolicy(value []byte) (int, error) {
	input := cryptobyte.String(value)
	var skip int
	if !input.ReadASN1Integer(&skip) || !input.Empty() || skip < 0 {
		return 0, malformed("inhibit anyPolicy")
	}
	return skip, nil
}

// GeneralSubtree is one subtree of the name constraints extension.
type GeneralSubtree struct {
	Base    GeneralName
	Minimum int
	// Maximum is -1 when absent.
	Maximum int
}

// NameConstraints is the decoded name constraints extension.
type NameConstraints struct {
	HasPermitted bool
	Permitted    []GeneralSubtree
	Excluded     []GeneralSubtree
}

// DecodeNameConstraints decodes the name constraints extension.
func DecodeNameConstraints(value []byte) (*NameConstraints, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("name constraints")
	}

	nc := &NameConstraints{}
	var permitted, excluded cryptobyte.String
	var hasExcluded bool
	if !seq.ReadOptionalASN1(&permitted, &nc.HasPermitted, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) ||
		!seq.ReadOptionalASN1(&excluded, &hasExcluded, cryptobyte_asn1.Tag(1).Constructed().ContextSpecific()) ||
		!seq.Empty() {
		return nil, malformed("name constraints")
	}

	var err error
	if nc.HasPermitted {
		if nc.Permitted, err = readSubtrees(permitted); err != nil {
			return nil, err
		}
	}
	if hasExcluded {
		if nc.Excluded, err = readSubtrees(excluded); err != nil {
			return nil, err
		}
	}
	return nc, nil
}

func readSubtrees(s cryptobyte.String) ([]GeneralSubtree, error) {
	var subtrees []GeneralSubtree
	for !s.Empty() {
		var st cryptobyte.String
		if !s.ReadASN1(&st, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("general subtree")
		}
		base, err := readGeneralName(&st)
		if err != nil {
			return nil, err
		}
		subtree := GeneralSubtree{Base: base, Maximum: -1}
		v, present, ok := readImplicitInt(&st, cryptobyte_asn1.Tag(0).ContextSpecific())
		if !ok {
			return nil, malformed("subtree minimum")
		}
		if present {
			subtree.Minimum = v
		}
		v, present, ok = readImplicitInt(&st, cryptobyte_asn1.Tag(1).ContextSpecific())
		if !ok {
			return nil, malformed("subtree maximum")
		}
		if present {
			subtree.Maximum = v
		}
		subtrees = append(subtrees, subtree)
	}
	return subtrees, nil
}

// MarshalNameConstraints encodes a name constraints extension value.
// A nil permitted slice omits the permittedSubtrees field.
func MarshalNameConstraints(permitted, excluded []GeneralName) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		add := func(tag uint8, names []GeneralName) {
			seq.AddASN1(cryptobyte_asn1.Tag(tag).Constructed().ContextSpecific(), func(trees *cryptobyte.Builder) {
				for _, name := range names {
					trees.AddASN1(cryptobyte_asn1.SEQUENCE, func(st *cryptobyte.Builder) {
						name.marshalInto(st)
					})
				}
			})
		}
		if permitted != nil {
			add(0, permitted)
		}
		if len(excluded) > 0 {
			add(1, excluded)
		}
	})
	return b.Bytes()
}

// ReasonFlags is the ReasonFlags BIT STRING; bit n of the encoding is 1<<n.
type ReasonFlags uint16

const (
	ReasonFlagUnused ReasonFlags = 1 << iota
	ReasonFlagKeyCompromise
	ReasonFlagCACompromise
	ReasonFlagAffiliationChanged
	ReasonFlagSuperseded
	ReasonFlagCessationOfOperation
	ReasonFlagCertificateHold
	ReasonFlagPrivilegeWithdrawn
	ReasonFlagAACompromise

	AllReasonFlags = ReasonFlagUnused | ReasonFlagKeyCompromise | ReasonFlagCACompromise |
		ReasonFlagAffiliationChanged | ReasonFlagSuperseded | ReasonFlagCessationOfOperation |
		ReasonFlagCertificateHold | ReasonFlagPrivilegeWithdrawn | ReasonFlagAACompromise
)

func parseReasonFlags(content []byte) (ReasonFlags, bool) {
	if len(content) == 0 || content[0] > 7 {
		return 0, false
	}
	bits := content[1:]
	var flags ReasonFlags
	for i := 0; i < 9 && i/8 < len(bits); i++ {
		if bits[i/8]&(0x80>>(uint(i)%8)) != 0 {
			flags |= 1 << uint(i)
		}
	}
	return flags, true
}

// marshalReasonFlags returns the content octets of a ReasonFlags BIT STRING.
func marshalReasonFlags(flags ReasonFlags) []byte {
	bits := []byte{0, 0}
	for i := 0; i < 9; i++ {
		if flags&(1<<uint(i)) != 0 {
			bits[i/8] |= 0x80 >> (uint(i) % 8)
		}
	}
	for len(bits) > 0 && bits[len(bits)-1] == 0 {
		bits = bits[:len(bits)-1]
	}
	if len(bits) == 0 {
		return []byte{0}
	}
	last := bits[len(bits)-1]
	unused := byte(0)
	for last&1 == 0 {
		unused++
		last >>= 1
	}
	return append([]byte{unused}, bits...)
}

// DistributionPointName is a fullName or a nameRelativeToCRLIssuer.
type DistributionPointName struct {
	FullName     []GeneralName
	RelativeName pkix.RelativeDistinguishedNameSET
}

// IsRelative reports whether the name is relative to the CRL issuer.
func (n *DistributionPointName) IsRelative() bool {
	return n.RelativeName != nil
}

// Names resolves the distribution point name to general names; a relative
// name is appended to each of the given issuers.
func (n *DistributionPointName) Names(issuers []pkix.RDNSequence) []GeneralName {
	if !n.IsRelative() {
		return n.FullName
	}
	names := make([]GeneralName, 0, len(issuers))
	for _, issuer := range issuers {
		dn := make(pkix.RDNSequence, 0, len(issuer)+1)
		dn = append(dn, issuer...)
		dn = append(dn, n.RelativeName)
		names = append(names, DirName(dn))
	}
	return names
}

func readDistributionPointName(s *cryptobyte.String) (*DistributionPointName, bool, error) {
	var wrapper cryptobyte.String
	var present bool
	if !s.ReadOptionalASN1(&wrapper, &present, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
		return nil, false, malformed("distribution point name")
	}
	if !present {
		return nil, false, nil
	}

	var content cryptobyte.String
	var tag cryptobyte_asn1.Tag
	if !wrapper.ReadAnyASN1(&content, &tag) || !wrapper.Empty() {
		return nil, false, malformed("distribution point name")
	}

	name := &DistributionPointName{}
	switch tag {
	case cryptobyte_asn1.Tag(0).Constructed().ContextSpecific():
		names, err := readGeneralNames(content)
		if err != nil {
			return nil, false, err
		}
		name.FullName = names
	case cryptobyte_asn1.Tag(1).Constructed().ContextSpecific():
		var rdn pkix.RelativeDistinguishedNameSET
		if _, err := asn1.Unmarshal(wrap(cryptobyte_asn1.SET, content), &rdn); err != nil {
			return nil, false, fmt.Errorf("%w: nameRelativeToCRLIssuer: %v", ErrMalformed, err)
		}
		if rdn == nil {
			rdn = pkix.RelativeDistinguishedNameSET{}
		}
		name.RelativeName = rdn
	default:
		return nil, false, malformed("distribution point name choice")
	}
	return name, true, nil
}

func marshalDistributionPointName(b *cryptobyte.Builder, name *DistributionPointName) {
	if name == nil {
		return
	}
	b.AddASN1(cryptobyte_asn1.Tag(0).Constructed().ContextSpecific(), func(w *cryptobyte.Builder) {
		if name.IsRelative() {
			der, err := asn1.Marshal(name.RelativeName)
			if err != nil {
				w.SetError(err)
				return
			}
			s := cryptobyte.String(der)
			var content cryptobyte.String
			if !s.ReadASN1(&content, cryptobyte_asn1.SET) {
				w.SetError(malformed("relative name"))
				return
			}
			w.AddASN1(cryptobyte_asn1.Tag(1).Constructed().ContextSpecific(), func(c *cryptobyte.Builder) {
				c.AddBytes(content)
			})
			return
		}
		w.AddASN1(cryptobyte_asn1.Tag(0).Constructed().ContextSpecific(), func(c *cryptobyte.Builder) {
			for _, gn := range name.FullName {
				gn.marshalInto(c)
			}
		})
	})
}

// DistributionPoint is one entry of the CRL distribution points extension.
type DistributionPoint struct {
	Name       *DistributionPointName
	HasReasons bool
	Reasons    ReasonFlags
	CRLIssuer  []GeneralName
}

// DecodeCRLDistributionPoints decodes the CRL distribution points (or
// freshest CRL) extension.
func DecodeCRLDistributionPoints(value []byte) ([]DistributionPoint, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("CRL distribution points")
	}

	var dps []DistributionPoint
	for !seq.Empty() {
		var body cryptobyte.String
		if !seq.ReadASN1(&body, cryptobyte_asn1.SEQUENCE) {
			return nil, malformed("distribution point")
		}
		var dp DistributionPoint
		name, _, err := readDistributionPointName(&body)
		if err != nil {
			return nil, err
		}
		dp.Name = name

		var reasons cryptobyte.String
		if !body.ReadOptionalASN1(&reasons, &dp.HasReasons, cryptobyte_asn1.Tag(1).ContextSpecific()) {
			return nil, malformed("distribution point reasons")
		}
		if dp.HasReasons {
			flags, ok := parseReasonFlags(reasons)
			if !ok {
				return nil, malformed("distribution point reasons")
			}
			dp.Reasons = flags
		}

		var issuer cryptobyte.String
		var hasIssuer bool
		if !body.ReadOptionalASN1(&issuer, &hasIssuer, cryptobyte_asn1.Tag(2).Constructed().ContextSpecific()) || !body.Empty() {
			return nil, malformed("distribution point cRLIssuer")
		}
		if hasIssuer {
			if dp.CRLIssuer, err = readGeneralNames(issuer); err != nil {
				return nil, err
			}
		}
		dps = append(dps, dp)
	}
	return dps, nil
}

// MarshalCRLDistributionPoints encodes a CRL distribution points extension value.
func MarshalCRLDistributionPoints(dps []DistributionPoint) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		for _, dp := range dps {
			seq.AddASN1(cryptobyte_asn1.SEQUENCE, func(body *cryptobyte.Builder) {
				marshalDistributionPointName(body, dp.Name)
				if dp.HasReasons {
					body.AddASN1(cryptobyte_asn1.Tag(1).ContextSpecific(), func(c *cryptobyte.Builder) {
						c.AddBytes(marshalReasonFlags(dp.Reasons))
					})
				}
				if len(dp.CRLIssuer) > 0 {
					body.AddASN1(cryptobyte_asn1.Tag(2).Constructed().ContextSpecific(), func(c *cryptobyte.Builder) {
						for _, gn := range dp.CRLIssuer {
							gn.marshalInto(c)
						}
					})
				}
			})
		}
	})
	return b.Bytes()
}

// IssuingDistributionPoint is the decoded issuing distribution point CRL extension.
type IssuingDistributionPoint struct {
	Name                       *DistributionPointName
	OnlyContainsUserCerts      bool
	OnlyContainsCACerts        bool
	HasOnlySomeReasons         bool
	OnlySomeReasons            ReasonFlags
	IndirectCRL                bool
	OnlyContainsAttributeCerts bool
}

// DecodeIssuingDistributionPoint decodes the issuing distribution point extension.
func DecodeIssuingDistributionPoint(value []byte) (*IssuingDistributionPoint, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("issuing distribution point")
	}

	idp := &IssuingDistributionPoint{}
	name, _, err := readDistributionPointName(&seq)
	if err != nil {
		return nil, err
	}
	idp.Name = name

	var ok bool
	if idp.OnlyContainsUserCerts, ok = readImplicitBool(&seq, cryptobyte_asn1.Tag(1).ContextSpecific()); !ok {
		return nil, malformed("onlyContainsUserCerts")
	}
	if idp.OnlyContainsCACerts, ok = readImplicitBool(&seq, cryptobyte_asn1.Tag(2).ContextSpecific()); !ok {
		return nil, malformed("onlyContainsCACerts")
	}
	var reasons cryptobyte.String
	if !seq.ReadOptionalASN1(&reasons, &idp.HasOnlySomeReasons, cryptobyte_asn1.Tag(3).ContextSpecific()) {
		return nil, malformed("onlySomeReasons")
	}
	if idp.HasOnlySomeReasons {
		if idp.OnlySomeReasons, ok = parseReasonFlags(reasons); !ok {
			return nil, malformed("onlySomeReasons")
		}
	}
	if idp.IndirectCRL, ok = readImplicitBool(&seq, cryptobyte_asn1.Tag(4).ContextSpecific()); !ok {
		return nil, malformed("indirectCRL")
	}
	if idp.OnlyContainsAttributeCerts, ok = readImplicitBool(&seq, cryptobyte_asn1.Tag(5).ContextSpecific()); !ok {
		return nil, malformed("onlyContainsAttributeCerts")
	}
	if !seq.Empty() {
		return nil, malformed("issuing distribution point trailing data")
	}
	return idp, nil
}

// Marshal encodes the issuing distribution point extension value.
func (idp *IssuingDistributionPoint) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		marshalDistributionPointName(seq, idp.Name)
		addBool := func(tag uint8, v bool) {
			if v {
				seq.AddASN1(cryptobyte_asn1.Tag(tag).ContextSpecific(), func(c *cryptobyte.Builder) {
					c.AddUint8(0xff)
				})
			}
		}
		addBool(1, idp.OnlyContainsUserCerts)
		addBool(2, idp.OnlyContainsCACerts)
		if idp.HasOnlySomeReasons {
			seq.AddASN1(cryptobyte_asn1.Tag(3).ContextSpecific(), func(c *cryptobyte.Builder) {
				c.AddBytes(marshalReasonFlags(idp.OnlySomeReasons))
			})
		}
		addBool(4, idp.IndirectCRL)
		addBool(5, idp.OnlyContainsAttributeCerts)
	})
	return b.Bytes()
}

// DecodeCRLNumber decodes a CRL number or delta CRL indicator value.
func DecodeCRLNumber(value []byte) (*big.Int, error) {
	input := cryptobyte.String(value)
	n := new(big.Int)
	if !input.ReadASN1Integer(n) || !input.Empty() || n.Sign() < 0 {
		return nil, malformed("CRL number")
	}
	return n, nil
}

// DecodeGeneralizedTime decodes an extension whose value is a GeneralizedTime,
// such as the ISIS-MTT dateOfCertGen extension.
func DecodeGeneralizedTime(value []byte) (time.Time, error) {
	input := cryptobyte.String(value)
	var t time.Time
	if !input.ReadASN1GeneralizedTime(&t) || !input.Empty() {
		return time.Time{}, malformed("generalized time")
	}
	return t, nil
}

// CheckTargetInformation verifies the structure of an attribute certificate
// target information extension (SEQUENCE OF Targets).
func CheckTargetInformation(value []byte) error {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return malformed("target information")
	}
	for !seq.Empty() {
		var targets cryptobyte.String
		if !seq.ReadASN1(&targets, cryptobyte_asn1.SEQUENCE) {
			return malformed("targets")
		}
		for !targets.Empty() {
			var target cryptobyte.String
			var tag cryptobyte_asn1.Tag
			if !targets.ReadAnyASN1Element(&target, &tag) {
				return malformed("target")
			}
			if uint8(tag)&0xc0 != 0x80 || uint8(tag)&0x1f > 2 {
				return malformed("target choice")
			}
		}
	}
	return nil
}

// DecodeAuthorityKeyID returns the keyIdentifier of an authority key
// identifier extension, or nil when it is absent.
func DecodeAuthorityKeyID(value []byte) ([]byte, error) {
	input := cryptobyte.String(value)
	var seq, keyID cryptobyte.String
	var present bool
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() ||
		!seq.ReadOptionalASN1(&keyID, &present, cryptobyte_asn1.Tag(0).ContextSpecific()) {
		return nil, malformed("authority key identifier")
	}
	if !present {
		return nil, nil
	}
	return append([]byte(nil), keyID...), nil
}
