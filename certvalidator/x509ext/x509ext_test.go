package x509ext

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func name(cn ...string) pkix.RDNSequence {
	var rdns pkix.RDNSequence
	rdns = append(rdns, pkix.RelativeDistinguishedNameSET{{Type: asn1.ObjectIdentifier{2, 5, 4, 6}, Value: "US"}})
	for _, c := range cn {
		rdns = append(rdns, pkix.RelativeDistinguishedNameSET{{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: c}})
	}
	return rdns
}

func TestGeneralNamesRoundTrip(t *testing.T) {
	_, network, err := net.ParseCIDR("10.1.0.0/16")
	require.NoError(t, err)

	names := []GeneralName{
		DNSName("example.com"),
		EmailName("alice@example.com"),
		URIName("http://example.com/crl"),
		IPName(net.ParseIP("192.168.1.1")),
		IPSubtreeName(network),
		DirName(name("Alice")),
		OtherName(asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 8, 9}, []byte{0x0c, 0x01, 'x'}),
		{Form: FormRegisteredID, RegisteredID: asn1.ObjectIdentifier{1, 2, 3}},
	}
	der, err := MarshalGeneralNames(names)
	require.NoError(t, err)

	decoded, err := DecodeGeneralNames(der)
	require.NoError(t, err)
	require.Len(t, decoded, len(names))
	for i := range names {
		assert.True(t, names[i].Equal(decoded[i]), "name %d: %s != %s", i, names[i], decoded[i])
		assert.NotEmpty(t, decoded[i].Raw)
	}

	assert.Equal(t, "ip:10.1.0.0/16", decoded[4].String())
	assert.Equal(t, "ip:192.168.1.1", decoded[3].String())
}

func TestDecodeGeneralNamesMalformed(t *testing.T) {
	_, err := DecodeGeneralNames([]byte{0x30, 0x03, 0x02, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeGeneralNames([]byte{0x04, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGeneralNameEqual(t *testing.T) {
	assert.True(t, DNSName("Example.COM").Equal(DNSName("example.com")))
	assert.True(t, EmailName("A@B.org").Equal(EmailName("a@b.org")))
	assert.False(t, URIName("http://A").Equal(URIName("http://a")))
	assert.False(t, DNSName("a").Equal(EmailName("a")))
	assert.True(t, IPName(net.ParseIP("::ffff:1.2.3.4")).Equal(IPName(net.IPv4(1, 2, 3, 4))))
}

func TestNamesEqualCanonical(t *testing.T) {
	a := name("Alice  Smith")
	b := name("alice smith")
	assert.True(t, NamesEqual(a, b))
	assert.False(t, NamesEqual(a, name("Bob")))
	assert.False(t, NamesEqual(a, name("Alice Smith", "Extra")))

	multi1 := pkix.RDNSequence{{
		{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "x"},
		{Type: asn1.ObjectIdentifier{2, 5, 4, 10}, Value: "y"},
	}}
	multi2 := pkix.RDNSequence{{
		{Type: asn1.ObjectIdentifier{2, 5, 4, 10}, Value: "Y"},
		{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "X"},
	}}
	assert.True(t, NamesEqual(multi1, multi2))
}

func TestParseName(t *testing.T) {
	der, err := asn1.Marshal(name("Parse"))
	require.NoError(t, err)
	got, err := ParseName(der)
	require.NoError(t, err)
	assert.True(t, NamesEqual(got, name("Parse")))
	assert.Equal(t, []string{"Parse"}, AttributeValues(got, asn1.ObjectIdentifier{2, 5, 4, 3}))

	_, err = ParseName(append(der, 0))
	assert.Error(t, err)
}

func marshalPolicies(t *testing.T) []byte {
	t.Helper()
	type qualifier struct {
		ID    asn1.ObjectIdentifier
		Value string `asn1:"ia5"`
	}
	type info struct {
		Policy     asn1.ObjectIdentifier
		Qualifiers []qualifier `asn1:"optional,omitempty"`
	}
	der, err := asn1.Marshal([]info{
		{Policy: asn1.ObjectIdentifier{1, 2, 3}},
		{
			Policy:     asn1.ObjectIdentifier{2, 5, 29, 32, 0},
			Qualifiers: []qualifier{{ID: asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 1}, Value: "http://cps"}},
		},
	})
	require.NoError(t, err)
	return der
}

func TestDecodeCertificatePolicies(t *testing.T) {
	policies, err := DecodeCertificatePolicies(marshalPolicies(t))
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, "1.2.3", policies[0].Policy)
	assert.Empty(t, policies[0].Qualifiers)
	assert.Equal(t, AnyPolicy, policies[1].Policy)
	require.Len(t, policies[1].Qualifiers, 1)
	assert.Equal(t, "1.3.6.1.5.5.7.2.1", policies[1].Qualifiers[0].ID.String())

	_, err = DecodeCertificatePolicies([]byte{0x30, 0x02, 0x30, 0x00})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodePolicyMappings(t *testing.T) {
	type mapping struct {
		Issuer, Subject asn1.ObjectIdentifier
	}
	der, err := asn1.Marshal([]mapping{{asn1.ObjectIdentifier{1, 1}, asn1.ObjectIdentifier{1, 2}}})
	require.NoError(t, err)

	got, err := DecodePolicyMappings(der)
	require.NoError(t, err)
	want := []PolicyMapping{{IssuerDomainPolicy: "1.1", SubjectDomainPolicy: "1.2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodePolicyMappings mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodePolicyConstraints(t *testing.T) {
	tests := []struct {
		name string
		der  []byte
		want PolicyConstraints
	}{
		{"empty", []byte{0x30, 0x00}, PolicyConstraints{-1, -1}},
		{"require", []byte{0x30, 0x03, 0x80, 0x01, 0x02}, PolicyConstraints{2, -1}},
		{"inhibit", []byte{0x30, 0x03, 0x81, 0x01, 0x00}, PolicyConstraints{-1, 0}},
		{"both", []byte{0x30, 0x06, 0x80, 0x01, 0x00, 0x81, 0x01, 0x01}, PolicyConstraints{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePolicyConstraints(tt.der)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInhibitAnyPolicy(t *testing.T) {
	skip, err := DecodeInhibitAnyPolicy([]byte{0x02, 0x01, 0x03})
	require.NoError(t, err)
	assert.Equal(t, 3, skip)

	_, err = DecodeInhibitAnyPolicy([]byte{0x02, 0x01, 0xff})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNameConstraintsRoundTrip(t *testing.T) {
	_, network, _ := net.ParseCIDR("192.168.0.0/16")
	der, err := MarshalNameConstraints(
		[]GeneralName{DNSName("example.com"), IPSubtreeName(network)},
		[]GeneralName{EmailName(".bad.example.com")},
	)
	require.NoError(t, err)

	nc, err := DecodeNameConstraints(der)
	require.NoError(t, err)
	assert.True(t, nc.HasPermitted)
	require.Len(t, nc.Permitted, 2)
	require.Len(t, nc.Excluded, 1)
	assert.Equal(t, "example.com", nc.Permitted[0].Base.Text)
	assert.Equal(t, -1, nc.Permitted[0].Maximum)
	assert.Equal(t, []byte{192, 168, 0, 0, 255, 255, 0, 0}, nc.Permitted[1].Base.IP)
	assert.Equal(t, FormRFC822, nc.Excluded[0].Base.Form)

	der, err = MarshalNameConstraints(nil, []GeneralName{DNSName("x")})
	require.NoError(t, err)
	nc, err = DecodeNameConstraints(der)
	require.NoError(t, err)
	assert.False(t, nc.HasPermitted)
}

func TestReasonFlagsEncoding(t *testing.T) {
	for _, flags := range []ReasonFlags{
		0,
		ReasonFlagKeyCompromise,
		ReasonFlagKeyCompromise | ReasonFlagCACompromise,
		ReasonFlagAACompromise,
		AllReasonFlags,
	} {
		got, ok := parseReasonFlags(marshalReasonFlags(flags))
		require.True(t, ok)
		assert.Equal(t, flags, got)
	}
	// keyCompromise and cACompromise are bits 1 and 2: 0x60 with 5 unused bits.
	assert.Equal(t, []byte{5, 0x60}, marshalReasonFlags(ReasonFlagKeyCompromise|ReasonFlagCACompromise))
}

func TestDistributionPointsRoundTrip(t *testing.T) {
	dps := []DistributionPoint{
		{
			Name:       &DistributionPointName{FullName: []GeneralName{URIName("http://crl.example.com/ca.crl")}},
			HasReasons: true,
			Reasons:    ReasonFlagKeyCompromise,
		},
		{
			Name: &DistributionPointName{RelativeName: pkix.RelativeDistinguishedNameSET{
				{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "CRL1"},
			}},
			CRLIssuer: []GeneralName{DirName(name("Indirect"))},
		},
	}
	der, err := MarshalCRLDistributionPoints(dps)
	require.NoError(t, err)

	got, err := DecodeCRLDistributionPoints(der)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].HasReasons)
	assert.Equal(t, ReasonFlagKeyCompromise, got[0].Reasons)
	assert.False(t, got[0].Name.IsRelative())
	assert.Equal(t, "http://crl.example.com/ca.crl", got[0].Name.FullName[0].Text)

	assert.True(t, got[1].Name.IsRelative())
	require.Len(t, got[1].CRLIssuer, 1)
	resolved := got[1].Name.Names([]pkix.RDNSequence{name("Issuer")})
	require.Len(t, resolved, 1)
	assert.True(t, NamesEqual(resolved[0].DirectoryName, append(name("Issuer"), pkix.RelativeDistinguishedNameSET{
		{Type: asn1.ObjectIdentifier{2, 5, 4, 3}, Value: "CRL1"},
	})))
}

func TestIssuingDistributionPointRoundTrip(t *testing.T) {
	idp := &IssuingDistributionPoint{
		Name:                &DistributionPointName{FullName: []GeneralName{DirName(name("CRL"))}},
		OnlyContainsCACerts: true,
		HasOnlySomeReasons:  true,
		OnlySomeReasons:     ReasonFlagSuperseded | ReasonFlagCessationOfOperation,
		IndirectCRL:         true,
	}
	der, err := idp.Marshal()
	require.NoError(t, err)

	got, err := DecodeIssuingDistributionPoint(der)
	require.NoError(t, err)
	assert.False(t, got.OnlyContainsUserCerts)
	assert.True(t, got.OnlyContainsCACerts)
	assert.True(t, got.HasOnlySomeReasons)
	assert.Equal(t, idp.OnlySomeReasons, got.OnlySomeReasons)
	assert.True(t, got.IndirectCRL)
	assert.False(t, got.OnlyContainsAttributeCerts)
	require.NotNil(t, got.Name)
	assert.True(t, got.Name.FullName[0].Equal(idp.Name.FullName[0]))

	empty, err := DecodeIssuingDistributionPoint([]byte{0x30, 0x00})
	require.NoError(t, err)
	assert.Nil(t, empty.Name)
}

func TestDecodeCRLNumber(t *testing.T) {
	der, _ := asn1.Marshal(big.NewInt(1234567))
	n, err := DecodeCRLNumber(der)
	require.NoError(t, err)
	assert.Equal(t, int64(1234567), n.Int64())

	neg, _ := asn1.Marshal(big.NewInt(-1))
	_, err = DecodeCRLNumber(neg)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeGeneralizedTime(t *testing.T) {
	when := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	der, err := asn1.MarshalWithParams(when, "generalized")
	require.NoError(t, err)
	got, err := DecodeGeneralizedTime(der)
	require.NoError(t, err)
	assert.True(t, got.Equal(when))
}

func TestExtensionLookup(t *testing.T) {
	exts := []pkix.Extension{
		{Id: OIDKeyUsage, Critical: true, Value: []byte{1}},
		{Id: OIDSubjectAltName, Value: []byte{2}},
	}
	assert.Equal(t, []byte{1}, Value(exts, OIDKeyUsage))
	assert.Nil(t, Value(exts, OIDNameConstraints))
	assert.True(t, IsCritical(exts, OIDKeyUsage))
	assert.False(t, IsCritical(exts, OIDSubjectAltName))
	assert.Equal(t, map[string]bool{"2.5.29.15": true}, CriticalIDs(exts))
}

func TestSplitSigned(t *testing.T) {
	alg, _ := asn1.Marshal(pkix.AlgorithmIdentifier{Algorithm: asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}})
	tbs, _ := asn1.Marshal(struct{ A int }{A: 5})
	sig, _ := asn1.Marshal(asn1.BitString{Bytes: []byte{1, 2, 3}, BitLength: 24})
	body := append(append(append([]byte{}, tbs...), alg...), sig...)
	der, _ := asn1.Marshal(asn1.RawValue{Tag: asn1.TagSequence, IsCompound: true, Bytes: body})

	signed, err := SplitSigned(der)
	require.NoError(t, err)
	assert.Equal(t, tbs, signed.TBS)
	assert.Equal(t, "1.2.840.10045.4.3.2", signed.Algorithm.Algorithm.String())
	assert.Equal(t, []byte{1, 2, 3}, signed.Signature)

	_, err = SplitSigned(der[:len(der)-1])
	assert.Error(t, err)
}
