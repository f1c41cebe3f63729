package certvalidator

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"

	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// Test helper functions

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var testSerial atomic.Int64

var (
	policyA = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1, 1}
	policyB = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1, 2}
	policyC = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1, 3}

	oidCPSQualifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 2, 1}
	oidRole         = asn1.ObjectIdentifier{2, 5, 4, 72}
	oidClearance    = asn1.ObjectIdentifier{2, 5, 1, 5, 55}
	oidUnknownExt   = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 9, 9}
)

// testIdentity is a certificate with its private key.
type testIdentity struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

func testName(cn string) pkix.Name {
	return pkix.Name{Country: []string{"DE"}, Organization: []string{"Certpath Test"}, CommonName: cn}
}

func rdnName(cn string) pkix.RDNSequence {
	return testName(cn).ToRDNSequence()
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// issue signs tmpl for key with issuer, or self-signs it when issuer is nil.
func issue(t *testing.T, tmpl *x509.Certificate, key *ecdsa.PrivateKey, issuer *testIdentity) *testIdentity {
	t.Helper()
	if tmpl.SerialNumber == nil {
		tmpl.SerialNumber = big.NewInt(testSerial.Add(1) + 100)
	}
	if tmpl.NotBefore.IsZero() {
		tmpl.NotBefore = testNow.Add(-30 * 24 * time.Hour)
	}
	if tmpl.NotAfter.IsZero() {
		tmpl.NotAfter = testNow.Add(365 * 24 * time.Hour)
	}
	parent, signer := tmpl, key
	if issuer != nil {
		parent, signer = issuer.cert, issuer.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &testIdentity{cert: cert, key: key}
}

func caTemplate(cn string) *x509.Certificate {
	return &x509.Certificate{
		Subject:               testName(cn),
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            -1,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
}

func applyMods(tmpl *x509.Certificate, mods []func(*x509.Certificate)) *x509.Certificate {
	for _, mod := range mods {
		mod(tmpl)
	}
	return tmpl
}

func newRoot(t *testing.T, cn string, mods ...func(*x509.Certificate)) *testIdentity {
	t.Helper()
	return issue(t, applyMods(caTemplate(cn), mods), newKey(t), nil)
}

func newCA(t *testing.T, cn string, issuer *testIdentity, mods ...func(*x509.Certificate)) *testIdentity {
	t.Helper()
	return issue(t, applyMods(caTemplate(cn), mods), newKey(t), issuer)
}

func newLeaf(t *testing.T, cn string, issuer *testIdentity, mods ...func(*x509.Certificate)) *testIdentity {
	t.Helper()
	tmpl := &x509.Certificate{
		Subject:  testName(cn),
		KeyUsage: x509.KeyUsageDigitalSignature,
	}
	return issue(t, applyMods(tmpl, mods), newKey(t), issuer)
}

func withPathLen(n int) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.MaxPathLen = n
		c.MaxPathLenZero = n == 0
	}
}

func withExtensions(exts ...pkix.Extension) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.ExtraExtensions = append(c.ExtraExtensions, exts...)
	}
}

func withDNSNames(names ...string) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.DNSNames = append(c.DNSNames, names...)
	}
}

func withKeyUsage(ku x509.KeyUsage) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.KeyUsage = ku
	}
}

func withValidity(notBefore, notAfter time.Time) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

func withSerial(serial int64) func(*x509.Certificate) {
	return func(c *x509.Certificate) {
		c.SerialNumber = big.NewInt(serial)
	}
}

// Extension builders

type policyQualifierInfo struct {
	ID        asn1.ObjectIdentifier
	Qualifier string `asn1:"ia5"`
}

type policyInformation struct {
	Policy     asn1.ObjectIdentifier
	Qualifiers []policyQualifierInfo `asn1:"optional"`
}

func policiesExt(t *testing.T, critical bool, policies ...asn1.ObjectIdentifier) pkix.Extension {
	t.Helper()
	infos := make([]policyInformation, 0, len(policies))
	for _, p := range policies {
		infos = append(infos, policyInformation{Policy: p})
	}
	value, err := asn1.Marshal(infos)
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDCertificatePolicies, Critical: critical, Value: value}
}

func policiesWithCPSExt(t *testing.T, policy asn1.ObjectIdentifier, cps string) pkix.Extension {
	t.Helper()
	value, err := asn1.Marshal([]policyInformation{{
		Policy:     policy,
		Qualifiers: []policyQualifierInfo{{ID: oidCPSQualifier, Qualifier: cps}},
	}})
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDCertificatePolicies, Value: value}
}

func mappingsExt(t *testing.T, pairs ...[2]asn1.ObjectIdentifier) pkix.Extension {
	t.Helper()
	type mapping struct {
		Issuer  asn1.ObjectIdentifier
		Subject asn1.ObjectIdentifier
	}
	mappings := make([]mapping, 0, len(pairs))
	for _, p := range pairs {
		mappings = append(mappings, mapping{Issuer: p[0], Subject: p[1]})
	}
	value, err := asn1.Marshal(mappings)
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDPolicyMappings, Critical: true, Value: value}
}

// policyConstraintsExt encodes the policy constraints extension; a negative
// value omits the field.
func policyConstraintsExt(t *testing.T, requireExplicit, inhibitMapping int) pkix.Extension {
	t.Helper()
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		if requireExplicit >= 0 {
			seq.AddASN1Int64WithTag(int64(requireExplicit), cryptobyte_asn1.Tag(0).ContextSpecific())
		}
		if inhibitMapping >= 0 {
			seq.AddASN1Int64WithTag(int64(inhibitMapping), cryptobyte_asn1.Tag(1).ContextSpecific())
		}
	})
	value, err := b.Bytes()
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDPolicyConstraints, Critical: true, Value: value}
}

func inhibitAnyPolicyExt(t *testing.T, skip int) pkix.Extension {
	t.Helper()
	value, err := asn1.Marshal(skip)
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDInhibitAnyPolicy, Critical: true, Value: value}
}

func nameConstraintsExt(t *testing.T, permitted, excluded []x509ext.GeneralName) pkix.Extension {
	t.Helper()
	value, err := x509ext.MarshalNameConstraints(permitted, excluded)
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDNameConstraints, Critical: true, Value: value}
}

func crlDistributionPointsExt(t *testing.T, dps ...x509ext.DistributionPoint) pkix.Extension {
	t.Helper()
	value, err := x509ext.MarshalCRLDistributionPoints(dps)
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDCRLDistributionPoints, Value: value}
}

func uriDistributionPoint(uri string) x509ext.DistributionPoint {
	return x509ext.DistributionPoint{
		Name: &x509ext.DistributionPointName{FullName: []x509ext.GeneralName{x509ext.URIName(uri)}},
	}
}

// CRL builders

type crlOptions struct {
	number     int64
	entries    []x509.RevocationListEntry
	exts       []pkix.Extension
	thisUpdate time.Time
	nextUpdate time.Time
}

func newCRL(t *testing.T, issuer *testIdentity, opts crlOptions) *revinfo.CRLInfo {
	t.Helper()
	if opts.number == 0 {
		opts.number = 1
	}
	if opts.thisUpdate.IsZero() {
		opts.thisUpdate = testNow.Add(-24 * time.Hour)
	}
	if opts.nextUpdate.IsZero() {
		opts.nextUpdate = testNow.Add(7 * 24 * time.Hour)
	}
	der, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:                    big.NewInt(opts.number),
		ThisUpdate:                opts.thisUpdate,
		NextUpdate:                opts.nextUpdate,
		RevokedCertificateEntries: opts.entries,
		ExtraExtensions:           opts.exts,
	}, issuer.cert, issuer.key)
	require.NoError(t, err)
	info, err := revinfo.NewCRLInfo(der)
	require.NoError(t, err)
	return info
}

func revokedEntry(cert *x509.Certificate, at time.Time, reason revinfo.RevocationReason) x509.RevocationListEntry {
	return x509.RevocationListEntry{SerialNumber: cert.SerialNumber, RevocationTime: at, ReasonCode: int(reason)}
}

func deltaIndicatorExt(t *testing.T, base int64) pkix.Extension {
	t.Helper()
	value, err := asn1.Marshal(big.NewInt(base))
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDDeltaCRLIndicator, Critical: true, Value: value}
}

func idpExt(t *testing.T, idp *x509ext.IssuingDistributionPoint) pkix.Extension {
	t.Helper()
	value, err := idp.Marshal()
	require.NoError(t, err)
	return pkix.Extension{Id: x509ext.OIDIssuingDistributionPoint, Critical: true, Value: value}
}

// Parameter builders

func anchorFor(t *testing.T, id *testIdentity) *TrustAnchor {
	t.Helper()
	anchor, err := NewCertTrustAnchor(id.cert, nil)
	require.NoError(t, err)
	return anchor
}

// testParams returns builder parameters anchored at anchors with a fake
// clock at testNow and revocation checking disabled.
func testParams(t *testing.T, anchors ...*testIdentity) *BuilderParameters {
	t.Helper()
	tas := make([]*TrustAnchor, 0, len(anchors))
	for _, a := range anchors {
		tas = append(tas, anchorFor(t, a))
	}
	params := NewBuilderParameters(tas...)
	params.Clock = clockwork.NewFakeClockAt(testNow)
	params.RevocationEnabled = false
	return params
}

func addCerts(params *BuilderParameters, ids ...*testIdentity) {
	certs := make([]*x509.Certificate, 0, len(ids))
	for _, id := range ids {
		certs = append(certs, id.cert)
	}
	params.CertStores = append(params.CertStores, NewCertCollection(certs...))
}

func addCRLs(params *BuilderParameters, crls ...*revinfo.CRLInfo) {
	params.CRLStores = append(params.CRLStores, revinfo.NewCRLCollection(crls...))
}

// pathOf returns the path of ids in the given order, target first.
func pathOf(ids ...*testIdentity) *CertificationPath {
	certs := make([]*x509.Certificate, 0, len(ids))
	for _, id := range ids {
		certs = append(certs, id.cert)
	}
	return &CertificationPath{certs: certs}
}

// testPKI is root -> intermediate -> leaf.
type testPKI struct {
	root  *testIdentity
	inter *testIdentity
	leaf  *testIdentity
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	root := newRoot(t, "Test Root")
	inter := newCA(t, "Test Intermediate", root)
	leaf := newLeaf(t, "Test Leaf", inter)
	return &testPKI{root: root, inter: inter, leaf: leaf}
}

// Attribute certificate builder

func newAttrCert(t *testing.T, issuer *testIdentity, holder *x509.Certificate, mods ...func(*x509ext.AttributeCertificateTemplate)) *AttributeCertificate {
	t.Helper()
	holderIssuer, err := x509ext.ParseName(holder.RawIssuer)
	require.NoError(t, err)
	issuerName, err := x509ext.ParseName(issuer.cert.RawSubject)
	require.NoError(t, err)
	role, err := asn1.Marshal("operator")
	require.NoError(t, err)

	tmpl := &x509ext.AttributeCertificateTemplate{
		Holder: x509ext.Holder{BaseCertificateID: &x509ext.IssuerSerial{
			Issuer: []x509ext.GeneralName{x509ext.DirName(holderIssuer)},
			Serial: holder.SerialNumber,
		}},
		IssuerName:   []x509ext.GeneralName{x509ext.DirName(issuerName)},
		Algorithm:    pkix.AlgorithmIdentifier{Algorithm: OIDECDSAWithSHA256},
		SerialNumber: big.NewInt(testSerial.Add(1) + 100),
		NotBefore:    testNow.Add(-time.Hour),
		NotAfter:     testNow.Add(24 * time.Hour),
		Attributes:   []x509ext.Attribute{{Type: oidRole, Values: [][]byte{role}}},
	}
	for _, mod := range mods {
		mod(tmpl)
	}

	tbs, err := x509ext.MarshalAttributeCertificateInfo(tmpl)
	require.NoError(t, err)
	digest := sha256.Sum256(tbs)
	sig, err := ecdsa.SignASN1(rand.Reader, issuer.key, digest[:])
	require.NoError(t, err)
	der, err := x509ext.MarshalSigned(tbs, tmpl.Algorithm, sig)
	require.NoError(t, err)
	ac, err := ParseAttributeCertificate(der)
	require.NoError(t, err)
	return ac
}
