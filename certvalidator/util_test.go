package certvalidator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

func TestIsSelfIssued(t *testing.T) {
	pki := newTestPKI(t)

	assert.True(t, IsSelfIssued(pki.root.cert))
	assert.False(t, IsSelfIssued(pki.inter.cert))

	// a key rollover certificate is self-issued but not self-signed
	rollover := newCA(t, "Test Root", pki.root)
	assert.True(t, IsSelfIssued(rollover.cert))
}

func TestIsPotentialIssuerOf(t *testing.T) {
	pki := newTestPKI(t)

	assert.True(t, IsPotentialIssuerOf(pki.inter.cert, pki.leaf.cert))
	assert.False(t, IsPotentialIssuerOf(pki.root.cert, pki.leaf.cert))

	// same name, different key identifier
	twin := newCA(t, "Test Intermediate", pki.root)
	assert.False(t, IsPotentialIssuerOf(twin.cert, pki.leaf.cert))
}

func TestCertPathLength(t *testing.T) {
	root := newRoot(t, "Length Root")
	zero := newCA(t, "Zero", root, withPathLen(0))
	two := newCA(t, "Two", root, withPathLen(2))

	tests := []struct {
		name string
		cert *x509.Certificate
		want int
	}{
		{"absent", root.cert, -1},
		{"zero", zero.cert, 0},
		{"two", two.cert, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CertPathLength(tt.cert))
		})
	}
}

func TestGetKeyUsage(t *testing.T) {
	pki := newTestPKI(t)
	assert.Equal(t, []string{"keyCertSign", "cRLSign"}, GetKeyUsage(pki.root.cert))
	assert.Equal(t, []string{"digitalSignature"}, GetKeyUsage(pki.leaf.cert))
	assert.True(t, hasKeyUsageExtension(pki.leaf.cert))

	bare := newLeaf(t, "No Usage", pki.root, withKeyUsage(0))
	assert.Empty(t, GetKeyUsage(bare.cert))
	assert.False(t, hasKeyUsageExtension(bare.cert))
}

func TestDescribeCertificate(t *testing.T) {
	root := newRoot(t, "Described", withSerial(4242))
	assert.Equal(t, "CN=Described,O=Certpath Test,C=DE (serial 4242)", DescribeCertificate(root.cert))
}

func TestDateOfCertGen(t *testing.T) {
	pki := newTestPKI(t)

	_, ok, err := dateOfCertGen(pki.leaf.cert)
	require.NoError(t, err)
	assert.False(t, ok)

	generated := testNow.Add(-48 * time.Hour)
	value, err := asn1.MarshalWithParams(generated, "generalized")
	require.NoError(t, err)
	leaf := newLeaf(t, "Generated", pki.inter, withExtensions(pkix.Extension{Id: x509ext.OIDDateOfCertGen, Value: value}))

	got, ok, err := dateOfCertGen(leaf.cert)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(generated))
}

func TestIssuerAltNameURIs(t *testing.T) {
	value, err := x509ext.MarshalGeneralNames([]x509ext.GeneralName{
		x509ext.DNSName("ca.example.test"),
		x509ext.URIName("ldap://directory.example.test/ca"),
	})
	require.NoError(t, err)
	root := newRoot(t, "IAN Root")
	leaf := newLeaf(t, "IAN Leaf", root, withExtensions(pkix.Extension{Id: x509ext.OIDIssuerAltName, Value: value}))

	uris, err := issuerAltNameURIs(leaf.cert)
	require.NoError(t, err)
	assert.Equal(t, []string{"ldap://directory.example.test/ca"}, uris)

	uris, err = issuerAltNameURIs(root.cert)
	require.NoError(t, err)
	assert.Nil(t, uris)
}

func TestDistributionPointURIs(t *testing.T) {
	dps := []x509ext.DistributionPoint{
		uriDistributionPoint("http://crl.example.test/a.crl"),
		{},
		{Name: &x509ext.DistributionPointName{FullName: []x509ext.GeneralName{x509ext.DNSName("crl.example.test")}}},
	}
	assert.Equal(t, []string{"http://crl.example.test/a.crl"}, distributionPointURIs(dps))
}

func TestContainsCert(t *testing.T) {
	pki := newTestPKI(t)
	certs := []*x509.Certificate{pki.root.cert, pki.inter.cert}
	assert.True(t, containsCert(certs, pki.inter.cert))
	assert.False(t, containsCert(certs, pki.leaf.cert))
	assert.True(t, CompareCertificates(pki.leaf.cert, pki.leaf.cert))
	assert.NotEqual(t, CertificateFingerprint(pki.root.cert), CertificateFingerprint(pki.leaf.cert))
}
