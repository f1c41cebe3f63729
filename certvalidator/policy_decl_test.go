package certvalidator

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

func TestDeclaredPolicies(t *testing.T) {
	root := newRoot(t, "Policy Root")
	ca := newCA(t, "Policy CA", root, withExtensions(
		policiesExt(t, true, policyA, x509ext.OIDAnyPolicy),
		mappingsExt(t, [2]asn1.ObjectIdentifier{policyA, policyB}),
		policyConstraintsExt(t, 0, 2),
		inhibitAnyPolicyExt(t, 1),
	))

	decl, err := DeclaredPolicies(ca.cert)
	require.NoError(t, err)

	assert.True(t, decl.HasPolicies)
	assert.True(t, decl.PoliciesCritical)
	assert.Equal(t, []string{policyA.String(), AnyPolicy}, decl.PolicyIDs())
	assert.Equal(t, []x509ext.PolicyMapping{{IssuerDomainPolicy: policyA.String(), SubjectDomainPolicy: policyB.String()}}, decl.Mappings)
	assert.Equal(t, 0, decl.Constraints.RequireExplicitPolicy)
	assert.Equal(t, 2, decl.Constraints.InhibitPolicyMapping)
	assert.Equal(t, 1, decl.InhibitAnyPolicy)
	assert.False(t, decl.HasQualifiers())
	assert.Empty(t, decl.AnyPolicyQualifiers())
}

func TestDeclaredPoliciesAbsent(t *testing.T) {
	root := newRoot(t, "Policy Root")

	decl, err := DeclaredPolicies(root.cert)
	require.NoError(t, err)
	assert.False(t, decl.HasPolicies)
	assert.Empty(t, decl.PolicyIDs())
	assert.Equal(t, -1, decl.Constraints.RequireExplicitPolicy)
	assert.Equal(t, -1, decl.Constraints.InhibitPolicyMapping)
	assert.Equal(t, -1, decl.InhibitAnyPolicy)
}

func TestDeclaredPoliciesQualifiers(t *testing.T) {
	root := newRoot(t, "Policy Root")
	leaf := newLeaf(t, "Qualified Leaf", root, withExtensions(policiesWithCPSExt(t, policyA, "https://cps.example.test")))

	decl, err := DeclaredPolicies(leaf.cert)
	require.NoError(t, err)
	assert.True(t, decl.HasQualifiers())
	require.Len(t, decl.Policies, 1)
	require.Len(t, decl.Policies[0].Qualifiers, 1)
	assert.True(t, decl.Policies[0].Qualifiers[0].ID.Equal(oidCPSQualifier))
}

func TestDeclaredPoliciesMalformed(t *testing.T) {
	cert := &x509.Certificate{Extensions: []pkix.Extension{
		{Id: x509ext.OIDCertificatePolicies, Value: []byte{0x30, 0x03, 0x02, 0x01, 0x00}},
	}}
	_, err := DeclaredPolicies(cert)
	assert.ErrorContains(t, err, "certificate policies")

	cert = &x509.Certificate{Extensions: []pkix.Extension{
		{Id: x509ext.OIDInhibitAnyPolicy, Value: []byte{0x04, 0x00}},
	}}
	_, err = DeclaredPolicies(cert)
	assert.ErrorContains(t, err, "inhibit anyPolicy")
}
