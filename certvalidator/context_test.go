package certvalidator

import (
	"crypto/x509"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCertSelectorMatches(t *testing.T) {
	pki := newTestPKI(t)

	tests := []struct {
		name     string
		selector *CertSelector
		want     bool
	}{
		{"nil selector", nil, true},
		{"empty selector", &CertSelector{}, true},
		{"exact certificate", SelectCertificate(pki.leaf.cert), true},
		{"other certificate", SelectCertificate(pki.inter.cert), false},
		{"subject", SelectSubject(rdnName("Test Leaf")), true},
		{"wrong subject", SelectSubject(rdnName("Nobody")), false},
		{"issuer", &CertSelector{Issuer: rdnName("Test Intermediate")}, true},
		{"wrong issuer", &CertSelector{Issuer: rdnName("Test Root")}, false},
		{"serial", &CertSelector{SerialNumber: pki.leaf.cert.SerialNumber}, true},
		{"wrong serial", &CertSelector{SerialNumber: big.NewInt(1)}, false},
		{"wrong key id", &CertSelector{SubjectKeyID: []byte{1, 2, 3}}, false},
		{"predicate", &CertSelector{Match: func(c *x509.Certificate) bool { return !c.IsCA }}, true},
		{"failing predicate", &CertSelector{Match: func(c *x509.Certificate) bool { return c.IsCA }}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.selector.Matches(pki.leaf.cert))
		})
	}
}

func TestValidationParametersDefaults(t *testing.T) {
	params := NewValidationParameters()
	assert.True(t, params.RevocationEnabled)
	assert.Equal(t, PointInTime, params.ValidityModel)
	assert.NotNil(t, params.verifier())
	assert.NotNil(t, params.logger())

	var ce *ConfigurationError
	require.True(t, errors.As(params.check(), &ce))
	assert.Equal(t, "TrustAnchors", ce.Field)

	params.TrustAnchors = []*TrustAnchor{nil}
	assert.Error(t, params.check())

	empty := &ValidationParameters{}
	assert.NotNil(t, empty.verifier())
	assert.False(t, empty.now().IsZero())
}

func TestValidationParametersDate(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testNow)
	params := NewValidationParameters()
	params.Clock = clock

	assert.Equal(t, testNow, params.validationDate())
	clock.Advance(time.Hour)
	assert.Equal(t, testNow.Add(time.Hour), params.validationDate())

	fixed := testNow.Add(-72 * time.Hour)
	params.Date = fixed
	assert.Equal(t, fixed, params.validationDate())
}

func TestValidationParametersClone(t *testing.T) {
	root := newRoot(t, "Clone Root")
	params := NewValidationParameters(anchorFor(t, root))
	params.InitialPolicies = []string{policyA.String()}
	params.NamedStores = map[string]*NamedStore{"ldap://a": {}}
	params.TargetConstraints = SelectSubject(rdnName("Target"))

	clone := params.Clone()
	clone.TrustAnchors = append(clone.TrustAnchors, anchorFor(t, newRoot(t, "Extra")))
	clone.InitialPolicies[0] = policyB.String()
	clone.NamedStores["ldap://b"] = &NamedStore{}
	clone.TargetConstraints.Subject = rdnName("Changed")

	assert.Len(t, params.TrustAnchors, 1)
	assert.Equal(t, []string{policyA.String()}, params.InitialPolicies)
	assert.Len(t, params.NamedStores, 1)
	assert.Equal(t, rdnName("Target"), params.TargetConstraints.Subject)
}

func TestBuilderParametersClone(t *testing.T) {
	pki := newTestPKI(t)
	params := NewBuilderParameters(anchorFor(t, pki.root))
	assert.Equal(t, DefaultMaxPathLength, params.MaxPathLength)

	params.ExcludedCerts = []*x509.Certificate{pki.inter.cert}
	assert.True(t, params.isExcluded(pki.inter.cert))
	assert.False(t, params.isExcluded(pki.leaf.cert))

	clone := params.Clone()
	clone.ExcludedCerts[0] = pki.leaf.cert
	clone.MaxPathLength = 1
	assert.True(t, params.isExcluded(pki.inter.cert))
	assert.Equal(t, DefaultMaxPathLength, params.MaxPathLength)
}

func TestValidityModelString(t *testing.T) {
	assert.Equal(t, "point-in-time", PointInTime.String())
	assert.Equal(t, "chain", ChainModel.String())
}

func TestExtensionCheckerFunc(t *testing.T) {
	unresolved := map[string]bool{oidUnknownExt.String(): true}
	checker := ExtensionCheckerFunc(func(_ *x509.Certificate, unresolved map[string]bool) error {
		delete(unresolved, oidUnknownExt.String())
		return nil
	})
	require.NoError(t, checker.Check(nil, unresolved))
	assert.Empty(t, unresolved)
}
