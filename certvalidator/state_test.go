package certvalidator

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsList(t *testing.T) {
	var empty *ConsList[int]
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.ToSlice())

	list := NewConsList(1)
	longer := list.Prepend(2).Prepend(3)

	assert.False(t, longer.IsEmpty())
	assert.Equal(t, 3, longer.Len())
	assert.Equal(t, []int{3, 2, 1}, longer.ToSlice())

	// prepending shares the tail
	assert.Equal(t, 1, list.Len())
	assert.Same(t, list, longer.Tail.Tail)
}

func TestNewCertificationPathSorts(t *testing.T) {
	pki := newTestPKI(t)

	path := NewCertificationPath([]*x509.Certificate{pki.inter.cert, pki.leaf.cert})
	require.Equal(t, 2, path.Len())
	assert.Same(t, pki.leaf.cert, path.Target())
	assert.Same(t, pki.inter.cert, path.Top())

	// an already chained path is kept as is
	chained := NewCertificationPath([]*x509.Certificate{pki.leaf.cert, pki.inter.cert})
	assert.True(t, chained.Equal(path))
}

func TestNewCertificationPathUnrelated(t *testing.T) {
	pki := newTestPKI(t)
	stranger := newRoot(t, "Stranger")

	path := NewCertificationPath([]*x509.Certificate{pki.inter.cert, pki.leaf.cert, stranger.cert})
	certs := path.Certificates()
	require.Len(t, certs, 3)
	assert.Same(t, pki.leaf.cert, certs[0])
	assert.Same(t, pki.inter.cert, certs[1])
	assert.Same(t, stranger.cert, certs[2])
}

func TestCertificationPathAccessors(t *testing.T) {
	var nilPath *CertificationPath
	assert.Equal(t, 0, nilPath.Len())
	assert.Nil(t, nilPath.Target())
	assert.Nil(t, nilPath.Top())

	pki := newTestPKI(t)
	path := pathOf(pki.leaf, pki.inter)
	assert.Equal(t, "CN=Test Leaf,O=Certpath Test,C=DE <- CN=Test Intermediate,O=Certpath Test,C=DE", path.String())

	certs := path.Certificates()
	certs[0] = nil
	assert.NotNil(t, path.Target())

	assert.False(t, path.Equal(pathOf(pki.leaf)))
	assert.False(t, path.Equal(pathOf(pki.inter, pki.leaf)))
}

func TestNewValidationState(t *testing.T) {
	pki := newTestPKI(t)
	anchor := anchorFor(t, pki.root)

	params := NewValidationParameters(anchor)
	params.ExplicitPolicyRequired = true

	s, err := newValidationState(2, anchor, params)
	require.NoError(t, err)
	assert.Equal(t, 0, s.explicitPolicy)
	assert.Equal(t, 3, s.inhibitAnyPolicy)
	assert.Equal(t, 3, s.policyMapping)
	assert.Equal(t, 2, s.maxPathLength)
	assert.Equal(t, anchor.PublicKey(), s.workingKey)

	s.index = 1
	assert.Equal(t, 1, s.i())
	assert.Equal(t, "intermediate certificate 1", s.describeCert())
	s.index = 0
	assert.Equal(t, "end-entity certificate", s.describeCert())
}
