// Package certvalidator provides X.509 certificate path validation.
// This file contains certification paths and validation process state.
package certvalidator

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"strings"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// ConsList is an immutable cons list. The path builder keeps its partial
// path in one so that backtracking is dropping the head.
type ConsList[T any] struct {
	Head T
	Tail *ConsList[T]
}

// NewConsList creates a new cons list with the given head.
func NewConsList[T any](head T) *ConsList[T] {
	return &ConsList[T]{Head: head}
}

// Prepend adds a new head to the cons list.
func (c *ConsList[T]) Prepend(head T) *ConsList[T] {
	return &ConsList[T]{Head: head, Tail: c}
}

// IsEmpty returns true if the cons list is nil.
func (c *ConsList[T]) IsEmpty() bool {
	return c == nil
}

// Len returns the length of the cons list.
func (c *ConsList[T]) Len() int {
	count := 0
	for curr := c; curr != nil; curr = curr.Tail {
		count++
	}
	return count
}

// ToSlice converts the cons list to a slice, head first.
func (c *ConsList[T]) ToSlice() []T {
	if c == nil {
		return nil
	}
	result := make([]T, 0, c.Len())
	for curr := c; curr != nil; curr = curr.Tail {
		result = append(result, curr.Head)
	}
	return result
}

// CertificationPath is an ordered list of certificates, target first. The
// trust anchor is not part of the path unless the caller included its
// certificate.
type CertificationPath struct {
	certs []*x509.Certificate
}

// NewCertificationPath creates a path from certs. When the certificates are
// not already chained target first, a best-effort sort puts each
// certificate's issuer right after it; certificates that do not fit the
// chain are kept at the end in their original order.
func NewCertificationPath(certs []*x509.Certificate) *CertificationPath {
	return &CertificationPath{certs: sortCertificates(certs)}
}

func sortCertificates(certs []*x509.Certificate) []*x509.Certificate {
	out := append([]*x509.Certificate(nil), certs...)
	if len(out) < 2 || isChained(out) {
		return out
	}

	// the target is a certificate that issued none of the others
	target := -1
	for i, c := range out {
		issuesOther := false
		for j, d := range out {
			if i != j && namesMatch(c.RawSubject, d.RawIssuer) && !IsSelfIssued(d) {
				issuesOther = true
				break
			}
		}
		if !issuesOther {
			target = i
			break
		}
	}
	if target < 0 {
		return out
	}

	used := make([]bool, len(out))
	used[target] = true
	sorted := []*x509.Certificate{out[target]}
	for current := out[target]; ; {
		next := -1
		for j, d := range out {
			if !used[j] && namesMatch(d.RawSubject, current.RawIssuer) {
				next = j
				break
			}
		}
		if next < 0 || IsSelfIssued(current) {
			break
		}
		used[next] = true
		sorted = append(sorted, out[next])
		current = out[next]
	}
	for j, c := range out {
		if !used[j] {
			sorted = append(sorted, c)
		}
	}
	return sorted
}

func isChained(certs []*x509.Certificate) bool {
	for i := 0; i+1 < len(certs); i++ {
		if !namesMatch(certs[i].RawIssuer, certs[i+1].RawSubject) {
			return false
		}
	}
	return true
}

// Certificates returns a copy of the path, target first.
func (p *CertificationPath) Certificates() []*x509.Certificate {
	return append([]*x509.Certificate(nil), p.certs...)
}

// Len returns the number of certificates in the path.
func (p *CertificationPath) Len() int {
	if p == nil {
		return 0
	}
	return len(p.certs)
}

// Target returns the first certificate of the path.
func (p *CertificationPath) Target() *x509.Certificate {
	if p.Len() == 0 {
		return nil
	}
	return p.certs[0]
}

// Top returns the certificate closest to the trust anchor.
func (p *CertificationPath) Top() *x509.Certificate {
	if p.Len() == 0 {
		return nil
	}
	return p.certs[len(p.certs)-1]
}

// Equal reports whether two paths hold the same certificates in order.
func (p *CertificationPath) Equal(other *CertificationPath) bool {
	if p.Len() != other.Len() {
		return false
	}
	for i := range p.certs {
		if !CompareCertificates(p.certs[i], other.certs[i]) {
			return false
		}
	}
	return true
}

func (p *CertificationPath) String() string {
	names := make([]string, 0, p.Len())
	for _, c := range p.certs {
		names = append(names, c.Subject.String())
	}
	return strings.Join(names, " <- ")
}

// validationState holds the state variables of RFC 5280 section 6.1.2 for
// one Validate call.
type validationState struct {
	n     int
	index int

	anchor          *TrustAnchor
	policyTree      *PolicyTree
	nameConstraints *NameConstraintSet

	explicitPolicy   int
	inhibitAnyPolicy int
	policyMapping    int
	maxPathLength    int

	workingKey    crypto.PublicKey
	workingIssuer pkix.RDNSequence
}

func newValidationState(n int, anchor *TrustAnchor, params *ValidationParameters) (*validationState, error) {
	initial := func(set bool) int {
		if set {
			return 0
		}
		return n + 1
	}
	s := &validationState{
		n:                n,
		anchor:           anchor,
		policyTree:       NewPolicyTree(n),
		nameConstraints:  NewNameConstraintSet(),
		explicitPolicy:   initial(params.ExplicitPolicyRequired),
		inhibitAnyPolicy: initial(params.AnyPolicyInhibited),
		policyMapping:    initial(params.PolicyMappingInhibited),
		maxPathLength:    n,
		workingKey:       anchor.PublicKey(),
		workingIssuer:    anchor.Name(),
	}
	s.nameConstraints.SerialNumberPrefixMatch = params.SerialNumberPrefixMatch
	if nc := anchor.NameConstraints(); nc != nil {
		decoded, err := x509ext.DecodeNameConstraints(nc)
		if err != nil {
			return nil, err
		}
		if err := s.nameConstraints.Apply(decoded); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// i returns the RFC 5280 position of the current certificate, 1 at the
// anchor end.
func (s *validationState) i() int {
	return s.n - s.index
}

// describeCert names the current certificate for log entries.
func (s *validationState) describeCert() string {
	if s.index == 0 {
		return "end-entity certificate"
	}
	return fmt.Sprintf("intermediate certificate %d", s.i())
}
