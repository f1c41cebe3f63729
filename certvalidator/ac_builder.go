// Package certvalidator provides X.509 certificate path validation.
// This file contains attribute certificate stores and path building.
package certvalidator

import (
	"bytes"
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// AttrCertSelector matches attribute certificates. Zero fields do not
// constrain the match.
type AttrCertSelector struct {
	// AttributeCert matches exactly this attribute certificate.
	AttributeCert *AttributeCertificate

	SerialNumber *big.Int
	Issuer       pkix.RDNSequence

	// Holder matches ACs whose baseCertificateID or entityName names this
	// certificate.
	Holder *x509.Certificate

	Match func(*AttributeCertificate) bool
}

// Matches reports whether ac satisfies the selector.
func (s *AttrCertSelector) Matches(ac *AttributeCertificate) bool {
	if s == nil {
		return true
	}
	if s.AttributeCert != nil && !s.AttributeCert.Equal(ac) {
		return false
	}
	if s.SerialNumber != nil && s.SerialNumber.Cmp(ac.SerialNumber) != 0 {
		return false
	}
	if s.Issuer != nil && !containsName(ac.IssuerNames(), s.Issuer) {
		return false
	}
	if s.Holder != nil && !holderNames(ac, s.Holder) {
		return false
	}
	if s.Match != nil && !s.Match(ac) {
		return false
	}
	return true
}

func containsName(names []pkix.RDNSequence, name pkix.RDNSequence) bool {
	for _, n := range names {
		if x509ext.NamesEqual(n, name) {
			return true
		}
	}
	return false
}

// holderNames reports whether the holder of ac names cert.
func holderNames(ac *AttributeCertificate, cert *x509.Certificate) bool {
	if is := ac.Holder.BaseCertificateID; is != nil {
		issuer, err := x509ext.ParseName(cert.RawIssuer)
		if err == nil && is.Serial.Cmp(cert.SerialNumber) == 0 && containsName(directoryNames(is.Issuer), issuer) {
			return true
		}
	}
	if len(ac.Holder.EntityName) > 0 {
		subject, err := x509ext.ParseName(cert.RawSubject)
		if err == nil && containsName(directoryNames(ac.Holder.EntityName), subject) {
			return true
		}
	}
	return false
}

// AttrCertStore is a source of attribute certificates.
type AttrCertStore interface {
	FindAttributeCertificates(sel *AttrCertSelector) ([]*AttributeCertificate, error)
}

// AttrCertCollection is an in-memory AttrCertStore.
type AttrCertCollection struct {
	mu   sync.RWMutex
	acs  []*AttributeCertificate
	seen map[[32]byte]bool
}

// NewAttrCertCollection creates a collection holding acs.
func NewAttrCertCollection(acs ...*AttributeCertificate) *AttrCertCollection {
	c := &AttrCertCollection{seen: make(map[[32]byte]bool)}
	for _, ac := range acs {
		c.Add(ac)
	}
	return c
}

// Add registers an attribute certificate. Returns false if it was already present.
func (c *AttrCertCollection) Add(ac *AttributeCertificate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := ac.Fingerprint()
	if c.seen[fp] {
		return false
	}
	c.seen[fp] = true
	c.acs = append(c.acs, ac)
	return true
}

// Count returns the number of attribute certificates in the collection.
func (c *AttrCertCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.acs)
}

// FindAttributeCertificates implements AttrCertStore.
func (c *AttrCertCollection) FindAttributeCertificates(sel *AttrCertSelector) ([]*AttributeCertificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*AttributeCertificate
	for _, ac := range c.acs {
		if sel.Matches(ac) {
			out = append(out, ac)
		}
	}
	return out, nil
}

// AttrCertBuilderParameters configures attribute certificate path building
// and validation. The embedded BuilderParameters govern the issuer and
// holder paths.
type AttrCertBuilderParameters struct {
	BuilderParameters

	// AttrCertConstraints selects the target attribute certificate.
	AttrCertConstraints *AttrCertSelector

	// TrustedACIssuers are the AC issuers that are directly trusted.
	TrustedACIssuers []*TrustAnchor

	// ProhibitedAttributes and NecessaryAttributes are attribute type OIDs
	// in dotted form.
	ProhibitedAttributes []string
	NecessaryAttributes  []string

	AttrCertCheckers []AttrCertChecker
}

// NewAttrCertBuilderParameters returns parameters with the defaults of
// NewBuilderParameters.
func NewAttrCertBuilderParameters(anchors ...*TrustAnchor) *AttrCertBuilderParameters {
	return &AttrCertBuilderParameters{BuilderParameters: *NewBuilderParameters(anchors...)}
}

// Clone returns an independent copy.
func (p *AttrCertBuilderParameters) Clone() *AttrCertBuilderParameters {
	c := *p
	c.BuilderParameters = *p.BuilderParameters.Clone()
	c.TrustedACIssuers = append([]*TrustAnchor(nil), p.TrustedACIssuers...)
	c.ProhibitedAttributes = append([]string(nil), p.ProhibitedAttributes...)
	c.NecessaryAttributes = append([]string(nil), p.NecessaryAttributes...)
	c.AttrCertCheckers = append([]AttrCertChecker(nil), p.AttrCertCheckers...)
	return &c
}

// isTrustedACIssuer reports whether cert is one of TrustedACIssuers, by
// certificate or by name.
func (p *AttrCertBuilderParameters) isTrustedACIssuer(cert *x509.Certificate) bool {
	subject, err := x509ext.ParseName(cert.RawSubject)
	if err != nil {
		return false
	}
	for _, anchor := range p.TrustedACIssuers {
		if ac := anchor.Certificate(); ac != nil {
			if bytes.Equal(ac.Raw, cert.Raw) {
				return true
			}
			continue
		}
		if x509ext.NamesEqual(anchor.Name(), subject) {
			return true
		}
	}
	return false
}

// AttrCertPathBuilder builds and validates the issuer path of an attribute
// certificate.
type AttrCertPathBuilder struct {
	validator *AttrCertValidator
}

// NewAttrCertPathBuilder creates a new AttrCertPathBuilder.
func NewAttrCertPathBuilder() *AttrCertPathBuilder {
	return &AttrCertPathBuilder{validator: NewAttrCertValidator()}
}

// Build finds the target attribute certificate and searches for an issuer
// path that validates together with the AC.
func (b *AttrCertPathBuilder) Build(ctx context.Context, params *AttrCertBuilderParameters) (*AttrCertResult, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	sel := params.AttrCertConstraints
	if sel == nil {
		return nil, NewConfigurationError("AttrCertConstraints", "attribute certificate constraints must be set")
	}

	var targets []*AttributeCertificate
	if sel.AttributeCert != nil {
		if sel.Matches(sel.AttributeCert) {
			targets = append(targets, sel.AttributeCert)
		}
	} else {
		for _, store := range params.AttrCertStores {
			found, err := store.FindAttributeCertificates(sel)
			if err != nil {
				params.logger().WithError(err).Debug("attribute certificate store failed")
				continue
			}
			for _, ac := range found {
				if !containsAttrCert(targets, ac) {
					targets = append(targets, ac)
				}
			}
		}
	}
	if len(targets) == 0 {
		return nil, NewBuildFailure("attribute certificate path building failed", ErrNoTargetFound)
	}

	var lastErr error
	for _, ac := range targets {
		res, err := b.buildFor(ctx, ac, params)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	return nil, NewBuildFailure("unable to find attribute certificate chain", lastErr)
}

func (b *AttrCertPathBuilder) buildFor(ctx context.Context, ac *AttributeCertificate, params *AttrCertBuilderParameters) (*AttrCertResult, error) {
	issuers, err := acIssuerCandidates(ac, params.CertStores)
	if len(issuers) == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrACIssuerNotFound, err)
		}
		return nil, ErrACIssuerNotFound
	}

	log := params.logger().WithField("attribute_certificate", ac.String())
	var result *AttrCertResult
	w := &pathWalker{
		ctx:    ctx,
		params: &params.BuilderParameters,
		log:    log,
		accept: func(path *CertificationPath) (*BuildResult, error) {
			res, err := b.validator.Validate(ctx, ac, path, params)
			if err != nil {
				return nil, err
			}
			result = res
			return &BuildResult{ValidationResult: *res.Issuer}, nil
		},
	}

	var lastErr error
	for _, issuer := range issuers {
		if IsSelfIssued(issuer) {
			continue
		}
		log.WithField("issuer", DescribeCertificate(issuer)).Debug("trying attribute certificate issuer")
		if _, err := w.extend(issuer, nil); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrACIssuerNotFound
	}
	return nil, lastErr
}

// acIssuerCandidates returns the certificates whose subject is an issuer
// name of ac, preferring those matching its authority key identifier.
func acIssuerCandidates(ac *AttributeCertificate, stores []CertStore) ([]*x509.Certificate, error) {
	var (
		candidates []*x509.Certificate
		lastErr    error
	)
	for _, name := range ac.IssuerNames() {
		found, err := findCertificates(SelectSubject(name), stores)
		if err != nil {
			lastErr = err
			continue
		}
		for _, cert := range found {
			if !containsCert(candidates, cert) {
				candidates = append(candidates, cert)
			}
		}
	}
	if aki := ac.authorityKeyID(); aki != nil {
		var filtered []*x509.Certificate
		for _, cert := range candidates {
			if bytes.Equal(cert.SubjectKeyId, aki) {
				filtered = append(filtered, cert)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}
	return candidates, lastErr
}

func containsAttrCert(acs []*AttributeCertificate, ac *AttributeCertificate) bool {
	for _, other := range acs {
		if other.Equal(ac) {
			return true
		}
	}
	return false
}
