// Package certvalidator provides X.509 certificate path validation.
// This file contains certificate stores and path building functionality.
package certvalidator

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// CertStore is a source of certificates.
type CertStore interface {
	// FindCertificates returns the certificates matching sel.
	FindCertificates(sel *CertSelector) ([]*x509.Certificate, error)
}

// CertCollection is an in-memory CertStore indexed by subject name and
// subject key identifier.
type CertCollection struct {
	mu sync.RWMutex

	certs []*x509.Certificate
	seen  map[[32]byte]bool

	// Index by canonical subject name for issuer lookups
	subjectMap map[string][]*x509.Certificate

	// Index by key identifier
	keyIDMap map[string][]*x509.Certificate
}

// NewCertCollection creates a collection holding certs.
func NewCertCollection(certs ...*x509.Certificate) *CertCollection {
	c := &CertCollection{
		seen:       make(map[[32]byte]bool),
		subjectMap: make(map[string][]*x509.Certificate),
		keyIDMap:   make(map[string][]*x509.Certificate),
	}
	for _, cert := range certs {
		c.Add(cert)
	}
	return c
}

// Add registers a certificate. Returns false if it was already present.
func (c *CertCollection) Add(cert *x509.Certificate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	fp := CertificateFingerprint(cert)
	if c.seen[fp] {
		return false
	}
	c.seen[fp] = true
	c.certs = append(c.certs, cert)

	if subject, err := x509ext.ParseName(cert.RawSubject); err == nil {
		key := canonicalNameKey(subject)
		c.subjectMap[key] = append(c.subjectMap[key], cert)
	}
	if len(cert.SubjectKeyId) > 0 {
		key := string(cert.SubjectKeyId)
		c.keyIDMap[key] = append(c.keyIDMap[key], cert)
	}
	return true
}

// All returns all certificates in insertion order.
func (c *CertCollection) All() []*x509.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*x509.Certificate(nil), c.certs...)
}

// Count returns the number of certificates in the collection.
func (c *CertCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.certs)
}

// FindCertificates implements CertStore.
func (c *CertCollection) FindCertificates(sel *CertSelector) ([]*x509.Certificate, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	candidates := c.certs
	switch {
	case sel == nil:
	case sel.Certificate != nil:
		if !c.seen[CertificateFingerprint(sel.Certificate)] {
			return nil, nil
		}
		candidates = []*x509.Certificate{sel.Certificate}
	case sel.Subject != nil:
		candidates = c.subjectMap[canonicalNameKey(sel.Subject)]
	case sel.SubjectKeyID != nil:
		candidates = c.keyIDMap[string(sel.SubjectKeyID)]
	}

	var out []*x509.Certificate
	for _, cert := range candidates {
		if sel.Matches(cert) {
			out = append(out, cert)
		}
	}
	return out, nil
}

// canonicalNameKey returns a map key that is equal for names that compare
// equal with x509ext.NamesEqual.
func canonicalNameKey(name pkix.RDNSequence) string {
	rdns := make([]string, 0, len(name))
	for _, rdn := range name {
		atvs := make([]string, 0, len(rdn))
		for _, atv := range rdn {
			atvs = append(atvs, atv.Type.String()+"="+x509ext.CanonicalValue(atv.Value))
		}
		sort.Strings(atvs)
		rdns = append(rdns, strings.Join(atvs, "+"))
	}
	return strings.Join(rdns, ",")
}

// findCertificates queries every store and returns the distinct matches. A
// store error is returned only when no store produced a certificate.
func findCertificates(sel *CertSelector, stores []CertStore) ([]*x509.Certificate, error) {
	var (
		out     []*x509.Certificate
		lastErr error
	)
	for _, store := range stores {
		found, err := store.FindCertificates(sel)
		if err != nil {
			lastErr = err
			continue
		}
		for _, cert := range found {
			if !containsCert(out, cert) {
				out = append(out, cert)
			}
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("certificate store: %w", lastErr)
	}
	return out, nil
}

// BuildResult is the outcome of a successful path build: the validated path
// with its validation result.
type BuildResult struct {
	ValidationResult
}

// PathBuilder builds certification paths from a target certificate to a
// trust anchor by depth-first search with backtracking.
type PathBuilder struct {
	validator *PathValidator
}

// NewPathBuilder creates a new PathBuilder.
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{validator: NewPathValidator()}
}

// Build finds a target matching params.TargetConstraints and returns the
// first path from it to a trust anchor that validates. When every branch
// fails the last branch error is returned inside a *BuildFailure.
func (b *PathBuilder) Build(ctx context.Context, params *BuilderParameters) (*BuildResult, error) {
	if err := params.check(); err != nil {
		return nil, err
	}
	if params.TargetConstraints == nil {
		return nil, NewConfigurationError("TargetConstraints", "target constraints must be set")
	}

	targets, err := b.targets(params)
	if len(targets) == 0 {
		if err != nil {
			return nil, NewBuildFailure("path building failed", fmt.Errorf("%w: %v", ErrNoTargetFound, err))
		}
		return nil, NewBuildFailure("path building failed", ErrNoTargetFound)
	}

	w := &pathWalker{
		ctx:    ctx,
		params: params,
		log:    params.logger(),
		accept: func(path *CertificationPath) (*BuildResult, error) {
			res, err := b.validator.Validate(ctx, path, &params.ValidationParameters)
			if err != nil {
				return nil, err
			}
			return &BuildResult{ValidationResult: *res}, nil
		},
	}
	var lastErr error
	for _, target := range targets {
		res, err := w.extend(target, nil)
		if err == nil {
			return res, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}
	return nil, NewBuildFailure("unable to find certificate chain", lastErr)
}

func (b *PathBuilder) targets(params *BuilderParameters) ([]*x509.Certificate, error) {
	sel := params.TargetConstraints
	if sel.Certificate != nil {
		if sel.Matches(sel.Certificate) {
			return []*x509.Certificate{sel.Certificate}, nil
		}
		return nil, nil
	}
	return findCertificates(sel, params.CertStores)
}

// pathWalker recursively walks the certificate graph to find paths.
type pathWalker struct {
	ctx    context.Context
	params *BuilderParameters
	log    logrus.FieldLogger

	// accept validates a path that reached a trust anchor.
	accept func(path *CertificationPath) (*BuildResult, error)
}

// extend appends cert to path (held anchor end first) and searches
// onwards from it.
func (w *pathWalker) extend(cert *x509.Certificate, path *ConsList[*x509.Certificate]) (*BuildResult, error) {
	if err := w.ctx.Err(); err != nil {
		return nil, err
	}
	if containsCert(path.ToSlice(), cert) {
		return nil, fmt.Errorf("%w: certificate %s already on the path", ErrNoChain, DescribeCertificate(cert))
	}
	if w.params.isExcluded(cert) {
		return nil, fmt.Errorf("%w: certificate %s is excluded", ErrNoChain, DescribeCertificate(cert))
	}
	if w.params.MaxPathLength != -1 && path.Len()-1 > w.params.MaxPathLength {
		return nil, fmt.Errorf("%w: maximum path length %d exceeded", ErrNoChain, w.params.MaxPathLength)
	}
	path = path.Prepend(cert)

	anchor, err := findTrustAnchor(cert, w.params.TrustAnchors, w.params.verifier())
	if err != nil && anchor == nil {
		return nil, err
	}
	if anchor != nil {
		certs := path.ToSlice()
		for i, j := 0, len(certs)-1; i < j; i, j = i+1, j-1 {
			certs[i], certs[j] = certs[j], certs[i]
		}
		w.log.WithField("anchor", anchor.String()).Debugf("validating path of %d certificates", len(certs))
		return w.accept(&CertificationPath{certs: certs})
	}

	stores, err := w.issuerStores(cert)
	if err != nil {
		return nil, err
	}
	issuers, err := w.findIssuers(cert, stores)
	if len(issuers) == 0 {
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrNoIssuerFound, DescribeCertificate(cert), err)
		}
		return nil, fmt.Errorf("%w for %s", ErrNoIssuerFound, DescribeCertificate(cert))
	}

	var lastErr error
	for _, issuer := range issuers {
		if IsSelfIssued(issuer) {
			continue
		}
		w.log.WithFields(logrus.Fields{
			"cert":   DescribeCertificate(cert),
			"issuer": DescribeCertificate(issuer),
		}).Debug("trying issuer candidate")
		res, err := w.extend(issuer, path)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		w.log.WithError(err).Debug("backtracking")
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w for %s", ErrNoIssuerFound, DescribeCertificate(cert))
	}
	return nil, lastErr
}

// issuerStores returns the configured stores plus the named stores of the
// issuer alternative name URIs of cert.
func (w *pathWalker) issuerStores(cert *x509.Certificate) ([]CertStore, error) {
	stores := append([]CertStore(nil), w.params.CertStores...)
	uris, err := issuerAltNameURIs(cert)
	if err != nil {
		return nil, err
	}
	for _, uri := range uris {
		if named := w.params.NamedStores[uri]; named != nil && named.Certs != nil {
			stores = append(stores, named.Certs)
		}
	}
	return stores, nil
}

// findIssuers returns the certificates whose subject is the issuer of cert.
func (w *pathWalker) findIssuers(cert *x509.Certificate, stores []CertStore) ([]*x509.Certificate, error) {
	issuer, err := x509ext.ParseName(cert.RawIssuer)
	if err != nil {
		return nil, fmt.Errorf("issuer name could not be decoded: %w", err)
	}
	found, err := findCertificates(SelectSubject(issuer), stores)
	var out []*x509.Certificate
	for _, c := range found {
		if IsPotentialIssuerOf(c, cert) {
			out = append(out, c)
		}
	}
	return out, err
}
