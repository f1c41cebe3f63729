package revinfo

import (
	"bytes"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// ErrNoCRLs is returned when no store holds a usable CRL for a request.
var ErrNoCRLs = errors.New("no valid CRL found")

// CRLSelector describes the CRLs wanted by a revocation check. Zero fields
// do not constrain the match.
type CRLSelector struct {
	// Issuers restricts the CRL issuer to one of these names.
	Issuers []pkix.RDNSequence

	CompleteOnly bool
	DeltaOnly    bool

	// MinCRLNumber requires a CRL number of at least this value.
	MinCRLNumber *big.Int

	// MaxBaseCRLNumber requires a delta CRL whose base is at most this value.
	MaxBaseCRLNumber *big.Int

	// MatchIDP requires the issuing distribution point extension to equal
	// IssuingDistributionPoint byte for byte; nil means absent.
	MatchIDP                 bool
	IssuingDistributionPoint []byte
}

// Match reports whether ci satisfies the selector.
func (s *CRLSelector) Match(ci *CRLInfo) bool {
	if s == nil {
		return true
	}
	if len(s.Issuers) > 0 {
		found := false
		for _, issuer := range s.Issuers {
			if x509ext.NamesEqual(issuer, ci.Issuer) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.CompleteOnly && ci.IsDelta {
		return false
	}
	if s.DeltaOnly && !ci.IsDelta {
		return false
	}
	if s.MinCRLNumber != nil {
		n := ci.Number()
		if n == nil || n.Cmp(s.MinCRLNumber) < 0 {
			return false
		}
	}
	if s.MaxBaseCRLNumber != nil && ci.IsDelta && ci.BaseCRLNumber.Cmp(s.MaxBaseCRLNumber) > 0 {
		return false
	}
	if s.MatchIDP && !bytes.Equal(ci.RawIDP(), s.IssuingDistributionPoint) {
		return false
	}
	return true
}

// CRLStore is a source of CRLs.
type CRLStore interface {
	// FindCRLs returns the CRLs matching sel.
	FindCRLs(sel *CRLSelector) ([]*CRLInfo, error)
}

// CRLCollection is an in-memory CRLStore.
type CRLCollection struct {
	mu   sync.RWMutex
	crls []*CRLInfo
}

// NewCRLCollection creates a collection holding crls.
func NewCRLCollection(crls ...*CRLInfo) *CRLCollection {
	c := &CRLCollection{}
	for _, ci := range crls {
		c.Add(ci)
	}
	return c
}

// Add registers a CRL. Returns false if it was already present.
func (c *CRLCollection) Add(ci *CRLInfo) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.crls {
		if existing.Equal(ci) {
			return false
		}
	}
	c.crls = append(c.crls, ci)
	return true
}

// Count returns the number of CRLs held.
func (c *CRLCollection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.crls)
}

// FindCRLs implements CRLStore.
func (c *CRLCollection) FindCRLs(sel *CRLSelector) ([]*CRLInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*CRLInfo
	for _, ci := range c.crls {
		if sel.Match(ci) {
			out = append(out, ci)
		}
	}
	return out, nil
}

// FindCRLs queries every store and returns the distinct matches that are
// still current at validity: nextUpdate, when present, must be after it.
// A store error is returned only when no store produced a CRL.
func FindCRLs(sel *CRLSelector, validity time.Time, stores []CRLStore) ([]*CRLInfo, error) {
	var (
		out     []*CRLInfo
		lastErr error
	)
	for _, store := range stores {
		found, err := store.FindCRLs(sel)
		if err != nil {
			lastErr = err
			continue
		}
	next:
		for _, ci := range found {
			next := ci.CRL.NextUpdate
			if !next.IsZero() && !next.After(validity) {
				continue
			}
			for _, seen := range out {
				if seen.Equal(ci) {
					continue next
				}
			}
			out = append(out, ci)
		}
	}
	if len(out) == 0 && lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCRLs, lastErr)
	}
	return out, nil
}
