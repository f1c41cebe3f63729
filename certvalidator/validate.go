// Package certvalidator provides X.509 certificate path validation.
// This file implements CRL based revocation checking.
package certvalidator

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// RevocationSubject is a public-key certificate or an attribute certificate
// whose revocation status is checked.
type RevocationSubject interface {
	revSerial() *big.Int
	revIssuers() []pkix.RDNSequence
	revExtensions() []pkix.Extension
	revNotAfter() time.Time
	revIsCA() bool
	revIsAttributeCert() bool
	revDescription() string
}

type certSubject struct {
	cert *x509.Certificate
}

// CertificateSubject wraps cert for a revocation check.
func CertificateSubject(cert *x509.Certificate) RevocationSubject {
	return certSubject{cert: cert}
}

func (s certSubject) revSerial() *big.Int { return s.cert.SerialNumber }

func (s certSubject) revIssuers() []pkix.RDNSequence {
	issuer, err := x509ext.ParseName(s.cert.RawIssuer)
	if err != nil {
		return nil
	}
	return []pkix.RDNSequence{issuer}
}

func (s certSubject) revExtensions() []pkix.Extension { return s.cert.Extensions }
func (s certSubject) revNotAfter() time.Time          { return s.cert.NotAfter }
func (s certSubject) revIsCA() bool                   { return s.cert.BasicConstraintsValid && s.cert.IsCA }
func (s certSubject) revIsAttributeCert() bool        { return false }
func (s certSubject) revDescription() string          { return DescribeCertificate(s.cert) }

// RevocationChecker determines the revocation status of a certificate from
// CRLs following RFC 5280 section 6.3.
type RevocationChecker struct{}

// NewRevocationChecker creates a revocation checker.
func NewRevocationChecker() *RevocationChecker {
	return &RevocationChecker{}
}

// crlCheck is the state of one revocation check.
type crlCheck struct {
	params     *ValidationParameters
	subject    RevocationSubject
	issuerCert *x509.Certificate
	issuerKey  crypto.PublicKey
	validDate  time.Time
	pathCerts  []*x509.Certificate

	crlStores  []revinfo.CRLStore
	certStores []CertStore

	status  *revinfo.CertStatus
	reasons revinfo.ReasonsMask
	log     logrus.FieldLogger
}

// Check determines the revocation status of subject at validDate. issuerCert
// (which may be nil for a name and key trust anchor) and issuerKey identify
// the default CRL signer; pathCerts are the certificates of the path being
// validated.
//
// A revoked subject yields *RevokedError, an unrevoked subject whose CRLs
// did not cover every reason yields *StatusUndeterminedError.
func (c *RevocationChecker) Check(ctx context.Context, subject RevocationSubject, params *ValidationParameters, issuerCert *x509.Certificate, issuerKey crypto.PublicKey, validDate time.Time, pathCerts []*x509.Certificate) error {
	var dps []x509ext.DistributionPoint
	if v := x509ext.Value(subject.revExtensions(), x509ext.OIDCRLDistributionPoints); v != nil {
		decoded, err := x509ext.DecodeCRLDistributionPoints(v)
		if err != nil {
			return NewCRLError("CRL distribution point extension could not be read", err)
		}
		dps = decoded
	}

	check := &crlCheck{
		params:     params,
		subject:    subject,
		issuerCert: issuerCert,
		issuerKey:  issuerKey,
		validDate:  validDate,
		pathCerts:  pathCerts,
		crlStores:  append([]revinfo.CRLStore(nil), params.CRLStores...),
		certStores: append([]CertStore(nil), params.CertStores...),
		status:     revinfo.NewCertStatus(),
		log:        params.logger().WithField("subject", subject.revDescription()),
	}
	for _, uri := range distributionPointURIs(dps) {
		if named := params.NamedStores[uri]; named != nil {
			if named.CRLs != nil {
				check.crlStores = append(check.crlStores, named.CRLs)
			}
			if named.Certs != nil {
				check.certStores = append(check.certStores, named.Certs)
			}
		}
	}

	found := false
	var lastErr error
	for _, dp := range dps {
		if !check.unresolved() {
			break
		}
		if err := check.checkCRL(ctx, dp); err != nil {
			lastErr = err
			continue
		}
		found = true
	}

	if check.unresolved() {
		var names []x509ext.GeneralName
		for _, issuer := range subject.revIssuers() {
			names = append(names, x509ext.DirName(issuer))
		}
		dp := x509ext.DistributionPoint{Name: &x509ext.DistributionPointName{FullName: names}}
		if err := check.checkCRL(ctx, dp); err != nil {
			lastErr = err
		} else {
			found = true
		}
	}

	if !found {
		if lastErr != nil {
			return lastErr
		}
		return NewCRLError("no valid CRL found", ErrNoValidCRL)
	}
	if check.status.IsRevoked() {
		return NewRevokedError(check.status.Reason(), check.status.RevocationTime())
	}
	if !check.reasons.IsAllReasons() && check.status.IsUnrevoked() {
		check.status.SetUndetermined()
		return NewStatusUndeterminedError("certificate status could not be determined")
	}
	return nil
}

func (c *crlCheck) unresolved() bool {
	return c.status.IsUnrevoked() && !c.reasons.IsAllReasons()
}

// checkCRL processes the CRLs of one distribution point.
func (c *crlCheck) checkCRL(ctx context.Context, dp x509ext.DistributionPoint) error {
	if c.validDate.After(c.params.now()) {
		return NewCRLError("validation time is in the future", nil)
	}

	crls, err := c.completeCRLs(dp)
	if err != nil {
		return err
	}

	found := false
	var lastErr error
	for _, crl := range crls {
		if !c.unresolved() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		processed, err := c.processCRL(ctx, dp, crl)
		if err != nil {
			c.log.WithError(err).Debug("CRL skipped")
			lastErr = err
			continue
		}
		found = found || processed
	}
	if found {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return NewCRLError("no valid CRL found", ErrNoValidCRL)
}

// completeCRLs selects the complete CRLs of the issuers named by dp.
func (c *crlCheck) completeCRLs(dp x509ext.DistributionPoint) ([]*revinfo.CRLInfo, error) {
	var issuers []pkix.RDNSequence
	if dp.CRLIssuer != nil {
		for _, n := range dp.CRLIssuer {
			if n.Form == x509ext.FormDirectoryName {
				issuers = append(issuers, n.DirectoryName)
			}
		}
		if len(issuers) == 0 {
			return nil, NewCRLError("CRL issuer of distribution point contains no directory name", nil)
		}
	} else {
		if dp.Name == nil {
			return nil, NewCRLError("CRL issuer is omitted from distribution point but no distributionPoint field present", nil)
		}
		issuers = c.subject.revIssuers()
	}

	sel := &revinfo.CRLSelector{Issuers: issuers, CompleteOnly: true}
	crls, err := revinfo.FindCRLs(sel, c.validDate, c.crlStores)
	if err != nil {
		return nil, NewCRLError("could not get CRLs", err)
	}

	notAfter := c.subject.revNotAfter()
	usable := crls[:0:0]
	for _, crl := range crls {
		if crl.CRL.ThisUpdate.Before(notAfter) {
			usable = append(usable, crl)
		}
	}
	if len(usable) == 0 {
		return nil, NewCRLError(fmt.Sprintf("no CRLs found for issuer %q", describeNames(issuers)), ErrNoValidCRL)
	}
	c.log.WithField("count", len(usable)).Debug("complete CRLs selected")
	return usable, nil
}

// processCRL applies one complete CRL. It reports false when the CRL was
// skipped because it could not contribute new reasons.
func (c *crlCheck) processCRL(ctx context.Context, dp x509ext.DistributionPoint, crl *revinfo.CRLInfo) (bool, error) {
	// (d)
	interim := interimReasons(dp, crl)
	// (e)
	if !interim.HasNewReasons(c.reasons) {
		return false, nil
	}

	// (f)
	keys, err := c.crlSignerKeys(ctx, crl)
	if err != nil {
		return false, err
	}
	// (g)
	key, err := c.verifyCRL(crl, keys)
	if err != nil {
		return false, err
	}

	// (h)
	var delta *revinfo.CRLInfo
	if c.params.UseDeltas {
		delta, err = c.deltaCRL(crl, key)
		if err != nil {
			return false, err
		}
	}

	if c.params.ValidityModel != ChainModel && c.subject.revNotAfter().Before(crl.CRL.ThisUpdate) {
		return false, NewCRLError("no valid CRL for current time found", nil)
	}

	// (b)(1)
	if err := c.matchCRLIssuer(dp, crl); err != nil {
		return false, err
	}
	// (b)(2)
	if err := c.matchDistributionPoint(dp, crl); err != nil {
		return false, err
	}
	// (c)
	if err := checkDeltaConsistency(delta, crl); err != nil {
		return false, err
	}

	if ids := crl.UnsupportedCriticalExtensions(); len(ids) > 0 {
		return false, NewCRLError(fmt.Sprintf("CRL contains unsupported critical extensions %v", ids), nil)
	}
	if delta != nil {
		if ids := delta.UnsupportedCriticalExtensions(); len(ids) > 0 {
			return false, NewCRLError(fmt.Sprintf("delta CRL contains unsupported critical extensions %v", ids), nil)
		}
	}

	// (i)
	if delta != nil {
		if err := c.applyEntry(delta); err != nil {
			return false, err
		}
	}
	// (j)
	if c.status.IsUnrevoked() {
		if err := c.applyEntry(crl); err != nil {
			return false, err
		}
	}
	// (k)
	if c.status.IsRevoked() && c.status.Reason() == revinfo.ReasonRemoveFromCRL {
		c.status.SetUnrevoked()
	}

	c.reasons.AddReasons(interim)
	c.log.WithFields(logrus.Fields{
		"crl":     crl.Number(),
		"status":  c.status.String(),
		"reasons": c.reasons.String(),
	}).Debug("CRL processed")
	return true, nil
}

// interimReasons intersects the reasons of dp with the onlySomeReasons of
// the CRL; an absent field stands for all reasons.
func interimReasons(dp x509ext.DistributionPoint, crl *revinfo.CRLInfo) revinfo.ReasonsMask {
	mask := revinfo.AllReasons
	if dp.HasReasons {
		mask = revinfo.NewReasonsMask(dp.Reasons)
	}
	if crl.IDP != nil && crl.IDP.HasOnlySomeReasons {
		mask = mask.Intersect(revinfo.NewReasonsMask(crl.IDP.OnlySomeReasons))
	}
	return mask
}

// applyEntry updates the status from the entry of crl for the subject, if
// any. Entries revoked after the validation date count only for the
// retroactive reasons.
func (c *crlCheck) applyEntry(crl *revinfo.CRLInfo) error {
	issuers := c.subject.revIssuers()
	if len(issuers) == 0 {
		return NewCRLError("certificate issuer could not be decoded", nil)
	}
	entry, err := crl.FindEntry(c.subject.revSerial(), issuers[0])
	if err != nil {
		return NewCRLError("CRL entry could not be processed", err)
	}
	if entry == nil {
		return nil
	}
	if !c.validDate.Before(entry.RevocationTime) || entry.Reason.Retroactive() {
		c.status.SetRevoked(entry.Reason, entry.RevocationTime)
	}
	return nil
}

// crlSignerKeys returns the keys that may have signed crl: the default
// signer and store certificates named as the CRL issuer. Signers outside the
// current path need a valid path of their own.
func (c *crlCheck) crlSignerKeys(ctx context.Context, crl *revinfo.CRLInfo) ([]crypto.PublicKey, error) {
	var (
		keys    []crypto.PublicKey
		lastErr error
	)
	if c.issuerCert == nil && c.issuerKey != nil {
		keys = append(keys, c.issuerKey)
	}

	candidates, err := findCertificates(&CertSelector{Subject: crl.Issuer}, c.certStores)
	if err != nil {
		lastErr = err
	}
	for _, pc := range c.pathCerts {
		if c.issuerCert == nil || !CompareCertificates(pc, c.issuerCert) {
			if namesMatch(pc.RawSubject, rawName(crl)) && !containsCert(candidates, pc) {
				candidates = append(candidates, pc)
			}
		}
	}
	if c.issuerCert != nil && !containsCert(candidates, c.issuerCert) {
		candidates = append(candidates, c.issuerCert)
	}

	for _, signer := range candidates {
		if hasKeyUsageExtension(signer) && signer.KeyUsage&x509.KeyUsageCRLSign == 0 {
			lastErr = NewCRLError("issuer certificate key usage extension does not permit CRL signing", nil)
			continue
		}
		switch {
		case c.issuerCert != nil && CompareCertificates(signer, c.issuerCert):
			keys = append(keys, c.issuerKey)
		case containsCert(c.pathCerts, signer):
			key, err := PublicKeyOf(signer)
			if err != nil {
				lastErr = err
				continue
			}
			keys = append(keys, key)
		default:
			key, err := c.validateSigner(ctx, signer)
			if err != nil {
				lastErr = err
				continue
			}
			keys = append(keys, key)
		}
	}

	if len(keys) == 0 {
		if lastErr != nil {
			return nil, NewCRLError("cannot find a valid issuer certificate for the CRL", lastErr)
		}
		return nil, NewCRLError("cannot find a valid issuer certificate for the CRL", nil)
	}
	return keys, nil
}

// validateSigner builds a path for a CRL signer outside the current path
// with revocation checking disabled.
func (c *crlCheck) validateSigner(ctx context.Context, signer *x509.Certificate) (crypto.PublicKey, error) {
	bp := &BuilderParameters{
		ValidationParameters: *c.params.Clone(),
		MaxPathLength:        DefaultMaxPathLength,
	}
	bp.TargetConstraints = SelectCertificate(signer)
	bp.RevocationEnabled = false
	bp.CertStores = c.certStores
	if _, err := NewPathBuilder().Build(ctx, bp); err != nil {
		return nil, fmt.Errorf("CRL issuer certificate could not be validated: %w", err)
	}
	return PublicKeyOf(signer)
}

// verifyCRL returns the first key that verifies the CRL signature.
func (c *crlCheck) verifyCRL(crl *revinfo.CRLInfo, keys []crypto.PublicKey) (crypto.PublicKey, error) {
	signed, err := crl.Signed()
	if err != nil {
		return nil, NewCRLError("CRL could not be decoded", err)
	}
	var lastErr error
	for _, key := range keys {
		if err := c.params.verifier().VerifySignature(signed, key); err != nil {
			lastErr = err
			continue
		}
		return key, nil
	}
	return nil, NewCRLError("cannot verify CRL", lastErr)
}

// deltaCRL returns a delta CRL for the complete CRL that verifies with key,
// or nil.
func (c *crlCheck) deltaCRL(complete *revinfo.CRLInfo, key crypto.PublicKey) (*revinfo.CRLInfo, error) {
	number := complete.Number()
	if number == nil {
		return nil, nil
	}
	sel := &revinfo.CRLSelector{
		Issuers:                  []pkix.RDNSequence{complete.Issuer},
		DeltaOnly:                true,
		MinCRLNumber:             new(big.Int).Add(number, big.NewInt(1)),
		MaxBaseCRLNumber:         number,
		MatchIDP:                 true,
		IssuingDistributionPoint: complete.RawIDP(),
	}
	deltas, err := revinfo.FindCRLs(sel, c.validDate, c.crlStores)
	if err != nil {
		return nil, NewCRLError("could not get delta CRLs", err)
	}
	for _, delta := range deltas {
		signed, err := delta.Signed()
		if err != nil {
			continue
		}
		if c.params.verifier().VerifySignature(signed, key) == nil {
			return delta, nil
		}
	}
	return nil, nil
}

// matchCRLIssuer checks that the CRL was issued by the cRLIssuer of dp or,
// without one, by the issuer of the subject.
func (c *crlCheck) matchCRLIssuer(dp x509ext.DistributionPoint, crl *revinfo.CRLInfo) error {
	match := false
	for _, n := range dp.CRLIssuer {
		if n.Form == x509ext.FormDirectoryName && x509ext.NamesEqual(n.DirectoryName, crl.Issuer) {
			match = true
			break
		}
	}
	if match && !crl.IsIndirect() {
		return NewCRLError("distribution point contains cRLIssuer field but CRL is not indirect", nil)
	}
	if !match {
		for _, issuer := range c.subject.revIssuers() {
			if x509ext.NamesEqual(issuer, crl.Issuer) {
				match = true
				break
			}
		}
	}
	if !match {
		return NewCRLError("cannot find matching CRL issuer for certificate", nil)
	}
	return nil
}

// matchDistributionPoint checks the issuing distribution point of the CRL
// against dp and the kind of subject.
func (c *crlCheck) matchDistributionPoint(dp x509ext.DistributionPoint, crl *revinfo.CRLInfo) error {
	idp := crl.IDP
	if idp == nil {
		return nil
	}

	if idp.Name != nil {
		idpNames := idp.Name.Names([]pkix.RDNSequence{crl.Issuer})
		var dpNames []x509ext.GeneralName
		switch {
		case dp.Name != nil:
			var base []pkix.RDNSequence
			for _, n := range dp.CRLIssuer {
				if n.Form == x509ext.FormDirectoryName {
					base = append(base, n.DirectoryName)
				}
			}
			if base == nil {
				base = c.subject.revIssuers()
			}
			dpNames = dp.Name.Names(base)
		case dp.CRLIssuer != nil:
			dpNames = dp.CRLIssuer
		default:
			return NewCRLError("either the cRLIssuer or the distributionPoint field must be contained in the distribution point", nil)
		}
		if !anyNameMatches(idpNames, dpNames) {
			return NewCRLError("no match for certificate CRL issuing distribution point name to the CRL distribution point", nil)
		}
	}

	if c.subject.revIsAttributeCert() {
		if idp.OnlyContainsUserCerts || idp.OnlyContainsCACerts {
			return NewCRLError("CRL only contains public-key certificates", nil)
		}
		return nil
	}
	if idp.OnlyContainsUserCerts && c.subject.revIsCA() {
		return NewCRLError("CA certificate CRL only contains user certificates", nil)
	}
	if idp.OnlyContainsCACerts && !c.subject.revIsCA() {
		return NewCRLError("end-entity CRL only contains CA certificates", nil)
	}
	if idp.OnlyContainsAttributeCerts {
		return NewCRLError("onlyContainsAttributeCerts boolean is asserted", nil)
	}
	return nil
}

// checkDeltaConsistency checks that delta belongs to complete.
func checkDeltaConsistency(delta, complete *revinfo.CRLInfo) error {
	if delta == nil {
		return nil
	}
	if !x509ext.NamesEqual(delta.Issuer, complete.Issuer) {
		return NewCRLError("complete CRL issuer does not match delta CRL issuer", nil)
	}
	if !bytes.Equal(delta.RawIDP(), complete.RawIDP()) {
		return NewCRLError("issuing distribution point extension from delta CRL and complete CRL does not match", nil)
	}
	if !bytes.Equal(delta.RawAuthorityKeyID(), complete.RawAuthorityKeyID()) {
		return NewCRLError("delta CRL authority key identifier does not match complete CRL authority key identifier", nil)
	}
	return nil
}

func anyNameMatches(a, b []x509ext.GeneralName) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Equal(y) {
				return true
			}
		}
	}
	return false
}

func rawName(crl *revinfo.CRLInfo) []byte {
	return crl.CRL.RawIssuer
}

func describeNames(names []pkix.RDNSequence) string {
	if len(names) == 0 {
		return ""
	}
	s := names[0].String()
	for _, n := range names[1:] {
		s += "; " + n.String()
	}
	return s
}
