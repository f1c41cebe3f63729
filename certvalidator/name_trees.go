// Package certvalidator provides X.509 certificate path validation.
// This file contains name constraint processing for RFC 5280 path validation.
package certvalidator

import (
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// subtreeSet holds the permitted and excluded subtrees of one name form.
type subtreeSet struct {
	// constrained is false while every name of the form is permitted.
	constrained bool
	permitted   []x509ext.GeneralName
	excluded    []x509ext.GeneralName
}

// nameRules are the comparison functions of one name form.
type nameRules struct {
	// within reports whether name lies in the subtree rooted at base.
	within func(name, base x509ext.GeneralName, serialPrefix bool) (bool, error)
	// subset reports whether subtree a is contained in subtree b.
	subset func(a, b x509ext.GeneralName, serialPrefix bool) bool
	// intersect overrides the nested-or-disjoint intersection.
	intersect func(a, b x509ext.GeneralName) (x509ext.GeneralName, bool)
	// valid checks the shape of a constraint base.
	valid func(base x509ext.GeneralName) error
}

var constraintRules = map[x509ext.NameForm]nameRules{
	x509ext.FormDirectoryName: {
		within: func(name, base x509ext.GeneralName, prefix bool) (bool, error) {
			return dnWithinSubtree(name, base, prefix), nil
		},
		subset: dnWithinSubtree,
	},
	x509ext.FormDNS: {
		within: func(name, base x509ext.GeneralName, _ bool) (bool, error) {
			return DNSTreeContains(base.Text, name.Text), nil
		},
		subset: func(a, b x509ext.GeneralName, _ bool) bool {
			host := strings.TrimPrefix(a.Text, ".")
			if DNSTreeContains(b.Text, host) {
				return true
			}
			return strings.HasPrefix(a.Text, ".") && strings.EqualFold(strings.TrimPrefix(b.Text, "."), host)
		},
	},
	x509ext.FormRFC822: {
		within: func(name, base x509ext.GeneralName, _ bool) (bool, error) {
			return EmailTreeContains(base.Text, name.Text), nil
		},
		subset: func(a, b x509ext.GeneralName, _ bool) bool {
			if strings.Contains(a.Text, "@") {
				return EmailTreeContains(b.Text, a.Text)
			}
			if strings.Contains(b.Text, "@") {
				return false
			}
			return hostSubtreeWithin(a.Text, b.Text)
		},
	},
	x509ext.FormURI: {
		within: func(name, base x509ext.GeneralName, _ bool) (bool, error) {
			return URITreeContains(base.Text, name.Text)
		},
		subset: func(a, b x509ext.GeneralName, _ bool) bool {
			return hostSubtreeWithin(a.Text, b.Text)
		},
	},
	x509ext.FormIPAddress: {
		within: func(name, base x509ext.GeneralName, _ bool) (bool, error) {
			return ipWithinSubtree(name.IP, base.IP), nil
		},
		subset: func(a, b x509ext.GeneralName, _ bool) bool {
			return ipSubtreeWithin(a.IP, b.IP)
		},
		intersect: intersectIPSubtrees,
		valid: func(base x509ext.GeneralName) error {
			if l := len(base.IP); l != 2*net.IPv4len && l != 2*net.IPv6len {
				return fmt.Errorf("%w: IP constraint of %d bytes", x509ext.ErrMalformed, l)
			}
			return nil
		},
	},
	x509ext.FormOtherName: {
		within: func(name, base x509ext.GeneralName, _ bool) (bool, error) {
			return name.Equal(base), nil
		},
		subset: func(a, b x509ext.GeneralName, _ bool) bool {
			return a.Equal(b)
		},
	},
}

// HostTreeContains checks if otherHost is contained in the baseHost tree.
// If baseHost starts with '.', it specifies a domain that must be expanded
// with one or more labels. Otherwise, it refers to a single host.
func HostTreeContains(baseHost, otherHost string) bool {
	if len(baseHost) == 0 {
		return false
	}
	if baseHost[0] == '.' {
		if len(otherHost) <= len(baseHost) {
			return false
		}
		return strings.HasSuffix(strings.ToLower(otherHost), strings.ToLower(baseHost))
	}
	return strings.EqualFold(otherHost, baseHost)
}

// hostSubtreeWithin reports whether the host or .domain subtree a is
// contained in the host or .domain subtree b.
func hostSubtreeWithin(a, b string) bool {
	if strings.HasPrefix(a, ".") {
		return strings.HasPrefix(b, ".") &&
			strings.HasSuffix(strings.ToLower(a), strings.ToLower(b))
	}
	return HostTreeContains(b, a)
}

// DNSTreeContains checks if other lies in the base DNS constraint. A base
// with a leading '.' covers strict subdomains only; otherwise the host
// itself and every subdomain are covered.
func DNSTreeContains(base, other string) bool {
	if base == "" {
		return true
	}
	if strings.HasPrefix(base, ".") {
		return HostTreeContains(base, other)
	}
	return strings.EqualFold(base, other) || HostTreeContains("."+base, other)
}

// EmailTreeContains checks if the email address other is contained in the
// base constraint. A base with a mailbox matches exactly, a host matches the
// domain part exactly and a .domain matches any address in a subdomain.
func EmailTreeContains(base, other string) bool {
	if strings.Contains(base, "@") {
		return strings.EqualFold(base, other)
	}
	_, otherHost := splitEmail(other)
	return HostTreeContains(base, otherHost)
}

// splitEmail splits an email address into mailbox and host parts.
func splitEmail(email string) (mailbox, host string) {
	idx := strings.LastIndex(email, "@")
	if idx < 0 {
		return "", email
	}
	return email[:idx], email[idx+1:]
}

// URITreeContains checks if the host of the URI other is contained in base.
// A URI without a host lies in no subtree.
func URITreeContains(base, other string) (bool, error) {
	host, err := extractURIHost(other)
	if err != nil {
		return false, err
	}
	if host == "" {
		return false, nil
	}
	return HostTreeContains(base, host), nil
}

// extractURIHost extracts the host from a URI.
func extractURIHost(uri string) (string, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", NewNameConstraintError(fmt.Sprintf("URI %q is not well-formed", uri))
	}
	return parsed.Hostname(), nil
}

func ipWithinSubtree(ip, constraint []byte) bool {
	if len(constraint) != 2*len(ip) {
		return false
	}
	addr, mask := constraint[:len(ip)], constraint[len(ip):]
	for i := range ip {
		if ip[i]&mask[i] != addr[i]&mask[i] {
			return false
		}
	}
	return true
}

// ipSubtreeWithin reports whether the network a is contained in the network b.
func ipSubtreeWithin(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	half := len(a) / 2
	for i := 0; i < half; i++ {
		ma, mb := a[half+i], b[half+i]
		if ma&mb != mb || a[i]&mb != b[i]&mb {
			return false
		}
	}
	return true
}

// intersectIPSubtrees returns the addresses common to both networks.
func intersectIPSubtrees(a, b x509ext.GeneralName) (x509ext.GeneralName, bool) {
	if len(a.IP) != len(b.IP) {
		return x509ext.GeneralName{}, false
	}
	half := len(a.IP) / 2
	out := make([]byte, len(a.IP))
	for i := 0; i < half; i++ {
		ma, mb := a.IP[half+i], b.IP[half+i]
		if (a.IP[i]^b.IP[i])&(ma&mb) != 0 {
			return x509ext.GeneralName{}, false
		}
		out[i] = a.IP[i]&ma | b.IP[i]&mb
		out[half+i] = ma | mb
	}
	return x509ext.GeneralName{Form: x509ext.FormIPAddress, IP: out}, true
}

// dnWithinSubtree locates the first RDN of name equal to the first RDN of
// base and compares base RDN by RDN from there.
func dnWithinSubtree(name, base x509ext.GeneralName, serialPrefix bool) bool {
	dn, subtree := name.DirectoryName, base.DirectoryName
	if len(subtree) < 1 || len(subtree) > len(dn) {
		return false
	}

	start := 0
	for j := range dn {
		start = j
		if x509ext.RDNEqual(subtree[0], dn[j]) {
			break
		}
	}
	if len(subtree) > len(dn)-start {
		return false
	}

	for j := range subtree {
		want, got := subtree[j], dn[start+j]
		if len(want) != len(got) || len(want) == 0 {
			return false
		}
		if !want[0].Type.Equal(got[0].Type) {
			return false
		}
		if serialPrefix && len(want) == 1 && want[0].Type.Equal(x509ext.OIDSerialNumber) {
			if !strings.HasPrefix(fmt.Sprint(got[0].Value), fmt.Sprint(want[0].Value)) {
				return false
			}
			continue
		}
		if !x509ext.RDNEqual(want, got) {
			return false
		}
	}
	return true
}

// NameConstraintSet accumulates the permitted and excluded subtrees of a
// certification path. Permitted sets only shrink and excluded sets only grow.
type NameConstraintSet struct {
	sets map[x509ext.NameForm]*subtreeSet

	// SerialNumberPrefixMatch enables string-prefix matching of a lone
	// serialNumber RDN in directory name subtrees.
	SerialNumberPrefixMatch bool
}

// NewNameConstraintSet returns a set that permits every name.
func NewNameConstraintSet() *NameConstraintSet {
	return &NameConstraintSet{sets: make(map[x509ext.NameForm]*subtreeSet)}
}

func (s *NameConstraintSet) set(form x509ext.NameForm) *subtreeSet {
	ss := s.sets[form]
	if ss == nil {
		ss = &subtreeSet{}
		s.sets[form] = ss
	}
	return ss
}

// Permitted returns the permitted subtrees of form and whether the form is
// constrained at all.
func (s *NameConstraintSet) Permitted(form x509ext.NameForm) ([]x509ext.GeneralName, bool) {
	ss := s.sets[form]
	if ss == nil || !ss.constrained {
		return nil, false
	}
	return ss.permitted, true
}

// Excluded returns the excluded subtrees of form.
func (s *NameConstraintSet) Excluded(form x509ext.NameForm) []x509ext.GeneralName {
	if ss := s.sets[form]; ss != nil {
		return ss.excluded
	}
	return nil
}

// CheckPermitted fails when name lies outside every permitted subtree of its
// form. Unconstrained forms, unsupported forms and empty names pass.
func (s *NameConstraintSet) CheckPermitted(name x509ext.GeneralName) error {
	rules, ok := constraintRules[name.Form]
	if !ok || name.IsEmpty() {
		return nil
	}
	ss := s.sets[name.Form]
	if ss == nil || !ss.constrained {
		return nil
	}
	for _, base := range ss.permitted {
		in, err := rules.within(name, base, s.SerialNumberPrefixMatch)
		if err != nil {
			return err
		}
		if in {
			return nil
		}
	}
	return NewNameConstraintError(fmt.Sprintf("%s %s is not from a permitted subtree", name.Form, describeName(name)))
}

// CheckExcluded fails when name lies in an excluded subtree of its form.
func (s *NameConstraintSet) CheckExcluded(name x509ext.GeneralName) error {
	rules, ok := constraintRules[name.Form]
	if !ok || name.IsEmpty() {
		return nil
	}
	ss := s.sets[name.Form]
	if ss == nil {
		return nil
	}
	for _, base := range ss.excluded {
		in, err := rules.within(name, base, s.SerialNumberPrefixMatch)
		if err != nil {
			return err
		}
		if in {
			return NewNameConstraintError(fmt.Sprintf("%s %s is from an excluded subtree", name.Form, describeName(name)))
		}
	}
	return nil
}

// CheckPermittedDN checks a subject distinguished name against the permitted
// directory name subtrees.
func (s *NameConstraintSet) CheckPermittedDN(dn []byte) error {
	name, err := x509ext.ParseName(dn)
	if err != nil {
		return NewNameConstraintError("subject distinguished name could not be decoded: " + err.Error())
	}
	return s.CheckPermitted(x509ext.DirName(name))
}

// CheckExcludedDN checks a subject distinguished name against the excluded
// directory name subtrees.
func (s *NameConstraintSet) CheckExcludedDN(dn []byte) error {
	name, err := x509ext.ParseName(dn)
	if err != nil {
		return NewNameConstraintError("subject distinguished name could not be decoded: " + err.Error())
	}
	return s.CheckExcluded(x509ext.DirName(name))
}

// IntersectPermittedSubtrees narrows the permitted sets of every form that
// occurs in subtrees to the pairwise intersection with the current set.
func (s *NameConstraintSet) IntersectPermittedSubtrees(subtrees []x509ext.GeneralSubtree) error {
	byForm := make(map[x509ext.NameForm][]x509ext.GeneralName)
	var order []x509ext.NameForm
	for _, st := range subtrees {
		rules, ok := constraintRules[st.Base.Form]
		if !ok {
			continue
		}
		if rules.valid != nil {
			if err := rules.valid(st.Base); err != nil {
				return err
			}
		}
		if _, seen := byForm[st.Base.Form]; !seen {
			order = append(order, st.Base.Form)
		}
		byForm[st.Base.Form] = appendUnique(byForm[st.Base.Form], st.Base)
	}

	for _, form := range order {
		ss := s.set(form)
		incoming := byForm[form]
		if !ss.constrained {
			ss.constrained = true
			ss.permitted = incoming
			continue
		}
		rules := constraintRules[form]
		narrowed := []x509ext.GeneralName{}
		for _, cur := range ss.permitted {
			for _, in := range incoming {
				if common, ok := intersectSubtrees(rules, cur, in, s.SerialNumberPrefixMatch); ok {
					narrowed = appendUnique(narrowed, common)
				}
			}
		}
		ss.permitted = narrowed
	}
	return nil
}

func intersectSubtrees(rules nameRules, a, b x509ext.GeneralName, prefix bool) (x509ext.GeneralName, bool) {
	if rules.intersect != nil {
		return rules.intersect(a, b)
	}
	switch {
	case rules.subset(a, b, prefix):
		return a, true
	case rules.subset(b, a, prefix):
		return b, true
	}
	return x509ext.GeneralName{}, false
}

// AddExcludedSubtree adds subtree to the excluded set of its form unless an
// excluded subtree already covers it; subtrees it covers are dropped.
func (s *NameConstraintSet) AddExcludedSubtree(subtree x509ext.GeneralSubtree) error {
	base := subtree.Base
	rules, ok := constraintRules[base.Form]
	if !ok {
		return nil
	}
	if rules.valid != nil {
		if err := rules.valid(base); err != nil {
			return err
		}
	}

	ss := s.set(base.Form)
	kept := ss.excluded[:0:0]
	for _, ex := range ss.excluded {
		if rules.subset(base, ex, s.SerialNumberPrefixMatch) {
			return nil
		}
		if !rules.subset(ex, base, s.SerialNumberPrefixMatch) {
			kept = append(kept, ex)
		}
	}
	ss.excluded = append(kept, base)
	return nil
}

// Apply imports a decoded name constraints extension.
func (s *NameConstraintSet) Apply(nc *x509ext.NameConstraints) error {
	if nc.HasPermitted {
		if err := s.IntersectPermittedSubtrees(nc.Permitted); err != nil {
			return err
		}
	}
	for _, st := range nc.Excluded {
		if err := s.AddExcludedSubtree(st); err != nil {
			return err
		}
	}
	return nil
}

// ProcessCertificate imports the name constraints extension of cert, if any.
func (s *NameConstraintSet) ProcessCertificate(cert *x509.Certificate) error {
	value := x509ext.Value(cert.Extensions, x509ext.OIDNameConstraints)
	if value == nil {
		return nil
	}
	nc, err := x509ext.DecodeNameConstraints(value)
	if err != nil {
		return fmt.Errorf("name constraints extension could not be decoded: %w", err)
	}
	return s.Apply(nc)
}

// ValidateCertificate checks the subject name, the emailAddress attributes
// of the subject and the subject alternative names of cert.
func (s *NameConstraintSet) ValidateCertificate(cert *x509.Certificate) error {
	if err := s.CheckPermittedDN(cert.RawSubject); err != nil {
		return err
	}
	if err := s.CheckExcludedDN(cert.RawSubject); err != nil {
		return err
	}

	subject, _ := x509ext.ParseName(cert.RawSubject)
	for _, email := range x509ext.AttributeValues(subject, x509ext.OIDEmailAddress) {
		name := x509ext.EmailName(email)
		if err := s.CheckPermitted(name); err != nil {
			return err
		}
		if err := s.CheckExcluded(name); err != nil {
			return err
		}
	}

	value := x509ext.Value(cert.Extensions, x509ext.OIDSubjectAltName)
	if value == nil {
		return nil
	}
	names, err := x509ext.DecodeGeneralNames(value)
	if err != nil {
		return fmt.Errorf("subject alternative name extension could not be decoded: %w", err)
	}
	for _, name := range names {
		if err := s.CheckPermitted(name); err != nil {
			return err
		}
		if err := s.CheckExcluded(name); err != nil {
			return err
		}
	}
	return nil
}

func appendUnique(names []x509ext.GeneralName, name x509ext.GeneralName) []x509ext.GeneralName {
	for _, n := range names {
		if n.Equal(name) {
			return names
		}
	}
	return append(names, name)
}

func describeName(name x509ext.GeneralName) string {
	switch name.Form {
	case x509ext.FormDirectoryName:
		return name.DirectoryName.String()
	case x509ext.FormIPAddress:
		return net.IP(name.IP).String()
	case x509ext.FormOtherName:
		return name.OtherNameType.String()
	default:
		return name.Text
	}
}
