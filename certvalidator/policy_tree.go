// Package certvalidator provides X.509 certificate path validation.
// This file contains policy tree processing for RFC 5280 path validation.
package certvalidator

import (
	"fmt"
	"sort"

	"github.com/georgepadayatti/certpath/certvalidator/x509ext"
)

// AnyPolicy is the special OID indicating acceptance of any policy.
const AnyPolicy = x509ext.AnyPolicy

// PolicyNodeID addresses a node of a PolicyTree.
type PolicyNodeID int

// NoPolicyNode is returned by Root for an empty tree.
const NoPolicyNode PolicyNodeID = -1

// PolicyNode is a read-only view of a policy tree node.
type PolicyNode struct {
	ID               PolicyNodeID
	ValidPolicy      string
	ExpectedPolicies []string
	Qualifiers       []x509ext.PolicyQualifier
	Critical         bool
	Depth            int
	Parent           PolicyNodeID
}

type policyNode struct {
	validPolicy  string
	expected     map[string]bool
	qualifiers   []x509ext.PolicyQualifier
	critical     bool
	depth        int
	parent       PolicyNodeID
	children     []PolicyNodeID
	liveChildren int
	live         bool
}

// PolicyTree is the valid_policy_tree of RFC 5280 section 6.1. Nodes live in
// an arena and are never reused; removed nodes are marked dead.
type PolicyTree struct {
	nodes   []policyNode
	byDepth [][]PolicyNodeID
	n       int
}

// NewPolicyTree returns a tree for a path of n certificates whose root is
// anyPolicy with expected policy set {anyPolicy}.
func NewPolicyTree(n int) *PolicyTree {
	t := &PolicyTree{n: n, byDepth: make([][]PolicyNodeID, n+1)}
	t.nodes = append(t.nodes, policyNode{
		validPolicy: AnyPolicy,
		expected:    map[string]bool{AnyPolicy: true},
		parent:      NoPolicyNode,
		live:        true,
	})
	t.byDepth[0] = []PolicyNodeID{0}
	return t
}

// IsEmpty reports whether the tree has been reduced to NULL.
func (t *PolicyTree) IsEmpty() bool {
	return t == nil || len(t.nodes) == 0 || !t.nodes[0].live
}

// Root returns the root node, or NoPolicyNode when the tree is empty.
func (t *PolicyTree) Root() PolicyNodeID {
	if t.IsEmpty() {
		return NoPolicyNode
	}
	return 0
}

// Node returns a view of the node id.
func (t *PolicyTree) Node(id PolicyNodeID) (PolicyNode, bool) {
	if id < 0 || int(id) >= len(t.nodes) || !t.nodes[id].live {
		return PolicyNode{}, false
	}
	n := &t.nodes[id]
	return PolicyNode{
		ID:               id,
		ValidPolicy:      n.validPolicy,
		ExpectedPolicies: sortedKeys(n.expected),
		Qualifiers:       n.qualifiers,
		Critical:         n.critical,
		Depth:            n.depth,
		Parent:           n.parent,
	}, true
}

// Children returns the live children of id.
func (t *PolicyTree) Children(id PolicyNodeID) []PolicyNodeID {
	if id < 0 || int(id) >= len(t.nodes) || !t.nodes[id].live {
		return nil
	}
	var out []PolicyNodeID
	for _, c := range t.nodes[id].children {
		if t.nodes[c].live {
			out = append(out, c)
		}
	}
	return out
}

// AtDepth returns the live nodes of depth d.
func (t *PolicyTree) AtDepth(d int) []PolicyNodeID {
	if t.IsEmpty() || d < 0 || d >= len(t.byDepth) {
		return nil
	}
	live := t.byDepth[d][:0]
	for _, id := range t.byDepth[d] {
		if t.nodes[id].live {
			live = append(live, id)
		}
	}
	t.byDepth[d] = live
	return append([]PolicyNodeID(nil), live...)
}

// ValidPolicies returns the sorted valid policies of the nodes at depth n.
func (t *PolicyTree) ValidPolicies() []string {
	if t.IsEmpty() {
		return nil
	}
	seen := make(map[string]bool)
	for _, id := range t.AtDepth(t.n) {
		seen[t.nodes[id].validPolicy] = true
	}
	if len(seen) == 0 {
		return nil
	}
	return sortedKeys(seen)
}

func (t *PolicyTree) addChild(parent PolicyNodeID, policy string, expected map[string]bool, quals []x509ext.PolicyQualifier, critical bool) PolicyNodeID {
	id := PolicyNodeID(len(t.nodes))
	depth := t.nodes[parent].depth + 1
	t.nodes = append(t.nodes, policyNode{
		validPolicy: policy,
		expected:    expected,
		qualifiers:  quals,
		critical:    critical,
		depth:       depth,
		parent:      parent,
		live:        true,
	})
	p := &t.nodes[parent]
	p.children = append(p.children, id)
	p.liveChildren++
	for len(t.byDepth) <= depth {
		t.byDepth = append(t.byDepth, nil)
	}
	t.byDepth[depth] = append(t.byDepth[depth], id)
	return id
}

func (t *PolicyTree) hasChildWithPolicy(id PolicyNodeID, policy string) bool {
	for _, c := range t.nodes[id].children {
		if t.nodes[c].live && t.nodes[c].validPolicy == policy {
			return true
		}
	}
	return false
}

// detach marks id and its subtree dead.
func (t *PolicyTree) detach(id PolicyNodeID) {
	n := &t.nodes[id]
	if !n.live {
		return
	}
	n.live = false
	if n.parent != NoPolicyNode {
		t.nodes[n.parent].liveChildren--
	}
	for _, c := range n.children {
		if t.nodes[c].live {
			t.detach(c)
		}
	}
}

// RemoveNode deletes id with its subtree and then every ancestor left
// without children. Removing the root empties the tree.
func (t *PolicyTree) RemoveNode(id PolicyNodeID) {
	if id < 0 || int(id) >= len(t.nodes) || !t.nodes[id].live {
		return
	}
	parent := t.nodes[id].parent
	t.detach(id)
	for parent != NoPolicyNode && t.nodes[parent].live && t.nodes[parent].liveChildren == 0 {
		next := t.nodes[parent].parent
		t.detach(parent)
		parent = next
	}
}

// prune deletes childless nodes of depth maxDepth and shallower until none
// remain.
func (t *PolicyTree) prune(maxDepth int) {
	if maxDepth >= len(t.byDepth) {
		maxDepth = len(t.byDepth) - 1
	}
	for d := maxDepth; d >= 0; d-- {
		for _, id := range t.AtDepth(d) {
			if t.nodes[id].liveChildren == 0 {
				t.detach(id)
			}
		}
	}
}

// ProcessCertificatePolicies applies RFC 5280 6.1.3 (d) for certificate i of
// n carrying the given certificate policies.
func (t *PolicyTree) ProcessCertificatePolicies(policies []x509ext.PolicyInformation, i, n int, selfIssued, critical bool, inhibitAnyPolicy int) {
	if t.IsEmpty() {
		return
	}

	parents := t.AtDepth(i - 1)
	asserted := make(map[string]bool, len(policies))
	var anyQualifiers []x509ext.PolicyQualifier
	hasAny := false

	// (d)(1)
	for _, p := range policies {
		if p.Policy == AnyPolicy {
			hasAny = true
			anyQualifiers = p.Qualifiers
			continue
		}
		asserted[p.Policy] = true

		matched := false
		for _, id := range parents {
			if t.nodes[id].expected[p.Policy] {
				t.addChild(id, p.Policy, map[string]bool{p.Policy: true}, p.Qualifiers, false)
				matched = true
			}
		}
		if matched {
			continue
		}
		for _, id := range parents {
			if t.nodes[id].validPolicy == AnyPolicy {
				t.addChild(id, p.Policy, map[string]bool{p.Policy: true}, p.Qualifiers, false)
			}
		}
	}

	// (d)(2)
	if hasAny && (inhibitAnyPolicy > 0 || (i < n && selfIssued)) {
		for _, id := range parents {
			for _, policy := range sortedKeys(t.nodes[id].expected) {
				if t.hasChildWithPolicy(id, policy) {
					continue
				}
				t.addChild(id, policy, map[string]bool{policy: true}, anyQualifiers, false)
			}
		}
	}

	// (d)(3)
	t.prune(i - 1)

	// (d)(4)
	if critical {
		for _, id := range t.AtDepth(i) {
			t.nodes[id].critical = true
		}
	}
}

// ProcessNoPolicies applies RFC 5280 6.1.3 (e) for a certificate without a
// certificate policies extension.
func (t *PolicyTree) ProcessNoPolicies() {
	if !t.IsEmpty() {
		t.detach(0)
	}
}

// ValidatePolicyMappings rejects mappings to or from anyPolicy.
func ValidatePolicyMappings(mappings []x509ext.PolicyMapping) error {
	for _, m := range mappings {
		if m.IssuerDomainPolicy == AnyPolicy || m.SubjectDomainPolicy == AnyPolicy {
			return NewPolicyError("policy mapping to or from anyPolicy")
		}
	}
	return nil
}

// ApplyPolicyMappings applies RFC 5280 6.1.4 (b) for certificate i.
// anyPolicyQualifiers are the qualifiers of the anyPolicy entry of the
// certificate's policies, and critical is the criticality of that extension.
func (t *PolicyTree) ApplyPolicyMappings(mappings []x509ext.PolicyMapping, i, policyMapping int, anyPolicyQualifiers []x509ext.PolicyQualifier, critical bool) error {
	if err := ValidatePolicyMappings(mappings); err != nil {
		return err
	}
	if t.IsEmpty() {
		return nil
	}

	var issuerPolicies []string
	subjects := make(map[string]map[string]bool)
	for _, m := range mappings {
		if subjects[m.IssuerDomainPolicy] == nil {
			subjects[m.IssuerDomainPolicy] = make(map[string]bool)
			issuerPolicies = append(issuerPolicies, m.IssuerDomainPolicy)
		}
		subjects[m.IssuerDomainPolicy][m.SubjectDomainPolicy] = true
	}

	for _, idp := range issuerPolicies {
		nodes := t.AtDepth(i)
		if policyMapping > 0 {
			found := false
			anyNode := NoPolicyNode
			for _, id := range nodes {
				switch t.nodes[id].validPolicy {
				case idp:
					t.nodes[id].expected = copySet(subjects[idp])
					found = true
				case AnyPolicy:
					anyNode = id
				}
			}
			if !found && anyNode != NoPolicyNode {
				t.addChild(t.nodes[anyNode].parent, idp, copySet(subjects[idp]), anyPolicyQualifiers, critical)
			}
			continue
		}

		for _, id := range nodes {
			if t.nodes[id].validPolicy == idp {
				t.detach(id)
			}
		}
		t.prune(i - 1)
		if t.IsEmpty() {
			return nil
		}
	}
	return nil
}

// Intersect applies RFC 5280 6.1.5 (g) with the user-initial-policy-set.
// An empty set or one containing anyPolicy leaves the tree unchanged.
func (t *PolicyTree) Intersect(initialPolicies []string) {
	if t.IsEmpty() || len(initialPolicies) == 0 {
		return
	}
	wanted := make(map[string]bool, len(initialPolicies))
	for _, p := range initialPolicies {
		if p == AnyPolicy {
			return
		}
		wanted[p] = true
	}

	// valid_policy_node_set: nodes whose parent is an anyPolicy node
	var nodeSet []PolicyNodeID
	for d := 1; d < len(t.byDepth); d++ {
		for _, id := range t.AtDepth(d) {
			if t.nodes[t.nodes[id].parent].validPolicy == AnyPolicy {
				nodeSet = append(nodeSet, id)
			}
		}
	}

	present := make(map[string]bool)
	for _, id := range nodeSet {
		policy := t.nodes[id].validPolicy
		if policy != AnyPolicy && !wanted[policy] {
			t.detach(id)
			continue
		}
		present[policy] = true
	}

	for _, id := range t.AtDepth(t.n) {
		node := t.nodes[id]
		if node.validPolicy != AnyPolicy {
			continue
		}
		for _, p := range initialPolicies {
			if present[p] {
				continue
			}
			present[p] = true
			t.addChild(node.parent, p, map[string]bool{p: true}, node.qualifiers, node.critical)
		}
		t.detach(id)
	}

	t.prune(t.n - 1)
}

// HasQualifiers reports whether any live node carries policy qualifiers.
func (t *PolicyTree) HasQualifiers() bool {
	if t.IsEmpty() {
		return false
	}
	for i := range t.nodes {
		if t.nodes[i].live && len(t.nodes[i].qualifiers) > 0 {
			return true
		}
	}
	return false
}

// Walk calls fn for every live node in depth-first order.
func (t *PolicyTree) Walk(fn func(node PolicyNode)) {
	if t.IsEmpty() {
		return
	}
	var visit func(id PolicyNodeID)
	visit = func(id PolicyNodeID) {
		node, _ := t.Node(id)
		fn(node)
		for _, c := range t.Children(id) {
			visit(c)
		}
	}
	visit(0)
}

func (t *PolicyTree) String() string {
	if t.IsEmpty() {
		return "<empty policy tree>"
	}
	var out string
	t.Walk(func(node PolicyNode) {
		out += fmt.Sprintf("%*s%s %v\n", 2*node.Depth, "", node.ValidPolicy, node.ExpectedPolicies)
	})
	return out
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copySet(set map[string]bool) map[string]bool {
	out := make(map[string]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}
