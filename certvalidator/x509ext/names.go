package x509ext

import (
	"bytes"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"net"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NameForm is the tag of a GeneralName CHOICE alternative.
type NameForm int

const (
	FormOtherName     NameForm = 0
	FormRFC822        NameForm = 1
	FormDNS           NameForm = 2
	FormX400Address   NameForm = 3
	FormDirectoryName NameForm = 4
	FormEDIPartyName  NameForm = 5
	FormURI           NameForm = 6
	FormIPAddress     NameForm = 7
	FormRegisteredID  NameForm = 8
)

// String returns the RFC 5280 name of the form.
func (f NameForm) String() string {
	switch f {
	case FormOtherName:
		return "otherName"
	case FormRFC822:
		return "rfc822Name"
	case FormDNS:
		return "dNSName"
	case FormX400Address:
		return "x400Address"
	case FormDirectoryName:
		return "directoryName"
	case FormEDIPartyName:
		return "ediPartyName"
	case FormURI:
		return "uniformResourceIdentifier"
	case FormIPAddress:
		return "iPAddress"
	case FormRegisteredID:
		return "registeredID"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// GeneralName is a decoded GeneralName. Only the fields belonging to Form are set.
type GeneralName struct {
	Form NameForm

	// Text holds rfc822Name, dNSName and uniformResourceIdentifier values.
	Text string

	DirectoryName pkix.RDNSequence

	// IP holds an iPAddress. Inside name constraints the address is followed
	// by a mask of the same length.
	IP []byte

	OtherNameType  asn1.ObjectIdentifier
	OtherNameValue []byte

	RegisteredID asn1.ObjectIdentifier

	// Raw is the DER of the whole GeneralName when it was decoded from the wire.
	Raw []byte
}

// DNSName returns a dNSName GeneralName.
func DNSName(name string) GeneralName {
	return GeneralName{Form: FormDNS, Text: name}
}

// EmailName returns an rfc822Name GeneralName.
func EmailName(addr string) GeneralName {
	return GeneralName{Form: FormRFC822, Text: addr}
}

// URIName returns a uniformResourceIdentifier GeneralName.
func URIName(uri string) GeneralName {
	return GeneralName{Form: FormURI, Text: uri}
}

// IPName returns an iPAddress GeneralName. IPv4 addresses are stored in their
// four byte form.
func IPName(ip net.IP) GeneralName {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return GeneralName{Form: FormIPAddress, IP: []byte(ip)}
}

// IPSubtreeName returns an iPAddress GeneralName for a name constraint subtree.
func IPSubtreeName(network *net.IPNet) GeneralName {
	ip, mask := network.IP, network.Mask
	if v4 := ip.To4(); v4 != nil && len(mask) == net.IPv4len {
		ip = v4
	}
	value := make([]byte, 0, len(ip)+len(mask))
	value = append(value, ip...)
	value = append(value, mask...)
	return GeneralName{Form: FormIPAddress, IP: value}
}

// DirName returns a directoryName GeneralName.
func DirName(name pkix.RDNSequence) GeneralName {
	return GeneralName{Form: FormDirectoryName, DirectoryName: name}
}

// OtherName returns an otherName GeneralName. value is the DER of the
// explicitly tagged value.
func OtherName(typeID asn1.ObjectIdentifier, value []byte) GeneralName {
	return GeneralName{Form: FormOtherName, OtherNameType: typeID, OtherNameValue: value}
}

// IsEmpty reports whether the name carries no value.
func (g GeneralName) IsEmpty() bool {
	switch g.Form {
	case FormRFC822, FormDNS, FormURI:
		return g.Text == ""
	case FormDirectoryName:
		return len(g.DirectoryName) == 0
	case FormIPAddress:
		return len(g.IP) == 0
	case FormOtherName:
		return len(g.OtherNameType) == 0
	case FormRegisteredID:
		return len(g.RegisteredID) == 0
	default:
		return len(g.Raw) == 0
	}
}

// Equal reports whether two general names denote the same name.
// Directory names are compared in canonical form, DNS names and email
// addresses case-insensitively.
func (g GeneralName) Equal(other GeneralName) bool {
	if g.Form != other.Form {
		return false
	}
	switch g.Form {
	case FormRFC822, FormDNS:
		return strings.EqualFold(g.Text, other.Text)
	case FormURI:
		return g.Text == other.Text
	case FormDirectoryName:
		return NamesEqual(g.DirectoryName, other.DirectoryName)
	case FormIPAddress:
		return bytes.Equal(g.IP, other.IP)
	case FormOtherName:
		return g.OtherNameType.Equal(other.OtherNameType) && bytes.Equal(g.OtherNameValue, other.OtherNameValue)
	case FormRegisteredID:
		return g.RegisteredID.Equal(other.RegisteredID)
	default:
		return bytes.Equal(g.Raw, other.Raw)
	}
}

func (g GeneralName) String() string {
	switch g.Form {
	case FormRFC822:
		return "email:" + g.Text
	case FormDNS:
		return "dns:" + g.Text
	case FormURI:
		return "uri:" + g.Text
	case FormDirectoryName:
		return "dirname:" + g.DirectoryName.String()
	case FormIPAddress:
		switch len(g.IP) {
		case net.IPv4len, net.IPv6len:
			return "ip:" + net.IP(g.IP).String()
		case 2 * net.IPv4len, 2 * net.IPv6len:
			half := len(g.IP) / 2
			ones, _ := net.IPMask(g.IP[half:]).Size()
			return fmt.Sprintf("ip:%s/%d", net.IP(g.IP[:half]), ones)
		}
		return fmt.Sprintf("ip:%x", g.IP)
	case FormOtherName:
		return "othername:" + g.OtherNameType.String()
	case FormRegisteredID:
		return "rid:" + g.RegisteredID.String()
	default:
		return g.Form.String()
	}
}

// Marshal returns the DER encoding of the name.
func (g GeneralName) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	g.marshalInto(&b)
	return b.Bytes()
}

func (g GeneralName) marshalInto(b *cryptobyte.Builder) {
	tag := cryptobyte_asn1.Tag(uint8(g.Form)).ContextSpecific()
	switch g.Form {
	case FormRFC822, FormDNS, FormURI:
		b.AddASN1(tag, func(c *cryptobyte.Builder) {
			c.AddBytes([]byte(g.Text))
		})
	case FormIPAddress:
		b.AddASN1(tag, func(c *cryptobyte.Builder) {
			c.AddBytes(g.IP)
		})
	case FormDirectoryName:
		der, err := asn1.Marshal(g.DirectoryName)
		if err != nil {
			b.SetError(err)
			return
		}
		b.AddASN1(tag.Constructed(), func(c *cryptobyte.Builder) {
			c.AddBytes(der)
		})
	case FormOtherName:
		b.AddASN1(tag.Constructed(), func(c *cryptobyte.Builder) {
			c.AddASN1ObjectIdentifier(g.OtherNameType)
			c.AddASN1(cryptobyte_asn1.Tag(0).Constructed().ContextSpecific(), func(v *cryptobyte.Builder) {
				v.AddBytes(g.OtherNameValue)
			})
		})
	case FormRegisteredID:
		der, err := asn1.Marshal(g.RegisteredID)
		if err != nil {
			b.SetError(err)
			return
		}
		s := cryptobyte.String(der)
		var body cryptobyte.String
		if !s.ReadASN1(&body, cryptobyte_asn1.OBJECT_IDENTIFIER) {
			b.SetError(malformed("registeredID"))
			return
		}
		b.AddASN1(tag, func(c *cryptobyte.Builder) {
			c.AddBytes(body)
		})
	default:
		if len(g.Raw) == 0 {
			b.SetError(fmt.Errorf("x509ext: cannot encode %s without raw bytes", g.Form))
			return
		}
		b.AddBytes(g.Raw)
	}
}

// MarshalGeneralNames returns the DER of a GeneralNames sequence.
func MarshalGeneralNames(names []GeneralName) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		for _, name := range names {
			name.marshalInto(seq)
		}
	})
	return b.Bytes()
}

// DecodeGeneralNames decodes a GeneralNames value, as found in the subject and
// issuer alternative name extensions.
func DecodeGeneralNames(value []byte) ([]GeneralName, error) {
	input := cryptobyte.String(value)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cryptobyte_asn1.SEQUENCE) || !input.Empty() {
		return nil, malformed("general names")
	}
	return readGeneralNames(seq)
}

// readGeneralNames reads GeneralName elements until s is exhausted.
func readGeneralNames(s cryptobyte.String) ([]GeneralName, error) {
	var names []GeneralName
	for !s.Empty() {
		name, err := readGeneralName(&s)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func readGeneralName(s *cryptobyte.String) (GeneralName, error) {
	var element cryptobyte.String
	var tag cryptobyte_asn1.Tag
	if !s.ReadAnyASN1Element(&element, &tag) {
		return GeneralName{}, malformed("general name")
	}
	if uint8(tag)&0xc0 != 0x80 {
		return GeneralName{}, malformed("general name class")
	}

	gn := GeneralName{
		Form: NameForm(uint8(tag) & 0x1f),
		Raw:  append([]byte(nil), element...),
	}

	var content cryptobyte.String
	if !element.ReadAnyASN1(&content, &tag) {
		return GeneralName{}, malformed("general name")
	}

	switch gn.Form {
	case FormRFC822, FormDNS, FormURI:
		gn.Text = string(content)
	case FormIPAddress:
		gn.IP = append([]byte(nil), content...)
	case FormDirectoryName:
		name, err := ParseName(content)
		if err != nil {
			return GeneralName{}, err
		}
		gn.DirectoryName = name
	case FormOtherName:
		var value cryptobyte.String
		if !content.ReadASN1ObjectIdentifier(&gn.OtherNameType) ||
			!content.ReadASN1(&value, cryptobyte_asn1.Tag(0).Constructed().ContextSpecific()) {
			return GeneralName{}, malformed("otherName")
		}
		gn.OtherNameValue = append([]byte(nil), value...)
	case FormRegisteredID:
		wrapped := wrap(cryptobyte_asn1.OBJECT_IDENTIFIER, content)
		oid := cryptobyte.String(wrapped)
		if !oid.ReadASN1ObjectIdentifier(&gn.RegisteredID) {
			return GeneralName{}, malformed("registeredID")
		}
	}
	return gn, nil
}

// ParseName decodes a DER distinguished name such as Certificate.RawIssuer.
func ParseName(der []byte) (pkix.RDNSequence, error) {
	var name pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &name)
	if err != nil {
		return nil, fmt.Errorf("x509ext: malformed distinguished name: %w", err)
	}
	if len(rest) != 0 {
		return nil, malformed("trailing data after distinguished name")
	}
	return name, nil
}

// CanonicalValue returns the comparison form of an attribute value: NFKC
// normalized, case folded, inner whitespace collapsed.
func CanonicalValue(value interface{}) string {
	s, ok := value.(string)
	if !ok {
		return fmt.Sprint(value)
	}
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// RDNEqual reports whether two relative distinguished names carry the same
// attributes, in any order.
func RDNEqual(a, b pkix.RelativeDistinguishedNameSET) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
next:
	for _, atv := range a {
		for j, other := range b {
			if used[j] || !atv.Type.Equal(other.Type) {
				continue
			}
			if CanonicalValue(atv.Value) == CanonicalValue(other.Value) {
				used[j] = true
				continue next
			}
		}
		return false
	}
	return true
}

// NamesEqual reports whether two distinguished names are equal in canonical form.
func NamesEqual(a, b pkix.RDNSequence) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !RDNEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// AttributeValues returns the string values of every attribute of type oid in name.
func AttributeValues(name pkix.RDNSequence, oid asn1.ObjectIdentifier) []string {
	var values []string
	for _, rdn := range name {
		for _, atv := range rdn {
			if atv.Type.Equal(oid) {
				values = append(values, fmt.Sprint(atv.Value))
			}
		}
	}
	return values
}
