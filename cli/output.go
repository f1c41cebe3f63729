package cli

import (
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/georgepadayatti/certpath/certvalidator"
)

// PathReport is a JSON-serializable result of a build or validation.
type PathReport struct {
	Status       string             `json:"status"`
	TrustAnchor  string             `json:"trust_anchor,omitempty"`
	Certificates []*CertificateInfo `json:"certificates,omitempty"`
	Policies     []string           `json:"policies,omitempty"`
	Attribute    *AttrCertInfo      `json:"attribute_certificate,omitempty"`
	Holder       []*CertificateInfo `json:"holder,omitempty"`
	Error        string             `json:"error,omitempty"`
	FailureIndex *int               `json:"failure_index,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

// CertificateInfo contains certificate details for output.
type CertificateInfo struct {
	Role      string `json:"role"`
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
}

// AttrCertInfo contains attribute certificate details for output.
type AttrCertInfo struct {
	Serial     string   `json:"serial"`
	Issuer     string   `json:"issuer"`
	NotBefore  string   `json:"not_before"`
	NotAfter   string   `json:"not_after"`
	Attributes []string `json:"attributes,omitempty"`
}

// newPathReport reports a successful validation result.
func newPathReport(res *certvalidator.ValidationResult) *PathReport {
	report := &PathReport{
		Status:       "VALID",
		Certificates: certificateInfos(res.Path.Certificates()),
		Policies:     res.PolicyTree.ValidPolicies(),
	}
	if res.TrustAnchor != nil {
		report.TrustAnchor = res.TrustAnchor.String()
	}
	return report
}

// newAttrCertReport reports a successful attribute certificate validation.
func newAttrCertReport(res *certvalidator.AttrCertResult) *PathReport {
	report := newPathReport(res.Issuer)
	ac := res.AttributeCertificate
	info := &AttrCertInfo{
		Serial:    ac.SerialNumber.String(),
		NotBefore: ac.NotBefore.UTC().Format(time.RFC3339),
		NotAfter:  ac.NotAfter.UTC().Format(time.RFC3339),
	}
	for _, name := range ac.IssuerNames() {
		info.Issuer = name.String()
		break
	}
	for _, attr := range ac.Attributes {
		info.Attributes = append(info.Attributes, attr.Type.String())
	}
	report.Attribute = info
	if res.Holder != nil {
		report.Holder = certificateInfos(res.Holder.Path.Certificates())
	}
	return report
}

// newFailureReport reports err, keeping the failing index and reason of
// a validation failure.
func newFailureReport(err error) *PathReport {
	report := &PathReport{Status: "INVALID", Error: err.Error()}
	var vf *certvalidator.ValidationFailure
	if errors.As(err, &vf) {
		index := vf.Index
		report.FailureIndex = &index
		report.Reason = vf.Reason.String()
	}
	return report
}

func certificateInfos(certs []*x509.Certificate) []*CertificateInfo {
	infos := make([]*CertificateInfo, 0, len(certs))
	for i, cert := range certs {
		infos = append(infos, &CertificateInfo{
			Role:      certificateRole(i, len(certs)),
			Subject:   cert.Subject.String(),
			Issuer:    cert.Issuer.String(),
			Serial:    cert.SerialNumber.String(),
			NotBefore: cert.NotBefore.UTC().Format(time.RFC3339),
			NotAfter:  cert.NotAfter.UTC().Format(time.RFC3339),
		})
	}
	return infos
}

// certificateRole names the position of a certificate in a target-first path.
func certificateRole(i, n int) string {
	switch {
	case i == 0:
		return "target"
	case i == n-1:
		return "top"
	default:
		return "intermediate"
	}
}

// writeReport writes report as JSON or text and returns errInvalid for a
// failed report.
func writeReport(w io.Writer, report *PathReport, asJSON bool) error {
	if asJSON {
		if err := outputJSON(w, report); err != nil {
			return err
		}
	} else {
		outputText(w, report)
	}
	if report.Status != "VALID" {
		return errInvalid
	}
	return nil
}

// outputJSON writes the report in JSON format.
func outputJSON(w io.Writer, report *PathReport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// outputText writes the report in human-readable format.
func outputText(w io.Writer, report *PathReport) {
	fmt.Fprintf(w, "Certification Path\n")
	fmt.Fprintf(w, "==================\n\n")
	fmt.Fprintf(w, "  Status: %s %s\n", getStatusIcon(report.Status), report.Status)

	if report.TrustAnchor != "" {
		fmt.Fprintf(w, "  Trust Anchor: %s\n", report.TrustAnchor)
	}
	if len(report.Policies) > 0 {
		fmt.Fprintf(w, "  Policies: %v\n", report.Policies)
	}

	if len(report.Certificates) > 0 {
		fmt.Fprintln(w)
		renderCertificates(w, report.Certificates)
	}

	if ac := report.Attribute; ac != nil {
		fmt.Fprintf(w, "\n  Attribute Certificate:\n")
		fmt.Fprintf(w, "    Serial: %s\n", ac.Serial)
		fmt.Fprintf(w, "    Issuer: %s\n", ac.Issuer)
		fmt.Fprintf(w, "    Valid: %s to %s\n", ac.NotBefore, ac.NotAfter)
		for _, attr := range ac.Attributes {
			fmt.Fprintf(w, "    Attribute: %s\n", attr)
		}
	}
	if len(report.Holder) > 0 {
		fmt.Fprintf(w, "\n  Holder:\n")
		renderCertificates(w, report.Holder)
	}

	if report.Error != "" {
		fmt.Fprintf(w, "\n  Errors:\n")
		fmt.Fprintf(w, "    - %s\n", report.Error)
		if report.FailureIndex != nil {
			fmt.Fprintf(w, "    - certificate index %d (%s)\n", *report.FailureIndex, report.Reason)
		}
	}
	fmt.Fprintln(w)
}

func renderCertificates(w io.Writer, certs []*CertificateInfo) {
	table := tablewriter.NewTable(w)
	table.Header([]string{"#", "Role", "Subject", "Issuer", "Serial", "Valid Until"})
	rows := make([][]string, 0, len(certs))
	for i, c := range certs {
		rows = append(rows, []string{fmt.Sprint(i), c.Role, c.Subject, c.Issuer, c.Serial, c.NotAfter})
	}
	table.Bulk(rows)
	table.Render()
}

// getStatusIcon returns an icon for the status.
func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	default:
		return "[?]"
	}
}
