package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/georgepadayatti/certpath/certvalidator"
	"github.com/georgepadayatti/certpath/config"
)

// pathFlags are the validation flags shared by the build, validate and
// attr commands. Set flags override the configuration file.
type pathFlags struct {
	anchors       []string
	certs         []string
	crls          []string
	policies      []string
	noRevocation  bool
	deltas        bool
	explicit      bool
	inhibitAny    bool
	inhibitMap    bool
	rejectQuals   bool
	at            string
	model         string
	maxPathLength int
	prefixMatch   bool
}

func (f *pathFlags) register(flags *pflag.FlagSet) {
	flags.StringArrayVarP(&f.anchors, "anchor", "a", nil, "trust anchor certificate file (repeatable)")
	flags.StringArrayVar(&f.certs, "cert", nil, "intermediate certificate file (repeatable)")
	flags.StringArrayVar(&f.crls, "crl", nil, "CRL file (repeatable)")
	flags.StringArrayVar(&f.policies, "policy", nil, "initial acceptable policy OID (repeatable)")
	flags.BoolVar(&f.noRevocation, "no-revocation", false, "disable CRL revocation checking")
	flags.BoolVar(&f.deltas, "deltas", false, "use delta CRLs")
	flags.BoolVar(&f.explicit, "explicit-policy", false, "require an explicit policy")
	flags.BoolVar(&f.inhibitAny, "inhibit-any-policy", false, "inhibit anyPolicy")
	flags.BoolVar(&f.inhibitMap, "inhibit-policy-mapping", false, "inhibit policy mapping")
	flags.BoolVar(&f.rejectQuals, "reject-policy-qualifiers", false, "reject policy qualifiers")
	flags.StringVar(&f.at, "at", "", "validation time (RFC 3339)")
	flags.StringVar(&f.model, "model", "", "validity model (point-in-time, chain)")
	flags.IntVar(&f.maxPathLength, "max-path-length", certvalidator.DefaultMaxPathLength, "maximum number of intermediates, -1 for unbounded")
	flags.BoolVar(&f.prefixMatch, "serial-prefix-match", false, "match serialNumber name constraints by prefix")
}

// merge returns a copy of base with the set flags applied.
func (f *pathFlags) merge(cmd *cobra.Command, base *config.ValidationConfig) *config.ValidationConfig {
	c := *base
	flags := cmd.Flags()

	c.TrustAnchors = append(append([]string(nil), base.TrustAnchors...), f.anchors...)
	c.OtherCerts = append(append([]string(nil), base.OtherCerts...), f.certs...)
	c.CRLs = append(append([]string(nil), base.CRLs...), f.crls...)
	if len(f.policies) > 0 {
		c.InitialPolicies = f.policies
	}
	if flags.Changed("no-revocation") {
		enabled := !f.noRevocation
		c.RevocationEnabled = &enabled
	}
	if flags.Changed("max-path-length") {
		n := f.maxPathLength
		c.MaxPathLength = &n
	}
	c.UseDeltas = c.UseDeltas || f.deltas
	c.ExplicitPolicyRequired = c.ExplicitPolicyRequired || f.explicit
	c.AnyPolicyInhibited = c.AnyPolicyInhibited || f.inhibitAny
	c.PolicyMappingInhibited = c.PolicyMappingInhibited || f.inhibitMap
	c.PolicyQualifiersRejected = c.PolicyQualifiersRejected || f.rejectQuals
	c.SerialNumberPrefixMatch = c.SerialNumberPrefixMatch || f.prefixMatch
	if f.at != "" {
		c.ValidationTime = f.at
	}
	if f.model != "" {
		c.ValidityModel = f.model
	}
	return &c
}

// builderParameters resolves the effective configuration into builder
// parameters that log through the command logger.
func (f *pathFlags) builderParameters(cmd *cobra.Command, opts *rootOptions) (*certvalidator.BuilderParameters, error) {
	params, err := f.merge(cmd, opts.app.Validation).BuilderParameters()
	if err != nil {
		return nil, err
	}
	params.Logger = opts.logger
	return params, nil
}
