package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/georgepadayatti/certpath/certvalidator"
	"github.com/georgepadayatti/certpath/keys"
)

func newBuildCommand(opts *rootOptions) *cobra.Command {
	var flags pathFlags
	cmd := &cobra.Command{
		Use:   "build [flags] <target>",
		Short: "Build and validate a certification path to a target certificate",
		Long: "Build searches the configured certificate stores for a path from the target\n" +
			"certificate to a trust anchor and validates it.",
		Example: "  certpath build -a root.pem --cert ca.pem --crl ca.crl leaf.pem\n" +
			"  certpath build -c certpath.yaml --json leaf.pem",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := keys.LoadCertFromPemDer(args[0])
			if err != nil {
				return err
			}
			params, err := flags.builderParameters(cmd, opts)
			if err != nil {
				return err
			}
			params.TargetConstraints = certvalidator.SelectCertificate(target)
			params.CertStores = append(params.CertStores, certvalidator.NewCertCollection(target))

			var report *PathReport
			res, err := certvalidator.NewPathBuilder().Build(cmd.Context(), params)
			if err != nil {
				opts.logger.WithError(err).Debug("path building failed")
				report = newFailureReport(err)
			} else {
				report = newPathReport(&res.ValidationResult)
			}
			return writeReport(cmd.OutOrStdout(), report, opts.json)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var flags pathFlags
	cmd := &cobra.Command{
		Use:   "validate [flags] <cert>...",
		Short: "Validate a given certification path",
		Long: "Validate checks the certificates given on the command line as one path.\n" +
			"They may be given in any order; the path is ordered from the target up.",
		Example: "  certpath validate -a root.pem leaf.pem ca.pem",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := keys.LoadCertificationPath(args)
			if err != nil {
				return err
			}
			params, err := flags.builderParameters(cmd, opts)
			if err != nil {
				return err
			}

			var report *PathReport
			res, err := certvalidator.NewPathValidator().Validate(cmd.Context(), path, &params.ValidationParameters)
			if err != nil {
				opts.logger.WithError(err).Debug("path validation failed")
				report = newFailureReport(err)
				report.Certificates = certificateInfos(path.Certificates())
			} else {
				report = newPathReport(res)
			}
			return writeReport(cmd.OutOrStdout(), report, opts.json)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newAttrCommand(opts *rootOptions) *cobra.Command {
	var (
		flags      pathFlags
		acIssuers  []string
		prohibited []string
		necessary  []string
	)
	cmd := &cobra.Command{
		Use:   "attr [flags] <attribute-certificate>",
		Short: "Validate an attribute certificate",
		Long: "Attr builds the path of the attribute certificate issuer, resolves the\n" +
			"holder certificate and checks the attribute certificate against both.",
		Example: "  certpath attr -a root.pem --cert aa.pem --cert holder.pem --trusted-ac-issuer aa.pem ac.pem",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acs, err := keys.LoadAttrCertsFromPemDer(args[0])
			if err != nil {
				return err
			}
			if len(acs) != 1 {
				return fmt.Errorf("expected one attribute certificate in %s, found %d", args[0], len(acs))
			}

			vc := flags.merge(cmd, opts.app.Validation)
			vc.TrustedACIssuers = append(append([]string(nil), vc.TrustedACIssuers...), acIssuers...)
			vc.ProhibitedAttributes = append(append([]string(nil), vc.ProhibitedAttributes...), prohibited...)
			vc.NecessaryAttributes = append(append([]string(nil), vc.NecessaryAttributes...), necessary...)
			params, err := vc.AttrCertBuilderParameters()
			if err != nil {
				return err
			}
			params.Logger = opts.logger
			params.AttrCertConstraints = &certvalidator.AttrCertSelector{AttributeCert: acs[0]}

			var report *PathReport
			res, err := certvalidator.NewAttrCertPathBuilder().Build(cmd.Context(), params)
			if err != nil {
				opts.logger.WithError(err).Debug("attribute certificate validation failed")
				report = newFailureReport(err)
			} else {
				report = newAttrCertReport(res)
			}
			return writeReport(cmd.OutOrStdout(), report, opts.json)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringArrayVar(&acIssuers, "trusted-ac-issuer", nil, "directly trusted AC issuer certificate file (repeatable)")
	cmd.Flags().StringArrayVar(&prohibited, "prohibit", nil, "prohibited attribute type OID (repeatable)")
	cmd.Flags().StringArrayVar(&necessary, "require", nil, "necessary attribute type OID (repeatable)")
	return cmd
}
