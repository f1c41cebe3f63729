// Package cli provides the command-line interface for building and
// validating certification paths.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/georgepadayatti/certpath/config"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// errInvalid is returned by commands that printed a failed result.
var errInvalid = errors.New("certification path is not valid")

// rootOptions are the flags shared by all commands.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
	json       bool

	app    *config.AppConfig
	logger *logrus.Logger
	closer io.Closer
}

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := NewRootCommand()
	cmd.SetArgs(args[1:])
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		osExit(1)
	}
}

// NewRootCommand returns the certpath command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{logger: logrus.New()}

	root := &cobra.Command{
		Use:           "certpath",
		Short:         "X.509 certification path building and validation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.closer != nil {
				opts.closer.Close()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	flags.BoolVar(&opts.json, "json", false, "output results in JSON format")

	root.AddCommand(
		newBuildCommand(opts),
		newValidateCommand(opts),
		newAttrCommand(opts),
		newVersionCommand(),
	)
	return root
}

// setup loads the configuration file and configures logging.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	var err error
	if o.configFile != "" {
		o.app, err = config.LoadAppConfig(o.configFile)
		if err != nil {
			return err
		}
	} else {
		o.app, _ = config.ParseAppConfig([]byte("{}"))
	}

	logging := *o.app.Logging
	if o.logLevel != "" {
		logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		logging.Format = o.logFormat
	}
	o.closer, err = logging.Apply(o.logger)
	if err != nil {
		return err
	}
	o.logger.WithField("command", cmd.Name()).Debug("starting")
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "certpath version %s\n", Version)
			fmt.Fprintf(out, "Build time: %s\n", BuildTime)
		},
	}
}
