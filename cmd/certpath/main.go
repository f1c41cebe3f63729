// Command certpath builds and validates X.509 certification paths.
//
// Usage:
//
//	certpath <command> [options] <args>
//
// Commands:
//
//	build     Build and validate a path to a target certificate
//	validate  Validate a given certification path
//	attr      Validate an attribute certificate
//	version   Show version information
//
// Examples:
//
//	# Build a path from a leaf to a root, checking CRLs
//	certpath build -a root.pem --cert ca.pem --crl ca.crl leaf.pem
//
//	# Validate an explicit path with JSON output
//	certpath validate --json -a root.pem leaf.pem ca.pem
package main

import (
	"os"

	"github.com/georgepadayatti/certpath/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/certpath
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
