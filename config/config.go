package config

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/georgepadayatti/certpath/certvalidator"
	"github.com/georgepadayatti/certpath/certvalidator/revinfo"
	"github.com/georgepadayatti/certpath/keys"
)

// Common errors
var (
	ErrConfigurationError = errors.New("configuration error")
	ErrUnexpectedField    = errors.New("unexpected field in configuration")
	ErrInvalidOID         = errors.New("invalid OID")
)

// OIDRegex matches OID strings like "1.2.3.4"
var OIDRegex = regexp.MustCompile(`^\d+(\.\d+)+$`)

// namedOIDs are the OID names accepted in place of dotted identifiers.
var namedOIDs = map[string]string{
	"any-policy": "2.5.29.32.0",
	"anyPolicy":  "2.5.29.32.0",
	"role":       "2.5.4.72",
	"clearance":  "2.5.4.55",
	"group":      "1.3.6.1.5.5.7.10.4",
}

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// ValidationConfig contains path building and validation configuration.
type ValidationConfig struct {
	// TrustAnchors contains paths to trust anchor certificate files.
	TrustAnchors []string `yaml:"trust-anchors" json:"trust_anchors,omitempty"`

	// OtherCerts contains paths to intermediate certificate files.
	OtherCerts []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// CRLs contains paths to CRL files.
	CRLs []string `yaml:"crls" json:"crls,omitempty"`

	// AttributeCerts contains paths to attribute certificate files.
	AttributeCerts []string `yaml:"attribute-certs" json:"attribute_certs,omitempty"`

	// TrustedACIssuers contains paths to directly trusted AC issuer certificates.
	TrustedACIssuers []string `yaml:"trusted-ac-issuers" json:"trusted_ac_issuers,omitempty"`

	// InitialPolicies is the user-initial-policy-set; empty means any policy.
	InitialPolicies []string `yaml:"initial-policies" json:"initial_policies,omitempty"`

	ExplicitPolicyRequired   bool `yaml:"explicit-policy-required" json:"explicit_policy_required"`
	AnyPolicyInhibited       bool `yaml:"any-policy-inhibited" json:"any_policy_inhibited"`
	PolicyMappingInhibited   bool `yaml:"policy-mapping-inhibited" json:"policy_mapping_inhibited"`
	PolicyQualifiersRejected bool `yaml:"policy-qualifiers-rejected" json:"policy_qualifiers_rejected"`

	// RevocationEnabled defaults to true.
	RevocationEnabled *bool `yaml:"revocation-enabled" json:"revocation_enabled,omitempty"`
	UseDeltas         bool  `yaml:"use-deltas" json:"use_deltas"`

	// ValidityModel is "point-in-time" (default) or "chain".
	ValidityModel string `yaml:"validity-model" json:"validity_model,omitempty"`

	// ValidationTime is an RFC 3339 timestamp; empty means now.
	ValidationTime string `yaml:"validation-time" json:"validation_time,omitempty"`

	// MaxPathLength defaults to certvalidator.DefaultMaxPathLength; -1 is unbounded.
	MaxPathLength *int `yaml:"max-path-length" json:"max_path_length,omitempty"`

	SerialNumberPrefixMatch bool `yaml:"serial-number-prefix-match" json:"serial_number_prefix_match"`

	ProhibitedAttributes []string `yaml:"prohibited-attributes" json:"prohibited_attributes,omitempty"`
	NecessaryAttributes  []string `yaml:"necessary-attributes" json:"necessary_attributes,omitempty"`
}

// Validate checks the configuration values that do not need file access.
func (c *ValidationConfig) Validate() error {
	if len(c.TrustAnchors) == 0 {
		return NewConfigError("trust-anchors", "at least one trust anchor is required")
	}
	switch c.ValidityModel {
	case "", "point-in-time", "chain":
	default:
		return NewConfigError("validity-model", fmt.Sprintf("unknown validity model '%s'", c.ValidityModel))
	}
	if c.ValidationTime != "" {
		if _, err := time.Parse(time.RFC3339, c.ValidationTime); err != nil {
			return &ConfigError{Field: "validation-time", Message: "must be an RFC 3339 timestamp", Err: err}
		}
	}
	if c.MaxPathLength != nil && *c.MaxPathLength < -1 {
		return NewConfigError("max-path-length", "must be -1 or greater")
	}
	for field, oids := range map[string][]string{
		"initial-policies":      c.InitialPolicies,
		"prohibited-attributes": c.ProhibitedAttributes,
		"necessary-attributes":  c.NecessaryAttributes,
	} {
		if _, err := ProcessOIDs(oids); err != nil {
			return &ConfigError{Field: field, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// BuilderParameters loads the configured files and returns the path
// building parameters they describe.
func (c *ValidationConfig) BuilderParameters() (*certvalidator.BuilderParameters, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	anchorCerts, err := keys.LoadCertsFromPemDerFiles(c.TrustAnchors)
	if err != nil {
		return nil, &ConfigError{Field: "trust-anchors", Message: "failed to load trust anchors", Err: err}
	}
	anchors, err := trustAnchors(anchorCerts)
	if err != nil {
		return nil, &ConfigError{Field: "trust-anchors", Message: err.Error(), Err: err}
	}

	params := certvalidator.NewBuilderParameters(anchors...)
	params.ExplicitPolicyRequired = c.ExplicitPolicyRequired
	params.AnyPolicyInhibited = c.AnyPolicyInhibited
	params.PolicyMappingInhibited = c.PolicyMappingInhibited
	params.PolicyQualifiersRejected = c.PolicyQualifiersRejected
	params.UseDeltas = c.UseDeltas
	params.SerialNumberPrefixMatch = c.SerialNumberPrefixMatch
	if c.RevocationEnabled != nil {
		params.RevocationEnabled = *c.RevocationEnabled
	}
	if c.MaxPathLength != nil {
		params.MaxPathLength = *c.MaxPathLength
	}
	if c.ValidityModel == "chain" {
		params.ValidityModel = certvalidator.ChainModel
	}
	if c.ValidationTime != "" {
		params.Date, _ = time.Parse(time.RFC3339, c.ValidationTime)
	}
	params.InitialPolicies, _ = ProcessOIDs(c.InitialPolicies)

	others, err := keys.LoadCertsFromPemDerFiles(c.OtherCerts)
	if err != nil {
		return nil, &ConfigError{Field: "other-certs", Message: "failed to load certificates", Err: err}
	}
	params.CertStores = []certvalidator.CertStore{certvalidator.NewCertCollection(append(others, anchorCerts...)...)}

	crls, err := keys.LoadCRLsFromPemDerFiles(c.CRLs)
	if err != nil {
		return nil, &ConfigError{Field: "crls", Message: "failed to load CRLs", Err: err}
	}
	params.CRLStores = []revinfo.CRLStore{revinfo.NewCRLCollection(crls...)}

	acs, err := keys.LoadAttrCertsFromPemDerFiles(c.AttributeCerts)
	if err != nil {
		return nil, &ConfigError{Field: "attribute-certs", Message: "failed to load attribute certificates", Err: err}
	}
	params.AttrCertStores = []certvalidator.AttrCertStore{certvalidator.NewAttrCertCollection(acs...)}

	return params, nil
}

// AttrCertBuilderParameters returns the attribute certificate parameters
// described by the configuration.
func (c *ValidationConfig) AttrCertBuilderParameters() (*certvalidator.AttrCertBuilderParameters, error) {
	bp, err := c.BuilderParameters()
	if err != nil {
		return nil, err
	}
	params := &certvalidator.AttrCertBuilderParameters{BuilderParameters: *bp}

	issuers, err := keys.LoadCertsFromPemDerFiles(c.TrustedACIssuers)
	if err != nil {
		return nil, &ConfigError{Field: "trusted-ac-issuers", Message: "failed to load certificates", Err: err}
	}
	if params.TrustedACIssuers, err = trustAnchors(issuers); err != nil {
		return nil, &ConfigError{Field: "trusted-ac-issuers", Message: err.Error(), Err: err}
	}
	params.ProhibitedAttributes, _ = ProcessOIDs(c.ProhibitedAttributes)
	params.NecessaryAttributes, _ = ProcessOIDs(c.NecessaryAttributes)
	return params, nil
}

func trustAnchors(certs []*x509.Certificate) ([]*certvalidator.TrustAnchor, error) {
	anchors := make([]*certvalidator.TrustAnchor, 0, len(certs))
	for _, cert := range certs {
		anchor, err := certvalidator.NewCertTrustAnchor(cert, nil)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, anchor)
	}
	return anchors, nil
}

// CheckConfigKeys checks if all provided keys are valid for a given configuration type.
func CheckConfigKeys(configName string, expectedKeys, suppliedKeys []string) error {
	expectedSet := make(map[string]bool)
	for _, k := range expectedKeys {
		expectedSet[normalizeKey(k)] = true
	}

	var unexpected []string
	for _, k := range suppliedKeys {
		if !expectedSet[normalizeKey(k)] {
			unexpected = append(unexpected, k)
		}
	}

	if len(unexpected) > 0 {
		keyWord := "key"
		if len(unexpected) > 1 {
			keyWord = "keys"
		}
		return fmt.Errorf("%w: unexpected %s in configuration for %s: %s",
			ErrUnexpectedField, keyWord, configName, strings.Join(unexpected, ", "))
	}
	return nil
}

// normalizeKey normalizes a configuration key (underscores to dashes).
func normalizeKey(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// ProcessOID validates an OID string and resolves the known OID names.
func ProcessOID(oidString string) (string, error) {
	if oidString == "" {
		return "", NewConfigError("oid", "OID string is empty")
	}
	if OIDRegex.MatchString(oidString) {
		return oidString, nil
	}
	if oid, ok := namedOIDs[oidString]; ok {
		return oid, nil
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidOID, oidString)
}

// ProcessOIDs validates and normalizes a list of OID strings.
func ProcessOIDs(oidStrings []string) ([]string, error) {
	result := make([]string, 0, len(oidStrings))
	for _, oid := range oidStrings {
		processed, err := ProcessOID(oid)
		if err != nil {
			return nil, err
		}
		result = append(result, processed)
	}
	return result, nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// Apply configures logger from the configuration. The returned closer
// releases an opened log file and is never nil.
func (c *LoggingConfig) Apply(logger *logrus.Logger) (io.Closer, error) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return nil, &ConfigError{Field: "level", Message: err.Error(), Err: err}
	}
	logger.SetLevel(level)

	switch c.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: false, FullTimestamp: true})
	default:
		return nil, NewConfigError("format", fmt.Sprintf("unknown log format '%s'", c.Format))
	}

	switch c.Output {
	case "stderr", "":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	default:
		f, err := os.OpenFile(c.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, &ConfigError{Field: "output", Message: "failed to open log file", Err: err}
		}
		logger.SetOutput(f)
		return f, nil
	}
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// AppConfig contains the complete application configuration.
type AppConfig struct {
	// Validation contains path validation configuration.
	Validation *ValidationConfig `yaml:"validation" json:"validation,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging" json:"logging,omitempty"`
}

var (
	appConfigKeys  = []string{"validation", "logging"}
	loggingKeys    = []string{"level", "format", "output"}
	validationKeys = []string{
		"trust-anchors", "other-certs", "crls", "attribute-certs", "trusted-ac-issuers",
		"initial-policies", "explicit-policy-required", "any-policy-inhibited",
		"policy-mapping-inhibited", "policy-qualifiers-rejected", "revocation-enabled",
		"use-deltas", "validity-model", "validation-time", "max-path-length",
		"serial-number-prefix-match", "prohibited-attributes", "necessary-attributes",
	}
)

// checkKeys rejects unknown keys at the top level and in each section.
func checkKeys(data []byte) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := CheckConfigKeys("application", appConfigKeys, mapKeys(raw)); err != nil {
		return err
	}
	sections := map[string][]string{"validation": validationKeys, "logging": loggingKeys}
	for name, expected := range sections {
		section, ok := raw[name].(map[string]any)
		if !ok {
			continue
		}
		if err := CheckConfigKeys(name, expected, mapKeys(section)); err != nil {
			return err
		}
	}
	return nil
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// ParseAppConfig parses configuration from YAML data.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	if err := checkKeys(data); err != nil {
		return nil, err
	}
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Logging == nil {
		config.Logging = &LoggingConfig{}
	}
	config.Logging.SetDefaults()
	if config.Validation == nil {
		config.Validation = &ValidationConfig{}
	}
	return &config, nil
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}
