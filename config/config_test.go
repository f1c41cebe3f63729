package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/georgepadayatti/certpath/certvalidator"
)

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Expected field 'field', got '%s'", err.Field)
	}
	if err.Message != "message" {
		t.Errorf("Expected message 'message', got '%s'", err.Message)
	}

	expected := "config error in 'field': message"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestConfigErrorWithoutField(t *testing.T) {
	err := NewConfigError("", "general error")
	expected := "config error: general error"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
}

func TestConfigErrorUnwrap(t *testing.T) {
	err := &ConfigError{Field: "crls", Message: "failed", Err: os.ErrNotExist}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("ConfigError should unwrap to its cause")
	}
}

func TestOIDRegex(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"1.2.3.4", true},
		{"2.5.29.32.0", true},
		{"1.3.6.1.5.5.7.10.4", true},
		{"1.2", true},
		{"1", false},
		{"abc", false},
		{"1.2.abc", false},
		{"", false},
	}

	for _, tt := range tests {
		result := OIDRegex.MatchString(tt.input)
		if result != tt.expected {
			t.Errorf("OIDRegex.MatchString(%s) = %v, want %v", tt.input, result, tt.expected)
		}
	}
}

func TestProcessOID(t *testing.T) {
	tests := []struct {
		input       string
		expected    string
		shouldError bool
	}{
		{"1.2.3.4", "1.2.3.4", false},
		{"any-policy", "2.5.29.32.0", false},
		{"role", "2.5.4.72", false},
		{"sha256", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		result, err := ProcessOID(tt.input)
		if tt.shouldError {
			if err == nil {
				t.Errorf("ProcessOID(%s) expected error", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("ProcessOID(%s) unexpected error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("ProcessOID(%s) = %s, want %s", tt.input, result, tt.expected)
			}
		}
	}
}

func TestProcessOIDs(t *testing.T) {
	result, err := ProcessOIDs([]string{"1.2.3.4", "anyPolicy"})
	if err != nil {
		t.Fatalf("ProcessOIDs failed: %v", err)
	}
	if len(result) != 2 || result[1] != "2.5.29.32.0" {
		t.Errorf("Unexpected result %v", result)
	}

	if _, err := ProcessOIDs([]string{"1.2.3", "bogus"}); !errors.Is(err, ErrInvalidOID) {
		t.Errorf("Expected ErrInvalidOID, got %v", err)
	}
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"key_name", "key-name"},
		{"key-name", "key-name"},
		{"trust_anchors_extra", "trust-anchors-extra"},
		{"crls", "crls"},
	}

	for _, tt := range tests {
		result := normalizeKey(tt.input)
		if result != tt.expected {
			t.Errorf("normalizeKey(%s) = %s, want %s", tt.input, result, tt.expected)
		}
	}
}

func TestCheckConfigKeys(t *testing.T) {
	expected := []string{"trust-anchors", "other-certs", "crls"}

	// Valid keys
	err := CheckConfigKeys("validation", expected, []string{"trust-anchors", "crls"})
	if err != nil {
		t.Errorf("CheckConfigKeys should not error for valid keys: %v", err)
	}

	// Unexpected key
	err = CheckConfigKeys("validation", expected, []string{"crls", "unknown-key"})
	if !errors.Is(err, ErrUnexpectedField) {
		t.Errorf("Expected ErrUnexpectedField, got %v", err)
	}

	// Works with underscores
	err = CheckConfigKeys("validation", expected, []string{"trust_anchors"})
	if err != nil {
		t.Errorf("CheckConfigKeys should accept underscores: %v", err)
	}
}

func TestLoggingConfigSetDefaults(t *testing.T) {
	config := &LoggingConfig{}
	config.SetDefaults()

	if config.Level != "info" {
		t.Errorf("Expected level 'info', got '%s'", config.Level)
	}
	if config.Format != "text" {
		t.Errorf("Expected format 'text', got '%s'", config.Format)
	}
	if config.Output != "stderr" {
		t.Errorf("Expected output 'stderr', got '%s'", config.Output)
	}

	// Values should not be overwritten
	config2 := &LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	config2.SetDefaults()
	if config2.Level != "debug" {
		t.Error("SetDefaults should not overwrite existing values")
	}
}

func TestLoggingConfigApply(t *testing.T) {
	logger := logrus.New()
	logFile := filepath.Join(t.TempDir(), "certpath.log")

	closer, err := (&LoggingConfig{Level: "debug", Format: "json", Output: logFile}).Apply(logger)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	defer closer.Close()

	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Expected JSON formatter, got %T", logger.Formatter)
	}
	logger.Info("hello")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected log output in file")
	}

	if _, err := (&LoggingConfig{Level: "loud"}).Apply(logger); err == nil {
		t.Error("Expected error for unknown level")
	}
	if _, err := (&LoggingConfig{Level: "info", Format: "xml"}).Apply(logger); err == nil {
		t.Error("Expected error for unknown format")
	}
}

func TestParseAppConfig(t *testing.T) {
	yamlData := []byte(`
validation:
  trust-anchors:
    - /path/to/ca.pem
  initial-policies:
    - 1.2.3.4
  revocation-enabled: false
  validity-model: chain
  max-path-length: -1
logging:
  level: debug
`)

	config, err := ParseAppConfig(yamlData)
	if err != nil {
		t.Fatalf("ParseAppConfig failed: %v", err)
	}

	v := config.Validation
	if len(v.TrustAnchors) != 1 {
		t.Errorf("Expected 1 trust anchor, got %d", len(v.TrustAnchors))
	}
	if v.RevocationEnabled == nil || *v.RevocationEnabled {
		t.Error("Expected revocation-enabled false")
	}
	if v.MaxPathLength == nil || *v.MaxPathLength != -1 {
		t.Error("Expected max-path-length -1")
	}
	if v.ValidityModel != "chain" {
		t.Errorf("Expected validity-model 'chain', got '%s'", v.ValidityModel)
	}
	if config.Logging.Level != "debug" || config.Logging.Format != "text" {
		t.Errorf("Unexpected logging config %+v", config.Logging)
	}
}

func TestParseAppConfigUnknownKeys(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"top level", "signing:\n  key: x\n"},
		{"validation", "validation:\n  revocation-mode: soft-fail\n"},
		{"logging", "logging:\n  colour: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAppConfig([]byte(tt.data))
			if !errors.Is(err, ErrUnexpectedField) {
				t.Errorf("Expected ErrUnexpectedField, got %v", err)
			}
		})
	}
}

func TestParseAppConfigInvalid(t *testing.T) {
	if _, err := ParseAppConfig([]byte("validation: [unclosed")); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadAppConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "app.yaml")

	yamlData := []byte(`
logging:
  level: warn
  format: json
validation:
  trust-anchors: [root.pem]
  use-deltas: true
`)
	if err := os.WriteFile(configFile, yamlData, 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadAppConfig(configFile)
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}
	if config.Logging.Level != "warn" {
		t.Errorf("Expected level 'warn', got '%s'", config.Logging.Level)
	}
	if !config.Validation.UseDeltas {
		t.Error("Expected use-deltas true")
	}
}

func TestLoadAppConfigWithDefaults(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "minimal.yaml")
	if err := os.WriteFile(configFile, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadAppConfig(configFile)
	if err != nil {
		t.Fatalf("LoadAppConfig failed: %v", err)
	}
	if config.Logging == nil || config.Logging.Level != "info" {
		t.Error("Logging should have default values")
	}
	if config.Validation == nil {
		t.Error("Validation should not be nil")
	}
}

func TestLoadAppConfigFileNotFound(t *testing.T) {
	if _, err := LoadAppConfig("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadAppConfig should error for non-existent file")
	}
}

func TestValidationConfigValidate(t *testing.T) {
	neg := -2
	tests := []struct {
		name   string
		config ValidationConfig
		field  string
	}{
		{"no anchors", ValidationConfig{}, "trust-anchors"},
		{"bad model", ValidationConfig{TrustAnchors: []string{"a"}, ValidityModel: "shell"}, "validity-model"},
		{"bad time", ValidationConfig{TrustAnchors: []string{"a"}, ValidationTime: "yesterday"}, "validation-time"},
		{"bad length", ValidationConfig{TrustAnchors: []string{"a"}, MaxPathLength: &neg}, "max-path-length"},
		{"bad policy", ValidationConfig{TrustAnchors: []string{"a"}, InitialPolicies: []string{"x"}}, "initial-policies"},
		{"bad attribute", ValidationConfig{TrustAnchors: []string{"a"}, NecessaryAttributes: []string{"x"}}, "necessary-attributes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Expected field '%s', got '%s'", tt.field, cfgErr.Field)
			}
		})
	}

	ok := ValidationConfig{TrustAnchors: []string{"a"}, ValidityModel: "point-in-time", ValidationTime: "2024-01-02T03:04:05Z"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func writeRoot(t *testing.T, dir string) (string, *x509.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Config Root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, _ := x509.ParseCertificate(der)

	crl, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(time.Hour),
	}, cert, key)
	if err != nil {
		t.Fatalf("Failed to create CRL: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "root.crl"), crl, 0644); err != nil {
		t.Fatalf("Failed to write CRL: %v", err)
	}

	path := filepath.Join(dir, "root.der")
	if err := os.WriteFile(path, der, 0644); err != nil {
		t.Fatalf("Failed to write certificate: %v", err)
	}
	return path, cert
}

func TestValidationConfigBuilderParameters(t *testing.T) {
	dir := t.TempDir()
	rootFile, root := writeRoot(t, dir)
	off := false
	maxLen := 2

	config := &ValidationConfig{
		TrustAnchors:      []string{rootFile},
		CRLs:              []string{filepath.Join(dir, "root.crl")},
		InitialPolicies:   []string{"any-policy"},
		RevocationEnabled: &off,
		MaxPathLength:     &maxLen,
		ValidityModel:     "chain",
		ValidationTime:    "2024-05-06T07:08:09Z",
		UseDeltas:         true,
	}
	params, err := config.BuilderParameters()
	if err != nil {
		t.Fatalf("BuilderParameters failed: %v", err)
	}

	if len(params.TrustAnchors) != 1 || !params.TrustAnchors[0].Certificate().Equal(root) {
		t.Errorf("Expected the configured root as the only anchor")
	}
	if params.RevocationEnabled {
		t.Error("Expected revocation disabled")
	}
	if params.MaxPathLength != 2 {
		t.Errorf("Expected MaxPathLength 2, got %d", params.MaxPathLength)
	}
	if params.ValidityModel != certvalidator.ChainModel {
		t.Errorf("Expected chain model, got %s", params.ValidityModel)
	}
	if !params.UseDeltas {
		t.Error("Expected UseDeltas")
	}
	if want := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC); !params.Date.Equal(want) {
		t.Errorf("Expected date %s, got %s", want, params.Date)
	}
	if len(params.InitialPolicies) != 1 || params.InitialPolicies[0] != "2.5.29.32.0" {
		t.Errorf("Unexpected initial policies %v", params.InitialPolicies)
	}
	if len(params.CertStores) != 1 || len(params.CRLStores) != 1 || len(params.AttrCertStores) != 1 {
		t.Error("Expected one store of each kind")
	}
	found, err := params.CertStores[0].FindCertificates(certvalidator.SelectCertificate(root))
	if err != nil || len(found) != 1 {
		t.Errorf("Expected the root in the certificate store, got %d (%v)", len(found), err)
	}
}

func TestValidationConfigBuilderParametersDefaults(t *testing.T) {
	rootFile, _ := writeRoot(t, t.TempDir())

	params, err := (&ValidationConfig{TrustAnchors: []string{rootFile}}).BuilderParameters()
	if err != nil {
		t.Fatalf("BuilderParameters failed: %v", err)
	}
	if !params.RevocationEnabled {
		t.Error("Revocation should be enabled by default")
	}
	if params.MaxPathLength != certvalidator.DefaultMaxPathLength {
		t.Errorf("Expected default MaxPathLength, got %d", params.MaxPathLength)
	}
	if !params.Date.IsZero() {
		t.Error("Expected zero validation date")
	}
}

func TestValidationConfigBuilderParametersMissingFile(t *testing.T) {
	_, err := (&ValidationConfig{TrustAnchors: []string{filepath.Join(t.TempDir(), "missing.pem")}}).BuilderParameters()
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "trust-anchors" {
		t.Errorf("Expected trust-anchors ConfigError, got %v", err)
	}
}

func TestValidationConfigAttrCertBuilderParameters(t *testing.T) {
	rootFile, root := writeRoot(t, t.TempDir())

	config := &ValidationConfig{
		TrustAnchors:         []string{rootFile},
		TrustedACIssuers:     []string{rootFile},
		ProhibitedAttributes: []string{"clearance"},
		NecessaryAttributes:  []string{"2.5.4.72"},
	}
	params, err := config.AttrCertBuilderParameters()
	if err != nil {
		t.Fatalf("AttrCertBuilderParameters failed: %v", err)
	}
	if len(params.TrustedACIssuers) != 1 || !params.TrustedACIssuers[0].Certificate().Equal(root) {
		t.Error("Expected the root as trusted AC issuer")
	}
	if len(params.ProhibitedAttributes) != 1 || params.ProhibitedAttributes[0] != "2.5.4.55" {
		t.Errorf("Unexpected prohibited attributes %v", params.ProhibitedAttributes)
	}
	if len(params.NecessaryAttributes) != 1 || params.NecessaryAttributes[0] != "2.5.4.72" {
		t.Errorf("Unexpected necessary attributes %v", params.NecessaryAttributes)
	}
}
