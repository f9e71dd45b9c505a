package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigConstants(t *testing.T) {
	if Name != "ivory" {
		t.Errorf("Expected Name 'ivory', got '%s'", Name)
	}

	if ConfigFileName != "config.yaml" {
		t.Errorf("Expected ConfigFileName 'config.yaml', got '%s'", ConfigFileName)
	}
}

func TestReadConfWithYaml(t *testing.T) {
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: true
federation:
  keyFetchTimeout: 3s
  keyCacheTTL: 5m
  fanoutWorkers: 4
mail:
  enabled: true
  host: smtp.example.com
  from: noreply@example.com
`
	err := os.WriteFile("config.yaml", []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	defer os.Remove("config.yaml")

	config, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}

	if config.Conf.Host != "127.0.0.1" {
		t.Errorf("Expected Host '127.0.0.1', got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "example.com" {
		t.Errorf("Expected SslDomain 'example.com', got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true")
	}
	if config.Federation.KeyFetchTimeout != 3*time.Second {
		t.Errorf("Expected KeyFetchTimeout 3s, got %v", config.Federation.KeyFetchTimeout)
	}
	if config.Federation.KeyCacheTTL != 5*time.Minute {
		t.Errorf("Expected KeyCacheTTL 5m, got %v", config.Federation.KeyCacheTTL)
	}
	if config.Federation.FanoutWorkers != 4 {
		t.Errorf("Expected FanoutWorkers 4, got %d", config.Federation.FanoutWorkers)
	}
	if !config.Mail.Enabled || config.Mail.Host != "smtp.example.com" {
		t.Errorf("Unexpected mail section: %+v", config.Mail)
	}
}

func TestReadConfKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("conf:\n  sslDomain: social.example\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	config, err := ReadConfFile(path)
	if err != nil {
		t.Fatalf("ReadConfFile failed: %v", err)
	}

	if config.Conf.SslDomain != "social.example" {
		t.Errorf("Expected SslDomain 'social.example', got '%s'", config.Conf.SslDomain)
	}
	if config.Federation.KeyFetchTimeout != 10*time.Second {
		t.Errorf("Expected default KeyFetchTimeout 10s, got %v", config.Federation.KeyFetchTimeout)
	}
	if config.Federation.MaxClockSkew != 12*time.Hour {
		t.Errorf("Expected default MaxClockSkew 12h, got %v", config.Federation.MaxClockSkew)
	}
	if config.Federation.KeyCacheTTL != 0 {
		t.Errorf("Expected key cache disabled by default, got %v", config.Federation.KeyCacheTTL)
	}
}

func TestReadConfWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
conf:
  host: 127.0.0.1
  httpPort: 9999
  sslDomain: example.com
  withAp: false
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	t.Setenv("IVORY_HOST", "192.168.1.1")
	t.Setenv("IVORY_HTTPPORT", "8080")
	t.Setenv("IVORY_SSLDOMAIN", "test.example.com")
	t.Setenv("IVORY_WITH_AP", "true")
	t.Setenv("IVORY_JWT_SECRET", "s3cret")

	config, err := ReadConfFile(path)
	if err != nil {
		t.Fatalf("ReadConfFile failed: %v", err)
	}

	if config.Conf.Host != "192.168.1.1" {
		t.Errorf("Expected Host '192.168.1.1' from env, got '%s'", config.Conf.Host)
	}
	if config.Conf.HttpPort != 8080 {
		t.Errorf("Expected HttpPort 8080 from env, got %d", config.Conf.HttpPort)
	}
	if config.Conf.SslDomain != "test.example.com" {
		t.Errorf("Expected SslDomain 'test.example.com' from env, got '%s'", config.Conf.SslDomain)
	}
	if !config.Conf.WithAp {
		t.Error("Expected WithAp to be true from env")
	}
	if config.Conf.JwtSecret != "s3cret" {
		t.Errorf("Expected JwtSecret from env, got '%s'", config.Conf.JwtSecret)
	}
}

func TestReadConfInvalidPortEnvKeepsYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("conf:\n  httpPort: 9999\n"), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}
	t.Setenv("IVORY_HTTPPORT", "not_a_number")

	config, err := ReadConfFile(path)
	if err != nil {
		t.Fatalf("ReadConfFile failed: %v", err)
	}
	if config.Conf.HttpPort != 9999 {
		t.Errorf("Expected HttpPort 9999 to survive a bad env value, got %d", config.Conf.HttpPort)
	}
}

func TestReadConfInvalidYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	invalidYaml := `
conf:
  host: 127.0.0.1
  httpPort: not_a_number
  invalid yaml structure
`
	if err := os.WriteFile(path, []byte(invalidYaml), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	if _, err := ReadConfFile(path); err == nil {
		t.Error("Expected error when parsing invalid YAML")
	}
}

func TestReadConfFileMissing(t *testing.T) {
	if _, err := ReadConfFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

func TestEmbeddedConfigParses(t *testing.T) {
	config, err := parseConf(embeddedConfig)
	if err != nil {
		t.Fatalf("embedded config does not parse: %v", err)
	}
	if config.Conf.Database == "" {
		t.Error("Expected embedded config to name a database")
	}
}
