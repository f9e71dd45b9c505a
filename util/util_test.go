package util

import (
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	if version == "" {
		t.Error("Version should not be empty")
	}
	if strings.ContainsAny(version, "\n ") {
		t.Errorf("Version should be trimmed, got %q", version)
	}
}

func TestGetNameAndVersion(t *testing.T) {
	result := GetNameAndVersion()
	if !strings.HasPrefix(result, "ivory / ") {
		t.Errorf("Expected 'ivory / <version>', got %q", result)
	}
}

func TestUserAgent(t *testing.T) {
	ua := UserAgent()
	if !strings.HasPrefix(ua, "ivory/") || !strings.HasSuffix(ua, "ActivityPub") {
		t.Errorf("Unexpected user agent %q", ua)
	}
}

func TestPrettyPrint(t *testing.T) {
	out := PrettyPrint(map[string]int{"a": 1})
	if !strings.Contains(out, "\"a\": 1") {
		t.Errorf("Unexpected output %q", out)
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keypair, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatalf("GeneratePemKeypair failed: %v", err)
	}

	privBlock, _ := pem.Decode([]byte(keypair.Private))
	if privBlock == nil || privBlock.Type != "RSA PRIVATE KEY" {
		t.Fatalf("Private key is not a PKCS#1 PEM block")
	}
	priv, err := x509.ParsePKCS1PrivateKey(privBlock.Bytes)
	if err != nil {
		t.Fatalf("Private key does not parse: %v", err)
	}

	pubBlock, _ := pem.Decode([]byte(keypair.Public))
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		t.Fatalf("Public key is not a PKIX PEM block")
	}
	if _, err := x509.ParsePKIXPublicKey(pubBlock.Bytes); err != nil {
		t.Fatalf("Public key does not parse: %v", err)
	}

	if priv.N.BitLen() != 1024 {
		t.Errorf("Expected 1024 bit key, got %d", priv.N.BitLen())
	}
}

func TestGeneratePemKeypairUniqueness(t *testing.T) {
	a, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GeneratePemKeypair(1024)
	if err != nil {
		t.Fatal(err)
	}
	if a.Private == b.Private {
		t.Error("Two generated keypairs should differ")
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"<p>hello <a href=\"https://x\">@bob</a></p>", "hello @bob"},
		{"plain", "plain"},
		{"<p>a &amp; b</p>", "a & b"},
	}
	for _, tt := range tests {
		if got := StripHTML(tt.in); got != tt.want {
			t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
