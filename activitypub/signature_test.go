package activitypub

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignatureHeader(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("signature-bytes"))
	raw := `keyId="https://remote.example/users/bob#main-key",algorithm="rsa-sha256",headers="(request-target) host date digest",signature="` + sig + `"`

	params, err := ParseSignatureHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://remote.example/users/bob#main-key", params.KeyId)
	assert.Equal(t, "rsa-sha256", params.Algorithm)
	assert.Equal(t, []string{"(request-target)", "host", "date", "digest"}, params.Headers)
	assert.Equal(t, []byte("signature-bytes"), params.Signature)
	assert.Equal(t, "https://remote.example/users/bob", params.ActorURI())
}

func TestParseSignatureHeaderDefaults(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("x"))
	params, err := ParseSignatureHeader(` keyId="https://remote.example/actor" , signature="` + sig + `" `)
	require.NoError(t, err)
	assert.Equal(t, []string{"date"}, params.Headers)
	assert.Empty(t, params.Algorithm)
	assert.Equal(t, "https://remote.example/actor", params.ActorURI())
}

func TestParseSignatureHeaderURLCharacters(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("x"))
	keyId := "https://remote.example/~bob/actor?format=json&v=1;x=[2]@host!*'$,_%20#key"
	params, err := ParseSignatureHeader(`keyId="` + keyId + `",signature="` + sig + `"`)
	require.NoError(t, err)
	assert.Equal(t, keyId, params.KeyId)
}

func TestParseSignatureHeaderErrors(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte("x"))
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", ErrMissingSignature},
		{"garbage", "not a signature", ErrMalformedSignature},
		{"missing keyId", `signature="` + sig + `"`, ErrMalformedSignature},
		{"missing signature", `keyId="https://remote.example/users/bob#main-key"`, ErrMalformedSignature},
		{"bad base64", `keyId="k",signature="!!!not base64"`, ErrMalformedSignature},
		{"duplicate key", `keyId="a",keyId="b",signature="` + sig + `"`, ErrMalformedSignature},
		{"unterminated value", `keyId="a,signature="` + sig, ErrMalformedSignature},
		{"trailing comma", `keyId="a",signature="` + sig + `",`, ErrMalformedSignature},
		{"quote in value", `keyId="a\"b",signature="` + sig + `"`, ErrMalformedSignature},
		{"empty headers", `keyId="a",headers="",signature="` + sig + `"`, ErrMalformedSignature},
		{"unquoted value", `keyId=a,signature="` + sig + `"`, ErrMalformedSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := ParseSignatureHeader(tt.raw)
			assert.Nil(t, params)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSignatureParamsString(t *testing.T) {
	params := &SignatureParams{
		KeyId:     "https://local.example/users/alice#main-key",
		Algorithm: "rsa-sha256",
		Headers:   []string{"(request-target)", "host", "date"},
		Signature: []byte{1, 2, 3, 250},
	}
	raw := params.String()
	assert.Equal(t, `keyId="https://local.example/users/alice#main-key",algorithm="rsa-sha256",headers="(request-target) host date",signature="AQID+g=="`, raw)

	parsed, err := ParseSignatureHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, params, parsed)
}
