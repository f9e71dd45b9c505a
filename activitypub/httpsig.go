package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

// signedHeaders is the header set every outbound request is signed over.
var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest", "content-type"}

const (
	algorithmRSASHA256 = "rsa-sha256"
	algorithmHS2019    = "hs2019"
	activityJSON       = "application/activity+json"
)

// KeySource resolves a keyId to a PEM encoded public key. Failures must
// match ErrKeyResolutionFailed.
type KeySource interface {
	Resolve(ctx context.Context, keyId string) (string, error)
}

// Verifier checks inbound HTTP signatures. It keeps no state between calls.
type Verifier struct {
	keys         KeySource
	maxClockSkew time.Duration
	now          func() time.Time
}

// NewVerifier returns a verifier resolving keys through keys. A positive
// maxClockSkew rejects signed Date headers further than that from now.
func NewVerifier(keys KeySource, maxClockSkew time.Duration) *Verifier {
	return &Verifier{keys: keys, maxClockSkew: maxClockSkew, now: time.Now}
}

// Verify authenticates a request and returns the signing actor's URI.
// path is the request target including any query string.
func (v *Verifier) Verify(ctx context.Context, method, path string, headers HeaderLookup) (string, error) {
	params, err := ParseSignatureHeader(headers.Get("Signature"))
	if err != nil {
		return "", err
	}
	if !supportedAlgorithm(params.Algorithm) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, params.Algorithm)
	}

	req, err := signedRequest(params, method, path, headers)
	if err != nil {
		return "", err
	}
	if err := v.checkDate(params.Headers, headers); err != nil {
		return "", err
	}

	actorURI := params.ActorURI()
	pemKey, err := v.keys.Resolve(ctx, params.KeyId)
	if err != nil {
		if !errors.Is(err, ErrKeyResolutionFailed) {
			err = &KeyResolutionError{ActorURI: actorURI, Err: err}
		}
		return "", err
	}
	publicKey, err := ParsePublicKey(pemKey)
	if err != nil {
		return "", &KeyResolutionError{ActorURI: actorURI, Err: err}
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	// hs2019 and a missing algorithm are verified as RSA-SHA256
	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return "", ErrSignatureMismatch
	}
	return actorURI, nil
}

// signedRequest rebuilds the parts of the request the signature covers.
// A signed header that was not received makes the signature malformed.
// The Signature header is re-encoded from params so spacing variants parse.
func signedRequest(params *SignatureParams, method, path string, headers HeaderLookup) (*http.Request, error) {
	target, err := url.ParseRequestURI(path)
	if err != nil {
		return nil, fmt.Errorf("%w: request target %q", ErrMalformedSignature, path)
	}
	req := &http.Request{Method: method, URL: target, Header: make(http.Header)}

	for _, name := range params.Headers {
		var value string
		switch name {
		case httpsig.RequestTarget:
			continue
		case "host":
			value = headers.Get("X-Forwarded-Host")
			if value == "" {
				value = headers.Get("Host")
			}
			req.Host = value
		default:
			value = headers.Get(name)
		}
		if value == "" {
			return nil, fmt.Errorf("%w: signed header %s not present", ErrMalformedSignature, name)
		}
		req.Header.Set(name, strings.TrimSpace(value))
	}
	req.Header.Set("Signature", params.String())
	return req, nil
}

func (v *Verifier) checkDate(signed []string, headers HeaderLookup) error {
	if v.maxClockSkew <= 0 || !slices.Contains(signed, "date") {
		return nil
	}
	date, err := http.ParseTime(headers.Get("Date"))
	if err != nil {
		return fmt.Errorf("%w: unparsable date", ErrMalformedSignature)
	}
	skew := v.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.maxClockSkew {
		return fmt.Errorf("%w: date %s", ErrSignatureExpired, date.Format(time.RFC3339))
	}
	return nil
}

// supportedAlgorithm accepts rsa-sha256, and hs2019 or no algorithm at all,
// which are verified as RSA-SHA256.
func supportedAlgorithm(algorithm string) bool {
	switch strings.ToLower(algorithm) {
	case "", algorithmRSASHA256, algorithmHS2019:
		return true
	}
	return false
}

// newSigner returns a fresh signer over signedHeaders. httpsig signers are
// not safe for concurrent use, so one is built per request.
func newSigner() (httpsig.Signer, error) {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return signer, nil
}

// Signer produces outbound signatures. The zero value is ready to use.
type Signer struct {
	Now func() time.Time
}

// Sign returns the Signature header value for a request to target whose
// Date, Digest and Content-Type are already known.
func (s Signer) Sign(key *rsa.PrivateKey, actorURI, method string, target *url.URL, date, digest, contentType string) (string, error) {
	req := &http.Request{Method: method, URL: target, Host: target.Host, Header: make(http.Header)}
	for name, value := range map[string]string{
		"Host":         target.Host,
		"Date":         date,
		"Digest":       digest,
		"Content-Type": contentType,
	} {
		if value == "" {
			return "", fmt.Errorf("%w: signed header %s is empty", ErrMalformedSignature, strings.ToLower(name))
		}
		req.Header.Set(name, value)
	}

	signer, err := newSigner()
	if err != nil {
		return "", err
	}
	if err := signer.SignRequest(key, actorURI+"#main-key", req, nil); err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}
	return req.Header.Get("Signature"), nil
}

// SignRequest sets Host, Date, Digest and Content-Type on req and signs it
// as actorURI. body must be the exact bytes req will send.
func (s Signer) SignRequest(req *http.Request, body []byte, key *rsa.PrivateKey, actorURI string) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	req.Host = req.URL.Host
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Date", now().UTC().Format(http.TimeFormat))
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", activityJSON)
	}
	// the signer adds Digest itself and refuses to overwrite one
	req.Header.Del("Digest")
	if body == nil {
		body = []byte{}
	}

	signer, err := newSigner()
	if err != nil {
		return err
	}
	if err := signer.SignRequest(key, actorURI+"#main-key", req, body); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	return nil
}

// DigestSigned reports whether the request's signature covers its Digest
// header. A Digest outside the signature proves nothing about the body.
func DigestSigned(headers HeaderLookup) bool {
	params, err := ParseSignatureHeader(headers.Get("Signature"))
	return err == nil && slices.Contains(params.Headers, "digest")
}

// Digest returns the SHA-256 Digest header value for body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// VerifyDigest checks a Digest header against the received body.
func VerifyDigest(body []byte, header string) error {
	if header == "" {
		return fmt.Errorf("%w: missing digest", ErrMalformedSignature)
	}
	want := Digest(body)
	for _, part := range strings.Split(header, ",") {
		algo, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if "SHA-256="+value == want {
			return nil
		}
		return fmt.Errorf("%w: digest does not match body", ErrSignatureMismatch)
	}
	return fmt.Errorf("%w: no SHA-256 digest", ErrMalformedSignature)
}

// ReadVerifiedBody reads a request body up to limit bytes and checks its Digest.
func ReadVerifiedBody(r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := VerifyDigest(body, r.Header.Get("Digest")); err != nil {
		return nil, err
	}
	return body, nil
}

// ParsePrivateKey converts a PKCS#1 or PKCS#8 PEM string to *rsa.PrivateKey.
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

// ParsePublicKey converts a PKIX or PKCS#1 PEM string to *rsa.PublicKey.
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPubKey, nil
}
