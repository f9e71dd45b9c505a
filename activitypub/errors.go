package activitypub

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSignature means the request carries no Signature header.
	ErrMissingSignature = errors.New("missing http signature")
	// ErrMalformedSignature means the Signature header is present but unusable.
	ErrMalformedSignature = errors.New("malformed http signature")
	// ErrKeyResolutionFailed means the signer's key could not be obtained.
	// It is retryable and says nothing about the signature itself.
	ErrKeyResolutionFailed = errors.New("key resolution failed")
	// ErrSignatureMismatch means the signature does not match a resolved key.
	ErrSignatureMismatch = errors.New("http signature mismatch")
	// ErrUnsupportedAlgorithm means the signature names an algorithm other than RSA-SHA256.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	// ErrSignatureExpired means the signed Date is outside the allowed clock skew.
	ErrSignatureExpired = errors.New("http signature date outside allowed window")
)

// KeyResolutionError carries the actor that could not be resolved and, when
// the failure came from the remote server, its HTTP status.
type KeyResolutionError struct {
	ActorURI   string
	StatusCode int
	Err        error
}

func (e *KeyResolutionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("resolving key for %s: status %d", e.ActorURI, e.StatusCode)
	}
	return fmt.Sprintf("resolving key for %s: %v", e.ActorURI, e.Err)
}

func (e *KeyResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrKeyResolutionFailed}
	}
	return []error{ErrKeyResolutionFailed, e.Err}
}

// Retryable reports whether err should be answered with "try again later"
// rather than a rejection.
func Retryable(err error) bool {
	return errors.Is(err, ErrKeyResolutionFailed)
}
