package activitypub

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SignatureParams is the parsed form of a Signature header.
type SignatureParams struct {
	KeyId     string
	Algorithm string
	Headers   []string
	Signature []byte
}

// ActorURI is the keyId without its fragment.
func (p *SignatureParams) ActorURI() string {
	uri, _, _ := strings.Cut(p.KeyId, "#")
	return uri
}

// String serializes the parameters back into header form.
func (p *SignatureParams) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, `keyId="%s"`, p.KeyId)
	if p.Algorithm != "" {
		fmt.Fprintf(&b, `,algorithm="%s"`, p.Algorithm)
	}
	if len(p.Headers) > 0 {
		fmt.Fprintf(&b, `,headers="%s"`, strings.Join(p.Headers, " "))
	}
	fmt.Fprintf(&b, `,signature="%s"`, base64.StdEncoding.EncodeToString(p.Signature))
	return b.String()
}

// ParseSignatureHeader parses `key1="v1",key2="v2"`. An empty header is
// ErrMissingSignature; anything else that does not parse completely is
// ErrMalformedSignature.
func ParseSignatureHeader(raw string) (*SignatureParams, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMissingSignature
	}

	fields, err := tokenize(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	p := &SignatureParams{
		KeyId:     fields["keyId"],
		Algorithm: fields["algorithm"],
	}
	if p.KeyId == "" {
		return nil, fmt.Errorf("%w: missing keyId", ErrMalformedSignature)
	}
	sig, ok := fields["signature"]
	if !ok || sig == "" {
		return nil, fmt.Errorf("%w: missing signature", ErrMalformedSignature)
	}
	p.Signature, err = base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64", ErrMalformedSignature)
	}

	if h, ok := fields["headers"]; ok {
		p.Headers = strings.Fields(strings.ToLower(h))
		if len(p.Headers) == 0 {
			return nil, fmt.Errorf("%w: empty headers list", ErrMalformedSignature)
		}
	} else {
		p.Headers = []string{"date"}
	}
	return p, nil
}

// tokenize walks the header once, left to right.
func tokenize(raw string) (map[string]string, error) {
	fields := make(map[string]string)
	s := raw
	for {
		s = strings.TrimLeft(s, " \t")
		if s == "" {
			return nil, fmt.Errorf("trailing separator")
		}

		i := 0
		for i < len(s) && isKeyChar(s[i]) {
			i++
		}
		if i == 0 {
			return nil, fmt.Errorf("expected parameter name at %q", s)
		}
		key := s[:i]
		s = strings.TrimLeft(s[i:], " \t")

		if !strings.HasPrefix(s, `="`) {
			return nil, fmt.Errorf("expected =\" after %s", key)
		}
		s = s[2:]

		end := strings.IndexByte(s, '"')
		if end < 0 {
			return nil, fmt.Errorf("unterminated value for %s", key)
		}
		value := s[:end]
		for j := 0; j < len(value); j++ {
			if !isValueChar(value[j]) {
				return nil, fmt.Errorf("invalid character %q in %s", value[j], key)
			}
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate parameter %s", key)
		}
		fields[key] = value

		s = strings.TrimLeft(s[end+1:], " \t")
		if s == "" {
			return fields, nil
		}
		if s[0] != ',' {
			return nil, fmt.Errorf("expected , after %s", key)
		}
		s = s[1:]
	}
}

func isKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

func isValueChar(c byte) bool {
	if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
		return true
	}
	return strings.IndexByte(":/.#-() +=_~%?&@!*';$,[]", c) >= 0
}
