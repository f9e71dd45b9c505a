package activitypub

import (
	"net/http"
	"strings"
)

// HeaderLookup is the only view of a request the verifier needs.
// Names are matched case-insensitively.
type HeaderLookup interface {
	Get(name string) string
}

// RequestHeaders adapts an inbound *http.Request. The Go server moves the
// Host header into Request.Host, so host is read from there.
type RequestHeaders struct {
	R *http.Request
}

func (h RequestHeaders) Get(name string) string {
	if strings.EqualFold(name, "host") {
		if h.R.Host != "" {
			return h.R.Host
		}
		return h.R.URL.Host
	}
	return h.R.Header.Get(name)
}

// MapHeaders is a plain header map keyed by any casing.
type MapHeaders map[string]string

func (m MapHeaders) Get(name string) string {
	if v, ok := m[name]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
