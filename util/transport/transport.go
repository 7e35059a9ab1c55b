package transport

import (
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/evlink-io/bluelink/util"
)

// Decorator is an http.RoundTripper that decorates the request before executing it
type Decorator struct {
	Decorator func(*http.Request) error
	Base      http.RoundTripper
}

func (t *Decorator) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.Decorator(req); err != nil {
		return nil, err
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	return base.RoundTrip(req)
}

// Default returns a http.Transport with modified default settings
func Default() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Tripper traces requests and responses on a logger's TRACE level
type Tripper struct {
	log  *util.Logger
	Base http.RoundTripper
}

// NewTripper creates a logging roundtrip handler
func NewTripper(log *util.Logger, base http.RoundTripper) http.RoundTripper {
	return &Tripper{
		log:  log,
		Base: base,
	}
}

func (r *Tripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if body, err := httputil.DumpRequestOut(req, true); err == nil {
		r.log.TRACE.Printf("%s", body)
	}

	resp, err := r.Base.RoundTrip(req)

	if err == nil {
		if body, err := httputil.DumpResponse(resp, true); err == nil {
			r.log.TRACE.Printf("%s", body)
		}
	}

	return resp, err
}
