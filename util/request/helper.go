package request

import (
	"net/http"

	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/transport"
)

// Helper provides utility primitives
type Helper struct {
	*http.Client
}

// NewHelper creates http helper for simplified request handling
func NewHelper(log *util.Logger) *Helper {
	r := &Helper{
		Client: &http.Client{Timeout: Timeout},
	}

	r.Client.Transport = transport.NewTripper(log, transport.Default())

	return r
}

// DoBody executes HTTP request and returns the response body
func (r *Helper) DoBody(req *http.Request) ([]byte, error) {
	resp, err := r.Do(req)
	if err != nil {
		return nil, err
	}

	return ReadBody(resp)
}

// GetBody executes HTTP GET request and returns the response body
func (r *Helper) GetBody(url string) ([]byte, error) {
	resp, err := r.Get(url)
	if err != nil {
		return nil, err
	}

	return ReadBody(resp)
}

// DoJSON executes HTTP request and decodes JSON response
func (r *Helper) DoJSON(req *http.Request, res interface{}) error {
	resp, err := r.Do(req)
	if err != nil {
		return err
	}

	return DecodeJSON(resp, res)
}

// GetJSON executes HTTP GET request and decodes JSON response
func (r *Helper) GetJSON(url string, res interface{}) error {
	req, err := New(http.MethodGet, url, nil, AcceptJSON)
	if err != nil {
		return err
	}

	return r.DoJSON(req, res)
}
