package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Timeout is the default request timeout used by the Helper
var Timeout = 10 * time.Second

// URLEncoding specifies application/x-www-form-urlencoded
var URLEncoding = map[string]string{
	"Content-Type": "application/x-www-form-urlencoded",
	"Accept":       "application/json",
}

// JSONEncoding specifies application/json
var JSONEncoding = map[string]string{
	"Content-Type": "application/json",
	"Accept":       "application/json",
}

// AcceptJSON accepting application/json
var AcceptJSON = map[string]string{
	"Accept": "application/json",
}

// New builds and executes HTTP request and returns the response
func New(method, uri string, body io.Reader, headers ...map[string]string) (*http.Request, error) {
	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	for _, headers := range headers {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	return req, nil
}

// MarshalJSON marshals JSON body for HTTP request
func MarshalJSON(data interface{}) io.Reader {
	body, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}

	return bytes.NewReader(body)
}

// ReadBody reads HTTP response and returns its body
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return []byte{}, err
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return b, NewStatusError(resp, b)
	}

	return b, nil
}

// DecodeJSON reads HTTP response and decodes JSON body if error is nil
func DecodeJSON(resp *http.Response, res interface{}) error {
	b, err := ReadBody(resp)
	if err == nil && len(b) > 0 {
		err = json.Unmarshal(b, &res)
	}

	return err
}
