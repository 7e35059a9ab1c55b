package bluelink

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/request"
)

// disallowedMarker is the body signature of backends that reject an api
// shape without a helpful status code
const disallowedMarker = "access to this api has been disallowed"

// Router builds endpoint uris across the api shape variants and runs the
// fallback cascades. Which variant worked is remembered for the process
// lifetime, per account.
type Router struct {
	log      *util.Logger
	identity *Identity
	base     string

	mu                 sync.Mutex
	statusPostDisabled bool
}

// NewRouter creates the endpoint router for the given ccapi base url
func NewRouter(log *util.Logger, identity *Identity, baseURL string) *Router {
	base := strings.TrimSuffix(baseURL, "/")
	base = strings.TrimSuffix(base, "/api/v1/spa")
	base = strings.TrimSuffix(base, "/api/v2/spa")

	return &Router{
		log:      log,
		identity: identity,
		base:     base,
	}
}

// URI builds a vehicle endpoint url for the given api version. The ccs2
// variant prefixes the suffix.
func (r *Router) URI(ver int, ccs2 bool, vehicleID, suffix string) string {
	if ccs2 {
		suffix = "ccs2/" + suffix
	}

	return fmt.Sprintf("%s/api/v%d/spa/vehicles/%s/%s", r.base, ver, vehicleID, suffix)
}

// VehiclesURI is the account's vehicle listing endpoint
func (r *Router) VehiclesURI() string {
	return fmt.Sprintf("%s/api/v1/spa/vehicles", r.base)
}

// NotificationsURI is the per-vehicle notifications record feed
func (r *Router) NotificationsURI(vehicleID string) string {
	return fmt.Sprintf("%s/api/v1/spa/notifications/%s/records", r.base, vehicleID)
}

func (r *Router) get(uri string, mode AuthMode) ([]byte, error) {
	return r.identity.DoRequest(func() (*http.Request, error) {
		return request.New(http.MethodGet, uri, nil, request.AcceptJSON)
	}, mode)
}

func (r *Router) post(uri string, data interface{}, mode AuthMode) ([]byte, error) {
	return r.identity.DoRequest(func() (*http.Request, error) {
		return request.New(http.MethodPost, uri, request.MarshalJSON(data), request.JSONEncoding)
	}, mode)
}

// Do sends a request for the given api variant, applying the generic
// fallbacks: a v2 url answered with 403/404 is retried once on v1, and a
// control-token-authorized GET answered with 401/403 is retried once with
// plain access-token authorization. Each fallback runs at most once, in
// that order.
func (r *Router) Do(method string, ver int, ccs2 bool, vehicleID, suffix string, data interface{}, mode AuthMode) ([]byte, error) {
	send := func(ver int, mode AuthMode) ([]byte, error) {
		uri := r.URI(ver, ccs2, vehicleID, suffix)
		if method == http.MethodPost {
			return r.post(uri, data, mode)
		}
		return r.get(uri, mode)
	}

	body, err := send(ver, mode)

	if err != nil && ver == 2 && hasStatus(err, http.StatusForbidden, http.StatusNotFound) {
		r.log.DEBUG.Printf("v2 %s unsupported, retrying v1", suffix)
		ver = 1
		body, err = send(ver, mode)
	}

	if err != nil && mode.control() && method == http.MethodGet &&
		(hasStatus(err, http.StatusUnauthorized, http.StatusForbidden) || errors.Is(err, api.ErrAuthFail)) {
		r.log.DEBUG.Printf("control token rejected for %s, retrying with access token", suffix)
		body, err = send(ver, AuthAccess)
	}

	return body, err
}

// StatusLatest retrieves the server-side cached status. For ccs2 vehicles
// the ccs2 shape is tried first, falling back to the legacy status/latest
// and finally the plain status endpoint on the known failure signatures.
func (r *Router) StatusLatest(vehicleID string, ccs2 bool) ([]byte, error) {
	if ccs2 {
		body, err := r.get(r.URI(2, true, vehicleID, "carstatus/latest"), AuthAccess)
		if err == nil && !disallowed(body) {
			return body, nil
		}
		if err != nil && !legacyFallback(err) {
			return nil, err
		}
		r.log.DEBUG.Printf("ccs2 status unsupported, falling back to legacy")
	}

	body, err := r.get(r.URI(1, false, vehicleID, "status/latest"), AuthAccess)
	if err == nil && !disallowed(body) {
		return body, nil
	}

	return r.get(r.URI(1, false, vehicleID, "status"), AuthAccess)
}

// StatusRefresh forces a fresh status readout from the vehicle. POST with a
// device-id body is attempted first (some backends need it to select the
// right vehicle gateway); on failure the call falls back to GET. Only
// 404/405 disables POST for subsequent calls; a later POST success clears
// that again.
func (r *Router) StatusRefresh(vehicleID string, ccs2 bool) ([]byte, error) {
	uri := r.URI(1, false, vehicleID, "status")

	r.mu.Lock()
	tryPost := !r.statusPostDisabled
	r.mu.Unlock()

	if tryPost {
		body, err := r.post(uri, map[string]string{"deviceId": r.identity.DeviceID()}, AuthAccess)
		if err == nil {
			r.setStatusPostDisabled(false)
			return body, nil
		}

		var se request.StatusError
		if !errors.As(err, &se) {
			return nil, err
		}

		disable := se.HasStatus(http.StatusNotFound, http.StatusMethodNotAllowed)
		r.log.DEBUG.Printf("status POST failed (%d), retrying GET", se.StatusCode())

		body, gerr := r.get(uri, AuthAccess)
		if gerr == nil && disable {
			r.setStatusPostDisabled(true)
		}

		return body, gerr
	}

	return r.get(uri, AuthAccess)
}

func (r *Router) setStatusPostDisabled(disabled bool) {
	r.mu.Lock()
	r.statusPostDisabled = disabled
	r.mu.Unlock()
}

// Location runs the location lookup cascade and returns the first response
// accepted by valid. If no candidate yields a usable position the last
// error (or ErrNotAvailable) is returned.
func (r *Router) Location(vehicleID string, valid func([]byte) bool) ([]byte, error) {
	candidates := []struct {
		ver    int
		ccs2   bool
		suffix string
	}{
		{1, false, "location/latest"},
		{1, true, "location/latest"},
		{2, true, "carstatus/latest"},
		{1, false, "status/latest"},
	}

	var err error = api.ErrNotAvailable
	for _, c := range candidates {
		body, cerr := r.get(r.URI(c.ver, c.ccs2, vehicleID, c.suffix), AuthAccess)
		if cerr == nil {
			if valid(body) {
				return body, nil
			}
			continue
		}
		err = cerr
	}

	return nil, err
}

// hasStatus matches err against a set of http status codes
func hasStatus(err error, codes ...int) bool {
	var se request.StatusError
	return errors.As(err, &se) && se.HasStatus(codes...)
}

// legacyFallback matches the failure signatures that trigger the fallback
// from the ccs2 to the legacy status shape
func legacyFallback(err error) bool {
	if hasStatus(err,
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusInternalServerError,
	) {
		return true
	}

	var se request.StatusError
	if errors.As(err, &se) && disallowed(se.Body()) {
		return true
	}

	return errors.Is(err, api.ErrAuthFail)
}

func disallowed(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), disallowedMarker)
}
