package bluelink

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/oauth"
	"github.com/evlink-io/bluelink/util/request"
	"github.com/google/uuid"
)

// AuthMode selects how a request is authorized. The caller chooses the
// control token variant, never the url.
type AuthMode int

const (
	// AuthAccess sends the bearer access token
	AuthAccess AuthMode = iota
	// AuthControlCcsp replaces the bearer header with the control token on
	// the legacy ccsp header (legacy control endpoints)
	AuthControlCcsp
	// AuthControlHeader sends the control token as additional header next
	// to the normal bearer access token (modern control endpoints)
	AuthControlHeader
)

// control returns true for modes requiring a control token
func (m AuthMode) control() bool {
	return m == AuthControlCcsp || m == AuthControlHeader
}

const (
	hdrDeviceID      = "ccsp-device-id"
	hdrApplicationID = "ccsp-application-id"
	hdrServiceID     = "ccsp-service-id"
	hdrCcspToken     = "ccsp-token"
	hdrControlToken  = "ccsp-control-token"
	hdrStamp         = "Stamp"
	hdrPin           = "pin"

	// control tokens are treated as expired this long before their nominal
	// expiry to avoid races with in-flight commands
	controlTokenSlack = 30 * time.Second
)

// Identity owns the token state of an account session: access/refresh
// tokens, the registered device id and the short-lived pin-gated control
// token. All mutation is mutex guarded.
type Identity struct {
	*request.Helper
	log       *util.Logger
	clock     clock.Clock
	endpoints Endpoints
	stamps    *Stamps
	pin       string

	mu               sync.Mutex
	accessToken      string
	refreshToken     string
	deviceID         string
	deviceRegistered bool
	controlToken     string
	controlExpiry    time.Time
}

// NewIdentity creates the token manager for an account session. The refresh
// token may be seeded for pre-authorized flows.
func NewIdentity(log *util.Logger, endpoints Endpoints, stamps *Stamps, refreshToken, pin string) *Identity {
	v := &Identity{
		Helper:    request.NewHelper(log),
		log:       log,
		clock:     clock.New(),
		endpoints: endpoints,
		stamps:    stamps,
		pin:       pin,
	}

	v.refreshToken = refreshToken
	v.log.Redact(refreshToken, pin)

	return v
}

// DeviceID returns the current device identifier, generating one if needed
func (v *Identity) DeviceID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ensureDeviceID()
}

func (v *Identity) ensureDeviceID() string {
	if v.deviceID == "" {
		v.deviceID = uuid.NewString()
	}
	return v.deviceID
}

// Login exchanges the refresh token for an access token, invalidates any
// cached control token and, if a pin is configured, eagerly fetches a new
// control token.
func (v *Identity) Login() error {
	v.mu.Lock()

	if v.refreshToken == "" {
		v.mu.Unlock()
		return fmt.Errorf("%w: no refresh token", api.ErrAuthFail)
	}

	if err := v.updateToken(); err != nil {
		v.mu.Unlock()
		return err
	}

	v.controlToken = ""
	v.controlExpiry = time.Time{}
	v.registerDevice()
	v.mu.Unlock()

	if v.pin != "" {
		if _, err := v.EnsureControlToken(); err != nil {
			v.log.WARN.Printf("eager control token fetch failed: %v", err)
		}
	}

	return nil
}

// RefreshAccessToken re-exchanges the refresh token. The device identifier
// is rotated first; rotation failure never fails the refresh.
func (v *Identity) RefreshAccessToken() error {
	v.RotateDeviceID()

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.refreshToken == "" {
		return fmt.Errorf("%w: no refresh token", api.ErrAuthFail)
	}

	if err := v.updateToken(); err != nil {
		return err
	}

	v.controlToken = ""
	v.controlExpiry = time.Time{}

	return nil
}

// updateToken performs the oauth refresh grant. Callers must hold the mutex.
func (v *Identity) updateToken() error {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {v.refreshToken},
		"redirect_uri":  {"https://localhost:8080/login/redirect"},
	}

	req, err := request.New(http.MethodPost, v.endpoints.OAuth.TokenURL, strings.NewReader(data.Encode()), request.URLEncoding)
	if err != nil {
		return err
	}
	req.SetBasicAuth(v.endpoints.OAuth.ClientID, v.endpoints.OAuth.ClientSecret)

	var token oauth.Token
	if err := v.DoJSON(req, &token); err != nil {
		return fmt.Errorf("%w: %v", api.ErrAuthFail, err)
	}

	if token.AccessToken == "" {
		return fmt.Errorf("%w: token response without access token", api.ErrAuthFail)
	}

	v.accessToken = token.AccessToken
	if token.RefreshToken != "" {
		v.refreshToken = token.RefreshToken
	}
	v.log.Redact(token.AccessToken, token.RefreshToken)

	return nil
}

// RotateDeviceID regenerates and re-registers the device identifier. The
// backend's push registration goes stale and then yields spurious 4xx, hence
// rotation after login, refresh and every poll outcome. Best-effort: errors
// are logged and swallowed.
func (v *Identity) RotateDeviceID() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.deviceID = uuid.NewString()
	v.deviceRegistered = false
	v.registerDevice()
}

// registerDevice registers the current device id with the push-notification
// endpoint. Callers must hold the mutex.
func (v *Identity) registerDevice() {
	stamp, err := v.stamps.Stamp()
	if err != nil {
		v.log.WARN.Printf("device registration skipped: %v", err)
		return
	}

	data := map[string]string{
		"pushRegId": strings.ReplaceAll(uuid.NewString(), "-", ""),
		"pushType":  v.endpoints.OAuth.PushType,
		"uuid":      v.ensureDeviceID(),
	}

	uri := v.endpoints.CCAPI.BaseURL + "/api/v1/spa/notifications/register"
	req, err := request.New(http.MethodPost, uri, request.MarshalJSON(data), request.JSONEncoding, map[string]string{
		hdrApplicationID: v.endpoints.OAuth.ApplicationID,
		hdrStamp:         stamp,
	})

	var res struct {
		ResMsg struct {
			DeviceID string `json:"deviceId"`
		} `json:"resMsg"`
	}

	if err == nil {
		err = v.DoJSON(req, &res)
	}

	if err != nil {
		v.log.WARN.Printf("device registration failed: %v", err)
		return
	}

	if res.ResMsg.DeviceID != "" {
		v.deviceID = res.ResMsg.DeviceID
	}
	v.deviceRegistered = true
}

// EnsureControlToken returns a control token valid for at least the slack
// window, acquiring a new one via the pin exchange if needed. Safe under
// concurrent callers: a single acquisition is in flight, later callers reuse
// the published result.
func (v *Identity) EnsureControlToken() (string, error) {
	if v.pin == "" {
		return "", fmt.Errorf("%w: no pin configured", api.ErrMissingCredentials)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.controlToken != "" && v.clock.Now().Before(v.controlExpiry.Add(-controlTokenSlack)) {
		return v.controlToken, nil
	}

	data := map[string]string{
		"deviceId": v.ensureDeviceID(),
		"pin":      v.pin,
	}

	uri := v.endpoints.CCAPI.BaseURL + "/api/v1/user/pin"
	req, err := request.New(http.MethodPut, uri, request.MarshalJSON(data), request.JSONEncoding, map[string]string{
		"Authorization": "Bearer " + v.accessToken,
	})

	var res struct {
		ControlToken string `json:"controlToken"`
		ExpiresTime  int64  `json:"expiresTime"` // seconds
	}

	if err == nil {
		err = v.DoJSON(req, &res)
	}

	if err != nil {
		return "", fmt.Errorf("control token exchange: %w", err)
	}

	if res.ControlToken == "" {
		return "", fmt.Errorf("control token exchange: no token in response")
	}

	expiry := res.ExpiresTime
	if expiry == 0 {
		expiry = 600
	}

	v.controlToken = res.ControlToken
	v.controlExpiry = v.clock.Now().Add(time.Duration(expiry) * time.Second)
	v.log.Redact(res.ControlToken)
	v.log.DEBUG.Printf("acquired control token %s, valid until %v", util.Redacted("Token"), v.controlExpiry)

	return v.controlToken, nil
}

// InvalidateControlToken discards the cached control token
func (v *Identity) InvalidateControlToken() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.controlToken = ""
	v.controlExpiry = time.Time{}
}

// Decorate attaches authorization, device id, pin digest, application id and
// stamp headers according to mode.
func (v *Identity) Decorate(req *http.Request, mode AuthMode) error {
	stamp, err := v.stamps.Stamp()
	if err != nil {
		return err
	}

	var controlToken string
	if mode.control() {
		if controlToken, err = v.EnsureControlToken(); err != nil {
			return err
		}
	}

	v.mu.Lock()
	accessToken := v.accessToken
	deviceID := v.ensureDeviceID()
	v.mu.Unlock()

	req.Header.Set(hdrDeviceID, deviceID)
	req.Header.Set(hdrApplicationID, v.endpoints.OAuth.ApplicationID)
	req.Header.Set(hdrServiceID, v.endpoints.OAuth.ClientID)
	req.Header.Set(hdrStamp, stamp)

	switch mode {
	case AuthControlCcsp:
		// legacy ccsp endpoints take the control token instead of the
		// bearer header, on a dedicated header
		req.Header.Set(hdrCcspToken, "Bearer "+controlToken)
	case AuthControlHeader:
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set(hdrControlToken, controlToken)
	default:
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	if mode.control() && v.pin != "" {
		digest := sha512.Sum512([]byte(v.pin))
		req.Header.Set(hdrPin, hex.EncodeToString(digest[:]))
	}

	return nil
}

// DoRequest builds, decorates and sends a request. On a 401 it refreshes the
// access token and retries exactly once; this is the only automatic retry in
// the system. Any other status is returned to the caller.
func (v *Identity) DoRequest(build func() (*http.Request, error), mode AuthMode) ([]byte, error) {
	send := func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, err
		}

		if err := v.Decorate(req, mode); err != nil {
			return nil, err
		}

		return v.DoBody(req)
	}

	body, err := send()

	var se request.StatusError
	if errors.As(err, &se) && se.StatusCode() == http.StatusUnauthorized {
		if err := v.RefreshAccessToken(); err != nil {
			return nil, err
		}

		if body, err = send(); err != nil {
			if errors.As(err, &se) && se.StatusCode() == http.StatusUnauthorized {
				err = fmt.Errorf("%w: %v", api.ErrAuthFail, err)
			}
			return body, err
		}
	}

	return body, err
}
