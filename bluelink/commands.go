package bluelink

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/request"
)

// Action is a logical vehicle command
type Action string

const (
	ActionLock           Action = "lock"
	ActionUnlock         Action = "unlock"
	ActionClimateStart   Action = "start"
	ActionClimateStop    Action = "stop"
	ActionChargeStart    Action = "startCharge"
	ActionChargeStop     Action = "stopCharge"
	ActionChargeLimit    Action = "setChargeLimit"
	ActionTemperature    Action = "setTargetTemperature"
	ActionGetReservation Action = "getReservation"
	ActionSetReservation Action = "setReservation"
)

// CommandRequest carries both payload dialects of an actuation command. The
// control segment is version independent; only the /api/v{1,2}/spa base
// differs between the variants.
type CommandRequest struct {
	Action    Action
	Segment   string
	Method    string
	V1Payload interface{}
	V2Payload interface{}
}

// RequiresCcspToken returns true when the legacy ccsp control header
// variant applies
func (c CommandRequest) RequiresCcspToken(isV1, ccs2 bool) bool {
	return isV1 && !ccs2
}

// CommandResponse is the outcome of a dispatched command. A message id
// signals that the command completes asynchronously and must be polled.
type CommandResponse struct {
	Action    Action
	Segment   string
	MessageID string
	RawBody   []byte
}

// IsRemoteDoor reports whether the command actuates the door locks
func (r CommandResponse) IsRemoteDoor() bool {
	return r.Segment == "door"
}

// RemoteDoorAction is the door action submitted, if any
func (r CommandResponse) RemoteDoorAction() string {
	switch r.Action {
	case ActionLock:
		return "close"
	case ActionUnlock:
		return "open"
	}
	return ""
}

// Dispatcher builds and sends actuation commands
type Dispatcher struct {
	log      *util.Logger
	identity *Identity
	router   *Router
}

// NewDispatcher creates a command dispatcher
func NewDispatcher(log *util.Logger, identity *Identity, router *Router) *Dispatcher {
	return &Dispatcher{
		log:      log,
		identity: identity,
		router:   router,
	}
}

// tempCode encodes a target temperature as the v1 api's hex step code
// (half-degree steps from 14°C)
func tempCode(temp float64) string {
	steps := int((temp - 14) * 2)
	if steps < 0 {
		steps = 0
	}
	return fmt.Sprintf("%02XH", steps)
}

// LockRequest builds a door lock/unlock command
func LockRequest(lock bool) CommandRequest {
	action, doorAction := ActionUnlock, "open"
	if lock {
		action, doorAction = ActionLock, "close"
	}

	return CommandRequest{
		Action:    action,
		Segment:   "door",
		Method:    http.MethodPost,
		V1Payload: map[string]interface{}{"action": doorAction},
		V2Payload: map[string]interface{}{"command": doorAction},
	}
}

// ClimateRequest builds a climate start/stop command. The payload dialects
// name the temperature differently: v1 uses the hex tempCode with an
// options block, v2 flat hvac fields.
func ClimateRequest(on bool, temp float64, defrost bool) CommandRequest {
	action, verb := ActionClimateStop, "stop"
	if on {
		action, verb = ActionClimateStart, "start"
	}

	return CommandRequest{
		Action:  action,
		Segment: "temperature",
		Method:  http.MethodPost,
		V1Payload: map[string]interface{}{
			"action":   verb,
			"hvacType": 0,
			"tempCode": tempCode(temp),
			"unit":     "C",
			"options": map[string]interface{}{
				"defrost":  defrost,
				"heating1": 0,
			},
		},
		V2Payload: map[string]interface{}{
			"command":        verb,
			"hvacTemp":       temp,
			"hvacTempType":   1,
			"defrost":        defrost,
			"strgWhlHeating": 0,
			"unit":           "C",
		},
	}
}

// ChargeRequest builds a charge start/stop command
func ChargeRequest(start bool) CommandRequest {
	action, verb := ActionChargeStop, "stop"
	if start {
		action, verb = ActionChargeStart, "start"
	}

	return CommandRequest{
		Action:    action,
		Segment:   "charge",
		Method:    http.MethodPost,
		V1Payload: map[string]interface{}{"action": verb},
		V2Payload: map[string]interface{}{"command": verb},
	}
}

// ChargeLimitRequest builds a charge target command (plugType 0 = DC,
// 1 = AC)
func ChargeLimitRequest(ac, dc int) CommandRequest {
	list := []interface{}{
		map[string]interface{}{"plugType": 0, "targetSOClevel": dc},
		map[string]interface{}{"plugType": 1, "targetSOClevel": ac},
	}

	return CommandRequest{
		Action:    ActionChargeLimit,
		Segment:   "charge/target",
		Method:    http.MethodPost,
		V1Payload: map[string]interface{}{"targetSOClist": list},
		V2Payload: map[string]interface{}{"targetSOClist": list},
	}
}

// TemperatureRequest builds a cabin target temperature command
func TemperatureRequest(temp float64) CommandRequest {
	return CommandRequest{
		Action:  ActionTemperature,
		Segment: "temperature",
		Method:  http.MethodPost,
		V1Payload: map[string]interface{}{
			"action":   "setTemperature",
			"tempCode": tempCode(temp),
			"unit":     "C",
		},
		V2Payload: map[string]interface{}{
			"command":  "setTemperature",
			"hvacTemp": temp,
			"unit":     "C",
		},
	}
}

// GetReservationRequest reads the HVAC pre-condition schedule
func GetReservationRequest() CommandRequest {
	return CommandRequest{
		Action:  ActionGetReservation,
		Segment: "reservation",
		Method:  http.MethodGet,
	}
}

// SetReservationRequest writes the HVAC pre-condition schedule (slot 0)
func SetReservationRequest(r Reservation) CommandRequest {
	payload := map[string]interface{}{
		"reservChargeInfos": map[string]interface{}{
			"reservChargeInfo": []interface{}{
				map[string]interface{}{
					"reservChargeSet": r.Active,
					"reservInfo": map[string]interface{}{
						"time": map[string]interface{}{
							"hour":   r.Hour,
							"minute": r.Minute,
						},
					},
					"reservFatcSet": map[string]interface{}{
						"defrost": r.Defrost,
					},
				},
			},
		},
	}

	return CommandRequest{
		Action:    ActionSetReservation,
		Segment:   "reservation",
		Method:    http.MethodPost,
		V1Payload: payload,
		V2Payload: payload,
	}
}

// Send dispatches a command. A fresh control token is always required.
// Read-only command urls run the router's generic fallback cascade (v1
// retry, access-token retry); actuation POSTs apply the command-specific
// rule instead: a 403 against the v2 url is retried once against the
// equivalent v1 url with the v1 payload. A terminal non-2xx raises a
// CommandError carrying the action and status.
func (d *Dispatcher) Send(vehicleID string, ccs2 bool, cmd CommandRequest) (CommandResponse, error) {
	res := CommandResponse{
		Action:  cmd.Action,
		Segment: cmd.Segment,
	}

	if _, err := d.identity.EnsureControlToken(); err != nil {
		return res, err
	}

	var body []byte
	var err error

	if cmd.Method == http.MethodGet {
		body, err = d.router.Do(cmd.Method, 2, ccs2, vehicleID, "control/"+cmd.Segment, nil, AuthControlHeader)
	} else {
		body, err = d.send(vehicleID, 2, ccs2, cmd)

		if err != nil && hasStatus(err, http.StatusForbidden) {
			d.log.DEBUG.Printf("%s: v2 rejected, retrying v1", cmd.Action)
			body, err = d.send(vehicleID, 1, ccs2, cmd)
		}
	}

	if err != nil {
		var se request.StatusError
		if errors.As(err, &se) {
			return res, &api.CommandError{Action: string(cmd.Action), StatusCode: se.StatusCode()}
		}
		return res, err
	}

	res.RawBody = body
	res.MessageID = extractMessageID(body)

	return res, nil
}

func (d *Dispatcher) send(vehicleID string, ver int, ccs2 bool, cmd CommandRequest) ([]byte, error) {
	mode := AuthControlHeader
	if cmd.RequiresCcspToken(ver == 1, ccs2) {
		mode = AuthControlCcsp
	}

	payload := cmd.V2Payload
	if ver == 1 {
		payload = cmd.V1Payload
	}

	if payload != nil {
		if m, ok := payload.(map[string]interface{}); ok {
			// the gateway needs the device id to route v1 commands
			withDevice := make(map[string]interface{}, len(m)+1)
			for k, v := range m {
				withDevice[k] = v
			}
			withDevice["deviceId"] = d.identity.DeviceID()
			payload = withDevice
		}
	}

	uri := d.router.URI(ver, ccs2, vehicleID, "control/"+cmd.Segment)

	return d.identity.DoRequest(func() (*http.Request, error) {
		return request.New(cmd.Method, uri, request.MarshalJSON(payload), request.JSONEncoding)
	}, mode)
}

// extractMessageID digs the asynchronous job id out of the response body
func extractMessageID(body []byte) string {
	var root object
	if err := json.Unmarshal(body, &root); err != nil {
		return ""
	}

	inner := unwrap(root, statusEnvelopes)

	for _, alias := range []string{"msgId", "messageId", "requestId", "id"} {
		if v, ok := pickRaw([]object{inner, root}, alias); ok {
			switch x := v.(type) {
			case string:
				return x
			case float64:
				return fmt.Sprintf("%.0f", x)
			}
		}
	}

	return ""
}
