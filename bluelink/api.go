package bluelink

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/provider"
	"github.com/evlink-io/bluelink/util"
	"github.com/evlink-io/bluelink/util/request"
)

// API is the account session facade tying together identity, routing,
// normalization, command dispatch and result polling.
type API struct {
	log        *util.Logger
	clock      clock.Clock
	sched      Scheduler
	identity   *Identity
	router     *Router
	normalizer *Normalizer
	dispatcher *Dispatcher
	cacheTTL   time.Duration

	mu       sync.Mutex
	sessions map[string]*vehicleSession
	cached   map[string]func() (VehicleStatus, error)
}

// vehicleSession serializes command execution and poll lifecycle per
// vehicle
type vehicleSession struct {
	mu              sync.Mutex
	poller          *Poller
	pending         CommandResponse
	commandPending  bool
	refreshDeferred bool
	onComplete      func(Outcome, CommandResponse)
	refreshFn       func()
}

// New creates an account session
func New(log *util.Logger, cfg Config) (*API, error) {
	if cfg.Region == "" {
		cfg.Region = RegionEurope
	}
	if cfg.Brand == "" {
		cfg.Brand = BrandHyundai
	}

	endpoints, err := ResolveEndpoints(cfg.Region, cfg.Brand, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults(endpoints)

	clk := clock.New()
	stamps := NewStamps(log, cfg.CacheDir, cfg.StampURL, cfg.StampFallbackURL)
	identity := NewIdentity(log, endpoints, stamps, cfg.RefreshToken, cfg.PIN)
	router := NewRouter(log, identity, endpoints.CCAPI.BaseURL)

	v := &API{
		log:        log,
		clock:      clk,
		sched:      ClockScheduler{Clock: clk},
		identity:   identity,
		router:     router,
		normalizer: NewNormalizer(log),
		dispatcher: NewDispatcher(log, identity, router),
		cacheTTL:   cfg.Cache,
		sessions:   make(map[string]*vehicleSession),
		cached:     make(map[string]func() (VehicleStatus, error)),
	}

	return v, nil
}

// Login performs the token exchange for the session
func (v *API) Login() error {
	return v.identity.Login()
}

// Identity exposes the session's token manager
func (v *API) Identity() *Identity {
	return v.identity
}

func (v *API) session(vehicleID string) *vehicleSession {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[vehicleID]
	if !ok {
		s = &vehicleSession{}
		v.sessions[vehicleID] = s
	}
	return s
}

// Vehicles lists the account's vehicles
func (v *API) Vehicles() ([]VehicleSummary, error) {
	body, err := v.identity.DoRequest(func() (*http.Request, error) {
		return request.New(http.MethodGet, v.router.VehiclesURI(), nil, request.AcceptJSON)
	}, AuthAccess)
	if err != nil {
		return nil, err
	}

	return v.normalizer.Vehicles(body)
}

// Status forces a fresh status readout and normalizes it
func (v *API) Status(vehicleID string, ccs2 bool) (VehicleStatus, error) {
	body, err := v.router.StatusRefresh(vehicleID, ccs2)
	if err != nil {
		return VehicleStatus{}, err
	}

	status, err := v.normalizer.Status(body)
	if err != nil {
		return status, err
	}

	// best effort; the status is complete without it
	if body, err := v.notifications(vehicleID); err == nil {
		status.LastNotification = lastNotificationText(body)
	}

	return status, nil
}

// StatusLatest retrieves the server-side cached status
func (v *API) StatusLatest(vehicleID string, ccs2 bool) (VehicleStatus, error) {
	body, err := v.router.StatusLatest(vehicleID, ccs2)
	if err != nil {
		return VehicleStatus{}, err
	}

	return v.normalizer.Status(body)
}

// CachedStatus returns a cached getter for the server-side status
func (v *API) CachedStatus(vehicleID string, ccs2 bool) func() (VehicleStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	fn, ok := v.cached[vehicleID]
	if !ok {
		fn = provider.Cached(func() (VehicleStatus, error) {
			return v.StatusLatest(vehicleID, ccs2)
		}, v.cacheTTL)
		v.cached[vehicleID] = fn
	}

	return fn
}

// Location runs the location lookup cascade. If no candidate yields a
// usable position a NaN location is returned, which callers treat as "no
// update".
func (v *API) Location(vehicleID string) (VehicleLocation, error) {
	body, err := v.router.Location(vehicleID, func(body []byte) bool {
		loc, err := v.normalizer.Location(body)
		return err == nil && loc.Valid()
	})
	if err != nil {
		v.log.DEBUG.Printf("location unavailable: %v", err)
		return NoLocation(), nil
	}

	return v.normalizer.Location(body)
}

// GetReservation reads the HVAC pre-condition schedule
func (v *API) GetReservation(vehicleID string, ccs2 bool) (*Reservation, error) {
	res, err := v.dispatcher.Send(vehicleID, ccs2, GetReservationRequest())
	if err != nil {
		return nil, err
	}

	return v.normalizer.Reservation(res.RawBody)
}

// SetReservation writes the HVAC pre-condition schedule
func (v *API) SetReservation(vehicleID string, ccs2 bool, r Reservation) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, SetReservationRequest(r))
}

// Lock locks the doors
func (v *API) Lock(vehicleID string, ccs2 bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, LockRequest(true))
}

// Unlock unlocks the doors
func (v *API) Unlock(vehicleID string, ccs2 bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, LockRequest(false))
}

// ClimateStart starts climatisation
func (v *API) ClimateStart(vehicleID string, ccs2 bool, temp float64, defrost bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, ClimateRequest(true, temp, defrost))
}

// ClimateStop stops climatisation
func (v *API) ClimateStop(vehicleID string, ccs2 bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, ClimateRequest(false, 0, false))
}

// ChargeStart starts charging
func (v *API) ChargeStart(vehicleID string, ccs2 bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, ChargeRequest(true))
}

// ChargeStop stops charging
func (v *API) ChargeStop(vehicleID string, ccs2 bool) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, ChargeRequest(false))
}

// SetChargeLimit sets the AC/DC charge targets
func (v *API) SetChargeLimit(vehicleID string, ccs2 bool, ac, dc int) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, ChargeLimitRequest(ac, dc))
}

// SetTargetTemperature sets the cabin target temperature
func (v *API) SetTargetTemperature(vehicleID string, ccs2 bool, temp float64) (CommandResponse, error) {
	return v.command(vehicleID, ccs2, TemperatureRequest(temp))
}

// OnCommandComplete registers the completion hook fired once per terminal
// poll outcome
func (v *API) OnCommandComplete(vehicleID string, fn func(Outcome, CommandResponse)) {
	s := v.session(vehicleID)
	s.mu.Lock()
	s.onComplete = fn
	s.mu.Unlock()
}

// OnRefresh registers the status refresh hook replayed after a deferred
// refresh
func (v *API) OnRefresh(vehicleID string, fn func()) {
	s := v.session(vehicleID)
	s.mu.Lock()
	s.refreshFn = fn
	s.mu.Unlock()
}

// RequestRefresh runs the registered refresh hook, or defers it while a
// command result poll is active. Deferred refreshes are replayed once the
// poll completes.
func (v *API) RequestRefresh(vehicleID string) {
	s := v.session(vehicleID)

	s.mu.Lock()
	if s.poller != nil {
		s.refreshDeferred = true
		s.mu.Unlock()
		v.log.DEBUG.Printf("%s: refresh deferred until poll completes", vehicleID)
		return
	}
	fn := s.refreshFn
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// command dispatches an actuation command, serialized per vehicle. A
// second command while one is pending is logged and silently ignored. An
// asynchronous response arms the result poller.
func (v *API) command(vehicleID string, ccs2 bool, cmd CommandRequest) (CommandResponse, error) {
	s := v.session(vehicleID)

	s.mu.Lock()
	if s.commandPending {
		s.mu.Unlock()
		v.log.WARN.Printf("%s: command in progress, ignoring %s", vehicleID, cmd.Action)
		return CommandResponse{}, nil
	}
	s.commandPending = true
	s.mu.Unlock()

	res, err := v.dispatcher.Send(vehicleID, ccs2, cmd)
	if err != nil || res.MessageID == "" {
		// synchronous or failed: the command slot frees immediately
		v.finishCommand(vehicleID, s)
		return res, err
	}

	s.mu.Lock()
	s.pending = res
	s.mu.Unlock()

	v.WatchCommand(vehicleID, res.MessageID)

	return res, nil
}

// WatchCommand arms a result poller for the given message id. Any active
// poller for the vehicle is unconditionally cancelled and discarded; its
// completion callback never fires.
func (v *API) WatchCommand(vehicleID, messageID string) {
	s := v.session(vehicleID)

	p := NewPoller(v.log, v.clock, v.sched, v, vehicleID, messageID, DefaultPollTimeout,
		func(outcome Outcome, err error) {
			v.pollComplete(vehicleID, s, outcome, err)
		})

	s.mu.Lock()
	if prev := s.poller; prev != nil {
		prev.Dispose()
	}
	s.poller = p
	s.mu.Unlock()

	p.ScheduleInitial()
}

// pollComplete handles a terminal poll outcome: rotate the device id,
// notify the completion hook and replay a deferred refresh
func (v *API) pollComplete(vehicleID string, s *vehicleSession, outcome Outcome, err error) {
	if err != nil {
		v.log.DEBUG.Printf("%s: command completed: %v", vehicleID, err)
	}

	// stale push registrations cause spurious 4xx; rotating is cheap and
	// never blocks the outcome
	go v.identity.RotateDeviceID()

	s.mu.Lock()
	s.poller = nil
	pending := s.pending
	s.pending = CommandResponse{}
	hook := s.onComplete
	s.mu.Unlock()

	if hook != nil {
		hook(outcome, pending)
	}

	v.finishCommand(vehicleID, s)
}

// finishCommand clears the per-vehicle command flag and replays a deferred
// refresh
func (v *API) finishCommand(vehicleID string, s *vehicleSession) {
	s.mu.Lock()
	s.commandPending = false
	deferred := s.refreshDeferred
	s.refreshDeferred = false
	fn := s.refreshFn
	s.mu.Unlock()

	if deferred && fn != nil {
		v.log.DEBUG.Printf("%s: replaying deferred refresh", vehicleID)
		fn()
	}
}

func (v *API) notifications(vehicleID string) ([]byte, error) {
	return v.identity.DoRequest(func() (*http.Request, error) {
		return request.New(http.MethodGet, v.router.NotificationsURI(vehicleID), nil, request.AcceptJSON)
	}, AuthAccess)
}

// CheckCommandResult performs a single notifications-feed check. An http
// error from the feed itself resolves to success: the backend is assumed
// to have executed the command but cannot deliver a result to our
// synthetic push registration. Observed backend quirk, deliberately
// fail-open.
func (v *API) CheckCommandResult(vehicleID, messageID string) (PollResult, error) {
	body, err := v.notifications(vehicleID)
	if err != nil {
		var se request.StatusError
		if errors.As(err, &se) {
			return PollSuccess, nil
		}
		return PollPending, err
	}

	return parsePollResult(body, messageID), nil
}

// PollCommandResult performs a single synchronous result check. Returns
// true on terminal (or assumed) success, false while still pending, and a
// typed error on explicit failure or timeout. Terminal outcomes rotate the
// device id.
func (v *API) PollCommandResult(vehicleID, messageID string) (bool, error) {
	result, err := v.CheckCommandResult(vehicleID, messageID)
	if err != nil {
		return false, err
	}

	switch result {
	case PollSuccess:
		go v.identity.RotateDeviceID()
		return true, nil
	case PollFailed:
		go v.identity.RotateDeviceID()
		return false, &api.CommandError{Action: "command", Reason: "backend reported failure"}
	case PollNoResponse:
		go v.identity.RotateDeviceID()
		return false, api.ErrTimeout
	}

	return false, nil
}
