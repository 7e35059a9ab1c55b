package bluelink

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/util"
)

// Scheduler runs a callback after a delay. The core has no thread pool of
// its own; all polling is driven through this abstraction.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func())
}

// ClockScheduler implements Scheduler on a clock, which makes poll timing
// testable
type ClockScheduler struct {
	Clock clock.Clock
}

func (s ClockScheduler) Schedule(delay time.Duration, fn func()) func() {
	t := s.Clock.AfterFunc(delay, fn)
	return func() { t.Stop() }
}

// PollResult is the tri-state outcome of a single notifications check.
// "Still pending" is a result, not an error.
type PollResult int

const (
	PollPending PollResult = iota
	PollSuccess
	PollFailed     // backend explicitly reported failure
	PollNoResponse // backend reported the vehicle did not respond
)

// Outcome is the terminal result delivered to the completion callback
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// ResultChecker performs a single notifications-feed check for a message id
type ResultChecker interface {
	CheckCommandResult(vehicleID, messageID string) (PollResult, error)
}

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 60 * time.Second
)

// Poller is the per-command result state machine. It polls the
// notifications feed until success, explicit failure or deadline and
// reports exactly one terminal outcome. A superseded or cancelled poller's
// in-flight tick may finish, but its reschedule and complete calls are
// no-ops once disposed.
type Poller struct {
	log       *util.Logger
	clock     clock.Clock
	sched     Scheduler
	checker   ResultChecker
	vehicleID string
	messageID string
	interval  time.Duration
	deadline  time.Time

	onComplete func(Outcome, error)

	mu        sync.Mutex
	cancel    func()
	disposed  bool
	completed bool
}

// NewPoller creates a poller for the given message id. The deadline is
// computed once at creation.
func NewPoller(log *util.Logger, clk clock.Clock, sched Scheduler, checker ResultChecker,
	vehicleID, messageID string, timeout time.Duration, onComplete func(Outcome, error),
) *Poller {
	if timeout == 0 {
		timeout = DefaultPollTimeout
	}

	return &Poller{
		log:        log,
		clock:      clk,
		sched:      sched,
		checker:    checker,
		vehicleID:  vehicleID,
		messageID:  messageID,
		interval:   DefaultPollInterval,
		deadline:   clk.Now().Add(timeout),
		onComplete: onComplete,
	}
}

// MessageID returns the polled message id
func (p *Poller) MessageID() string {
	return p.messageID
}

// ScheduleInitial arms the first poll
func (p *Poller) ScheduleInitial() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disposed || p.completed {
		return
	}

	p.cancel = p.sched.Schedule(p.interval, p.tick)
}

// Dispose cancels the poller without firing its completion callback. Used
// when a newer poller supersedes this one.
func (p *Poller) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.disposed = true
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Poller) tick() {
	p.mu.Lock()
	if p.disposed || p.completed {
		p.mu.Unlock()
		return
	}
	checker := p.checker
	p.mu.Unlock()

	// a poller without a checker cannot resolve; it keeps ticking and
	// fails at the deadline rather than panicking
	if checker == nil {
		p.rescheduleOr(api.ErrNotAvailable)
		return
	}

	result, err := checker.CheckCommandResult(p.vehicleID, p.messageID)
	if err != nil {
		// transient failure talking to the feed: keep polling while the
		// deadline allows
		p.log.DEBUG.Printf("poll %s: %v", p.messageID, err)
		p.rescheduleOr(api.ErrTimeout)
		return
	}

	switch result {
	case PollSuccess:
		p.complete(OutcomeSuccess, nil)
	case PollFailed:
		p.complete(OutcomeFailure, &api.CommandError{Action: "command", Reason: "backend reported failure"})
	case PollNoResponse:
		p.complete(OutcomeFailure, api.ErrTimeout)
	default:
		p.rescheduleOr(api.ErrTimeout)
	}
}

// rescheduleOr arms the next tick if the deadline allows, else completes
// with failure
func (p *Poller) rescheduleOr(failure error) {
	p.mu.Lock()
	if p.disposed || p.completed {
		p.mu.Unlock()
		return
	}

	if p.clock.Now().Before(p.deadline) {
		p.cancel = p.sched.Schedule(p.interval, p.tick)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.complete(OutcomeFailure, failure)
}

// complete fires the completion callback at most once and detaches the
// poller
func (p *Poller) complete(outcome Outcome, err error) {
	p.mu.Lock()
	if p.disposed || p.completed {
		p.mu.Unlock()
		return
	}
	p.completed = true
	cb := p.onComplete
	p.mu.Unlock()

	if cb != nil {
		cb(outcome, err)
	}
}

// parsePollResult finds the record matching messageID in a notifications
// feed body and interprets its result field
func parsePollResult(body []byte, messageID string) PollResult {
	var root object
	if err := json.Unmarshal(body, &root); err != nil {
		return PollPending
	}

	inner := unwrap(root, statusEnvelopes)

	raw, ok := pickRaw([]object{inner, root}, "records", "notifications", "list")
	if !ok {
		return PollPending
	}

	list, ok := raw.([]interface{})
	if !ok {
		return PollPending
	}

	for _, e := range list {
		record, ok := asObject(e)
		if !ok {
			continue
		}

		id := deref(pickString([]object{record}, "recordId", "messageId"))
		if id != messageID {
			continue
		}

		switch strings.ToLower(deref(pickString([]object{record}, "result"))) {
		case "success":
			return PollSuccess
		case "fail":
			return PollFailed
		case "non-response":
			return PollNoResponse
		}

		// record exists but carries no terminal result yet
		return PollPending
	}

	return PollPending
}

// lastNotificationText extracts the newest notification message from a feed
// body, if any
func lastNotificationText(body []byte) *string {
	var root object
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}

	inner := unwrap(root, statusEnvelopes)

	raw, ok := pickRaw([]object{inner, root}, "records", "notifications", "list")
	if !ok {
		return nil
	}

	list, ok := raw.([]interface{})
	if !ok || len(list) == 0 {
		return nil
	}

	record, ok := asObject(list[0])
	if !ok {
		return nil
	}

	return pickString([]object{record}, "message", "text", "title")
}
