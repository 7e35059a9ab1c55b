package bluelink

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/api"
	"github.com/evlink-io/bluelink/util"
	"github.com/stretchr/testify/require"
)

func testAPI(t *testing.T, mux *http.ServeMux) (*API, *clock.Mock) {
	t.Helper()

	tokenHandler(mux)
	mux.HandleFunc("/api/v1/user/pin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"controlToken": "control-token", "expiresTime": 600}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	log := util.NewLogger("test")
	identity, _ := testIdentity(t, srv.URL, "1234")
	identity.accessToken = "access-token"
	router := NewRouter(log, identity, srv.URL)
	mock := clock.NewMock()

	return &API{
		log:        log,
		clock:      mock,
		sched:      ClockScheduler{Clock: mock},
		identity:   identity,
		router:     router,
		normalizer: NewNormalizer(log),
		dispatcher: NewDispatcher(log, identity, router),
		cacheTTL:   time.Minute,
		sessions:   make(map[string]*vehicleSession),
		cached:     make(map[string]func() (VehicleStatus, error)),
	}, mock
}

// feed writes a notifications response carrying result for msg-1 when
// resolved is set
func feedHandler(resolved *int32, result string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.LoadInt32(resolved) == 0 {
			_, _ = w.Write([]byte(`{"resMsg": {"records": []}}`))
			return
		}
		_, _ = w.Write([]byte(`{"resMsg": {"records": [{"recordId": "job-1", "result": "` + result + `"}]}}`))
	}
}

func TestCommandSerialization(t *testing.T) {
	var doorCalls, resolved int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/spa/vehicles/VID/control/door", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&doorCalls, 1)
		_, _ = w.Write([]byte(`{"msgId": "job-1"}`))
	})
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", feedHandler(&resolved, "success"))

	v, mock := testAPI(t, mux)

	var outcomes []Outcome
	v.OnCommandComplete("VID", func(o Outcome, res CommandResponse) {
		outcomes = append(outcomes, o)
		require.Equal(t, "job-1", res.MessageID)
	})

	res, err := v.Lock("VID", false)
	require.NoError(t, err)
	require.Equal(t, "job-1", res.MessageID)

	// second command while the first is pending is dropped
	res, err = v.Unlock("VID", false)
	require.NoError(t, err)
	require.Empty(t, res.MessageID)
	require.EqualValues(t, 1, atomic.LoadInt32(&doorCalls))

	// feed resolves: the poll completes and frees the command slot
	atomic.StoreInt32(&resolved, 1)
	mock.Add(DefaultPollInterval)
	require.Equal(t, []Outcome{OutcomeSuccess}, outcomes)

	_, err = v.Lock("VID", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&doorCalls))
}

func TestRefreshDeferredDuringPoll(t *testing.T) {
	var resolved int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/spa/vehicles/VID/control/door", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"msgId": "job-1"}`))
	})
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", feedHandler(&resolved, "success"))

	v, mock := testAPI(t, mux)

	var refreshes int
	v.OnRefresh("VID", func() { refreshes++ })

	_, err := v.Lock("VID", false)
	require.NoError(t, err)

	// poll is active: the refresh is deferred, not executed
	v.RequestRefresh("VID")
	require.Equal(t, 0, refreshes)

	atomic.StoreInt32(&resolved, 1)
	mock.Add(DefaultPollInterval)
	require.Equal(t, 1, refreshes)

	// no poll active: refresh runs immediately
	v.RequestRefresh("VID")
	require.Equal(t, 2, refreshes)
}

func TestSynchronousCommandFreesSlot(t *testing.T) {
	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/spa/vehicles/VID/control/charge", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		// no message id: the command completed synchronously
		_, _ = w.Write([]byte(`{"resMsg": {}}`))
	})

	v, _ := testAPI(t, mux)

	_, err := v.ChargeStart("VID", false)
	require.NoError(t, err)
	_, err = v.ChargeStop("VID", false)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestWatchCommandSupersedes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resMsg": {"records": [
			{"recordId": "job-1", "result": "success"},
			{"recordId": "job-2", "result": "success"}
		]}}`))
	})

	v, mock := testAPI(t, mux)

	var completions int
	v.OnCommandComplete("VID", func(Outcome, CommandResponse) { completions++ })

	// the second watch cancels the first; only one completion fires
	v.WatchCommand("VID", "job-1")
	v.WatchCommand("VID", "job-2")
	mock.Add(3 * DefaultPollInterval)

	require.Equal(t, 1, completions)
}

func TestReservationSetGetRoundTrip(t *testing.T) {
	var stored []byte

	mux := http.NewServeMux()
	// echoing backend: GET returns whatever was last submitted
	mux.HandleFunc("/api/v2/spa/vehicles/VID/control/reservation", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			stored, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"resMsg": {}}`))
			return
		}
		_, _ = w.Write(stored)
	})

	v, _ := testAPI(t, mux)

	want := Reservation{Active: true, Hour: 7, Minute: 30, Defrost: false}
	_, err := v.SetReservation("VID", false, want)
	require.NoError(t, err)

	got, err := v.GetReservation("VID", false)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, want, *got)
}

func TestCheckCommandResultFailOpen(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	v, _ := testAPI(t, mux)

	result, err := v.CheckCommandResult("VID", "job-1")
	require.NoError(t, err)
	require.Equal(t, PollSuccess, result)
}

func TestPollCommandResultMapping(t *testing.T) {
	var result atomic.Value
	result.Store("")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		res := result.Load().(string)
		if res == "" {
			_, _ = w.Write([]byte(`{"resMsg": {"records": []}}`))
			return
		}
		_, _ = w.Write([]byte(`{"resMsg": {"records": [{"recordId": "job-1", "result": "` + res + `"}]}}`))
	})

	v, _ := testAPI(t, mux)

	done, err := v.PollCommandResult("VID", "job-1")
	require.NoError(t, err)
	require.False(t, done)

	result.Store("success")
	done, err = v.PollCommandResult("VID", "job-1")
	require.NoError(t, err)
	require.True(t, done)

	result.Store("fail")
	_, err = v.PollCommandResult("VID", "job-1")
	var ce *api.CommandError
	require.True(t, errors.As(err, &ce))

	result.Store("non-response")
	_, err = v.PollCommandResult("VID", "job-1")
	require.ErrorIs(t, err, api.ErrTimeout)
}

func TestCachedStatus(t *testing.T) {
	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spa/vehicles/VID/status/latest", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"resMsg": {"doorLock": true}}`))
	})

	v, _ := testAPI(t, mux)

	get := v.CachedStatus("VID", false)
	status, err := get()
	require.NoError(t, err)
	require.NotNil(t, status.DoorsLocked)

	// within the cache window the backend is not asked again
	_, err = get()
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	// the getter is memoized per vehicle
	require.NotNil(t, v.CachedStatus("VID", false))
	_, _ = v.CachedStatus("VID", false)()
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestLocationFailureYieldsNoUpdate(t *testing.T) {
	mux := http.NewServeMux()
	// every location candidate 404s

	v, _ := testAPI(t, mux)

	loc, err := v.Location("VID")
	require.NoError(t, err)
	require.False(t, loc.Valid())
}

func TestStatusCarriesLastNotification(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/spa/vehicles/VID/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resMsg": {"doorLock": true}}`))
	})
	mux.HandleFunc("/api/v1/spa/notifications/VID/records", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resMsg": {"records": [{"message": "Doors locked"}]}}`))
	})

	v, _ := testAPI(t, mux)

	status, err := v.Status("VID", false)
	require.NoError(t, err)
	require.NotNil(t, status.LastNotification)
	require.Equal(t, "Doors locked", *status.LastNotification)
}

func TestNewRejectsUnknownRegion(t *testing.T) {
	_, err := New(util.NewLogger("test"), Config{Region: "xx", Brand: "none"})
	require.Error(t, err)
}
