package bluelink

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/util"
	"github.com/stretchr/testify/require"
)

func testNormalizer(t *testing.T) (*Normalizer, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	n := NewNormalizer(util.NewLogger("test"))
	n.clock = mock

	return n, mock
}

func TestStatusEnvelopeUnwrap(t *testing.T) {
	n, _ := testNormalizer(t)

	// v1 shape: resMsg > vehicleStatusInfo > vehicleStatus
	status, err := n.Status([]byte(`{
		"retCode": "S",
		"resMsg": {
			"vehicleStatusInfo": {
				"vehicleStatus": {
					"doorLock": true,
					"airCtrlOn": false,
					"time": "20240201120000"
				}
			}
		}
	}`))
	require.NoError(t, err)

	require.NotNil(t, status.DoorsLocked)
	require.True(t, *status.DoorsLocked)
	require.NotNil(t, status.ClimateOn)
	require.False(t, *status.ClimateOn)
	require.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), status.LastUpdated)
}

func TestStatusFlatShape(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{"doorsLocked": "close", "soc": "79.5"}`))
	require.NoError(t, err)

	require.NotNil(t, status.DoorsLocked)
	require.False(t, *status.DoorsLocked)
	require.NotNil(t, status.BatteryLevel)
	require.Equal(t, 79.5, *status.BatteryLevel)
}

func TestStatusMissingFieldsAreNil(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{"resMsg": {"state": {"vehicle": {}}}}`))
	require.NoError(t, err)

	require.Nil(t, status.DoorsLocked)
	require.Nil(t, status.Charging)
	require.Nil(t, status.BatteryLevel)
	require.Nil(t, status.Odometer)
	require.Nil(t, status.RemainingChargeTime)
}

func TestStatusTimestampDefaultsToNow(t *testing.T) {
	n, mock := testNormalizer(t)
	mock.Add(time.Hour)

	status, err := n.Status([]byte(`{"doorLock": true}`))
	require.NoError(t, err)
	require.Equal(t, mock.Now(), status.LastUpdated)
}

func TestStatusInvalidJSON(t *testing.T) {
	n, _ := testNormalizer(t)

	_, err := n.Status([]byte(`{"truncated`))
	require.Error(t, err)
}

func TestDistanceShapes(t *testing.T) {
	n, _ := testNormalizer(t)

	for _, tc := range []struct {
		name    string
		payload string
		exp     DistanceMeasurement
	}{
		{"bare number", `{"odometer": 12345.6}`, DistanceMeasurement{12345.6, Kilometers}},
		{"numeric string", `{"odometer": "12345.6"}`, DistanceMeasurement{12345.6, Kilometers}},
		{"value/unit km", `{"odometer": {"value": 100, "unit": 1}}`, DistanceMeasurement{100, Kilometers}},
		{"value/unit mi", `{"odometer": {"value": 100, "unit": 3}}`, DistanceMeasurement{100, Miles}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, err := n.Status([]byte(tc.payload))
			require.NoError(t, err)
			require.NotNil(t, status.Odometer)
			require.Equal(t, tc.exp, *status.Odometer)
		})
	}
}

func TestDistanceCandidatePreference(t *testing.T) {
	// a km candidate wins over a mile candidate for the same alias
	candidates := []DistanceMeasurement{
		{Value: 62, Unit: Miles},
		{Value: 100, Unit: Kilometers},
	}
	require.Equal(t, DistanceMeasurement{100, Kilometers}, *chooseDistance(candidates))

	// equal units: the larger value wins
	candidates = []DistanceMeasurement{
		{Value: 50, Unit: Kilometers},
		{Value: 380, Unit: Kilometers},
	}
	require.Equal(t, DistanceMeasurement{380, Kilometers}, *chooseDistance(candidates))
}

func TestDistanceUnitCodes(t *testing.T) {
	for code, exp := range map[int]DistanceUnit{
		0: Miles,
		1: Kilometers,
		2: Miles,
		3: Miles,
		4: Kilometers,
		9: Kilometers,
	} {
		require.Equal(t, exp, DistanceUnitFromCode(code), "code %d", code)
	}
}

func TestEvRangeByFuel(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{
		"evStatus": {
			"drvDistance": [{
				"rangeByFuel": {
					"evModeRange": {"value": 320, "unit": 1},
					"gasModeRange": {"value": 0, "unit": 1},
					"totalAvailableRange": {"value": 320, "unit": 1}
				}
			}]
		}
	}`))
	require.NoError(t, err)

	require.NotNil(t, status.EvModeRange)
	require.Equal(t, DistanceMeasurement{320, Kilometers}, *status.EvModeRange)
	require.NotNil(t, status.Range)
	require.Equal(t, DistanceMeasurement{320, Kilometers}, *status.Range)
}

func TestRemainTime2Selection(t *testing.T) {
	n, _ := testNormalizer(t)

	payload := `{
		"batteryCharge": %v,
		"batteryPlugin": %d,
		"remainTime2": {
			"atc":  {"value": 30, "unit": 1},
			"etc1": {"value": 2, "unit": 0},
			"etc2": {"value": 120, "unit": 1},
			"etc3": {"value": 180, "unit": 1}
		}
	}`

	for _, tc := range []struct {
		name     string
		charging bool
		plugType int
		exp      int
	}{
		{"charging reads atc", true, 2, 30},
		{"plug 1 reads etc1 in hours", false, 1, 120},
		{"plug 2 reads etc2", false, 2, 120},
		{"plug 3 reads etc3", false, 3, 180},
		{"unplugged falls back to atc", false, 0, 30},
	} {
		t.Run(tc.name, func(t *testing.T) {
			status, err := n.Status([]byte(fmt.Sprintf(payload, tc.charging, tc.plugType)))
			require.NoError(t, err)
			require.NotNil(t, status.RemainingChargeTime)
			require.Equal(t, tc.exp, *status.RemainingChargeTime)
		})
	}
}

func TestRemainTimeHourMinutePair(t *testing.T) {
	m, ok := toMinutes(object{"hour": float64(2), "minute": float64(15)}, false, 0)
	require.True(t, ok)
	require.Equal(t, 135, m)
}

func TestConnectorFromPlugType(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{"batteryPlugin": 2}`))
	require.NoError(t, err)
	require.NotNil(t, status.ConnectorFastened)
	require.True(t, *status.ConnectorFastened)

	status, err = n.Status([]byte(`{"batteryPlugin": 0}`))
	require.NoError(t, err)
	require.NotNil(t, status.ConnectorFastened)
	require.False(t, *status.ConnectorFastened)
}

func TestChargeLimits(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{
		"evStatus": {
			"targetSOClist": [
				{"plugType": 0, "targetSOClevel": 80},
				{"plugType": 1, "targetSOClevel": 100}
			]
		}
	}`))
	require.NoError(t, err)

	require.NotNil(t, status.ChargeLimitDC)
	require.Equal(t, 80.0, *status.ChargeLimitDC)
	require.NotNil(t, status.ChargeLimitAC)
	require.Equal(t, 100.0, *status.ChargeLimitAC)
}

func TestOpenStateSummary(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{
		"doorOpen": {"frontLeft": 1, "frontRight": 0, "backLeft": 0, "backRight": 1},
		"windowOpen": {"frontLeft": 0, "frontRight": 0}
	}`))
	require.NoError(t, err)

	require.NotNil(t, status.DoorStatus)
	require.Equal(t, "open: backRight, frontLeft", *status.DoorStatus)
	require.NotNil(t, status.WindowStatus)
	require.Equal(t, "all closed", *status.WindowStatus)
}

func TestMinorWarnings(t *testing.T) {
	n, _ := testNormalizer(t)

	status, err := n.Status([]byte(`{
		"washerFluidStatus": true,
		"tirePressureWarningLamp": 1,
		"breakOilStatus": false
	}`))
	require.NoError(t, err)

	require.NotNil(t, status.MinorWarnings)
	require.Equal(t, "tire pressure, washer fluid low", *status.MinorWarnings)
}

func TestTimestampFormats(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  interface{}
		exp  time.Time
	}{
		{"rfc3339", "2024-02-01T12:00:00Z", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)},
		{"basic 14 digit", "20240201120000", time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)},
		{"epoch seconds", float64(1706788800), time.Unix(1706788800, 0)},
		{"epoch millis", float64(1706788800000), time.UnixMilli(1706788800000)},
		{"epoch seconds string", "1706788800", time.Unix(1706788800, 0)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ts, ok := toTime(tc.raw)
			require.True(t, ok)
			require.True(t, tc.exp.Equal(ts), "got %v", ts)
		})
	}

	_, ok := toTime("not a time")
	require.False(t, ok)
}

func TestBoolCoercion(t *testing.T) {
	for raw, exp := range map[string]bool{
		"on": true, "open": true, "true": true,
		"off": false, "close": false, "closed": false, "false": false,
	} {
		b, ok := toBool(raw)
		require.True(t, ok, raw)
		require.Equal(t, exp, b, raw)
	}

	_, ok := toBool("maybe")
	require.False(t, ok)

	_, ok = toBool(2.0)
	require.False(t, ok)
}

func TestLocationExtraction(t *testing.T) {
	n, _ := testNormalizer(t)

	loc, err := n.Location([]byte(`{
		"resMsg": {
			"gpsDetail": {
				"coord": {"lat": 52.52, "lon": 13.405, "time": "2024-02-01T12:00:00Z"}
			}
		}
	}`))
	require.NoError(t, err)
	require.True(t, loc.Valid())
	require.Equal(t, 52.52, loc.Latitude)
	require.Equal(t, 13.405, loc.Longitude)
	require.Equal(t, time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC), loc.Updated)
}

func TestLocationMissingCoordinates(t *testing.T) {
	n, _ := testNormalizer(t)

	loc, err := n.Location([]byte(`{"resMsg": {}}`))
	require.NoError(t, err)
	require.False(t, loc.Valid())
}

func TestNoLocationNeverValid(t *testing.T) {
	require.False(t, NoLocation().Valid())
	require.False(t, VehicleLocation{}.Valid())
	require.True(t, VehicleLocation{Latitude: 1, Longitude: 1}.Valid())
}

func TestReservationNested(t *testing.T) {
	n, _ := testNormalizer(t)

	res, err := n.Reservation([]byte(`{
		"resMsg": {
			"reservChargeInfos": {
				"reservChargeInfo": [{
					"reservChargeSet": true,
					"reservInfo": {"time": {"hour": 7, "minute": 30}},
					"reservFatcSet": {"defrost": true}
				}]
			}
		}
	}`))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, Reservation{Active: true, Hour: 7, Minute: 30, Defrost: true}, *res)
}

func TestReservationFlat(t *testing.T) {
	n, _ := testNormalizer(t)

	res, err := n.Reservation([]byte(`{"active": 1, "time": {"hour": 22, "minute": 0}}`))
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, Reservation{Active: true, Hour: 22}, *res)
}

func TestReservationAbsent(t *testing.T) {
	n, _ := testNormalizer(t)

	res, err := n.Reservation([]byte(`{"resMsg": {}}`))
	require.NoError(t, err)
	require.Nil(t, res)

	res, err = n.Reservation([]byte(`{"reservChargeInfos": []}`))
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestVehiclesListing(t *testing.T) {
	n, _ := testNormalizer(t)

	vehicles, err := n.Vehicles([]byte(`{
		"resMsg": {
			"vehicles": [{
				"vehicleId": "uuid-1",
				"vin": "KMHL14JA5MA123456",
				"nickname": "Ioniq",
				"vehicleName": "IONIQ 5",
				"year": "2023",
				"ccuCCS2ProtocolSupport": 1
			}, {
				"regId": "uuid-2",
				"VIN": "KNDC3DLC8N5123456",
				"type": "EV"
			}]
		}
	}`))
	require.NoError(t, err)
	require.Len(t, vehicles, 2)

	require.Equal(t, "uuid-1", vehicles[0].VehicleID)
	require.Equal(t, "KMHL14JA5MA123456", vehicles[0].VIN)
	require.Equal(t, "Ioniq", vehicles[0].Label)
	require.True(t, vehicles[0].CCS2Supported)

	require.Equal(t, "uuid-2", vehicles[1].VehicleID)
	require.False(t, vehicles[1].CCS2Supported)
	require.Equal(t, "EV", vehicles[1].Type)
}

func TestVehiclesEmpty(t *testing.T) {
	n, _ := testNormalizer(t)

	vehicles, err := n.Vehicles([]byte(`{"resMsg": {}}`))
	require.NoError(t, err)
	require.Empty(t, vehicles)
}
