package bluelink

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/evlink-io/bluelink/util"
)

// object is a decoded JSON object
type object = map[string]interface{}

// envelope keys unwrapped (to a fixed point) to reach the innermost status
// object
var statusEnvelopes = []string{
	"resMsg", "payload", "body", "response", "data",
	"vehicleStatus", "vehicleStatusInfo", "vehicleStatusDetail",
	"state", "vehicle", "Vehicle",
}

// envelope keys for location payloads; entries ending in * match by prefix
var locationEnvelopes = []string{
	"resMsg", "payload", "body", "response", "data",
	"vehicleLocation", "location", "lastKnownPosition", "coord", "pos",
	"gpsDetail*", "coordinate*",
}

// Normalizer extracts the canonical vehicle model from the backend's
// arbitrarily nested, inconsistently named payloads. Extraction is keyed by
// ordered alias lists per field; no failure is fatal, every field resolves
// to absent rather than aborting the parse.
type Normalizer struct {
	log   *util.Logger
	clock clock.Clock
}

// NewNormalizer creates a response normalizer
func NewNormalizer(log *util.Logger) *Normalizer {
	return &Normalizer{
		log:   log,
		clock: clock.New(),
	}
}

func asObject(v interface{}) (object, bool) {
	obj, ok := v.(object)
	return obj, ok
}

// unwrap peels envelope keys off root until no key matches anymore
func unwrap(root object, keys []string) object {
	for {
		var inner object

		for _, k := range keys {
			if strings.HasSuffix(k, "*") {
				prefix := strings.TrimSuffix(k, "*")
				for rk, rv := range root {
					if strings.HasPrefix(rk, prefix) {
						if obj, ok := asObject(rv); ok {
							inner = obj
							break
						}
					}
				}
			} else if obj, ok := asObject(root[k]); ok {
				inner = obj
			}

			if inner != nil {
				break
			}
		}

		if inner == nil {
			return root
		}
		root = inner
	}
}

// scopes are the lookup levels per field: the unwrapped object first, then
// the payload root, then the evStatus sub-object
func lookupScopes(root, inner object) []object {
	scopes := []object{inner}
	if len(root) > 0 {
		scopes = append(scopes, root)
	}
	if ev, ok := asObject(inner["evStatus"]); ok {
		scopes = append(scopes, ev)
	}
	return scopes
}

// pickRaw returns the first non-null value for the ordered alias list
func pickRaw(scopes []object, aliases ...string) (interface{}, bool) {
	for _, alias := range aliases {
		for _, scope := range scopes {
			if v, ok := scope[alias]; ok && v != nil {
				return v, true
			}
		}
	}
	return nil, false
}

// coercions

func toBool(v interface{}) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case float64:
		if x == 0 {
			return false, true
		}
		if x == 1 {
			return true, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "on", "open", "true", "1", "yes":
			return true, true
		case "off", "close", "closed", "false", "0", "no":
			return false, true
		}
	}
	return false, false
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	f, ok := toFloat(v)
	return int(f), ok
}

func toString(v interface{}) (string, bool) {
	if s, ok := v.(string); ok && s != "" {
		return s, true
	}
	return "", false
}

// distance keys inspected when recursing into structured distance values
var distanceSubKeys = []string{"totalAvailableRange", "evModeRange", "gasModeRange", "rangeByFuel", "value"}

// toDistances collects all parseable distance candidates from v. Distances
// accept raw numbers (assumed km), numeric strings and {value, unit}
// objects; arrays contribute their elements.
func toDistances(v interface{}) []DistanceMeasurement {
	switch x := v.(type) {
	case float64:
		return []DistanceMeasurement{{Value: x, Unit: Kilometers}}
	case string:
		if f, ok := toFloat(x); ok {
			return []DistanceMeasurement{{Value: f, Unit: Kilometers}}
		}
	case []interface{}:
		var res []DistanceMeasurement
		for _, e := range x {
			res = append(res, toDistances(e)...)
		}
		return res
	case object:
		if raw, ok := x["value"]; ok {
			if f, ok := toFloat(raw); ok {
				unit := Kilometers
				if code, ok := toInt(x["unit"]); ok {
					unit = DistanceUnitFromCode(code)
				}
				return []DistanceMeasurement{{Value: f, Unit: unit}}
			}
			return nil
		}

		var res []DistanceMeasurement
		for _, k := range distanceSubKeys {
			if sub, ok := x[k]; ok {
				res = append(res, toDistances(sub)...)
			}
		}
		return res
	}
	return nil
}

// chooseDistance resolves multiple candidates: prefer a value already in
// kilometers, else the larger one
func chooseDistance(candidates []DistanceMeasurement) *DistanceMeasurement {
	if len(candidates) == 0 {
		return nil
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		switch {
		case c.Unit == Kilometers && best.Unit != Kilometers:
			best = c
		case c.Unit == best.Unit && c.Value > best.Value:
			best = c
		}
	}

	return &best
}

// toMinutes converts a remaining-time value to total minutes. Accepts a
// flat number, an {hour, minute} pair or the backend's remainTime2
// structure, where the active sub-field depends on the charging state and
// plug type.
func toMinutes(v interface{}, charging bool, plugType int) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), true
	case string:
		return toInt(x)
	case object:
		if _, ok := x["atc"]; ok {
			return remainTime2Minutes(x, charging, plugType)
		}

		h, hok := toInt(x["hour"])
		m, mok := toInt(x["minute"])
		if hok || mok {
			return h*60 + m, true
		}

		if val, ok := x["value"]; ok {
			return timeUnitMinutes(x, val)
		}
	}
	return 0, false
}

// remainTime2Minutes selects the atc/etc sub-field. Charging reads the
// actual remaining time (atc); otherwise the estimate matching the plug
// type is used. This mirrors observed backend behavior, not a documented
// contract.
func remainTime2Minutes(x object, charging bool, plugType int) (int, bool) {
	key := "atc"
	if !charging {
		switch plugType {
		case 1:
			key = "etc1"
		case 2:
			key = "etc2"
		case 3:
			key = "etc3"
		}
	}

	sub, ok := asObject(x[key])
	if !ok {
		if sub, ok = asObject(x["atc"]); !ok {
			return 0, false
		}
	}

	val, ok := sub["value"]
	if !ok {
		return 0, false
	}

	return timeUnitMinutes(sub, val)
}

// timeUnitMinutes applies the backend's time unit code: 0 hours, else
// minutes
func timeUnitMinutes(x object, val interface{}) (int, bool) {
	v, ok := toInt(val)
	if !ok {
		return 0, false
	}

	if unit, ok := toInt(x["unit"]); ok && unit == 0 {
		v *= 60
	}

	return v, true
}

// toTime parses ISO-8601, the 14-digit yyyyMMddHHmmss basic format, or unix
// epoch seconds/milliseconds inferred from digit count
func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case string:
		x = strings.TrimSpace(x)

		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts, true
			}
		}

		if len(x) == 14 {
			if ts, err := time.Parse("20060102150405", x); err == nil {
				return ts, true
			}
		}

		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return epochTime(n, len(x)), true
		}
	case float64:
		n := int64(x)
		return epochTime(n, len(strconv.FormatInt(n, 10))), true
	}
	return time.Time{}, false
}

func epochTime(n int64, digits int) time.Time {
	if digits >= 13 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

// typed pickers: scan aliases until one coerces

func pickBool(scopes []object, aliases ...string) *bool {
	for _, alias := range aliases {
		for _, scope := range scopes {
			if v, ok := scope[alias]; ok && v != nil {
				if b, ok := toBool(v); ok {
					return &b
				}
			}
		}
	}
	return nil
}

func pickFloat(scopes []object, aliases ...string) *float64 {
	for _, alias := range aliases {
		for _, scope := range scopes {
			if v, ok := scope[alias]; ok && v != nil {
				if f, ok := toFloat(v); ok {
					return &f
				}
			}
		}
	}
	return nil
}

func pickInt(scopes []object, aliases ...string) *int {
	if f := pickFloat(scopes, aliases...); f != nil {
		i := int(*f)
		return &i
	}
	return nil
}

func pickString(scopes []object, aliases ...string) *string {
	for _, alias := range aliases {
		for _, scope := range scopes {
			if v, ok := scope[alias]; ok && v != nil {
				if s, ok := toString(v); ok {
					return &s
				}
			}
		}
	}
	return nil
}

func pickDistance(scopes []object, aliases ...string) *DistanceMeasurement {
	var candidates []DistanceMeasurement
	for _, alias := range aliases {
		for _, scope := range scopes {
			if v, ok := scope[alias]; ok && v != nil {
				candidates = append(candidates, toDistances(v)...)
			}
		}
		if len(candidates) > 0 {
			break
		}
	}
	return chooseDistance(candidates)
}

// Status normalizes a raw status response. Only structurally invalid JSON
// is an error; every field independently resolves to absent.
func (n *Normalizer) Status(raw []byte) (VehicleStatus, error) {
	var root object
	if err := json.Unmarshal(raw, &root); err != nil {
		return VehicleStatus{}, fmt.Errorf("status payload: %w", err)
	}

	inner := unwrap(root, statusEnvelopes)
	scopes := lookupScopes(root, inner)

	res := VehicleStatus{
		DoorsLocked:    pickBool(scopes, "doorLock", "doorLockStatus", "doorsLocked", "locked"),
		Charging:       pickBool(scopes, "batteryCharge", "charging", "isCharging", "chargingYn"),
		ClimateOn:      pickBool(scopes, "airCtrlOn", "climateOn", "airCtrl"),
		BatteryWarning: pickBool(scopes, "batteryWarning", "battWarning", "lowDcBatteryWarning"),
		Acc:            pickBool(scopes, "acc", "accStatus"),
		EngineOn:       pickBool(scopes, "engine", "engineOn", "ignition"),
		TrunkOpen:      pickBool(scopes, "trunkOpen", "trunk"),
		HoodOpen:       pickBool(scopes, "hoodOpen", "hood"),
		LowFuelLight:   pickBool(scopes, "lowFuelLight", "fuelLow", "lowFuelWarning"),

		BatteryLevel:  pickFloat(scopes, "batteryStatus", "soc", "batteryLevel", "evBatteryPercentage"),
		FuelLevel:     pickFloat(scopes, "fuelLevel", "dteFuel"),
		ChargingState: pickInt(scopes, "chargingState", "chargeState"),

		Odometer: pickDistance(scopes, "odometerKm", "Odometer", "odometer", "odo"),
		Range: pickDistance(scopes,
			"totalAvailableRange", "distanceToEmpty", "DTE", "dte", "drvDistance"),

		MinorWarnings: n.minorWarnings(scopes),
	}

	// 12v battery lives in its own sub-object on most shapes
	res.AuxiliaryBatteryLevel = pickFloat(scopes, "batSoc", "auxBatteryLevel")
	if res.AuxiliaryBatteryLevel == nil {
		if battery, ok := asObject(first(pickRaw(scopes, "battery"))); ok {
			res.AuxiliaryBatteryLevel = pickFloat([]object{battery}, "batSoc", "soc")
		}
	}

	// ev mode ranges sit inside drvDistance[0].rangeByFuel
	rangeScopes := scopes
	if raw, ok := pickRaw(scopes, "drvDistance"); ok {
		if fuel := rangeByFuel(raw); fuel != nil {
			rangeScopes = append([]object{fuel}, scopes...)
		}
	}
	res.EvModeRange = pickDistance(rangeScopes, "evModeRange", "evModeAvailableRange")
	res.GasModeRange = pickDistance(rangeScopes, "gasModeRange", "gasModeAvailableRange")

	// plug type feeds both connector state and remaining time selection
	plugType := 0
	if pt := pickInt(scopes, "batteryPlugin", "plugType", "batteryPluginStatus"); pt != nil {
		plugType = *pt
		fastened := plugType > 0
		res.ConnectorFastened = &fastened
	}
	if res.ConnectorFastened == nil {
		res.ConnectorFastened = pickBool(scopes, "connectorFastened", "chargePortDoorOpen")
	}

	charging := res.Charging != nil && *res.Charging
	if raw, ok := pickRaw(scopes, "remainTime2", "remainTime", "remainingChargeTime", "remainChargeTime"); ok {
		if m, ok := toMinutes(raw, charging, plugType); ok {
			res.RemainingChargeTime = &m
		}
	}

	n.chargeLimits(scopes, &res)

	res.DoorStatus = n.openStateSummary(scopes, "doorOpen", "doorStatus")
	res.WindowStatus = n.openStateSummary(scopes, "windowOpen", "windowStatus")

	if raw, ok := pickRaw(scopes, "time", "lastUpdateTime", "lastStatusDate", "dateTime", "updatedAt"); ok {
		if ts, ok := toTime(raw); ok {
			res.LastUpdated = ts
		}
	}
	// a present timestamp signals "status retrieved" downstream, so default
	// to now instead of leaving it zero
	if res.LastUpdated.IsZero() {
		res.LastUpdated = n.clock.Now()
	}

	if loc, err := n.Location(raw); err == nil && loc.Valid() {
		res.Latitude = &loc.Latitude
		res.Longitude = &loc.Longitude
	}

	return res, nil
}

// first drops the ok flag of a two-value lookup
func first(v interface{}, _ bool) interface{} {
	return v
}

// rangeByFuel digs the rangeByFuel object out of the drvDistance array
func rangeByFuel(v interface{}) object {
	switch x := v.(type) {
	case []interface{}:
		if len(x) > 0 {
			return rangeByFuel(x[0])
		}
	case object:
		if fuel, ok := asObject(x["rangeByFuel"]); ok {
			return fuel
		}
		return x
	}
	return nil
}

// chargeLimits extracts the AC/DC target soc levels from the targetSOClist
// array (plugType 0 = DC, 1 = AC)
func (n *Normalizer) chargeLimits(scopes []object, res *VehicleStatus) {
	raw, ok := pickRaw(scopes, "targetSOClist", "targetSocList", "targetSOCList")
	if !ok {
		return
	}

	list, ok := raw.([]interface{})
	if !ok {
		return
	}

	for _, e := range list {
		entry, ok := asObject(e)
		if !ok {
			continue
		}

		level := pickFloat([]object{entry}, "targetSOClevel", "targetSocLevel", "level")
		if level == nil {
			continue
		}

		switch pt, _ := toInt(entry["plugType"]); pt {
		case 0:
			res.ChargeLimitDC = level
		case 1:
			res.ChargeLimitAC = level
		}
	}
}

// openStateSummary renders a per-position open/closed object ("doorOpen":
// {"frontLeft": 1, ...}) as free text, or passes a plain string through
func (n *Normalizer) openStateSummary(scopes []object, objAlias, textAlias string) *string {
	if s := pickString(scopes, textAlias); s != nil {
		return s
	}

	raw, ok := pickRaw(scopes, objAlias)
	if !ok {
		return nil
	}

	obj, ok := asObject(raw)
	if !ok {
		return nil
	}

	var open []string
	for k, v := range obj {
		if b, ok := toBool(v); ok && b {
			open = append(open, k)
		}
	}

	var summary string
	if len(open) == 0 {
		summary = "all closed"
	} else {
		sort.Strings(open)
		summary = "open: " + strings.Join(open, ", ")
	}

	return &summary
}

// minorWarnings collects the assorted maintenance warning flags
func (n *Normalizer) minorWarnings(scopes []object) *string {
	warnings := map[string]string{
		"washerFluidStatus":       "washer fluid low",
		"breakOilStatus":          "brake oil low",
		"smartKeyBatteryWarning":  "smart key battery low",
		"tirePressureWarningLamp": "tire pressure",
	}

	var found []string
	for alias, text := range warnings {
		if b := pickBool(scopes, alias); b != nil && *b {
			found = append(found, text)
		}
	}

	if len(found) == 0 {
		return nil
	}

	sort.Strings(found)
	s := strings.Join(found, ", ")
	return &s
}

// Location normalizes a raw location response. The location unwrap chain is
// separate from the status chain.
func (n *Normalizer) Location(raw []byte) (VehicleLocation, error) {
	var root object
	if err := json.Unmarshal(raw, &root); err != nil {
		return NoLocation(), fmt.Errorf("location payload: %w", err)
	}

	inner := unwrap(root, locationEnvelopes)
	scopes := lookupScopes(root, inner)

	lat := pickFloat(scopes, "lat", "latitude")
	lon := pickFloat(scopes, "lon", "lng", "longitude")
	if lat == nil || lon == nil {
		return NoLocation(), nil
	}

	loc := VehicleLocation{
		Latitude:  *lat,
		Longitude: *lon,
		Updated:   n.clock.Now(),
	}

	if raw, ok := pickRaw(scopes, "time", "lastUpdateTime", "updatedAt"); ok {
		if ts, ok := toTime(raw); ok {
			loc.Updated = ts
		}
	}

	return loc, nil
}

// Reservation normalizes the daily HVAC pre-condition schedule. Only slot 0
// is read. Returns nil if the payload carries no schedule.
func (n *Normalizer) Reservation(raw []byte) (*Reservation, error) {
	var root object
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("reservation payload: %w", err)
	}

	inner := unwrap(root, statusEnvelopes)
	scopes := lookupScopes(root, inner)

	slot, ok := pickRaw(scopes, "reservChargeInfos", "reservChargeInfo", "reservation")
	if !ok {
		// flat shape
		if hasAlias(scopes, "reservChargeSet", "active") {
			return reservationFromObject(mergeScopes(scopes)), nil
		}
		return nil, nil
	}

	for {
		switch x := slot.(type) {
		case []interface{}:
			if len(x) == 0 {
				return nil, nil
			}
			slot = x[0]
		case object:
			if sub, ok := x["reservChargeInfo"]; ok {
				slot = sub
				continue
			}
			return reservationFromObject(x), nil
		default:
			return nil, nil
		}
	}
}

func hasAlias(scopes []object, aliases ...string) bool {
	_, ok := pickRaw(scopes, aliases...)
	return ok
}

func mergeScopes(scopes []object) object {
	merged := object{}
	for i := len(scopes) - 1; i >= 0; i-- {
		for k, v := range scopes[i] {
			merged[k] = v
		}
	}
	return merged
}

func reservationFromObject(x object) *Reservation {
	res := &Reservation{}

	if b := pickBool([]object{x}, "reservChargeSet", "active"); b != nil {
		res.Active = *b
	}

	timeObj := x
	if sub, ok := asObject(x["reservInfo"]); ok {
		timeObj = sub
	}
	if sub, ok := asObject(timeObj["time"]); ok {
		timeObj = sub
	}

	if h := pickInt([]object{timeObj}, "hour"); h != nil {
		res.Hour = *h
	}
	if m := pickInt([]object{timeObj}, "minute"); m != nil {
		res.Minute = *m
	}

	defrostObj := x
	if sub, ok := asObject(x["reservFatcSet"]); ok {
		defrostObj = sub
	}
	if b := pickBool([]object{defrostObj}, "defrost"); b != nil {
		res.Defrost = *b
	}

	return res
}

// Vehicles normalizes the vehicle listing
func (n *Normalizer) Vehicles(raw []byte) ([]VehicleSummary, error) {
	var root object
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("vehicles payload: %w", err)
	}

	inner := unwrap(root, statusEnvelopes)
	list, ok := first(pickRaw([]object{inner, root}, "vehicles", "vehicleList")).([]interface{})
	if !ok {
		return nil, nil
	}

	var res []VehicleSummary
	for _, e := range list {
		entry, ok := asObject(e)
		if !ok {
			continue
		}

		scopes := []object{entry}
		summary := VehicleSummary{
			VehicleID:    deref(pickString(scopes, "vehicleId", "regId", "id")),
			VIN:          deref(pickString(scopes, "vin", "VIN")),
			Label:        deref(pickString(scopes, "nickname", "vehicleName", "nickName", "label")),
			Model:        deref(pickString(scopes, "vehicleModel", "model", "modelName")),
			ModelYear:    deref(pickString(scopes, "year", "modelYear")),
			LicensePlate: deref(pickString(scopes, "licensePlate", "carPlate")),
			Type:         deref(pickString(scopes, "type", "vehicleType", "fuelKindCode")),
		}

		if pt := pickInt(scopes, "protocolType"); pt != nil {
			summary.ProtocolType = *pt
		}
		if ccs2 := pickBool(scopes, "ccs2ProtocolSupport", "ccuCCS2ProtocolSupport"); ccs2 != nil {
			summary.CCS2Supported = *ccs2
		}

		res = append(res, summary)
	}

	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
