package bluelink

import (
	"math"
	"time"

	"github.com/thoas/go-funk"
)

// DistanceUnit is the unit of a distance-valued field
type DistanceUnit int

const (
	Kilometers DistanceUnit = iota
	Miles
)

// mile unit codes as used by the backend's integer distance type
var mileCodes = []int{0, 2, 3}

// DistanceUnitFromCode maps the backend's integer unit code to a DistanceUnit.
// Unknown or absent codes default to kilometers.
func DistanceUnitFromCode(code int) DistanceUnit {
	if funk.ContainsInt(mileCodes, code) {
		return Miles
	}

	return Kilometers
}

func (u DistanceUnit) String() string {
	if u == Miles {
		return "mi"
	}

	return "km"
}

// DistanceMeasurement is a distance value paired with its unit
type DistanceMeasurement struct {
	Value float64
	Unit  DistanceUnit
}

// VehicleSummary describes a vehicle as returned by the vehicle listing.
// VehicleID is an opaque backend uuid, distinct from the VIN.
type VehicleSummary struct {
	VehicleID     string
	VIN           string
	Label         string
	Model         string
	ModelYear     string
	LicensePlate  string
	Type          string
	ProtocolType  int
	CCS2Supported bool
}

// VehicleStatus is the canonical flattened status snapshot. All fields are
// independently optional: nil means unknown, never zero or false.
type VehicleStatus struct {
	// booleans
	DoorsLocked       *bool
	Charging          *bool
	ClimateOn         *bool
	BatteryWarning    *bool
	Acc               *bool
	EngineOn          *bool
	TrunkOpen         *bool
	HoodOpen          *bool
	ConnectorFastened *bool
	LowFuelLight      *bool

	// numerics
	BatteryLevel          *float64 // percent
	AuxiliaryBatteryLevel *float64 // percent
	FuelLevel             *float64 // percent
	ChargeLimitAC         *float64 // percent
	ChargeLimitDC         *float64 // percent
	ChargingState         *int
	RemainingChargeTime   *int // minutes

	// distances
	Odometer     *DistanceMeasurement
	Range        *DistanceMeasurement
	EvModeRange  *DistanceMeasurement
	GasModeRange *DistanceMeasurement

	// free text
	DoorStatus       *string
	WindowStatus     *string
	MinorWarnings    *string
	LastNotification *string

	// position, if the status payload carried one
	Latitude  *float64
	Longitude *float64

	// LastUpdated is never zero: an unparsable or absent backend timestamp
	// defaults to the time the status was normalized.
	LastUpdated time.Time
}

// VehicleLocation is a GPS position. NaN coordinates mean "no update" and
// must never overwrite a previously known location.
type VehicleLocation struct {
	Latitude  float64
	Longitude float64
	Updated   time.Time
}

// Valid returns true if the location carries a usable coordinate pair
func (l VehicleLocation) Valid() bool {
	return !math.IsNaN(l.Latitude) && !math.IsNaN(l.Longitude) && (l.Latitude != 0 || l.Longitude != 0)
}

// NoLocation is the "no update" location
func NoLocation() VehicleLocation {
	return VehicleLocation{Latitude: math.NaN(), Longitude: math.NaN()}
}

// Reservation is the single daily HVAC pre-condition schedule (slot 0)
type Reservation struct {
	Active  bool
	Hour    int
	Minute  int
	Defrost bool
}
