package bluelink

import (
	"fmt"
	"strings"

	"github.com/thoas/go-funk"
)

// EnsureVehicle returns the summary matching vin, or the single vehicle of
// the account if vin is empty
func EnsureVehicle(vin string, list func() ([]VehicleSummary, error)) (VehicleSummary, error) {
	vehicles, err := list()
	if err != nil {
		return VehicleSummary{}, fmt.Errorf("cannot get vehicles: %w", err)
	}

	if vin = strings.ToUpper(strings.TrimSpace(vin)); vin != "" {
		vins := funk.Map(vehicles, func(v VehicleSummary) string {
			return strings.ToUpper(v.VIN)
		}).([]string)

		if idx := funk.IndexOfString(vins, vin); idx >= 0 {
			return vehicles[idx], nil
		}

		return VehicleSummary{}, fmt.Errorf("cannot find vehicle: %s", vin)
	}

	if len(vehicles) != 1 {
		return VehicleSummary{}, fmt.Errorf("cannot find vehicle: %d candidates", len(vehicles))
	}

	return vehicles[0], nil
}
