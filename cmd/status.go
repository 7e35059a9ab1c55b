package cmd

import (
	"fmt"

	"github.com/evlink-io/bluelink/bluelink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// statusCmd retrieves the vehicle status
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vehicle status",
	Run:   runStatus,
}

// locationCmd retrieves the vehicle position
var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Show vehicle location",
	Run:   runLocation,
}

func init() {
	statusCmd.Flags().Bool("latest", false, "Use the server-side cached status instead of forcing a refresh")
	bind(statusCmd.Flags(), "latest")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(locationCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	var status bluelink.VehicleStatus
	if viper.GetBool("latest") {
		status, err = v.StatusLatest(vehicle.VehicleID, vehicle.CCS2Supported)
	} else {
		status, err = v.Status(vehicle.VehicleID, vehicle.CCS2Supported)
	}
	if err != nil {
		fatal(err)
	}

	printStatus(status)
}

func printStatus(status bluelink.VehicleStatus) {
	fmt.Printf("updated: %s\n", status.LastUpdated)

	printBool := func(label string, v *bool) {
		if v != nil {
			fmt.Printf("%s: %v\n", label, *v)
		}
	}
	printFloat := func(label string, v *float64) {
		if v != nil {
			fmt.Printf("%s: %.1f\n", label, *v)
		}
	}
	printDistance := func(label string, v *bluelink.DistanceMeasurement) {
		if v != nil {
			fmt.Printf("%s: %.1f %s\n", label, v.Value, v.Unit)
		}
	}

	printBool("doors locked", status.DoorsLocked)
	printBool("charging", status.Charging)
	printBool("climate", status.ClimateOn)
	printBool("engine", status.EngineOn)
	printBool("connector", status.ConnectorFastened)
	printFloat("battery %", status.BatteryLevel)
	printFloat("aux battery %", status.AuxiliaryBatteryLevel)
	printFloat("fuel %", status.FuelLevel)
	printFloat("charge limit AC", status.ChargeLimitAC)
	printFloat("charge limit DC", status.ChargeLimitDC)
	printDistance("odometer", status.Odometer)
	printDistance("range", status.Range)
	printDistance("ev range", status.EvModeRange)
	printDistance("gas range", status.GasModeRange)

	if status.RemainingChargeTime != nil {
		fmt.Printf("charge time remaining: %d min\n", *status.RemainingChargeTime)
	}
	if status.DoorStatus != nil {
		fmt.Printf("doors: %s\n", *status.DoorStatus)
	}
	if status.WindowStatus != nil {
		fmt.Printf("windows: %s\n", *status.WindowStatus)
	}
	if status.MinorWarnings != nil {
		fmt.Printf("warnings: %s\n", *status.MinorWarnings)
	}
	if status.LastNotification != nil {
		fmt.Printf("notification: %s\n", *status.LastNotification)
	}
}

func runLocation(cmd *cobra.Command, args []string) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	loc, err := v.Location(vehicle.VehicleID)
	if err != nil {
		fatal(err)
	}

	if !loc.Valid() {
		fmt.Println("no location available")
		return
	}

	fmt.Printf("%.6f,%.6f (%s)\n", loc.Latitude, loc.Longitude, loc.Updated)
}
