package cmd

import (
	"strconv"

	"github.com/evlink-io/bluelink/bluelink"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Lock the vehicle doors",
	Run: func(cmd *cobra.Command, args []string) {
		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			return v.Lock(vehicle.VehicleID, vehicle.CCS2Supported)
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vehicle doors",
	Run: func(cmd *cobra.Command, args []string) {
		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			return v.Unlock(vehicle.VehicleID, vehicle.CCS2Supported)
		})
	},
}

var climateCmd = &cobra.Command{
	Use:       "climate [start|stop]",
	Short:     "Start or stop climate control",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"start", "stop"},
	Run: func(cmd *cobra.Command, args []string) {
		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			if args[0] == "stop" {
				return v.ClimateStop(vehicle.VehicleID, vehicle.CCS2Supported)
			}
			return v.ClimateStart(vehicle.VehicleID, vehicle.CCS2Supported, viper.GetFloat64("temp"), viper.GetBool("defrost"))
		})
	},
}

var chargeCmd = &cobra.Command{
	Use:       "charge [start|stop]",
	Short:     "Start or stop charging",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"start", "stop"},
	Run: func(cmd *cobra.Command, args []string) {
		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			if args[0] == "stop" {
				return v.ChargeStop(vehicle.VehicleID, vehicle.CCS2Supported)
			}
			return v.ChargeStart(vehicle.VehicleID, vehicle.CCS2Supported)
		})
	},
}

var chargeLimitCmd = &cobra.Command{
	Use:   "charge-limit <ac> <dc>",
	Short: "Set AC and DC charge limits in percent",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ac, err := strconv.Atoi(args[0])
		if err != nil {
			fatal(err)
		}
		dc, err := strconv.Atoi(args[1])
		if err != nil {
			fatal(err)
		}

		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			return v.SetChargeLimit(vehicle.VehicleID, vehicle.CCS2Supported, ac, dc)
		})
	},
}

var temperatureCmd = &cobra.Command{
	Use:   "temperature <celsius>",
	Short: "Set the cabin target temperature",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		temp, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			fatal(err)
		}

		runCommand(func(v *bluelink.API, vehicle bluelink.VehicleSummary) (bluelink.CommandResponse, error) {
			return v.SetTargetTemperature(vehicle.VehicleID, vehicle.CCS2Supported, temp)
		})
	},
}

func init() {
	climateCmd.Flags().Float64("temp", 21, "Target temperature in °C")
	climateCmd.Flags().Bool("defrost", false, "Enable defrost")
	bind(climateCmd.Flags(), "temp")
	bind(climateCmd.Flags(), "defrost")

	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(climateCmd)
	rootCmd.AddCommand(chargeCmd)
	rootCmd.AddCommand(chargeLimitCmd)
	rootCmd.AddCommand(temperatureCmd)
}

func runCommand(send func(*bluelink.API, bluelink.VehicleSummary) (bluelink.CommandResponse, error)) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	res, err := send(v, vehicle)
	if err != nil {
		fatal(err)
	}

	waitResult(v, vehicle.VehicleID, res)
}
