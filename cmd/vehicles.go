package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// vehiclesCmd lists the account's vehicles
var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "List vehicles",
	Run:   runVehicles,
}

func init() {
	rootCmd.AddCommand(vehiclesCmd)
}

func runVehicles(cmd *cobra.Command, args []string) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicles, err := v.Vehicles()
	if err != nil {
		fatal(err)
	}

	for _, vehicle := range vehicles {
		fmt.Printf("%s %s (%s %s) ccs2:%v\n",
			vehicle.VIN, vehicle.Label, vehicle.Model, vehicle.ModelYear, vehicle.CCS2Supported)
	}
}
