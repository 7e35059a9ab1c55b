package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/evlink-io/bluelink/bluelink"
	"github.com/spf13/cobra"
)

var reservationCmd = &cobra.Command{
	Use:   "reservation",
	Short: "Show the charge reservation",
	Run:   runGetReservation,
}

var reservationSetCmd = &cobra.Command{
	Use:   "set <hh:mm>",
	Short: "Set the charge reservation start time",
	Args:  cobra.ExactArgs(1),
	Run:   runSetReservation,
}

func init() {
	reservationSetCmd.Flags().Bool("defrost", false, "Enable defrost")
	reservationSetCmd.Flags().Bool("disable", false, "Disable the reservation")

	reservationCmd.AddCommand(reservationSetCmd)
	rootCmd.AddCommand(reservationCmd)
}

func runGetReservation(cmd *cobra.Command, args []string) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	res, err := v.GetReservation(vehicle.VehicleID, vehicle.CCS2Supported)
	if err != nil {
		fatal(err)
	}

	if res == nil {
		fmt.Println("no reservation configured")
		return
	}

	state := "off"
	if res.Active {
		state = "on"
	}
	fmt.Printf("reservation %s: %02d:%02d defrost=%v\n", state, res.Hour, res.Minute, res.Defrost)
}

func runSetReservation(cmd *cobra.Command, args []string) {
	parts := strings.SplitN(args[0], ":", 2)
	if len(parts) != 2 {
		fatal(fmt.Errorf("invalid time: %s", args[0]))
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		fatal(err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		fatal(err)
	}

	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	defrost, _ := cmd.Flags().GetBool("defrost")
	disable, _ := cmd.Flags().GetBool("disable")

	res, err := v.SetReservation(vehicle.VehicleID, vehicle.CCS2Supported, bluelink.Reservation{
		Active:  !disable,
		Hour:    hour,
		Minute:  minute,
		Defrost: defrost,
	})
	if err != nil {
		fatal(err)
	}

	waitResult(v, vehicle.VehicleID, res)
}
