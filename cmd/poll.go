package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pollCmd checks a dispatched command's result once
var pollCmd = &cobra.Command{
	Use:   "poll <messageId>",
	Short: "Check the result of a dispatched command",
	Args:  cobra.ExactArgs(1),
	Run:   runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) {
	v, err := setupAPI()
	if err != nil {
		fatal(err)
	}

	vehicle, err := selectVehicle(v)
	if err != nil {
		fatal(err)
	}

	done, err := v.PollCommandResult(vehicle.VehicleID, args[0])
	if err != nil {
		fatal(err)
	}

	if done {
		fmt.Println("OK")
	} else {
		fmt.Println("pending")
	}
}
