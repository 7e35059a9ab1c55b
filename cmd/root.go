package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/evlink-io/bluelink/bluelink"
	"github.com/evlink-io/bluelink/util"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	log     = util.NewLogger("main")
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:              "bluelink",
	Short:            "Bluelink connected car client",
	PersistentPreRun: persistentConfig,
}

func init() {
	cobra.OnInitialize(initConfig)
}

func bind(flags *pflag.FlagSet, flag string) {
	if err := viper.BindPFlag(flag, flags.Lookup(flag)); err != nil {
		panic(err)
	}
}

func persistentConfig(cmd *cobra.Command, args []string) {
	util.LogLevel(viper.GetString("log"), nil)
}

func configFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(
		"log", "l",
		"error",
		"Log level (fatal, error, warn, info, debug, trace)",
	)
	bind(cmd.PersistentFlags(), "log")

	cmd.PersistentFlags().StringVarP(&cfgFile,
		"config", "c",
		"",
		"Config file (default \"~/.bluelink.yaml\")",
	)

	for _, flag := range []string{"region", "brand", "refreshtoken", "pin", "vin"} {
		cmd.PersistentFlags().String(flag, "", "")
		bind(cmd.PersistentFlags(), flag)
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}

		viper.AddConfigPath(".")
		viper.SetConfigName(".bluelink")
	}

	viper.SetEnvPrefix("bluelink")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		cfgFile = viper.ConfigFileUsed()
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		fmt.Println(err)
		os.Exit(1)
	}
}

// sessionConfig maps the resolved viper settings onto the core config
func sessionConfig() bluelink.Config {
	return bluelink.Config{
		Region:       viper.GetString("region"),
		Brand:        viper.GetString("brand"),
		ClientID:     viper.GetString("clientid"),
		ClientSecret: viper.GetString("clientsecret"),
		RefreshToken: viper.GetString("refreshtoken"),
		PIN:          viper.GetString("pin"),
		Cache:        viper.GetDuration("cache"),
	}
}

// setupAPI creates and logs in the account session
func setupAPI() (*bluelink.API, error) {
	v, err := bluelink.New(util.NewLogger("bluelink"), sessionConfig())
	if err == nil {
		err = v.Login()
	}

	return v, err
}

// selectVehicle resolves the configured vin (or the account's only
// vehicle) to its summary
func selectVehicle(v *bluelink.API) (bluelink.VehicleSummary, error) {
	return bluelink.EnsureVehicle(viper.GetString("vin"), v.Vehicles)
}

func fatal(err error) {
	fmt.Println(err)
	os.Exit(1)
}

// waitResult polls a dispatched command to its terminal outcome
func waitResult(v *bluelink.API, vehicleID string, res bluelink.CommandResponse) {
	if res.MessageID == "" {
		fmt.Println("OK")
		return
	}

	log.DEBUG.Printf("polling %s", res.MessageID)

	for deadline := time.Now().Add(bluelink.DefaultPollTimeout); time.Now().Before(deadline); {
		time.Sleep(bluelink.DefaultPollInterval)

		done, err := v.PollCommandResult(vehicleID, res.MessageID)
		if err != nil {
			fatal(err)
		}
		if done {
			fmt.Println("OK")
			return
		}
	}

	fatal(fmt.Errorf("command %s did not complete", res.Action))
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	configFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fatal(err)
	}
}
