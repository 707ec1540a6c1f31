package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "zigcheckctl",
	Short: "zigcheckctl submits Zig packages to zigcheck and reports their build results",
	Long: `zigcheckctl is the command-line interface for zigcheck.

zigcheck builds and tests every submitted Zig package against each supported
Zig toolchain (master and the recent releases) in isolated containers, and
records one definitive result per package and version.

Common workflows:

  Submit a repository:
    zigcheckctl submit https://github.com/karlseguin/http.zig

  Check build results:
    zigcheckctl status <package-id>

  Rebuild a package against every version:
    zigcheckctl rebuild <package-id>

  List submitted packages:
    zigcheckctl list

Configuration:
  Set the API endpoint via flag, environment variable or config file:
    ZIGCHECK_URL    API endpoint (default: http://localhost:6161)`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".zigcheckctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".zigcheckctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "ZIGCHECK_VARNAME"
	viper.SetEnvPrefix("ZIGCHECK")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.zigcheckctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "zigcheck API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
