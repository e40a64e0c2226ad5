package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL    string
	outputFormat string
	cfgFile      string
	httpClient   *http.Client
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "printassist",
	Short: "CLI for the print queue manager",
	Long:  `printassist drives a print queue's projects, plates, jobs and unavailability windows over its HTTP API, and can run the service itself via "printassist serve".`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.printassist/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "print queue API URL (default from config or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".printassist")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("printassist")
	viper.AutomaticEnv()
	viper.BindEnv("server_url", "PRINTASSIST_SERVER_URL")

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetString("server_url") != "" && serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
	}

	if serverURL == "" && viper.GetString("server_url") != "" {
		serverURL = viper.GetString("server_url")
	}

	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}
}

// GetServerURL returns the configured API URL with trailing slashes removed.
func GetServerURL() string {
	return strings.TrimRight(serverURL, "/")
}

// IsJSONOutput returns true if JSON output was requested.
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// GetHTTPClient returns the shared HTTP client used by every subcommand.
func GetHTTPClient() *http.Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return httpClient
}
