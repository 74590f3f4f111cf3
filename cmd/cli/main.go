package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/walnut-ops/walnut/pkg/client"
	"github.com/walnut-ops/walnut/pkg/policy"
)

var (
	cfgFile    string
	flagServer string
	flagToken  string
)

var rootCmd = &cobra.Command{
	Use:   "walnut",
	Short: "walNUT policy administration CLI",
	Long: `walnut talks to a running walNUT server over its HTTP API.

It can list and inspect policies, validate a policy spec from a file,
preview what a policy would do with a dry run, and mint API tokens.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yml)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token for the API")
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file is fine; flags and env cover everything.
		} else {
			fmt.Fprintln(os.Stderr, "Error reading config file:", err)
		}
	}
}

// apiClient builds a client from the config file, environment, and flags,
// later sources overriding earlier ones.
func apiClient() *client.Client {
	cfg := client.DefaultConfig()
	if v := viper.GetString("client.base_url"); v != "" {
		cfg.BaseURL = v
	}
	if v := viper.GetString("client.token"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("WALNUT_SERVER"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("WALNUT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if flagServer != "" {
		cfg.BaseURL = flagServer
	}
	if flagToken != "" {
		cfg.Token = flagToken
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return client.New(cfg, logger)
}

// readSpec loads a policy spec from a JSON file, or stdin when path is "-".
func readSpec(path string) (policy.PolicySpec, error) {
	var spec policy.PolicySpec
	var raw []byte
	var err error
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return spec, fmt.Errorf("read spec: %w", err)
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		return spec, fmt.Errorf("parse spec: %w", err)
	}
	return spec, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
