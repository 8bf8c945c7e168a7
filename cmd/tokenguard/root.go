package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/tokenguard"
	"github.com/spf13/cobra"
)

const (
	envRedisAddr   = "TOKENGUARD_REDIS_ADDR"
	envDatabaseURL = "TOKENGUARD_DATABASE_URL"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tokenguard",
	Short: "Refresh-token rotation and authorization server",
	Long: `tokenguard issues short-lived access tokens and single-use refresh tokens.
Refresh tokens are tracked in Redis; presenting a consumed one revokes every
refresh token of its subject.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (secrets may also come from TOKENGUARD_ACCESS_SECRET and TOKENGUARD_REFRESH_SECRET)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(raceCmd)
}

func loadConfig() (tokenguard.Config, error) {
	return tokenguard.LoadConfig(configPath)
}

// flagOrEnv prefers an explicit flag value over the environment.
func flagOrEnv(value, key string) string {
	if value != "" {
		return value
	}
	return os.Getenv(key)
}
