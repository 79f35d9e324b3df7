package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "HOMESYNC_CONFIG"
)

var configPath string

// RootCmd is the homesync command tree.
var RootCmd = &cobra.Command{
	Use:   "homesync",
	Short: "homesync - smart device state sync",
	Long: `homesync keeps locally owned smart devices in sync with a voice
assistant backend, mirrors their state through MQTT and accepts
commands from devices on the LAN.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Missing env files are fine; real environment variables win.
		_ = godotenv.Load(".env")
		_ = godotenv.Load(".env.local")
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "homesync %s (commit %s, built %s)\n", version, commit, date)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $"+configPathEnv+" or "+defaultConfigPath+")")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(discoverCmd)
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return RootCmd.ExecuteContext(ctx)
}

// resolveConfigPath picks the flag value, then the environment, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(configPathEnv); env != "" {
		return env
	}
	return defaultConfigPath
}
