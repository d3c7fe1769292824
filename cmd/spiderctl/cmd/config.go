package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage spiderctl configuration",
	Long:  `Manage spiderctl configuration settings.`,
}

// configViewCmd represents the config view command
var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "View current configuration",
	Long:  `Display the current configuration settings.`,
	Run: func(cmd *cobra.Command, args []string) {
		if outputJSON {
			printOutput(map[string]interface{}{
				"server":  viper.GetString("server"),
				"timeout": viper.GetDuration("timeout").String(),
				"json":    viper.GetBool("json"),
				"pretty":  viper.GetBool("pretty"),
			})
			return
		}
		fmt.Println("Current configuration:")
		fmt.Printf("  Server: %s\n", viper.GetString("server"))
		fmt.Printf("  Timeout: %s\n", viper.GetDuration("timeout"))
		fmt.Printf("  JSON Output: %v\n", viper.GetBool("json"))
		fmt.Printf("  Pretty JSON: %v\n", viper.GetBool("pretty"))

		if viper.GetBool("pretty") && !checkJQAvailable() {
			fmt.Println("  warning: pretty=true but jq not found in PATH")
		}

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Println("  Config file: none (using defaults)")
		}
	},
}

// configSetCmd represents the config set command
var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a configuration value and save it to the config file.

Examples:
  spiderctl config set server localhost:8090
  spiderctl config set timeout 60s
  spiderctl config set pretty true`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		value := args[1]

		validKeys := map[string]bool{"server": true, "timeout": true, "json": true, "pretty": true, "token": true}
		if !validKeys[key] {
			return fmt.Errorf("invalid configuration key: %s. Valid keys are: server, timeout, json, pretty, token", key)
		}

		if key == "pretty" && (value == "true" || value == "1") && !checkJQAvailable() {
			fmt.Println("warning: jq not found in PATH. Pretty formatting will fall back to standard formatting.")
		}

		switch key {
		case "json", "pretty":
			switch value {
			case "true", "1", "yes", "on":
				viper.Set(key, true)
			case "false", "0", "no", "off":
				viper.Set(key, false)
			default:
				return fmt.Errorf("invalid boolean value for %s: %s (use true/false)", key, value)
			}
		case "timeout":
			if dur, err := time.ParseDuration(value); err == nil {
				viper.Set(key, dur)
			} else {
				return fmt.Errorf("invalid duration for timeout: %s", value)
			}
		default:
			viper.Set(key, value)
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath := filepath.Join(home, ".spiderctl.yaml")

		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}

		fmt.Printf("Set %s = %s\n", key, value)
		fmt.Printf("Configuration saved to: %s\n", configPath)
		return nil
	},
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long:  `Create a default configuration file in the home directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath := filepath.Join(home, ".spiderctl.yaml")

		if _, err := os.Stat(configPath); err == nil {
			overwrite, _ := cmd.Flags().GetBool("force")
			if !overwrite {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		viper.Set("server", "localhost:8090")
		viper.Set("timeout", "30s")
		viper.Set("json", false)
		viper.Set("pretty", false)

		if err := viper.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}

		fmt.Printf("Configuration file created: %s\n", configPath)
		fmt.Println("Default settings:")
		fmt.Println("  server: localhost:8090")
		fmt.Println("  timeout: 30s")
		fmt.Println("  json: false")
		fmt.Println("  pretty: false")
		return nil
	},
}

// configCheckCmd represents the config check command
var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check configuration and dependencies",
	Long:  `Check the current configuration and verify that dependencies like jq are available.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Configuration check:")
		fmt.Printf("  spiderctl version: %s\n", Version)

		if viper.ConfigFileUsed() != "" {
			fmt.Printf("  Config file: %s\n", viper.ConfigFileUsed())
		} else {
			fmt.Println("  Config file: not found (using defaults)")
		}

		if checkJQAvailable() {
			fmt.Println("  jq: available")
		} else {
			fmt.Println("  jq: not found in PATH")
		}

		fmt.Printf("  Server: %s\n", viper.GetString("server"))

		if viper.GetBool("pretty") && !checkJQAvailable() {
			fmt.Println("  warning: pretty formatting enabled but jq not available")
		}

		fmt.Println()
		fmt.Println("Testing server connectivity...")
		resp, err := adminRequest("GET", "/healthz", nil)
		if err != nil {
			fmt.Printf("  server connectivity: %v\n", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode < 300 {
			fmt.Println("  server connectivity: OK")
		} else {
			fmt.Printf("  server connectivity: unhealthy (status %d)\n", resp.StatusCode)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite existing config file")
}
