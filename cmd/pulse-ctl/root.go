package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information (set from main.go)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Global flags
var (
	serverAddr   string
	outputFormat string
	noColor      bool
	configFile   string
)

// Global client instance
var apiClient *Client

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulse-ctl",
	Short: "CLI tool for inspecting a Pulse metrics coordinator",
	Long: `pulse-ctl is a command-line interface for the Pulse metrics plane.

It talks to the coordinator's HTTP API and provides commands for:
  - Groups: List aggregate groups and dump merged snapshots
  - Sources: View the reporting nodes behind each group
  - History: Query sampled metric history
  - Watch: Stream live report events over WebSocket
  - Status: Check coordinator readiness
  - Configuration: Manage CLI settings

Environment variables:
  PULSE_SERVER   Coordinator address (default: localhost:7700)
  PULSE_OUTPUT   Output format: json, table (default: table)
  PULSE_CONFIG   Config file path (default: ~/.pulse/config.yaml)`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip client initialization for completion and config commands
		if cmd.Name() == "completion" || cmd.Name() == "version" ||
			(cmd.Parent() != nil && cmd.Parent().Name() == "completion") ||
			(cmd.Parent() != nil && cmd.Parent().Name() == "config") {
			return nil
		}

		// Initialize color output
		InitColor(!noColor)

		// Load configuration
		cfg, err := LoadConfig(configFile)
		if err != nil {
			// Config file not found is OK, we'll use defaults/flags
			cfg = &Config{}
		}

		// Resolve server address (flag > env > config > default)
		server := serverAddr
		if server == "" {
			server = os.Getenv("PULSE_SERVER")
		}
		if server == "" && cfg.Server != "" {
			server = cfg.Server
		}
		if server == "" {
			server = "localhost:7700"
		}

		// Resolve output format (flag > env > config > default)
		output := outputFormat
		if output == "" {
			output = os.Getenv("PULSE_OUTPUT")
		}
		if output == "" && cfg.OutputFormat != "" {
			output = cfg.OutputFormat
		}
		if output == "" {
			output = "table"
		}
		outputFormat = output

		// Initialize API client
		apiClient = NewClient(server)

		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version, commit hash, and build time of pulse-ctl.`,
	Run: func(cmd *cobra.Command, args []string) {
		InitColor(!noColor)

		if outputFormat == "json" {
			formatter := &JSONFormatter{}
			info := map[string]string{
				"version":    Version,
				"commit":     Commit,
				"build_time": BuildTime,
				"go_version": runtime.Version(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}
			output, _ := formatter.Format(info)
			fmt.Println(output)
			return
		}

		fmt.Printf("%s\n", Bold("pulse-ctl"))
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Commit:     %s\n", Commit)
		fmt.Printf("  Built:      %s\n", BuildTime)
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "", "Coordinator address (default: localhost:7700)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "Output format: json, table (default: table)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.pulse/config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(groupCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(completionCmd)
}
