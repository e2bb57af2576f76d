package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// statusCmd shows coordinator readiness
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show coordinator readiness",
	Long: `Display the coordinator's readiness checks.

Each registered component check is listed with its status. The overall
status is unhealthy when any check fails; degraded components still
count as ready.`,
	Example: `  # Check the default coordinator
  pulse-ctl status

  # Check a specific node
  pulse-ctl status --server pulse-2.internal:7700`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Checking readiness...")
		resp, err := apiClient.Readiness(ctx)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to check readiness: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		fmt.Printf("%s %s\n", Bold("Status:"), formatHealthStatus(resp.Status))

		if len(resp.Checks) == 0 {
			fmt.Println(Dim("No component checks registered."))
			return nil
		}
		fmt.Println()

		headers := []string{"CHECK", "STATUS", "MESSAGE", "DETAILS"}
		rows := make([][]string, len(resp.Checks))
		for i, c := range resp.Checks {
			message := c.Message
			if message == "" {
				message = Dim("-")
			}

			rows[i] = []string{
				c.Name,
				formatHealthStatus(c.Status),
				truncate(message, 48),
				formatCheckDetails(c.Details),
			}
		}

		printTable(headers, rows)

		return nil
	},
}

// formatHealthStatus returns a colored health status string
func formatHealthStatus(status string) string {
	switch strings.ToLower(status) {
	case "healthy":
		return Green(status)
	case "degraded":
		return Yellow(status)
	case "unhealthy":
		return Red(status)
	default:
		return Dim(status)
	}
}

// formatCheckDetails renders check details as sorted key=value pairs
func formatCheckDetails(details map[string]string) string {
	if len(details) == 0 {
		return Dim("-")
	}

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+details[k])
	}
	return strings.Join(pairs, " ")
}
