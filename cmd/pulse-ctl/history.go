package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// historyCmd is the parent command for history operations
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query sampled metric history",
	Long:  `Commands for querying the coordinator's sampled metric history.`,
}

// historyQueryCmd queries history points
var historyQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query history points",
	Long: `Query sampled history points, newest first.

Filters:
  --group    Only points from this aggregate group
  --family   Only points for this metric family
  --since    Only points at or after this time
  --until    Only points before this time
  --limit    Maximum number of points

Times are RFC 3339 timestamps (2026-01-02T15:04:05Z) or a duration
measured back from now (1h, 30m, 2h45m).`,
	Example: `  # Last 100 points from the coordinator group
  pulse-ctl history query --group coordinator

  # One family over the last six hours
  pulse-ctl history query --family pulse_collector_sources --since 6h

  # A fixed window
  pulse-ctl history query --since 2026-01-02T00:00:00Z --until 2026-01-03T00:00:00Z`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		group, _ := cmd.Flags().GetString("group")
		family, _ := cmd.Flags().GetString("family")
		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")

		q := HistoryQuery{
			Group:  group,
			Family: family,
			Limit:  limit,
		}

		if since != "" {
			t, err := parseTimeFlag(since)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			q.Since = t.Format(time.RFC3339)
		}
		if until != "" {
			t, err := parseTimeFlag(until)
			if err != nil {
				return fmt.Errorf("invalid --until value: %w", err)
			}
			q.Until = t.Format(time.RFC3339)
		}

		ShowSpinner("Querying history...")
		resp, err := apiClient.QueryHistory(ctx, q)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to query history: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		if len(resp.Points) == 0 {
			fmt.Println(Dim("No history points found."))
			return nil
		}

		// Build table
		headers := []string{"TIME", "GROUP", "FAMILY", "LABELS", "VALUE"}
		rows := make([][]string, len(resp.Points))
		for i, p := range resp.Points {
			rows[i] = []string{
				formatPointTime(p.Time),
				Cyan(p.Group),
				p.Family,
				formatLabels(p.Labels),
				formatValue(p.Value),
			}
		}

		printTable(headers, rows)

		if limit > 0 && len(resp.Points) == limit {
			fmt.Printf("\n%s\n", Dim("Result truncated at limit. Use --limit to see more."))
		}

		return nil
	},
}

// historyGroupsCmd lists groups present in the history store
var historyGroupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List groups with recorded history",
	Long: `List the aggregate groups that have at least one point in the
history store. Groups whose reporters are long gone still appear here
until retention prunes their points.`,
	Example: `  # List recorded groups
  pulse-ctl history groups`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching history groups...")
		resp, err := apiClient.HistoryGroups(ctx)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list history groups: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		if len(resp.Groups) == 0 {
			fmt.Println(Dim("No recorded groups."))
			return nil
		}

		headers := []string{"GROUP"}
		rows := make([][]string, len(resp.Groups))
		for i, g := range resp.Groups {
			rows[i] = []string{Cyan(g)}
		}

		printTable(headers, rows)

		return nil
	},
}

func init() {
	// Query command flags
	historyQueryCmd.Flags().String("group", "", "Filter by aggregate group")
	historyQueryCmd.Flags().String("family", "", "Filter by metric family")
	historyQueryCmd.Flags().String("since", "", "Window start (RFC 3339 or duration ago)")
	historyQueryCmd.Flags().String("until", "", "Window end (RFC 3339 or duration ago)")
	historyQueryCmd.Flags().Int("limit", 100, "Maximum number of points")

	// Add subcommands
	historyCmd.AddCommand(historyQueryCmd)
	historyCmd.AddCommand(historyGroupsCmd)
}

// parseTimeFlag parses a time flag value, accepting an RFC 3339
// timestamp or a duration measured back from now.
func parseTimeFlag(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return time.Now().Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("%q is not an RFC 3339 timestamp or duration", s)
}

// formatPointTime formats a point timestamp as local wall-clock time
func formatPointTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatLabels renders a stored label set for display. Labels arrive as
// a sorted comma-joined k=v list.
func formatLabels(labels string) string {
	if labels == "" {
		return Dim("-")
	}
	return truncate(strings.ReplaceAll(labels, ",", " "), 40)
}

// formatValue renders a sample value without trailing zeros
func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
