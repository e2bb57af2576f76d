package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sourcesCmd lists tracked reporting sources
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List tracked reporting sources",
	Long: `List the reporting sources the coordinator has accepted reports from.

A source is one reporter pushing into one group, optionally qualified by
a label. Sources that have not reported within the staleness window are
marked stale and excluded from merged snapshots.

Filters:
  --group   Only sources feeding this aggregate group
  --stale   Only stale sources`,
	Example: `  # List all sources
  pulse-ctl sources

  # List sources feeding the node group
  pulse-ctl sources --group node

  # Find reporters that stopped pushing
  pulse-ctl sources --stale`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		group, _ := cmd.Flags().GetString("group")
		staleOnly, _ := cmd.Flags().GetBool("stale")

		ShowSpinner("Fetching sources...")
		resp, err := apiClient.ListSources(ctx, group)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list sources: %w", err)
		}

		sources := resp.Sources
		if staleOnly {
			filtered := make([]Source, 0, len(sources))
			for _, s := range sources {
				if s.Stale {
					filtered = append(filtered, s)
				}
			}
			sources = filtered
		}

		if outputFormat == "json" {
			return printJSON(map[string]interface{}{
				"sources": sources,
				"count":   len(sources),
			})
		}

		if len(sources) == 0 {
			fmt.Println(Dim("No sources found."))
			return nil
		}

		// Build table
		headers := []string{"REPORTER", "GROUP", "LABEL", "FAMILIES", "SERIES", "LAST SEEN", "STALE"}
		rows := make([][]string, len(sources))
		for i, s := range sources {
			label := s.Label
			if label == "" {
				label = Dim("-")
			}

			rows[i] = []string{
				s.Reporter,
				Cyan(s.Group),
				label,
				fmt.Sprintf("%d", s.Families),
				fmt.Sprintf("%d", s.Series),
				formatTimestamp(s.LastSeen),
				formatStale(s.Stale),
			}
		}

		printTable(headers, rows)

		return nil
	},
}

func init() {
	sourcesCmd.Flags().String("group", "", "Filter by aggregate group")
	sourcesCmd.Flags().Bool("stale", false, "Show only stale sources")
}

// formatStale returns a colored staleness marker
func formatStale(stale bool) string {
	if stale {
		return Red("yes")
	}
	return Green("no")
}
