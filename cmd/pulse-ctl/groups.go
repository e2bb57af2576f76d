package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// groupCmd is the parent command for aggregate group operations
var groupCmd = &cobra.Command{
	Use:     "group",
	Aliases: []string{"groups"},
	Short:   "Inspect aggregate metric groups",
	Long:    `Commands for inspecting the aggregate groups tracked by the Pulse coordinator.`,
}

// groupListCmd lists all aggregate groups
var groupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aggregate groups",
	Long: `List the aggregate groups the coordinator is currently tracking,
with the number of live sources and merged series behind each.`,
	Example: `  # List all groups
  pulse-ctl group list`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		ShowSpinner("Fetching groups...")
		resp, err := apiClient.ListGroups(ctx)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to list groups: %w", err)
		}

		if outputFormat == "json" {
			return printJSON(resp)
		}

		if len(resp.Groups) == 0 {
			fmt.Println(Dim("No aggregate groups tracked."))
			return nil
		}

		// Build table
		headers := []string{"GROUP", "SOURCES", "SERIES"}
		rows := make([][]string, len(resp.Groups))
		for i, g := range resp.Groups {
			rows[i] = []string{
				Cyan(g.Group),
				fmt.Sprintf("%d", g.Sources),
				fmt.Sprintf("%d", g.Series),
			}
		}

		printTable(headers, rows)

		return nil
	},
}

// familySummary is the parsed form of one metric family in a snapshot
type familySummary struct {
	Family string `json:"family"`
	Type   string `json:"type"`
	Series int    `json:"series"`
	Help   string `json:"help,omitempty"`
}

// groupShowCmd dumps the merged snapshot of one group
var groupShowCmd = &cobra.Command{
	Use:   "show <group>",
	Short: "Show a group's merged snapshot",
	Long: `Fetch the merged snapshot for an aggregate group and summarize its
metric families.

The snapshot is served in Prometheus text exposition format. By default
the families are parsed and listed in a table; use --raw to print the
exposition unchanged, ready to pipe into other tools.`,
	Example: `  # Summarize the coordinator group
  pulse-ctl group show coordinator

  # Dump the raw exposition text
  pulse-ctl group show coordinator --raw`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		group := args[0]
		raw, _ := cmd.Flags().GetBool("raw")

		ShowSpinner("Fetching snapshot...")
		text, err := apiClient.GroupSnapshot(ctx, group)
		HideSpinner()

		if err != nil {
			return fmt.Errorf("failed to fetch snapshot: %w", err)
		}

		if raw {
			fmt.Print(text)
			return nil
		}

		var parser expfmt.TextParser
		families, err := parser.TextToMetricFamilies(strings.NewReader(text))
		if err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}

		names := make([]string, 0, len(families))
		for name := range families {
			names = append(names, name)
		}
		sort.Strings(names)

		summaries := make([]familySummary, 0, len(names))
		for _, name := range names {
			mf := families[name]
			summaries = append(summaries, familySummary{
				Family: name,
				Type:   strings.ToLower(mf.GetType().String()),
				Series: len(mf.Metric),
				Help:   mf.GetHelp(),
			})
		}

		if outputFormat == "json" {
			return printJSON(map[string]interface{}{
				"group":    group,
				"families": summaries,
				"count":    len(summaries),
			})
		}

		if len(summaries) == 0 {
			fmt.Println(Dim("Snapshot is empty."))
			return nil
		}

		fmt.Printf("%s %s\n\n", Bold("Group:"), Cyan(group))

		headers := []string{"FAMILY", "TYPE", "SERIES", "HELP"}
		rows := make([][]string, len(summaries))
		for i, s := range summaries {
			help := s.Help
			if help == "" {
				help = Dim("-")
			}
			rows[i] = []string{
				s.Family,
				formatFamilyType(s.Type),
				fmt.Sprintf("%d", s.Series),
				truncate(help, 48),
			}
		}

		printTable(headers, rows)

		return nil
	},
}

func init() {
	// Show command flags
	groupShowCmd.Flags().Bool("raw", false, "Print the raw text exposition")

	// Add subcommands
	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupShowCmd)
}

// formatFamilyType returns a colored metric type string
func formatFamilyType(t string) string {
	switch t {
	case "counter":
		return Cyan(t)
	case "gauge":
		return Green(t)
	case "histogram", "gauge_histogram":
		return Magenta(t)
	case "summary":
		return Yellow(t)
	default:
		return Dim(t)
	}
}
