package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/agentx-labs/abt/internal/loader"
	"github.com/agentx-labs/abt/internal/source"
	"github.com/spf13/cobra"
)

var (
	listKindFilter string
	listTagFilter  string
	listJSON       bool
)

var listCmd = &cobra.Command{
	Use:   "list [query]",
	Short: "List the units of the project",
	Long: `List the agents, skills, macros and tools of the project.

The query matches against unit ids, names and descriptions (case-insensitive
substring). Use --kind to filter by kind and --tag to filter by tags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listKindFilter, "kind", "", "Filter by kind (agent, skill, macro, tool)")
	listCmd.Flags().StringVar(&listTagFilter, "tag", "", "Filter by tags (comma-separated, matches any)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

// listEntry represents a unit for display.
type listEntry struct {
	Kind        string   `json:"kind"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Path        string   `json:"path"`
}

func newListEntry(u source.Unit) listEntry {
	e := listEntry{
		Kind: u.Kind.String(),
		ID:   u.ID.String(),
		Name: u.ID.Name(),
		Path: u.Path,
	}
	if name, ok := u.Metadata.String("name"); ok {
		e.Name = name
	}
	e.Version, _ = u.Metadata.String("version")
	e.Description, _ = u.Metadata.String("description")
	e.Tags, _ = u.Metadata.Strings("tags")
	return e
}

func runList(cmd *cobra.Command, args []string) error {
	query := ""
	if len(args) > 0 {
		query = args[0]
	}

	units, errs := loader.Load(cmd.Context(), projectDir)
	if errs != nil {
		return errs
	}

	filterTags := splitList(listTagFilter)
	var entries []listEntry
	for _, u := range units {
		e := newListEntry(u)
		if matchesList(e, query, listKindFilter, filterTags) {
			entries = append(entries, e)
		}
	}

	if len(entries) == 0 {
		msg := "No units found"
		if query != "" {
			msg += fmt.Sprintf(" matching %q", query)
		}
		if listKindFilter != "" {
			msg += fmt.Sprintf(" with --kind=%s", listKindFilter)
		}
		if listTagFilter != "" {
			msg += fmt.Sprintf(" with --tag=%s", listTagFilter)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	}

	if listJSON {
		return printListJSON(cmd, entries)
	}
	return printListTable(cmd, entries)
}

// matchesList returns true if the entry matches all provided filters.
// All filters are AND-combined: the entry must match every non-empty filter.
func matchesList(e listEntry, query, kindFilter string, filterTags []string) bool {
	if kindFilter != "" && !strings.EqualFold(e.Kind, kindFilter) {
		return false
	}

	if len(filterTags) > 0 && !matchesAnyTag(e.Tags, filterTags) {
		return false
	}

	if query != "" {
		q := strings.ToLower(query)
		if !strings.Contains(strings.ToLower(e.ID), q) &&
			!strings.Contains(strings.ToLower(e.Name), q) &&
			!strings.Contains(strings.ToLower(e.Description), q) {
			return false
		}
	}

	return true
}

// matchesAnyTag returns true if any of the unit's tags match any of the filter tags.
// Comparison is case-insensitive.
func matchesAnyTag(unitTags []string, filterTags []string) bool {
	for _, ft := range filterTags {
		for _, tt := range unitTags {
			if strings.EqualFold(tt, ft) {
				return true
			}
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func printListTable(cmd *cobra.Command, entries []listEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "KIND\tID\tVERSION\tDESCRIPTION")
	for _, e := range entries {
		version := e.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Kind, e.ID, version, truncate(e.Description, 60))
	}
	return w.Flush()
}

// truncate shortens s to at most limit runes, ending in "..." when cut.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}

func printListJSON(cmd *cobra.Command, entries []listEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}
