package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/agentx-labs/abt/internal/build"
	"github.com/agentx-labs/abt/internal/refgraph"
	"github.com/spf13/cobra"
)

var graphJSON bool

func init() {
	graphCmd.Flags().BoolVar(&graphJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(graphCmd)
}

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the reference graph",
	Long: `Print every reference between units after checking the graph for missing
targets and cycles. Handoff edges are agent-to-agent routes; include edges are
spliced into the referencing prompt.`,
	Args: cobra.NoArgs,
	RunE: runGraph,
}

type graphEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Kind   string `json:"kind"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := build.AnalyzeProject(cmd.Context(), projectDir, cfg.BuildOptions())
	if err != nil {
		return err
	}

	edges := graphEdges(a.Graph)
	if graphJSON {
		data, err := json.MarshalIndent(edges, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	if len(edges) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No references found.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FROM\tKIND\tTO\tSITE")
	for _, e := range edges {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d:%d\n", e.From, e.Kind, e.To, e.Line, e.Column)
	}
	return w.Flush()
}

func graphEdges(g *refgraph.Graph) []graphEdge {
	edges := []graphEdge{}
	for _, ref := range g.Edges() {
		edges = append(edges, graphEdge{
			From:   ref.From.String(),
			To:     ref.To.String(),
			Kind:   ref.Kind.String(),
			Line:   ref.Site.Line,
			Column: ref.Site.Column,
		})
	}
	return edges
}
