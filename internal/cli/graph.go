package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/cascader/store"
)

type graphNode struct {
	Name     string   `json:"name"`
	Parents  []string `json:"parents,omitempty"`
	Children []string `json:"children,omitempty"`
	Cascade  []string `json:"cascade,omitempty"`
}

func newGraphCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the dependency graph and cascade order of every field",
		Long: `graph prints each field's parents and children, and the order in which
dependent fields are cascaded when that field changes. It fails when the
schema contains a dependency cycle.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGraph(cmd, v)
		},
	}
}

func runGraph(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := commandLogger(cmd, v)
	if err != nil {
		return err
	}
	fields, err := loadFields(cmd.Context(), v, logger)
	if err != nil {
		return err
	}

	reg := store.NewRegistry(fields, logger)
	nodes := make([]graphNode, 0, len(fields))
	for _, name := range reg.Names() {
		nodes = append(nodes, graphNode{
			Name:     name,
			Parents:  reg.ParentsOf(name),
			Children: reg.ChildrenOf(name),
			Cascade:  reg.CascadeOrder(name),
		})
	}

	if err := writeGraph(cmd.OutOrStdout(), v.GetString("output"), nodes); err != nil {
		return err
	}
	return reg.DetectCycles()
}

func writeGraph(w io.Writer, format string, nodes []graphNode) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(nodes)
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tPARENTS\tCHILDREN\tCASCADE")
		for _, n := range nodes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Name, list(n.Parents), list(n.Children), list(n.Cascade))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func list(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
