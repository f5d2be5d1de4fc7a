package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/cascader/store"
)

// fieldReport is the inspect output of one field.
type fieldReport struct {
	Name    string         `json:"name"`
	Mode    string         `json:"mode"`
	Parents []string       `json:"parents,omitempty"`
	Value   store.Value    `json:"value"`
	Loading bool           `json:"loading,omitempty"`
	Options []store.Option `json:"options"`
}

func newInspectCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Apply assignments and print every field's value and options",
		Long: `inspect builds a store from the schema, applies each --set assignment in
order (cascading to dependent fields), waits for dynamic options to load and
prints the resulting values and available options.

Assignment values are parsed as JSON when possible and taken as plain strings
otherwise: --set country=VN, --set user=7, --set tags='[1,2]'. An empty value
clears the field.`,
		Example: `  cascader inspect -s location.hcl --set country=VN --set province=HCM
  cascader inspect -s location.yaml --set country=TH -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			assignments, err := cmd.Flags().GetStringArray("set")
			if err != nil {
				return err
			}
			return runInspect(cmd, v, assignments)
		},
	}

	cmd.Flags().StringArray("set", nil, "assign field=value (repeatable, applied in order)")
	cmd.Flags().Duration("timeout", 10*time.Second, "time to wait for option loads")
	addDynamoFlags(cmd)
	return cmd
}

func runInspect(cmd *cobra.Command, v *viper.Viper, assignments []string) error {
	logger, err := commandLogger(cmd, v)
	if err != nil {
		return err
	}

	timeout := v.GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	fields, err := loadFields(ctx, v, logger)
	if err != nil {
		return err
	}

	cfg := store.DefaultConfig()
	cfg.Logger = logger
	cfg.LoadTimeout = timeout
	s := store.New(fields, nil, cfg)
	defer s.Destroy()

	for _, raw := range assignments {
		name, value, err := parseAssignment(raw)
		if err != nil {
			return err
		}
		if !s.Registry().Has(name) {
			return fmt.Errorf("%w: %s", store.ErrUnknownField, name)
		}
		s.SetValue(name, value)
	}

	if err := s.Reload(ctx); err != nil {
		logger.Warn("option reload incomplete", "error", err)
	}

	return writeInspect(cmd.OutOrStdout(), v.GetString("output"), inspectReport(s))
}

// parseAssignment splits "field=value" and decodes the value.
func parseAssignment(raw string) (string, store.Value, error) {
	name, text, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", store.Value{}, fmt.Errorf("invalid assignment %q, want field=value", raw)
	}
	if text == "" {
		return name, store.Value{}, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		decoded = text
	}
	value, err := store.ValueOf(decoded)
	if err != nil {
		return "", store.Value{}, fmt.Errorf("assignment %q: %w", raw, err)
	}
	return name, value, nil
}

func inspectReport(s *store.Store) []fieldReport {
	reg := s.Registry()
	out := make([]fieldReport, 0, len(reg.Names()))
	for _, cfg := range s.Fields() {
		out = append(out, fieldReport{
			Name:    cfg.Name,
			Mode:    cfg.Mode.String(),
			Parents: reg.ParentsOf(cfg.Name),
			Value:   s.Value(cfg.Name),
			Loading: s.IsLoading(cfg.Name),
			Options: s.Options(cfg.Name, nil),
		})
	}
	return out
}

func writeInspect(w io.Writer, format string, report []fieldReport) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "", "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FIELD\tPARENTS\tVALUE\tOPTIONS")
		for _, f := range report {
			parents := strings.Join(f.Parents, ",")
			if parents == "" {
				parents = "-"
			}
			options := formatOptions(f.Options)
			if f.Loading {
				options = "(loading)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Name, parents, f.Value, options)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func formatOptions(options []store.Option) string {
	if len(options) == 0 {
		return "-"
	}
	parts := make([]string, len(options))
	for i, o := range options {
		label := fmt.Sprint(o.Value)
		if o.Label != "" && o.Label != label {
			label = fmt.Sprintf("%s (%s)", label, o.Label)
		}
		if o.Disabled {
			label += " [disabled]"
		}
		parts[i] = label
	}
	return strings.Join(parts, ", ")
}
