// Package cli implements the cascader command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time with -ldflags "-X ...cli.version=...".
var version = "dev"

const envPrefix = "CASCADER"

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// NewRootCommand builds the command tree. Every flag can also be given in
// the config file or as a CASCADER_ environment variable (dashes become
// underscores).
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "cascader",
		Short: "Inspect dependent selection fields",
		Long: `cascader loads a field schema (YAML or HCL), applies value assignments
and shows how selections cascade and which options remain available.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (yaml, json or toml)")
	flags.StringP("schema", "s", "", "schema file (.yaml, .yml, .json or .hcl)")
	flags.StringP("output", "o", "text", "output format: text or json")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")

	root.AddCommand(
		newInspectCommand(v),
		newGraphCommand(v),
		newVersionCommand(),
	)
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

// newLogger builds a slog logger from level and format names.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func commandLogger(cmd *cobra.Command, v *viper.Viper) (*slog.Logger, error) {
	return newLogger(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cascader version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cascader %s\n", version)
		},
	}
}
