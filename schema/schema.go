// Package schema loads field configurations from YAML or HCL files.
//
// A schema lists fields with their dependencies, static options or an HTTP
// option source, and an optional filter expression evaluated per option on
// top of the default parent filtering.
package schema

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/jacentio/cascader/source/jsonhttp"
	"github.com/jacentio/cascader/store"
)

var (
	// ErrInvalidSchema is returned when a schema is malformed.
	ErrInvalidSchema = errors.New("schema: invalid schema")

	// ErrUnsupportedFormat is returned for files that are neither YAML nor HCL.
	ErrUnsupportedFormat = errors.New("schema: unsupported file format")
)

// Schema is a format-agnostic list of field definitions.
type Schema struct {
	Fields []Field `yaml:"fields"`
}

// Field defines one selection field.
type Field struct {
	Name      string   `yaml:"name"`
	DependsOn []string `yaml:"dependsOn"`
	Mode      string   `yaml:"mode"`
	Filter    string   `yaml:"filter"`
	Options   []Option `yaml:"options"`
	Source    *Source  `yaml:"source"`
}

// Option defines one static option. Value, Parent and Parents hold loosely
// typed data as produced by the decoders.
type Option struct {
	Label    string         `yaml:"label"`
	Value    any            `yaml:"value"`
	Parent   any            `yaml:"parent"`
	Parents  map[string]any `yaml:"parents"`
	Disabled bool           `yaml:"disabled"`
}

// Source defines a dynamic option source.
type Source struct {
	// Type selects the source implementation. Only "http" is supported.
	Type   string            `yaml:"type"`
	URL    string            `yaml:"url"`
	Items  string            `yaml:"items"`
	Label  string            `yaml:"label"`
	Value  string            `yaml:"value"`
	Parent string            `yaml:"parent"`
	Header map[string]string `yaml:"header"`
}

// BuildOptions configures how a Schema becomes field configurations.
type BuildOptions struct {
	// HTTPClient is used by HTTP sources. Default: a client with the
	// jsonhttp default timeout.
	HTTPClient *http.Client

	// Logger receives filter evaluation errors and source diagnostics.
	// Default: slog.Default()
	Logger *slog.Logger

	// Fallback, when set, supplies the loader of fields that declare
	// neither options nor a source.
	Fallback func(field string) store.LoadFunc
}

// LoadFile reads a schema file, choosing the decoder by extension:
// .yaml, .yml and .json are decoded as YAML, .hcl as HCL.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return ParseYAML(data)
	case ".hcl":
		return ParseHCL(data, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// FieldConfigs converts the schema into store field configurations.
func (s *Schema) FieldConfigs(opts BuildOptions) ([]store.FieldConfig, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	seen := make(map[string]bool, len(s.Fields))
	out := make([]store.FieldConfig, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("%w: field without name", ErrInvalidSchema)
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name)
		}
		seen[f.Name] = true

		cfg, err := f.config(opts)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		out = append(out, cfg)
	}

	for _, f := range s.Fields {
		for _, p := range f.DependsOn {
			if !seen[p] {
				return nil, fmt.Errorf("%w: field %q depends on unknown field %q", ErrInvalidSchema, f.Name, p)
			}
		}
	}
	return out, nil
}

func (f Field) config(opts BuildOptions) (store.FieldConfig, error) {
	cfg := store.FieldConfig{
		Name:      f.Name,
		DependsOn: f.DependsOn,
	}

	switch strings.ToLower(f.Mode) {
	case "", "single":
		cfg.Mode = store.ModeSingle
	case "multiple", "multi":
		cfg.Mode = store.ModeMultiple
	default:
		return cfg, fmt.Errorf("%w: unknown mode %q", ErrInvalidSchema, f.Mode)
	}

	if f.Source != nil && len(f.Options) > 0 {
		return cfg, fmt.Errorf("%w: both options and source given", ErrInvalidSchema)
	}

	if f.Source != nil {
		load, err := f.Source.loader(opts)
		if err != nil {
			return cfg, err
		}
		cfg.Options = store.Dynamic(load)
	} else if len(f.Options) == 0 && opts.Fallback != nil {
		cfg.Options = store.Dynamic(opts.Fallback(f.Name))
	} else {
		options := make([]store.Option, 0, len(f.Options))
		for i, o := range f.Options {
			opt, err := o.option()
			if err != nil {
				return cfg, fmt.Errorf("option %d: %w", i, err)
			}
			options = append(options, opt)
		}
		cfg.Options = store.Static(options...)
	}

	if f.Filter != "" {
		filter, err := compileFilter(f.Filter, opts.Logger.With("field", f.Name))
		if err != nil {
			return cfg, err
		}
		cfg.FilterOptions = filter
	}
	return cfg, nil
}

func (o Option) option() (store.Option, error) {
	value, err := store.ValueOf(o.Value)
	if err != nil {
		return store.Option{}, err
	}
	if !value.IsSet() || value.IsList() {
		return store.Option{}, fmt.Errorf("%w: option value must be a scalar", ErrInvalidSchema)
	}

	opt := store.Option{
		Label:    o.Label,
		Value:    value.Scalar(),
		Disabled: o.Disabled,
	}
	if opt.Label == "" {
		opt.Label = value.String()
	}

	if o.Parent != nil {
		if opt.ParentValue, err = store.ValueOf(o.Parent); err != nil {
			return store.Option{}, fmt.Errorf("parent: %w", err)
		}
	}
	if len(o.Parents) > 0 {
		opt.ParentValues = make(map[string]store.Value, len(o.Parents))
		for field, raw := range o.Parents {
			v, err := store.ValueOf(raw)
			if err != nil {
				return store.Option{}, fmt.Errorf("parents.%s: %w", field, err)
			}
			opt.ParentValues[field] = v
		}
	}
	return opt, nil
}

func (s *Source) loader(opts BuildOptions) (store.LoadFunc, error) {
	switch strings.ToLower(s.Type) {
	case "http", "":
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidSchema, s.Type)
	}
	if s.URL == "" {
		return nil, fmt.Errorf("%w: http source without url", ErrInvalidSchema)
	}

	cfg := jsonhttp.DefaultConfig()
	cfg.URL = s.URL
	cfg.Mapping = jsonhttp.Mapping{
		Items:  s.Items,
		Label:  s.Label,
		Value:  s.Value,
		Parent: s.Parent,
	}
	if len(s.Header) > 0 {
		cfg.Header = make(http.Header, len(s.Header))
		for k, v := range s.Header {
			cfg.Header.Set(k, os.ExpandEnv(v))
		}
	}
	return jsonhttp.New(opts.HTTPClient, cfg, opts.Logger).Load, nil
}
