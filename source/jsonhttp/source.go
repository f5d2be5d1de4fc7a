// Package jsonhttp loads field options from JSON documents, either fetched
// from an HTTP endpoint per parent selection or decoded once from bytes.
package jsonhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jacentio/cascader/store"
)

var (
	// ErrStatus is returned when the endpoint answers with a non-2xx status.
	ErrStatus = errors.New("jsonhttp: unexpected status")

	// ErrNoItems is returned when the items path does not resolve to an array.
	ErrNoItems = errors.New("jsonhttp: items path is not an array")
)

// Mapping locates options inside a JSON document using gjson paths.
type Mapping struct {
	// Items is the path of the option array. Empty means the document root.
	Items string

	// Label is the path of the label within one item.
	// Default: "label"
	Label string

	// Value is the path of the value within one item.
	// Default: "value"
	Value string

	// Parent is the path of the item's parent value(s), if any. It becomes
	// the option's ParentValue.
	Parent string
}

func (m *Mapping) validate() {
	if m.Label == "" {
		m.Label = "label"
	}
	if m.Value == "" {
		m.Value = "value"
	}
}

// Config holds configuration for an HTTP option source.
type Config struct {
	// URL is the endpoint. Parent values are appended as query parameters,
	// one per selected scalar, named after the parent field.
	URL string

	// Header is sent with every request.
	Header http.Header

	// Timeout bounds one request.
	// Default: 10s
	Timeout time.Duration

	// Mapping locates options in the response.
	Mapping Mapping
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Timeout: 10 * time.Second}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	c.Mapping.validate()
}

// Source fetches options over HTTP.
type Source struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

// New creates a new Source. A nil client gets one with Config.Timeout.
func New(client *http.Client, config Config, logger *slog.Logger) *Source {
	config.validate()
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, config: config, logger: logger}
}

// Load fetches the options for the given parent values. It has the
// signature of store.LoadFunc.
func (s *Source) Load(ctx context.Context, parents store.ParentValues) ([]store.Option, error) {
	u, err := url.Parse(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	for parent, v := range parents {
		for _, item := range v.Items() {
			q.Add(parent, fmt.Sprint(item))
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range s.config.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d from %s", ErrStatus, resp.StatusCode, u.Redacted())
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	opts, err := Decode(body, s.config.Mapping)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("options fetched", "url", u.Redacted(), "options", len(opts))
	return opts, nil
}

// FromJSON decodes a static option list from data.
func FromJSON(data []byte, mapping Mapping) (store.OptionSource, error) {
	mapping.validate()
	opts, err := Decode(data, mapping)
	if err != nil {
		return store.OptionSource{}, err
	}
	return store.Static(opts...), nil
}

// Decode extracts options from a JSON document. Items without a scalar
// value are skipped.
func Decode(data []byte, mapping Mapping) ([]store.Option, error) {
	mapping.validate()

	items := gjson.ParseBytes(data)
	if mapping.Items != "" {
		items = items.Get(mapping.Items)
	}
	if !items.IsArray() {
		return nil, ErrNoItems
	}

	var out []store.Option
	for _, item := range items.Array() {
		value := item.Get(mapping.Value)
		scalar, ok := scalarOf(value)
		if !ok {
			continue
		}
		opt := store.Option{Value: scalar, Label: item.Get(mapping.Label).String()}
		if opt.Label == "" {
			opt.Label = value.String()
		}
		if mapping.Parent != "" {
			if parent := item.Get(mapping.Parent); parent.Exists() {
				pv, err := store.ValueOf(parent.Value())
				if err != nil {
					return nil, fmt.Errorf("parent of %v: %w", scalar, err)
				}
				opt.ParentValue = pv
			}
		}
		out = append(out, opt)
	}
	return out, nil
}

// scalarOf converts a gjson string or number into a scalar.
func scalarOf(r gjson.Result) (store.Scalar, bool) {
	switch r.Type {
	case gjson.String:
		return r.Str, true
	case gjson.Number:
		return store.Single(r.Num).Scalar(), true
	}
	return nil, false
}
