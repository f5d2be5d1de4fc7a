package schema

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// hclFile is the top-level structure of an HCL schema:
//
//	field "province" {
//	  depends_on = ["country"]
//	  option "HCM" {
//	    label  = "Ho Chi Minh"
//	    parent = "VN"
//	  }
//	}
type hclFile struct {
	Fields []*hclField `hcl:"field,block"`
}

type hclField struct {
	Name      string       `hcl:"name,label"`
	DependsOn []string     `hcl:"depends_on,optional"`
	Mode      string       `hcl:"mode,optional"`
	Filter    string       `hcl:"filter,optional"`
	Options   []*hclOption `hcl:"option,block"`
	Sources   []*hclSource `hcl:"source,block"`
}

// hclOption is keyed by its value. The value attribute overrides the key
// for non-string values.
type hclOption struct {
	Key      string    `hcl:"key,label"`
	Label    string    `hcl:"label,optional"`
	Value    cty.Value `hcl:"value,optional"`
	Parent   cty.Value `hcl:"parent,optional"`
	Parents  cty.Value `hcl:"parents,optional"`
	Disabled bool      `hcl:"disabled,optional"`
}

type hclSource struct {
	Type   string            `hcl:"type,label"`
	URL    string            `hcl:"url"`
	Items  string            `hcl:"items,optional"`
	Label  string            `hcl:"label,optional"`
	Value  string            `hcl:"value,optional"`
	Parent string            `hcl:"parent,optional"`
	Header map[string]string `hcl:"header,optional"`
}

// ParseHCL decodes an HCL schema. filename is used in diagnostics only.
func ParseHCL(data []byte, filename string) (*Schema, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidSchema, filename, diags)
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrInvalidSchema, filename, diags)
	}

	s := &Schema{Fields: make([]Field, 0, len(parsed.Fields))}
	for _, hf := range parsed.Fields {
		f := Field{
			Name:      hf.Name,
			DependsOn: hf.DependsOn,
			Mode:      hf.Mode,
			Filter:    hf.Filter,
		}
		if len(hf.Sources) > 1 {
			return nil, fmt.Errorf("%w: field %q has more than one source", ErrInvalidSchema, hf.Name)
		}
		if len(hf.Sources) == 1 {
			src := hf.Sources[0]
			f.Source = &Source{
				Type:   src.Type,
				URL:    src.URL,
				Items:  src.Items,
				Label:  src.Label,
				Value:  src.Value,
				Parent: src.Parent,
				Header: src.Header,
			}
		}
		for _, ho := range hf.Options {
			opt, err := ho.option()
			if err != nil {
				return nil, fmt.Errorf("%w: field %q option %q: %w", ErrInvalidSchema, hf.Name, ho.Key, err)
			}
			f.Options = append(f.Options, opt)
		}
		s.Fields = append(s.Fields, f)
	}
	return s, nil
}

func (o *hclOption) option() (Option, error) {
	opt := Option{
		Label:    o.Label,
		Value:    o.Key,
		Disabled: o.Disabled,
	}

	value, err := ctyToNative(o.Value)
	if err != nil {
		return opt, fmt.Errorf("value: %w", err)
	}
	if value != nil {
		opt.Value = value
	}

	if opt.Parent, err = ctyToNative(o.Parent); err != nil {
		return opt, fmt.Errorf("parent: %w", err)
	}

	parents, err := ctyToNative(o.Parents)
	if err != nil {
		return opt, fmt.Errorf("parents: %w", err)
	}
	switch p := parents.(type) {
	case nil:
	case map[string]any:
		opt.Parents = p
	default:
		return opt, fmt.Errorf("parents: expected an object, got %T", parents)
	}
	return opt, nil
}

// ctyToNative converts a cty.Value to its natural Go counterpart. Absent
// attributes decode as null and become nil.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
