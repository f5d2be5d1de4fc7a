package schema

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/jacentio/cascader/store"
)

// compileFilter compiles a boolean expression into a FilterFunc. The
// expression sees two variables:
//
//	option   map with "label", "value" and "disabled"
//	parents  map of parent field name to the list of selected scalars
//
// Options first go through store.FilterByParent; the expression then
// narrows the result further. An option whose evaluation fails is dropped.
func compileFilter(src string, logger *slog.Logger) (store.FilterFunc, error) {
	program, err := expr.Compile(src, expr.Env(filterEnv(store.Option{}, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("%w: filter: %w", ErrInvalidSchema, err)
	}

	return func(options []store.Option, parents store.ParentValues) []store.Option {
		base := store.FilterByParent(options, parents)
		out := make([]store.Option, 0, len(base))
		for _, opt := range base {
			ok, err := runFilter(program, filterEnv(opt, parents))
			if err != nil {
				logger.Warn("filter evaluation failed", "value", opt.Value, "error", err)
				continue
			}
			if ok {
				out = append(out, opt)
			}
		}
		return out
	}, nil
}

func runFilter(program *vm.Program, env map[string]any) (bool, error) {
	output, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := output.(bool)
	return ok, nil
}

func filterEnv(opt store.Option, parents store.ParentValues) map[string]any {
	p := make(map[string]any, len(parents))
	for name, v := range parents {
		p[name] = v.Items()
	}
	return map[string]any{
		"option": map[string]any{
			"label":    opt.Label,
			"value":    opt.Value,
			"disabled": opt.Disabled,
		},
		"parents": p,
	}
}
