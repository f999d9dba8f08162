package discovery

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/me/classq/pkg/model"
)

// Filter selects discovered classes with a JavaScript predicate. The
// expression sees two variables: `classPath` (the class path string) and
// `methods` (the method name array), and its result is taken as a boolean.
//
//	--filter 'classPath.startsWith("integration.")'
//	--filter 'methods.length > 5'
type Filter struct {
	src  string
	prog *goja.Program
}

// NewFilter compiles the predicate. Returns an error for invalid JavaScript.
func NewFilter(expr string) (*Filter, error) {
	prog, err := goja.Compile("filter", expr, true)
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, err)
	}
	return &Filter{src: expr, prog: prog}, nil
}

// Match evaluates the predicate against one item.
func (f *Filter) Match(it *model.Item) (bool, error) {
	vm := goja.New()
	if err := vm.Set("classPath", it.ClassPath); err != nil {
		return false, fmt.Errorf("set classPath: %w", err)
	}
	if err := vm.Set("methods", it.Methods); err != nil {
		return false, fmt.Errorf("set methods: %w", err)
	}

	v, err := vm.RunProgram(f.prog)
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q against %s: %w", f.src, it.ClassPath, err)
	}
	return v.ToBoolean(), nil
}

// Apply returns the items matching the filter. A nil filter keeps everything.
func (f *Filter) Apply(items []*model.Item) ([]*model.Item, error) {
	if f == nil {
		return items, nil
	}
	var kept []*model.Item
	for _, it := range items {
		ok, err := f.Match(it)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, it)
		}
	}
	return kept, nil
}
