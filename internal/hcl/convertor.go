package hcl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// newEvalContext exposes the process environment to override files as the
// `env` object, e.g. `name = env.DEVELOPER_NAME`.
func newEvalContext(environ []string) *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(environ))
	for _, e := range environ {
		key, value, ok := strings.Cut(e, "=")
		if !ok || key == "" || !hclsyntax.ValidIdentifier(key) {
			continue
		}
		vars[key] = cty.StringVal(value)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}

// decodeStringAttributes evaluates every attribute of a free-form block and
// converts each value to a string. Numbers and bools are accepted and
// rendered in their canonical form.
func decodeStringAttributes(body hcl.Body, evalCtx *hcl.EvalContext) (map[string]string, error) {
	if body == nil {
		return nil, nil
	}
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}

	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(attrs))
	for _, name := range names {
		val, diags := attrs[name].Expr.Value(evalCtx)
		if diags.HasErrors() {
			return nil, diags
		}
		if val.IsNull() {
			continue
		}
		if !val.IsWhollyKnown() {
			return nil, fmt.Errorf("attribute %q has an unknown value", name)
		}
		str, err := convert.Convert(val, cty.String)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: cannot convert %s to string: %w", name, val.Type().FriendlyName(), err)
		}
		out[name] = str.AsString()
	}
	return out, nil
}
