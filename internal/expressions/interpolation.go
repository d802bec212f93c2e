package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/renholm/stagehand/pkg/schema"
)

// Scope holds the data available to ${{...}} expressions in action
// parameters.
type Scope struct {
	Context map[string]any // instance context variables
	Run     map[string]any // run metadata (run_id, workflow, state)
}

// env builds the expression environment. Context variables are exposed both
// under the "context" namespace and at the top level for short references
// like ${{ branch }}.
func (s *Scope) env() map[string]any {
	env := make(map[string]any, len(s.Context)+2)
	for k, v := range s.Context {
		env[k] = v
	}
	env["context"] = s.Context
	env["run"] = s.Run
	return env
}

// Interpolate resolves every ${{ expression }} token in the input against
// the scope. Expressions are evaluated with expr; the resolved value is
// embedded as a string (complex values are JSON-encoded inline). Nested
// ${{ inside an expression is rejected.
func Interpolate(input string, scope *Scope) (string, error) {
	if !strings.Contains(input, "${{") {
		return input, nil
	}
	if scope == nil {
		scope = &Scope{}
	}
	env := scope.env()

	var result strings.Builder
	result.Grow(len(input))

	i := 0
	for i < len(input) {
		idx := strings.Index(input[i:], "${{")
		if idx == -1 {
			result.WriteString(input[i:])
			break
		}

		result.WriteString(input[i : i+idx])
		start := i + idx + 3

		end := strings.Index(input[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrKindTemplate, "unclosed ${{ expression")
		}
		end += start

		code := strings.TrimSpace(input[start:end])
		if code == "" {
			return "", schema.NewError(schema.ErrKindTemplate, "empty ${{ }} expression")
		}
		if strings.Contains(code, "${{") {
			return "", schema.NewError(schema.ErrKindTemplate,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}

		val, err := expr.Eval(code, env)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrKindTemplate,
				"evaluate ${{%s}}: %s", code, err.Error()).WithCause(err)
		}
		result.WriteString(stringify(val))

		i = end + 2
	}

	return result.String(), nil
}

// InterpolateArgs resolves every value in a string-to-string argument map.
func InterpolateArgs(args map[string]string, scope *Scope) (map[string]string, error) {
	if len(args) == 0 {
		return args, nil
	}
	out := make(map[string]string, len(args))
	for k, v := range args {
		resolved, err := Interpolate(v, scope)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// stringify converts a resolved value into its inline text representation.
// Strings are embedded verbatim; complex types are JSON-encoded.
func stringify(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64, int, int64:
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
