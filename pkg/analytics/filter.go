package analytics

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/itsneelabh/insights/pkg/core"
)

// FilterEnv is what a telemetryFilter expression sees, for example
//
//	baseType != "MessageData" || properties["level"] == "audit"
type FilterEnv struct {
	Name         string                 `expr:"name"`
	BaseType     string                 `expr:"baseType"`
	Tags         map[string]string      `expr:"tags"`
	Data         map[string]interface{} `expr:"data"`
	Properties   map[string]string      `expr:"properties"`
	Measurements map[string]float64     `expr:"measurements"`
}

// ExprFilter keeps the items for which a boolean expression holds.
type ExprFilter struct {
	expression string
	program    *exprvm.Program
}

// NewExprFilter compiles expression against FilterEnv.
func NewExprFilter(expression string) (*ExprFilter, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	program, err := exprlang.Compile(expression,
		exprlang.Env(FilterEnv{}),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	return &ExprFilter{expression: expression, program: program}, nil
}

// Allow evaluates the filter for item.
func (f *ExprFilter) Allow(item *core.Envelope) (bool, error) {
	out, err := exprlang.Run(f.program, FilterEnv{
		Name:         item.Name,
		BaseType:     item.BaseType,
		Tags:         item.Tags,
		Data:         item.BaseData,
		Properties:   item.Properties,
		Measurements: item.Measurements,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", f.expression, err)
	}
	allow, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", f.expression, out)
	}
	return allow, nil
}

// String returns the source expression.
func (f *ExprFilter) String() string {
	return f.expression
}
