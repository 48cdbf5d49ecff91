package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/petrijr/docroute/pkg/api"
)

// LuaEvaluator evaluates transition guards as Lua expressions. Every
// binding of the execution context is visible as a local variable.
type LuaEvaluator struct {
	env *LuaEnv
}

var _ api.ConditionEvaluator = (*LuaEvaluator)(nil)

// NewLuaEvaluator creates a guard evaluator with its own Lua environment.
func NewLuaEvaluator() *LuaEvaluator {
	return &LuaEvaluator{env: NewLuaEnv()}
}

// Evaluate runs expression and requires a boolean result.
func (e *LuaEvaluator) Evaluate(ctx context.Context, expression string, ec *api.ExecutionContext) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var result bool
	err := e.env.Call(guardSource(expression), ec.Bindings(), func(L *lua.State) error {
		if L.TypeOf(-1) != lua.TypeBoolean {
			return fmt.Errorf("%w: got %s", api.ErrNonBooleanGuard, typeName(L, -1))
		}
		result = L.ToBoolean(-1)
		return nil
	})
	return result, err
}

// Validate compiles expression without evaluating it.
func (e *LuaEvaluator) Validate(expression string) error {
	return e.env.Validate(guardSource(expression))
}

func guardSource(expression string) string {
	return "return (" + strings.TrimSpace(expression) + ")"
}
