package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// guardCostLimit bounds the work a single guard evaluation may do
const guardCostLimit = 1000000

// NewGuardEnv returns the CEL environment rule expressions are compiled in.
// Expressions see the execution context as userProfile, request (the request
// metadata), region, language and userId.
func NewGuardEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("userProfile", cel.DynType),
		cel.Variable("request", cel.DynType),
		cel.Variable("region", cel.StringType),
		cel.Variable("language", cel.StringType),
		cel.Variable("userId", cel.StringType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// Guard is a compiled rule expression
type Guard struct {
	expression string
	prog       cel.Program
}

// CompileGuard compiles expression in env
func CompileGuard(env *cel.Env, expression string) (*Guard, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(guardCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &Guard{expression: expression, prog: prog}, nil
}

// Eval runs the guard against ec. Non-boolean results are false.
func (g *Guard) Eval(ec ExecutionContext) (bool, error) {
	out, _, err := g.prog.Eval(map[string]any{
		"userProfile": orEmpty(ec.UserProfile),
		"request":     orEmpty(ec.RequestMetadata),
		"region":      ec.Region,
		"language":    ec.Language,
		"userId":      ec.UserID,
	})
	if err != nil {
		return false, err
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
