// Package expression evaluates expr-lang expressions used by conditional edges and nodes.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator compiles expressions once and caches the resulting programs.
// Programs are compiled without a typed environment so the same expression can
// be evaluated against differently shaped inputs.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewEvaluator creates an Evaluator with an empty program cache.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Compile checks that an expression parses, caching the program.
func (e *Evaluator) Compile(expression string) error {
	_, err := e.program(expression)

	return err
}

// Evaluate runs the expression against env and returns the raw result.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (any, error) {
	program, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// EvaluateBool runs the expression and requires a boolean result.
func (e *Evaluator) EvaluateBool(expression string, env map[string]any) (bool, error) {
	result, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}

	return false, fmt.Errorf("expression %q did not evaluate to a boolean, got %T", expression, result)
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok = e.cache[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}

	e.cache[expression] = program

	return program, nil
}
