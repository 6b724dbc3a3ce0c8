// Package rules evaluates boolean filter expressions against review-queue
// items, backed by expr-lang with a compiled-program cache.
package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/medmatrix/console/types"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, context map[string]interface{}) (bool, error)
}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
// Compiled programs are cached per expression.
type ExprEvaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates the given expression against the provided context.
// The expression must evaluate to a boolean; otherwise, an error is
// returned.
func (e *ExprEvaluator) Evaluate(expression string, context map[string]interface{}) (bool, error) {
	// Check cache with read lock
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		// Compile with write lock
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			var err error
			program, err = expr.Compile(expression, expr.Env(context))
			if err != nil {
				e.mu.Unlock()
				return false, err
			}
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	result, err := expr.Run(program, context)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

// ItemContext builds the evaluation environment for one review item.
// Expressions see the fields operators filter on: review_id, product_type,
// priority_score, status, product_name, manufacturer, raw_info, and the
// counts of match candidates and fusion conflicts.
func ItemContext(item types.ReviewItem) map[string]interface{} {
	return map[string]interface{}{
		"review_id":        item.ReviewID,
		"product_type":     item.ProductType,
		"priority_score":   item.PriorityScore,
		"status":           item.Status,
		"product_name":     item.ProductName(),
		"manufacturer":     item.Manufacturer(),
		"raw_info":         item.RawInfo,
		"match_candidates": len(item.MatchCandidates),
		"fusion_conflicts": len(item.FusionConflicts),
	}
}
