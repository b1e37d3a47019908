package auth

import (
	"strings"
	"sync"

	"github.com/hashicorp/go-bexpr"
)

// featureExprCache stores compiled go-bexpr evaluators.
// Key: expression string, Value: *bexpr.Evaluator
var featureExprCache = &sync.Map{}

// EvaluateFeature evaluates a go-bexpr expression (e.g. `boards_enabled == true`)
// against an organization's feature flags.
//
// An empty expression matches. Syntax errors, missing flags and type
// mismatches do not match, so feature gates fail closed.
func EvaluateFeature(expr string, flags map[string]any) bool {
	if strings.TrimSpace(expr) == "" {
		return true
	}
	if flags == nil {
		flags = map[string]any{}
	}

	var evaluator *bexpr.Evaluator
	if cached, ok := featureExprCache.Load(expr); ok {
		evaluator = cached.(*bexpr.Evaluator)
	} else {
		compiled, err := bexpr.CreateEvaluator(expr)
		if err != nil {
			return false
		}
		featureExprCache.Store(expr, compiled)
		evaluator = compiled
	}

	matches, err := evaluator.Evaluate(flags)
	if err != nil {
		return false
	}
	return matches
}

// ValidateFeatureExpr reports whether expr compiles.
func ValidateFeatureExpr(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := bexpr.CreateEvaluator(expr)
	return err
}
