// Package filter evaluates per-subscriber filter predicates against a subject.
package filter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/Priya8975/model-webhooks/internal/domain"
)

// BucketAttribute is the subject attribute compared against Filter.Bucket.
const BucketAttribute = "bucket"

// conditionEnv declares the identifiers a condition may reference.
var conditionEnv = map[string]any{
	"id":    "",
	"model": "",
	"attr":  func(string) any { return nil },
	"has":   func(string) bool { return false },
}

// Evaluator applies domain.Filter clauses in order: ids, bucket, condition.
// Compiled conditions are cached by source text.
type Evaluator struct {
	programs sync.Map // string -> *vm.Program
}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate reports whether subject passes f. An error is only returned for a
// condition that fails to compile or run; callers treat it as a rejection.
func (e *Evaluator) Evaluate(f domain.Filter, subject domain.Subject) (bool, error) {
	if len(f.IDs) > 0 && !f.IDs.Contains(subject.Identifier()) {
		return false, nil
	}

	if f.Bucket.Set() {
		value, ok := subject.Attribute(BucketAttribute)
		if !ok || !scalarEqual(f.Bucket, value) {
			return false, nil
		}
	}

	if f.Condition != "" {
		return e.condition(f.Condition, subject)
	}
	return true, nil
}

func (e *Evaluator) condition(source string, subject domain.Subject) (bool, error) {
	program, err := e.compile(source)
	if err != nil {
		return false, err
	}

	env := map[string]any{
		"id":    subject.Identifier(),
		"model": subject.Model(),
		"attr": func(name string) any {
			v, _ := subject.Attribute(name)
			return v
		},
		"has": func(name string) bool {
			_, ok := subject.Attribute(name)
			return ok
		},
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("filter condition did not return bool")
	}
	return b, nil
}

// scalarEqual compares a filter scalar with an attribute value. Strings
// compare as text, bools by value, and numbers numerically whatever their Go
// type, so 1000000 matches float64(1e6).
func scalarEqual(want domain.Scalar, value any) bool {
	switch v := value.(type) {
	case string:
		return v == string(want)
	case bool:
		return strconv.FormatBool(v) == string(want)
	case json.Number:
		return numericEqual(string(want), v.String())
	case int:
		return numericEqual(string(want), strconv.FormatInt(int64(v), 10))
	case int32:
		return numericEqual(string(want), strconv.FormatInt(int64(v), 10))
	case int64:
		return numericEqual(string(want), strconv.FormatInt(v, 10))
	case uint:
		return numericEqual(string(want), strconv.FormatUint(uint64(v), 10))
	case uint64:
		return numericEqual(string(want), strconv.FormatUint(v, 10))
	case float32:
		return numericEqual(string(want), strconv.FormatFloat(float64(v), 'f', -1, 32))
	case float64:
		return numericEqual(string(want), strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Sprint(value) == string(want)
	}
}

func numericEqual(a, b string) bool {
	if a == b {
		return true
	}
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return false
	}
	return x == y
}

func (e *Evaluator) compile(source string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(source); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(source, expr.Env(conditionEnv), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter condition: %w", err)
	}
	e.programs.Store(source, program)
	return program, nil
}
