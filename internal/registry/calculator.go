package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/Knetic/govaluate"
	"github.com/kaiho/agentloop/internal/policy"
)

// calculatorGrammar is the closed character set allowed in an expression,
// checked before the expression ever reaches the evaluator so arbitrary
// function-call syntax govaluate otherwise supports can't be smuggled in.
var calculatorGrammar = regexp.MustCompile(`^[0-9+\-*/().\s]+$`)

type calculatorArgs struct {
	Expression string `json:"expression"`
}

type calculatorResult struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
}

func calculatorSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"expression": {"type": "string", "description": "Arithmetic expression using digits, decimal points, + - * / ( ) and whitespace only"}
		},
		"required": ["expression"],
		"additionalProperties": false
	}`)
}

// calculatorTool evaluates a grammar-gated arithmetic expression via
// govaluate.
func (r *Registry) calculatorTool(ctx context.Context, purpose policy.Purpose, args json.RawMessage) (any, error) {
	var a calculatorArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if !calculatorGrammar.MatchString(a.Expression) {
		return nil, fmt.Errorf("expression contains characters outside the arithmetic grammar")
	}

	expr, err := govaluate.NewEvaluableExpression(a.Expression)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	raw, err := expr.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	value, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("expression did not evaluate to a number")
	}

	return calculatorResult{Expression: a.Expression, Value: value}, nil
}
