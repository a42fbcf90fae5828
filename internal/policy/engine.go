// Package policy evaluates store purchase and discount policies. Policies are
// plain data stored on each store; expression rules and discount conditions
// are CEL programs compiled once and cached.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/utafrali/marketplace/internal/domain"
	apperrors "github.com/utafrali/marketplace/pkg/errors"
	"github.com/utafrali/marketplace/pkg/validator"
)

// Engine validates baskets against purchase policies and prices them with
// discount policies. It is safe for concurrent use.
type Engine struct {
	logger   *slog.Logger
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEngine creates an engine whose expressions see two variables: basket
// and buyer.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("basket", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("buyer", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &Engine{
		logger:   logger,
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// CompilePurchasePolicy checks a rule tree before it is stored and warms the
// program cache for its expressions.
func (e *Engine) CompilePurchasePolicy(rule domain.PurchaseRule) error {
	if rule.IsEmpty() {
		return nil
	}
	if err := validator.Validate(rule); err != nil {
		return apperrors.InvalidInput("invalid purchase policy: " + err.Error())
	}
	return e.compileRule(rule)
}

func (e *Engine) compileRule(r domain.PurchaseRule) error {
	switch r.Type {
	case domain.RuleAllOf, domain.RuleAnyOf:
		if len(r.Rules) == 0 {
			return apperrors.InvalidInput(r.Type + " requires at least one nested rule")
		}
		for _, child := range r.Rules {
			if child.IsEmpty() {
				return apperrors.InvalidInput("nested rules must have a type")
			}
			if err := e.compileRule(child); err != nil {
				return err
			}
		}
	case domain.RuleMinQuantity, domain.RuleMaxQuantity:
		if r.Quantity <= 0 {
			return apperrors.InvalidInput(r.Type + " requires a positive quantity")
		}
	case domain.RuleMinAge:
		if r.Age <= 0 {
			return apperrors.InvalidInput("min_age requires a positive age")
		}
	case domain.RuleForbiddenCategory:
		if r.Category == "" {
			return apperrors.InvalidInput("forbidden_category requires a category")
		}
	case domain.RuleExpression:
		if _, err := e.program(r.Expression); err != nil {
			return apperrors.InvalidInput(err.Error())
		}
	default:
		return apperrors.InvalidInput(fmt.Sprintf("unknown purchase rule type %q", r.Type))
	}
	return nil
}

// CompileDiscountPolicy checks every discount rule before the policy is stored.
func (e *Engine) CompileDiscountPolicy(rules []domain.DiscountRule) error {
	for i, r := range rules {
		if err := validator.Validate(r); err != nil {
			return apperrors.InvalidInput(fmt.Sprintf("invalid discount rule %d: %s", i, err.Error()))
		}
		switch r.Type {
		case domain.DiscountPercentage:
			if r.Percent <= 0 {
				return apperrors.InvalidInput(fmt.Sprintf("discount rule %d: percent must be between 1 and 100", i))
			}
		case domain.DiscountFixedAmount:
			if r.Amount <= 0 {
				return apperrors.InvalidInput(fmt.Sprintf("discount rule %d: amount must be positive", i))
			}
		case domain.DiscountBuyXGetY:
			if r.ProductID == "" || r.BuyQuantity <= 0 || r.FreeQuantity <= 0 {
				return apperrors.InvalidInput(fmt.Sprintf("discount rule %d: buy_x_get_y requires product_id, buy_quantity and free_quantity", i))
			}
		}
		if r.Condition != "" {
			if _, err := e.program(r.Condition); err != nil {
				return apperrors.InvalidInput(fmt.Sprintf("discount rule %d: %s", i, err.Error()))
			}
		}
	}
	return nil
}

// program returns the cached program for expr, compiling it on first use.
func (e *Engine) program(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("expression is required")
	}

	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok = e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must evaluate to a bool, got %s", out)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	e.programs[expr] = prg
	return prg, nil
}

// eval runs a boolean expression against the basket and buyer.
func (e *Engine) eval(ctx context.Context, expr string, activation map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not return a bool", expr)
	}
	return v, nil
}

// activation exposes a basket snapshot and buyer to CEL.
func activation(sb *domain.StoreBasket, buyer domain.Buyer) map[string]any {
	items := make([]any, 0, len(sb.Lines))
	categories := make([]any, 0, len(sb.Lines))
	seen := make(map[string]bool)
	for _, l := range sb.Lines {
		items = append(items, map[string]any{
			"product_id": l.ProductID,
			"name":       l.Name,
			"category":   l.Category,
			"unit_price": l.UnitPrice,
			"quantity":   int64(l.Quantity),
		})
		if l.Category != "" && !seen[l.Category] {
			seen[l.Category] = true
			categories = append(categories, l.Category)
		}
	}
	return map[string]any{
		"basket": map[string]any{
			"store_id":       sb.StoreID,
			"subtotal":       sb.Subtotal(),
			"total_quantity": int64(sb.TotalQuantity()),
			"items":          items,
			"categories":     categories,
		},
		"buyer": map[string]any{
			"id":  buyer.ID,
			"age": int64(buyer.Age),
		},
	}
}
