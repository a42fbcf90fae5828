package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/marketplace/internal/domain"
)

// ValidatePurchase evaluates the basket's purchase policy and returns a
// PolicyViolation naming the first failing rule.
func (e *Engine) ValidatePurchase(ctx context.Context, sb *domain.StoreBasket, buyer domain.Buyer) error {
	if sb.PurchasePolicy.IsEmpty() {
		return nil
	}
	ok, reason := e.evaluate(ctx, sb.PurchasePolicy, sb, buyer, activation(sb, buyer))
	if ok {
		return nil
	}
	e.logger.DebugContext(ctx, "purchase policy violated",
		slog.String("store_id", sb.StoreID),
		slog.String("buyer", buyer.ID),
		slog.String("reason", reason),
	)
	return domain.PolicyViolation(sb.StoreID, reason)
}

// evaluate returns whether the basket satisfies r and, if not, why.
func (e *Engine) evaluate(ctx context.Context, r domain.PurchaseRule, sb *domain.StoreBasket, buyer domain.Buyer, act map[string]any) (bool, string) {
	switch r.Type {
	case "":
		return true, ""

	case domain.RuleAllOf:
		for _, child := range r.Rules {
			if ok, reason := e.evaluate(ctx, child, sb, buyer, act); !ok {
				return false, describe(r, reason)
			}
		}
		return true, ""

	case domain.RuleAnyOf:
		reasons := make([]string, 0, len(r.Rules))
		for _, child := range r.Rules {
			ok, reason := e.evaluate(ctx, child, sb, buyer, act)
			if ok {
				return true, ""
			}
			reasons = append(reasons, reason)
		}
		return false, describe(r, "none of the alternatives hold: "+strings.Join(reasons, "; "))

	case domain.RuleMinQuantity:
		n, scope := scopedQuantity(sb, r)
		if n < r.Quantity {
			return false, describe(r, fmt.Sprintf("at least %d of %s required, basket has %d", r.Quantity, scope, n))
		}
		return true, ""

	case domain.RuleMaxQuantity:
		n, scope := scopedQuantity(sb, r)
		if n > r.Quantity {
			return false, describe(r, fmt.Sprintf("at most %d of %s allowed, basket has %d", r.Quantity, scope, n))
		}
		return true, ""

	case domain.RuleMinAge:
		if r.Category != "" && categoryQuantity(sb, r.Category) == 0 {
			return true, ""
		}
		if buyer.Age < r.Age {
			if r.Category != "" {
				return false, describe(r, fmt.Sprintf("buyer must be at least %d to purchase %s", r.Age, r.Category))
			}
			return false, describe(r, fmt.Sprintf("buyer must be at least %d", r.Age))
		}
		return true, ""

	case domain.RuleForbiddenCategory:
		if categoryQuantity(sb, r.Category) > 0 {
			return false, describe(r, fmt.Sprintf("category %s may not be purchased", r.Category))
		}
		return true, ""

	case domain.RuleExpression:
		ok, err := e.eval(ctx, r.Expression, act)
		if err != nil {
			e.logger.WarnContext(ctx, "purchase expression failed",
				slog.String("store_id", sb.StoreID),
				slog.String("expression", r.Expression),
				slog.String("error", err.Error()),
			)
			return false, describe(r, "expression could not be evaluated")
		}
		if !ok {
			return false, describe(r, fmt.Sprintf("condition %q not met", r.Expression))
		}
		return true, ""
	}
	return false, describe(r, fmt.Sprintf("unknown rule type %q", r.Type))
}

// describe prefers the rule's own description over the generated reason.
func describe(r domain.PurchaseRule, reason string) string {
	if r.Description != "" {
		return r.Description
	}
	return reason
}

func scopedQuantity(sb *domain.StoreBasket, r domain.PurchaseRule) (int, string) {
	switch {
	case r.ProductID != "":
		var n int
		for _, l := range sb.Lines {
			if l.ProductID == r.ProductID {
				n += l.Quantity
			}
		}
		return n, "product " + r.ProductID
	case r.Category != "":
		return categoryQuantity(sb, r.Category), "category " + r.Category
	default:
		return sb.TotalQuantity(), "items"
	}
}

func categoryQuantity(sb *domain.StoreBasket, category string) int {
	var n int
	for _, l := range sb.Lines {
		if strings.EqualFold(l.Category, category) {
			n += l.Quantity
		}
	}
	return n
}
