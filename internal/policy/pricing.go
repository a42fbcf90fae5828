package policy

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/utafrali/marketplace/internal/domain"
)

// Price sums the basket and applies its discount policy. Rules run in
// ascending priority, ties keep policy order, and the total never goes
// below zero. A rule whose condition cannot be evaluated is skipped.
func (e *Engine) Price(ctx context.Context, sb *domain.StoreBasket, buyer domain.Buyer) (*domain.PriceQuote, error) {
	subtotal := sb.Subtotal()
	quote := &domain.PriceQuote{Subtotal: subtotal, Total: subtotal}
	if len(sb.DiscountPolicy) == 0 {
		return quote, nil
	}

	rules := slices.Clone(sb.DiscountPolicy)
	slices.SortStableFunc(rules, func(a, b domain.DiscountRule) int {
		return a.Priority - b.Priority
	})

	act := activation(sb, buyer)
	for _, r := range rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if quote.Total == 0 {
			break
		}
		if r.Condition != "" {
			ok, err := e.eval(ctx, r.Condition, act)
			if err != nil {
				e.logger.WarnContext(ctx, "discount condition failed, skipping rule",
					slog.String("store_id", sb.StoreID),
					slog.String("rule_id", r.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !ok {
				continue
			}
		}

		amount := min(discountAmount(r, sb, quote.Total), quote.Total)
		if amount <= 0 {
			continue
		}
		quote.Total -= amount
		quote.Discounts = append(quote.Discounts, domain.AppliedDiscount{
			RuleID: r.ID,
			Type:   r.Type,
			Amount: amount,
		})
	}
	return quote, nil
}

// discountAmount computes what r takes off given the running total.
func discountAmount(r domain.DiscountRule, sb *domain.StoreBasket, running int64) int64 {
	switch r.Type {
	case domain.DiscountPercentage:
		var base int64
		switch {
		case r.ProductID != "":
			for _, l := range sb.Lines {
				if l.ProductID == r.ProductID {
					base += l.Subtotal()
				}
			}
		case r.Category != "":
			for _, l := range sb.Lines {
				if strings.EqualFold(l.Category, r.Category) {
					base += l.Subtotal()
				}
			}
		default:
			base = running
		}
		return base * int64(r.Percent) / 100

	case domain.DiscountFixedAmount:
		if running < r.MinBasketAmount {
			return 0
		}
		return r.Amount

	case domain.DiscountBuyXGetY:
		group := r.BuyQuantity + r.FreeQuantity
		if group <= 0 {
			return 0
		}
		for _, l := range sb.Lines {
			if l.ProductID == r.ProductID {
				free := (l.Quantity / group) * r.FreeQuantity
				return int64(free) * l.UnitPrice
			}
		}
	}
	return 0
}
