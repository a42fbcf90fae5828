package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/marketplace/internal/domain"
)

// MockPaymentGateway confirms every charge up to DeclineAbove. It stands in
// for a real provider in development and demos.
type MockPaymentGateway struct {
	// DeclineAbove declines charges over this amount. 0 disables the limit.
	DeclineAbove int64
	// Latency delays every answer, honouring cancellation.
	Latency time.Duration

	logger *slog.Logger
}

// NewMockPaymentGateway creates a mock payment gateway.
func NewMockPaymentGateway(declineAbove int64, latency time.Duration, logger *slog.Logger) *MockPaymentGateway {
	return &MockPaymentGateway{DeclineAbove: declineAbove, Latency: latency, logger: logger}
}

// Charge answers after Latency.
func (g *MockPaymentGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	if err := sleep(ctx, g.Latency); err != nil {
		return nil, err
	}
	if g.DeclineAbove > 0 && req.Amount > g.DeclineAbove {
		return &domain.ChargeResult{
			Status: domain.GatewayStatusDeclined,
			Reason: fmt.Sprintf("amount %d exceeds limit %d", req.Amount, g.DeclineAbove),
		}, nil
	}
	res := &domain.ChargeResult{PaymentID: "pay_" + uuid.New().String(), Status: domain.GatewayStatusConfirmed}
	g.logger.DebugContext(ctx, "mock payment confirmed",
		slog.String("transaction_id", req.TransactionID),
		slog.String("payment_id", res.PaymentID),
		slog.Int64("amount", req.Amount),
	)
	return res, nil
}

// MockSupplyGateway accepts every shipment except those containing a
// product listed in FailProducts.
type MockSupplyGateway struct {
	FailProducts map[string]bool
	Latency      time.Duration

	logger *slog.Logger
}

// NewMockSupplyGateway creates a mock supply gateway.
func NewMockSupplyGateway(failProducts []string, latency time.Duration, logger *slog.Logger) *MockSupplyGateway {
	set := make(map[string]bool, len(failProducts))
	for _, id := range failProducts {
		set[id] = true
	}
	return &MockSupplyGateway{FailProducts: set, Latency: latency, logger: logger}
}

// Dispatch answers after Latency.
func (g *MockSupplyGateway) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error) {
	if err := sleep(ctx, g.Latency); err != nil {
		return nil, err
	}
	for _, it := range req.Items {
		if g.FailProducts[it.ProductID] {
			return &domain.DispatchResult{
				Status: domain.GatewayStatusDeclined,
				Reason: fmt.Sprintf("product %s cannot be shipped", it.ProductID),
			}, nil
		}
	}
	res := &domain.DispatchResult{DispatchID: "ship_" + uuid.New().String(), Status: domain.GatewayStatusConfirmed}
	g.logger.DebugContext(ctx, "mock dispatch confirmed",
		slog.String("transaction_id", req.TransactionID),
		slog.String("dispatch_id", res.DispatchID),
		slog.Int("items", len(req.Items)),
	)
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
