package service

import (
	"context"

	"github.com/utafrali/marketplace/internal/domain"
)

// PaymentGateway charges buyers. Anything other than a confirmed result is a
// failure.
type PaymentGateway interface {
	Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error)
}

// SupplyGateway hands committed purchases to the shipping provider.
type SupplyGateway interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error)
}

// NotificationSink delivers store-scoped events. Failures are logged by the
// caller and never fail the operation that produced the event.
type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type adminKey struct{}

// WithAdmin marks the request as coming from a system administrator, for
// example because the identity provider asserted an admin role.
func WithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey{}, true)
}

func adminFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(adminKey{}).(bool)
	return v
}
