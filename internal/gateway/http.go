package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/pkg/httpclient"
)

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPPaymentGateway charges buyers through a remote payment provider.
type HTTPPaymentGateway struct {
	client  HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewHTTPPaymentGateway creates a payment gateway posting to baseURL/charges.
func NewHTTPPaymentGateway(client HTTPDoer, baseURL string, logger *slog.Logger) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{client: client, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Charge posts the charge. A 4xx answer is a decline; transport errors and
// 5xx answers are returned as errors.
func (g *HTTPPaymentGateway) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	var res domain.ChargeResult
	declined, err := postJSON(ctx, g.client, g.baseURL+"/charges", req.TransactionID, req, &res, "payment")
	if err != nil {
		return nil, fmt.Errorf("charge payment: %w", err)
	}
	if declined != "" {
		g.logger.WarnContext(ctx, "payment declined",
			slog.String("transaction_id", req.TransactionID),
			slog.String("reason", declined),
		)
		return &domain.ChargeResult{Status: domain.GatewayStatusDeclined, Reason: declined}, nil
	}
	return &res, nil
}

// HTTPSupplyGateway hands shipments to a remote supply provider.
type HTTPSupplyGateway struct {
	client  HTTPDoer
	baseURL string
	logger  *slog.Logger
}

// NewHTTPSupplyGateway creates a supply gateway posting to baseURL/dispatches.
func NewHTTPSupplyGateway(client HTTPDoer, baseURL string, logger *slog.Logger) *HTTPSupplyGateway {
	return &HTTPSupplyGateway{client: client, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Dispatch posts the shipment.
func (g *HTTPSupplyGateway) Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResult, error) {
	var res domain.DispatchResult
	declined, err := postJSON(ctx, g.client, g.baseURL+"/dispatches", req.TransactionID, req, &res, "supply")
	if err != nil {
		return nil, fmt.Errorf("dispatch supply: %w", err)
	}
	if declined != "" {
		g.logger.WarnContext(ctx, "dispatch rejected",
			slog.String("transaction_id", req.TransactionID),
			slog.String("reason", declined),
		)
		return &domain.DispatchResult{Status: domain.GatewayStatusDeclined, Reason: declined}, nil
	}
	return &res, nil
}

// postJSON sends body keyed by the transaction ID and decodes a 2xx answer
// into out. A provider rejection is returned as the declined reason.
func postJSON(ctx context.Context, client HTTPDoer, url, idempotencyKey string, body, out any, provider string) (string, error) {
	req, err := httpclient.NewJSONRequest(ctx, url, body, map[string]string{"Idempotency-Key": idempotencyKey})
	if err != nil {
		return "", err
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call %s provider: %w", provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := httpclient.ParseResponseError(resp, provider)
		var pe *httpclient.ProviderError
		if errors.As(perr, &pe) && pe.IsClientError() {
			return pe.Message, nil
		}
		return "", perr
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", fmt.Errorf("decode %s response: %w", provider, err)
	}
	return "", nil
}
