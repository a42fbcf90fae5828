package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/marketplace/internal/domain"
	"github.com/utafrali/marketplace/pkg/httpclient"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient() *httpclient.Client {
	return httpclient.New(httpclient.Config{Timeout: 2 * time.Second, MaxConnsPerHost: 4})
}

// --- HTTP Payment Gateway Tests ---

func TestHTTPPaymentGateway_Confirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/charges", r.URL.Path)
		assert.Equal(t, "tx-1", r.Header.Get("Idempotency-Key"))

		var req domain.ChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(2500), req.Amount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_id":"pay-9","status":"confirmed"}`))
	}))
	defer server.Close()

	gw := NewHTTPPaymentGateway(newTestClient(), server.URL+"/", newTestLogger())
	res, err := gw.Charge(context.Background(), domain.ChargeRequest{TransactionID: "tx-1", UserID: "u", Amount: 2500})
	require.NoError(t, err)
	assert.True(t, res.Confirmed())
	assert.Equal(t, "pay-9", res.PaymentID)
}

func TestHTTPPaymentGateway_ClientErrorIsDecline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error":{"code":"CARD_DECLINED","message":"insufficient funds"}}`))
	}))
	defer server.Close()

	gw := NewHTTPPaymentGateway(newTestClient(), server.URL, newTestLogger())
	res, err := gw.Charge(context.Background(), domain.ChargeRequest{TransactionID: "tx-1", Amount: 10})
	require.NoError(t, err)
	assert.False(t, res.Confirmed())
	assert.Equal(t, "insufficient funds", res.Reason)
}

func TestHTTPPaymentGateway_ServerErrorIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	gw := NewHTTPPaymentGateway(newTestClient(), server.URL, newTestLogger())
	res, err := gw.Charge(context.Background(), domain.ChargeRequest{TransactionID: "tx-1", Amount: 10})
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestHTTPPaymentGateway_BadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	gw := NewHTTPPaymentGateway(newTestClient(), server.URL, newTestLogger())
	_, err := gw.Charge(context.Background(), domain.ChargeRequest{TransactionID: "tx-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode payment response")
}

// --- HTTP Supply Gateway Tests ---

func TestHTTPSupplyGateway_Dispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dispatches", r.URL.Path)

		var req domain.DispatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Items, 1)
		assert.Equal(t, "p-1", req.Items[0].ProductID)

		_, _ = w.Write([]byte(`{"dispatch_id":"ship-3","status":"confirmed"}`))
	}))
	defer server.Close()

	cb := httpclient.NewCircuitBreakerClient(newTestClient(), httpclient.DefaultCircuitBreakerConfig("supply-test"), newTestLogger())
	gw := NewHTTPSupplyGateway(cb, server.URL, newTestLogger())
	res, err := gw.Dispatch(context.Background(), domain.DispatchRequest{
		TransactionID: "tx-2",
		Items:         []domain.DispatchItem{{StoreID: "s-1", ProductID: "p-1", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, res.Confirmed())
	assert.Equal(t, "ship-3", res.DispatchID)
}

func TestHTTPSupplyGateway_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"reason":"address unreachable"}`))
	}))
	defer server.Close()

	gw := NewHTTPSupplyGateway(newTestClient(), server.URL, newTestLogger())
	res, err := gw.Dispatch(context.Background(), domain.DispatchRequest{TransactionID: "tx-2"})
	require.NoError(t, err)
	assert.False(t, res.Confirmed())
	assert.Equal(t, "address unreachable", res.Reason)
}

// --- Mock Gateway Tests ---

func TestMockPaymentGateway(t *testing.T) {
	gw := NewMockPaymentGateway(1000, 0, newTestLogger())
	ctx := context.Background()

	res, err := gw.Charge(ctx, domain.ChargeRequest{TransactionID: "tx", Amount: 1000})
	require.NoError(t, err)
	assert.True(t, res.Confirmed())
	assert.NotEmpty(t, res.PaymentID)

	res, err = gw.Charge(ctx, domain.ChargeRequest{TransactionID: "tx", Amount: 1001})
	require.NoError(t, err)
	assert.False(t, res.Confirmed())
	assert.Contains(t, res.Reason, "exceeds limit")
}

func TestMockPaymentGateway_LatencyHonoursContext(t *testing.T) {
	gw := NewMockPaymentGateway(0, time.Second, newTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := gw.Charge(ctx, domain.ChargeRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockSupplyGateway(t *testing.T) {
	gw := NewMockSupplyGateway([]string{"fragile"}, 0, newTestLogger())
	ctx := context.Background()

	res, err := gw.Dispatch(ctx, domain.DispatchRequest{Items: []domain.DispatchItem{{ProductID: "book", Quantity: 1}}})
	require.NoError(t, err)
	assert.True(t, res.Confirmed())

	res, err = gw.Dispatch(ctx, domain.DispatchRequest{Items: []domain.DispatchItem{
		{ProductID: "book", Quantity: 1},
		{ProductID: "fragile", Quantity: 1},
	}})
	require.NoError(t, err)
	assert.False(t, res.Confirmed())
	assert.Contains(t, res.Reason, "fragile")
}
