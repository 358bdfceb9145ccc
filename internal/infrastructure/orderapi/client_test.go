package orderapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/resilience"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logging.New(&logging.Config{
		Level:       logging.LevelError,
		ServiceName: "test",
		Output:      io.Discard,
	})
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig("order-service"), logger.Logger)

	return NewClient(Config{BaseURL: server.URL, APIKey: "test-key"}, breaker, logger)
}

func TestGetOrder(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/orders/order-1", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "order-1",
			"displayId":     "1001",
			"customerName":  "Carla Soto",
			"customerPhone": "+56911112222",
			"items": []map[string]any{
				{"id": "line-1", "variantId": "v1", "sku": "SKU-001", "barcode": "111", "title": "Widget", "quantity": 2},
			},
			"fulfillments": []map[string]any{
				{"id": "ful-1", "status": "shipped"},
			},
		})
	}))

	order, err := client.GetOrder(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "order-1", order.ID)
	assert.Equal(t, "1001", order.DisplayID)
	assert.Equal(t, "Carla Soto", order.CustomerName)
	require.Len(t, order.Items, 1)
	assert.Equal(t, domain.OrderLine{
		LineItemID: "line-1", VariantID: "v1", SKU: "SKU-001",
		Barcode: "111", Title: "Widget", Quantity: 2,
	}, order.Items[0])
	require.Len(t, order.Fulfillments, 1)
	assert.Equal(t, "shipped", order.Fulfillments[0].Status)
}

func TestCreateFulfillment(t *testing.T) {
	var received createFulfillmentRequest
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/orders/order-1/fulfillments", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))

	err := client.CreateFulfillment(context.Background(), "order-1", []domain.FulfillmentLine{
		{LineItemID: "line-1", Quantity: 2},
		{LineItemID: "line-2", Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, received.Items, 2)
	assert.Equal(t, fulfillmentItemRequest{ItemID: "line-1", Quantity: 2}, received.Items[0])
}

func TestCreatePromotion(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/promotions", r.URL.Path)

		var req createPromotionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1500, req.FixedValue)
		assert.Equal(t, "CLP", req.Currency)

		_ = json.NewEncoder(w).Encode(map[string]any{"id": "promo-1", "code": req.Code})
	}))

	promo, err := client.CreatePromotion(context.Background(), domain.PromotionRequest{
		Code:       "VOUCHER-1001-ABC234",
		FixedValue: 1500,
		Currency:   "CLP",
		OrderID:    "order-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "VOUCHER-1001-ABC234", promo.Code)
}

func TestServerErrorSurfacesBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream exploded"}`))
	}))

	err := client.CreateFulfillment(context.Background(), "order-1", []domain.FulfillmentLine{
		{LineItemID: "line-1", Quantity: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream exploded")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// The default threshold trips the breaker after 5 consecutive failures
	var err error
	for i := 0; i < 6; i++ {
		err = client.MarkFulfillmentDelivered(context.Background(), "order-1", "ful-1")
		require.Error(t, err)
	}
	assert.Contains(t, err.Error(), "circuit breaker open")
}
