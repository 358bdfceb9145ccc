package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/resilience"
)

// Config holds the remote order service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements domain.OrderGateway against the remote order service.
// All calls go through a circuit breaker; a tripped breaker fails fast
// instead of piling requests onto a struggling dependency.
type Client struct {
	config  Config
	http    *http.Client
	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
}

func NewClient(config Config, breaker *resilience.CircuitBreaker, logger *logging.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config:  config,
		http:    &http.Client{Timeout: config.Timeout},
		breaker: breaker,
		logger:  logger.WithComponent("order-client"),
	}
}

type orderResponse struct {
	ID            string                `json:"id"`
	DisplayID     string                `json:"displayId"`
	CustomerName  string                `json:"customerName"`
	CustomerPhone string                `json:"customerPhone"`
	Items         []orderItemResponse   `json:"items"`
	Fulfillments  []fulfillmentResponse `json:"fulfillments"`
}

type orderItemResponse struct {
	ID        string `json:"id"`
	VariantID string `json:"variantId"`
	SKU       string `json:"sku"`
	Barcode   string `json:"barcode"`
	Title     string `json:"title"`
	Quantity  int    `json:"quantity"`
}

type fulfillmentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type createFulfillmentRequest struct {
	Items []fulfillmentItemRequest `json:"items"`
}

type fulfillmentItemRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type createPromotionRequest struct {
	Code       string `json:"code"`
	FixedValue int    `json:"fixedValue"`
	Currency   string `json:"currency"`
	OrderID    string `json:"orderId"`
}

type promotionResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// GetOrder fetches the remote order with its items and fulfillments.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var resp orderResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%s", orderID), nil, &resp)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OrderLine, 0, len(resp.Items))
	for _, item := range resp.Items {
		items = append(items, domain.OrderLine{
			LineItemID: item.ID,
			VariantID:  item.VariantID,
			SKU:        item.SKU,
			Barcode:    item.Barcode,
			Title:      item.Title,
			Quantity:   item.Quantity,
		})
	}
	fulfillments := make([]domain.Fulfillment, 0, len(resp.Fulfillments))
	for _, f := range resp.Fulfillments {
		fulfillments = append(fulfillments, domain.Fulfillment{ID: f.ID, Status: f.Status})
	}

	return &domain.Order{
		ID:            resp.ID,
		DisplayID:     resp.DisplayID,
		CustomerName:  resp.CustomerName,
		CustomerPhone: resp.CustomerPhone,
		Items:         items,
		Fulfillments:  fulfillments,
	}, nil
}

// CreateFulfillment submits one create-fulfillment request.
func (c *Client) CreateFulfillment(ctx context.Context, orderID string, lines []domain.FulfillmentLine) error {
	body := createFulfillmentRequest{Items: make([]fulfillmentItemRequest, 0, len(lines))}
	for _, line := range lines {
		body.Items = append(body.Items, fulfillmentItemRequest{ItemID: line.LineItemID, Quantity: line.Quantity})
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/fulfillments", orderID), body, nil)
}

// MarkFulfillmentDelivered marks a remote fulfillment as delivered.
func (c *Client) MarkFulfillmentDelivered(ctx context.Context, orderID, fulfillmentID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/fulfillments/%s/deliver", orderID, fulfillmentID), nil, nil)
}

// CreateShipment creates a shipment for a remote fulfillment.
func (c *Client) CreateShipment(ctx context.Context, orderID, fulfillmentID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/orders/%s/fulfillments/%s/shipments", orderID, fulfillmentID), nil, nil)
}

// CreatePromotion mints a fixed-value single-use discount code.
func (c *Client) CreatePromotion(ctx context.Context, req domain.PromotionRequest) (*domain.Promotion, error) {
	body := createPromotionRequest{
		Code:       req.Code,
		FixedValue: req.FixedValue,
		Currency:   req.Currency,
		OrderID:    req.OrderID,
	}
	var resp promotionResponse
	if err := c.do(ctx, http.MethodPost, "/promotions", body, &resp); err != nil {
		return nil, err
	}
	return &domain.Promotion{ID: resp.ID, Code: resp.Code}, nil
}

// do runs one request through the circuit breaker and decodes the response
// into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("encoding request body: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.config.APIKey != "" {
			req.Header.Set("X-API-Key", c.config.APIKey)
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("order service request failed: %w", err)
		}
		defer resp.Body.Close()

		c.logger.Debug("Order service call",
			"method", method, "path", path, "status", resp.StatusCode,
			"durationMs", time.Since(start).Milliseconds())

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("order service returned %d: %s", resp.StatusCode, string(data))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decoding order service response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}
