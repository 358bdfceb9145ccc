package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/metrics"
)

// ErrNoFulfillmentLines means the caller filtered every line to zero.
var ErrNoFulfillmentLines = errors.New("fulfillment submission requires at least one line")

// FulfillmentCoordinator is the stateless adapter over the remote order
// service. The local session is the durable record of truth: a failed
// submission is audited and surfaced, never retried automatically.
type FulfillmentCoordinator struct {
	orders  domain.OrderGateway
	audit   domain.AuditLog
	logger  *logging.Logger
	metrics *metrics.Metrics
	timeout time.Duration
}

// NewFulfillmentCoordinator creates a new FulfillmentCoordinator
func NewFulfillmentCoordinator(
	orders domain.OrderGateway,
	audit domain.AuditLog,
	logger *logging.Logger,
	m *metrics.Metrics,
	timeout time.Duration,
) *FulfillmentCoordinator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FulfillmentCoordinator{
		orders:  orders,
		audit:   audit,
		logger:  logger.WithComponent("fulfillment-coordinator"),
		metrics: m,
		timeout: timeout,
	}
}

// Submit sends one create-fulfillment request for the given lines. All
// quantities must be positive; callers filter zero lines first.
func (c *FulfillmentCoordinator) Submit(ctx context.Context, orderID, orderDisplayID, userName string, lines []domain.FulfillmentLine) error {
	if len(lines) == 0 {
		return ErrNoFulfillmentLines
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("fulfillment line %s has non-positive quantity %d", line.LineItemID, line.Quantity)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.orders.CreateFulfillment(ctx, orderID, lines)
	duration := time.Since(start)

	if c.metrics != nil {
		c.metrics.RecordFulfillmentSubmission(err == nil)
	}

	if err != nil {
		c.logger.WithError(err).Error("Fulfillment submission failed",
			"orderId", orderID, "lines", len(lines), "durationMs", duration.Milliseconds())
		c.recordFailure(ctx, orderID, orderDisplayID, userName, lines, err)
		return fmt.Errorf("creating fulfillment for order %s: %w", orderID, err)
	}

	c.logger.Info("Fulfillment submitted",
		"orderId", orderID, "lines", len(lines), "durationMs", duration.Milliseconds())
	return nil
}

// recordFailure appends the fulfillment_error audit entry. Audit failures
// never unwind the caller.
func (c *FulfillmentCoordinator) recordFailure(ctx context.Context, orderID, orderDisplayID, userName string, lines []domain.FulfillmentLine, cause error) {
	quantities := make(map[string]any, len(lines))
	for _, line := range lines {
		quantities[line.LineItemID] = line.Quantity
	}

	entry := domain.AuditEntry{
		ID:             uuid.New().String(),
		Action:         domain.AuditFulfillmentError,
		UserName:       userName,
		OrderID:        orderID,
		OrderDisplayID: orderDisplayID,
		Details:        fmt.Sprintf("fulfillment submission failed: %v", cause),
		Metadata: map[string]any{
			"lines": quantities,
			"error": cause.Error(),
		},
		CreatedAt: time.Now(),
	}
	if err := c.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.WithError(err).Warn("Failed to append audit entry", "action", entry.Action, "orderId", orderID)
	}
}
