package domain

import (
	"context"
	"errors"
)

// ErrDuplicateActiveSession is returned by Save when another in_progress
// session already exists for the order. Callers re-read the winner.
var ErrDuplicateActiveSession = errors.New("an in_progress session already exists for this order")

// SessionRepository defines the interface for picking session persistence
type SessionRepository interface {
	// Save persists the session and its pending domain events atomically.
	Save(ctx context.Context, session *PickingSession) error
	FindByID(ctx context.Context, sessionID string) (*PickingSession, error)
	// FindActiveByOrderID returns the in_progress session for the order,
	// or nil when none exists.
	FindActiveByOrderID(ctx context.Context, orderID string) (*PickingSession, error)
	// FindLatestCompletedByOrderID returns the most recently completed
	// session for the order, or nil when none exists.
	FindLatestCompletedByOrderID(ctx context.Context, orderID string) (*PickingSession, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*PickingSession, error)
}

// AuditLog appends immutable audit facts. Implementations must not let an
// append failure unwind the business mutation that produced the entry.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// User is the identity directory's view of a picker.
type User struct {
	ID     string
	Name   string
	Role   string
	Active bool
}

// UserDirectory resolves pickers against the identity provider.
type UserDirectory interface {
	// FindUser returns the user or nil when unknown.
	FindUser(ctx context.Context, userID string) (*User, error)
}

// Order is the remote order service's view of an order.
type Order struct {
	ID            string
	DisplayID     string
	CustomerName  string
	CustomerPhone string
	Items         []OrderLine
	Fulfillments  []Fulfillment
}

// Fulfillment is a remote fulfillment record.
type Fulfillment struct {
	ID     string
	Status string
}

// PromotionRequest asks the remote service to mint a fixed-value,
// single-use discount code scoped to an order.
type PromotionRequest struct {
	Code       string
	FixedValue int
	Currency   string
	OrderID    string
}

// Promotion is the minted code.
type Promotion struct {
	ID   string
	Code string
}

// OrderGateway is the remote order-fulfillment system.
type OrderGateway interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	CreateFulfillment(ctx context.Context, orderID string, lines []FulfillmentLine) error
	MarkFulfillmentDelivered(ctx context.Context, orderID, fulfillmentID string) error
	CreateShipment(ctx context.Context, orderID, fulfillmentID string) error
	CreatePromotion(ctx context.Context, req PromotionRequest) (*Promotion, error)
}
