package domain

import "time"

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	EventType() string
	OccurredAt() time.Time
}

// SessionStartedEvent is published when a picking session is opened
type SessionStartedEvent struct {
	SessionID      string    `json:"sessionId"`
	OrderID        string    `json:"orderId"`
	OrderDisplayID string    `json:"orderDisplayId"`
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	ItemCount      int       `json:"itemCount"`
	StartedAt      time.Time `json:"startedAt"`
}

func (e *SessionStartedEvent) EventType() string     { return "picking.session.started" }
func (e *SessionStartedEvent) OccurredAt() time.Time { return e.StartedAt }

// ItemPickedEvent is published when one unit is picked. QuantityMissing
// carries the count after any re-clamp the pick forced.
type ItemPickedEvent struct {
	SessionID       string    `json:"sessionId"`
	OrderID         string    `json:"orderId"`
	LineItemID      string    `json:"lineItemId"`
	SKU             string    `json:"sku,omitempty"`
	QuantityPicked  int       `json:"quantityPicked"`
	QuantityMissing int       `json:"quantityMissing"`
	Method          string    `json:"method"`
	PickedAt        time.Time `json:"pickedAt"`
}

func (e *ItemPickedEvent) EventType() string     { return "picking.item.picked" }
func (e *ItemPickedEvent) OccurredAt() time.Time { return e.PickedAt }

// ItemUnpickedEvent is published when one picked unit is removed
type ItemUnpickedEvent struct {
	SessionID      string    `json:"sessionId"`
	OrderID        string    `json:"orderId"`
	LineItemID     string    `json:"lineItemId"`
	QuantityPicked int       `json:"quantityPicked"`
	UnpickedAt     time.Time `json:"unpickedAt"`
}

func (e *ItemUnpickedEvent) EventType() string     { return "picking.item.unpicked" }
func (e *ItemUnpickedEvent) OccurredAt() time.Time { return e.UnpickedAt }

// ItemMarkedMissingEvent is published when an item's missing count is set
type ItemMarkedMissingEvent struct {
	SessionID       string    `json:"sessionId"`
	OrderID         string    `json:"orderId"`
	LineItemID      string    `json:"lineItemId"`
	QuantityMissing int       `json:"quantityMissing"`
	MarkedAt        time.Time `json:"markedAt"`
}

func (e *ItemMarkedMissingEvent) EventType() string     { return "picking.item.marked-missing" }
func (e *ItemMarkedMissingEvent) OccurredAt() time.Time { return e.MarkedAt }

// SessionCompletedEvent is published when a session is completed
type SessionCompletedEvent struct {
	SessionID       string    `json:"sessionId"`
	OrderID         string    `json:"orderId"`
	OrderDisplayID  string    `json:"orderDisplayId"`
	CompletedByName string    `json:"completedByName"`
	DurationSeconds int64     `json:"durationSeconds"`
	TotalPicked     int       `json:"totalPicked"`
	TotalMissing    int       `json:"totalMissing"`
	CompletedAt     time.Time `json:"completedAt"`
}

func (e *SessionCompletedEvent) EventType() string     { return "picking.session.completed" }
func (e *SessionCompletedEvent) OccurredAt() time.Time { return e.CompletedAt }

// SessionCancelledEvent is published when a session is cancelled
type SessionCancelledEvent struct {
	SessionID   string    `json:"sessionId"`
	OrderID     string    `json:"orderId"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelledAt"`
}

func (e *SessionCancelledEvent) EventType() string     { return "picking.session.cancelled" }
func (e *SessionCancelledEvent) OccurredAt() time.Time { return e.CancelledAt }

// SessionPackedEvent is published when a completed session is packed
type SessionPackedEvent struct {
	SessionID    string    `json:"sessionId"`
	OrderID      string    `json:"orderId"`
	PackedByName string    `json:"packedByName"`
	PackedAt     time.Time `json:"packedAt"`
}

func (e *SessionPackedEvent) EventType() string     { return "picking.session.packed" }
func (e *SessionPackedEvent) OccurredAt() time.Time { return e.PackedAt }

// FaltanteResolvedEvent is published when the faltante resolution changes
type FaltanteResolvedEvent struct {
	SessionID  string    `json:"sessionId"`
	OrderID    string    `json:"orderId"`
	Resolution string    `json:"resolution"`
	Notes      string    `json:"notes,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

func (e *FaltanteResolvedEvent) EventType() string     { return "picking.faltante.resolved" }
func (e *FaltanteResolvedEvent) OccurredAt() time.Time { return e.ResolvedAt }

// ItemReceivedEvent is published when a missing unit is scanned in
type ItemReceivedEvent struct {
	SessionID        string    `json:"sessionId"`
	OrderID          string    `json:"orderId"`
	LineItemID       string    `json:"lineItemId"`
	QuantityReceived int       `json:"quantityReceived"`
	AllReceived      bool      `json:"allReceived"`
	ReceivedAt       time.Time `json:"receivedAt"`
}

func (e *ItemReceivedEvent) EventType() string     { return "picking.faltante.item-received" }
func (e *ItemReceivedEvent) OccurredAt() time.Time { return e.ReceivedAt }

// FulfillmentAttemptedEvent is published after the one fulfillment
// submission a session outcome owes
type FulfillmentAttemptedEvent struct {
	SessionID   string    `json:"sessionId"`
	OrderID     string    `json:"orderId"`
	Success     bool      `json:"success"`
	AttemptedAt time.Time `json:"attemptedAt"`
}

func (e *FulfillmentAttemptedEvent) EventType() string     { return "picking.fulfillment.attempted" }
func (e *FulfillmentAttemptedEvent) OccurredAt() time.Time { return e.AttemptedAt }
