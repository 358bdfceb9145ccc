package application

import "time"

// SessionDTO represents a picking session in responses
type SessionDTO struct {
	ID                 string        `json:"id"`
	OrderID            string        `json:"orderId"`
	OrderDisplayID     string        `json:"orderDisplayId"`
	Status             string        `json:"status"`
	Items              []LineItemDTO `json:"items"`
	StartedAt          time.Time     `json:"startedAt"`
	CompletedAt        *time.Time    `json:"completedAt,omitempty"`
	CancelledAt        *time.Time    `json:"cancelledAt,omitempty"`
	CancelReason       string        `json:"cancelReason,omitempty"`
	DurationSeconds    *int64        `json:"durationSeconds,omitempty"`
	UserID             string        `json:"userId"`
	UserName           string        `json:"userName"`
	CompletedByName    string        `json:"completedByName,omitempty"`
	Packed             bool          `json:"packed"`
	PackedAt           *time.Time    `json:"packedAt,omitempty"`
	PackedByName       string        `json:"packedByName,omitempty"`
	FaltanteResolution string        `json:"faltanteResolution,omitempty"`
	FaltanteResolvedAt *time.Time    `json:"faltanteResolvedAt,omitempty"`
	FaltanteNotes      string        `json:"faltanteNotes,omitempty"`
	FulfillmentStatus  string        `json:"fulfillmentStatus"`

	// Derived totals, recomputed on every read
	TotalRequired   int  `json:"totalRequired"`
	TotalPicked     int  `json:"totalPicked"`
	TotalMissing    int  `json:"totalMissing"`
	TotalReceived   int  `json:"totalReceived"`
	IsComplete      bool `json:"isComplete"`
	ProgressPercent int  `json:"progressPercent"`
}

// LineItemDTO represents one line item's progress
type LineItemDTO struct {
	LineItemID       string     `json:"lineItemId"`
	VariantID        string     `json:"variantId,omitempty"`
	SKU              string     `json:"sku,omitempty"`
	Barcode          string     `json:"barcode,omitempty"`
	Title            string     `json:"title,omitempty"`
	QuantityRequired int        `json:"quantityRequired"`
	QuantityPicked   int        `json:"quantityPicked"`
	QuantityMissing  int        `json:"quantityMissing"`
	QuantityReceived int        `json:"quantityReceived"`
	PickedAt         *time.Time `json:"pickedAt,omitempty"`
	ScanMethod       string     `json:"scanMethod,omitempty"`
}

// StartResultDTO is the start-session response
type StartResultDTO struct {
	Session *SessionDTO `json:"session"`
	Created bool        `json:"created"`
}

// PickResultDTO is the pick/unpick/mark-missing response
type PickResultDTO struct {
	Item    *LineItemDTO `json:"item,omitempty"`
	Session *SessionDTO  `json:"session"`
}

// CompleteResultDTO is the complete-session response
type CompleteResultDTO struct {
	DurationSeconds    int64         `json:"durationSeconds"`
	FulfillmentCreated bool          `json:"fulfillmentCreated"`
	MissingItems       []LineItemDTO `json:"missingItems"`
	Session            *SessionDTO   `json:"session"`
}

// ResolveResultDTO is the resolve-faltante response
type ResolveResultDTO struct {
	FulfillmentCreated bool        `json:"fulfillmentCreated"`
	Session            *SessionDTO `json:"session"`
}

// VoucherResultDTO is the issue-voucher response. Customer contact is a
// best-effort read from the order for outbound notification.
type VoucherResultDTO struct {
	Code               string `json:"code"`
	Value              int    `json:"value"`
	CustomerName       string `json:"customerName,omitempty"`
	CustomerPhone      string `json:"customerPhone,omitempty"`
	FulfillmentCreated bool   `json:"fulfillmentCreated"`
}

// ReceiveResultDTO is the receive-scan response
type ReceiveResultDTO struct {
	Item               *LineItemDTO `json:"item"`
	AllReceived        bool         `json:"allReceived"`
	FulfillmentCreated bool         `json:"fulfillmentCreated"`
	Session            *SessionDTO  `json:"session"`
}

// ReceivableDTO lists the outstanding missing items for an order
type ReceivableDTO struct {
	OrderID        string        `json:"orderId"`
	OrderDisplayID string        `json:"orderDisplayId"`
	Resolution     string        `json:"resolution"`
	Items          []LineItemDTO `json:"items"`
}
