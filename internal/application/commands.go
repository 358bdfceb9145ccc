package application

import "github.com/storeops/picking-service/internal/domain"

// StartSessionCommand opens (or returns the existing) session for an order.
// When Items is empty the order snapshot is fetched from the order service.
type StartSessionCommand struct {
	OrderID        string
	OrderDisplayID string
	UserID         string
	Items          []domain.OrderLine
}

// GetSessionQuery fetches the active session, optionally falling back to the
// latest completed one.
type GetSessionQuery struct {
	OrderID          string
	IncludeCompleted bool
}

// PickItemCommand registers one picked unit
type PickItemCommand struct {
	OrderID    string
	LineItemID string
	Barcode    string
	Method     string
}

// UnpickItemCommand removes one picked unit
type UnpickItemCommand struct {
	OrderID    string
	LineItemID string
}

// MarkMissingCommand overwrites an item's missing count
type MarkMissingCommand struct {
	OrderID    string
	LineItemID string
	Quantity   int
}

// CompleteSessionCommand finalizes the active session
type CompleteSessionCommand struct {
	OrderID string
	UserID  string
}

// CancelSessionCommand terminates the active session
type CancelSessionCommand struct {
	OrderID string
	Reason  string
}

// PackSessionCommand marks the latest completed session as packed
type PackSessionCommand struct {
	OrderID string
	UserID  string
}

// ResolveFaltanteCommand sets the faltante resolution
type ResolveFaltanteCommand struct {
	OrderID    string
	Resolution string
	Notes      string
	UserID     string
}

// IssueVoucherCommand resolves a faltante by compensating the customer
type IssueVoucherCommand struct {
	OrderID string
	Value   float64
	Notes   string
	UserID  string
}

// ReceiveItemCommand registers one received missing unit
type ReceiveItemCommand struct {
	OrderID    string
	LineItemID string
	Barcode    string
	SKU        string
}

// GetReceivableQuery lists the outstanding missing items
type GetReceivableQuery struct {
	OrderID string
}
