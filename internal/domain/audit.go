package domain

import "time"

// Audit actions. The audit log is append-only; entries are never updated
// or deleted.
const (
	AuditSessionStart     = "session_start"
	AuditItemPick         = "item_pick"
	AuditItemUnpick       = "item_unpick"
	AuditItemMissing      = "item_missing"
	AuditSessionComplete  = "session_complete"
	AuditSessionCancel    = "session_cancel"
	AuditFulfillmentError = "fulfillment_error"
)

// AuditEntry is one immutable fact in the audit trail.
type AuditEntry struct {
	ID             string         `bson:"_id"`
	Action         string         `bson:"action"`
	UserName       string         `bson:"userName"`
	UserID         string         `bson:"userId,omitempty"`
	OrderID        string         `bson:"orderId,omitempty"`
	OrderDisplayID string         `bson:"orderDisplayId,omitempty"`
	Details        string         `bson:"details"`
	Metadata       map[string]any `bson:"metadata,omitempty"`
	CreatedAt      time.Time      `bson:"createdAt"`
}
