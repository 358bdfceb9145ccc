package events

import (
	"time"
)

// Event type constants for the picking domain.
const (
	SessionStarted      = "picking.session.started"
	SessionCompleted    = "picking.session.completed"
	SessionCancelled    = "picking.session.cancelled"
	SessionPacked       = "picking.session.packed"
	ItemPicked          = "picking.item.picked"
	ItemUnpicked        = "picking.item.unpicked"
	ItemMarkedMissing   = "picking.item.marked-missing"
	FaltanteResolved    = "picking.faltante.resolved"
	ItemReceived        = "picking.faltante.item-received"
	FulfillmentAttempt  = "picking.fulfillment.attempted"
)

// SourcePicking is the CloudEvents source URI for this service.
const SourcePicking = "/picking-service"

// CloudEvent is a CloudEvents v1.0 compliant envelope.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	Type            string      `json:"type"`
	Source          string      `json:"source"`
	Subject         string      `json:"subject,omitempty"`
	ID              string      `json:"id"`
	Time            time.Time   `json:"time"`
	DataContentType string      `json:"datacontenttype"`
	Data            interface{} `json:"data"`

	// CorrelationID threads a request id through downstream consumers.
	CorrelationID string `json:"correlationid,omitempty"`
}
