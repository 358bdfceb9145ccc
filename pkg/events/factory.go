package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storeops/picking-service/pkg/logging"
)

// Factory creates CloudEvents stamped with this service's source URI.
type Factory struct {
	source string
}

// NewFactory creates a Factory for a specific source.
func NewFactory(source string) *Factory {
	return &Factory{source: source}
}

// CreateEvent wraps a data payload in a CloudEvents envelope. The request id
// from the context, when present, is carried as the correlation id.
func (f *Factory) CreateEvent(
	ctx context.Context,
	eventType string,
	subject string,
	data interface{},
) *CloudEvent {
	event := &CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	if requestID, ok := ctx.Value(logging.RequestIDKey).(string); ok {
		event.CorrelationID = requestID
	}

	return event
}
