package application

import (
	"context"

	"github.com/google/uuid"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
)

// appendAudit writes an audit entry best-effort. A failed append is logged
// and swallowed so it never unwinds the business mutation that produced it.
func appendAudit(ctx context.Context, log domain.AuditLog, logger *logging.Logger, entry domain.AuditEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if err := log.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithError(err).Warn("Failed to append audit entry",
			"action", entry.Action, "orderId", entry.OrderID)
	}
}
