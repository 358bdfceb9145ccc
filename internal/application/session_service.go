package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/storeops/picking-service/internal/domain"
	apperrors "github.com/storeops/picking-service/pkg/errors"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/metrics"
)

// SessionService handles the picking session lifecycle use cases
type SessionService struct {
	repo        domain.SessionRepository
	audit       domain.AuditLog
	users       domain.UserDirectory
	orders      domain.OrderGateway
	coordinator *FulfillmentCoordinator
	logger      *logging.Logger
	metrics     *metrics.Metrics
	locks       *orderLocks
}

// NewSessionService creates a new SessionService
func NewSessionService(
	repo domain.SessionRepository,
	audit domain.AuditLog,
	users domain.UserDirectory,
	orders domain.OrderGateway,
	coordinator *FulfillmentCoordinator,
	logger *logging.Logger,
	m *metrics.Metrics,
) *SessionService {
	return &SessionService{
		repo:        repo,
		audit:       audit,
		users:       users,
		orders:      orders,
		coordinator: coordinator,
		logger:      logger.WithComponent("session-service"),
		metrics:     m,
		locks:       &orderLocks{},
	}
}

// StartSession opens a session for an order, or returns the existing
// in_progress one unchanged. Idempotent get-or-create, never a conflict.
func (s *SessionService) StartSession(ctx context.Context, cmd StartSessionCommand) (*StartResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	existing, err := s.repo.FindActiveByOrderID(ctx, cmd.OrderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to look up active session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}
	if existing != nil {
		return &StartResultDTO{Session: ToSessionDTO(existing), Created: false}, nil
	}

	user, err := s.users.FindUser(ctx, cmd.UserID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to resolve user", "userId", cmd.UserID)
		return nil, apperrors.ErrServiceUnavailable("identity directory").Wrap(err)
	}
	if user == nil {
		return nil, apperrors.ErrValidation("user not found").WithDetail("userId", cmd.UserID)
	}
	if !user.Active {
		return nil, apperrors.ErrUnauthorized("user is not active")
	}

	lines := cmd.Items
	displayID := cmd.OrderDisplayID
	if len(lines) == 0 {
		order, err := s.orders.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to fetch order snapshot", "orderId", cmd.OrderID)
			return nil, apperrors.ErrServiceUnavailable("order service").Wrap(err)
		}
		lines = order.Items
		if displayID == "" {
			displayID = order.DisplayID
		}
	}

	session, err := domain.NewPickingSession(uuid.New().String(), cmd.OrderID, displayID, user.ID, user.Name, lines)
	if err != nil {
		return nil, apperrors.ErrValidation(err.Error())
	}

	if err := s.repo.Save(ctx, session); err != nil {
		if errors.Is(err, domain.ErrDuplicateActiveSession) {
			// Lost the start race to another process; return the winner.
			winner, ferr := s.repo.FindActiveByOrderID(ctx, cmd.OrderID)
			if ferr == nil && winner != nil {
				return &StartResultDTO{Session: ToSessionDTO(winner), Created: false}, nil
			}
		}
		s.logger.WithError(err).Error("Failed to create session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditSessionStart,
		UserName:       user.Name,
		UserID:         user.ID,
		OrderID:        cmd.OrderID,
		OrderDisplayID: displayID,
		Details:        fmt.Sprintf("picking session started with %d items", len(session.Items)),
		CreatedAt:      time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordSessionStarted()
	}

	s.logger.Info("Picking session started", "orderId", cmd.OrderID, "sessionId", session.ID, "userId", user.ID)
	return &StartResultDTO{Session: ToSessionDTO(session), Created: true}, nil
}

// GetSession returns the active session for an order, optionally falling
// back to the most recent completed one. Totals are recomputed on read.
func (s *SessionService) GetSession(ctx context.Context, query GetSessionQuery) (*SessionDTO, error) {
	session, err := s.repo.FindActiveByOrderID(ctx, query.OrderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get session", "orderId", query.OrderID)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil && query.IncludeCompleted {
		session, err = s.repo.FindLatestCompletedByOrderID(ctx, query.OrderID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to get completed session", "orderId", query.OrderID)
			return nil, fmt.Errorf("failed to get completed session: %w", err)
		}
	}
	if session == nil {
		return nil, apperrors.ErrNotFound("picking session")
	}

	return ToSessionDTO(session), nil
}

// PickItem registers one picked unit against the active session.
func (s *SessionService) PickItem(ctx context.Context, cmd PickItemCommand) (*PickResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireActive(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	method := domain.ScanMethodManual
	if cmd.Method == string(domain.ScanMethodBarcode) {
		method = domain.ScanMethodBarcode
	}

	item, err := session.Pick(cmd.LineItemID, cmd.Barcode, method)
	if err != nil {
		var mismatch *domain.BarcodeMismatchError
		switch {
		case errors.As(err, &mismatch):
			return nil, apperrors.ErrValidation(mismatch.Error()).
				WithDetail("barcode", mismatch.Barcode)
		case errors.Is(err, domain.ErrItemNotFound):
			return nil, apperrors.ErrValidation("item not found in session").WithDetail("lineItemId", cmd.LineItemID)
		case errors.Is(err, domain.ErrItemAlreadyComplete):
			return nil, apperrors.ErrValidation("item is already fully picked").WithDetail("lineItemId", cmd.LineItemID)
		default:
			return nil, apperrors.ErrValidation(err.Error())
		}
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditItemPick,
		UserName:       session.UserName,
		UserID:         session.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("picked %s (%d/%d)", item.LineItemID, item.QuantityPicked, item.QuantityRequired),
		Metadata:       map[string]any{"lineItemId": item.LineItemID, "method": string(method)},
		CreatedAt:      time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordItemPicked(string(method))
	}

	dto := ToLineItemDTO(*item)
	return &PickResultDTO{Item: &dto, Session: ToSessionDTO(session)}, nil
}

// UnpickItem removes one picked unit from the active session.
func (s *SessionService) UnpickItem(ctx context.Context, cmd UnpickItemCommand) (*PickResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireActive(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	if err := session.Unpick(cmd.LineItemID); err != nil {
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			return nil, apperrors.ErrValidation("item not found in session").WithDetail("lineItemId", cmd.LineItemID)
		case errors.Is(err, domain.ErrNothingToUnpick):
			return nil, apperrors.ErrValidation("item has no picked units to remove").WithDetail("lineItemId", cmd.LineItemID)
		default:
			return nil, apperrors.ErrValidation(err.Error())
		}
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditItemUnpick,
		UserName:       session.UserName,
		UserID:         session.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("removed one picked unit of %s", cmd.LineItemID),
		Metadata:       map[string]any{"lineItemId": cmd.LineItemID},
		CreatedAt:      time.Now(),
	})

	return &PickResultDTO{Session: ToSessionDTO(session)}, nil
}

// MarkMissing overwrites an item's missing count on the active session.
func (s *SessionService) MarkMissing(ctx context.Context, cmd MarkMissingCommand) (*PickResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireActive(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	item, err := session.MarkMissing(cmd.LineItemID, cmd.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrItemNotFound):
			return nil, apperrors.ErrValidation("item not found in session").WithDetail("lineItemId", cmd.LineItemID)
		case errors.Is(err, domain.ErrInvalidQuantity):
			return nil, apperrors.ErrValidation("quantity must be zero or positive")
		default:
			return nil, apperrors.ErrValidation(err.Error())
		}
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditItemMissing,
		UserName:       session.UserName,
		UserID:         session.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("marked %d missing on %s", item.QuantityMissing, item.LineItemID),
		Metadata:       map[string]any{"lineItemId": item.LineItemID, "quantityMissing": item.QuantityMissing},
		CreatedAt:      time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordItemMarkedMissing()
	}

	dto := ToLineItemDTO(*item)
	return &PickResultDTO{Item: &dto, Session: ToSessionDTO(session)}, nil
}

// CompleteSession finalizes the active session. Clean sessions trigger the
// single owed fulfillment submission; sessions with missing units enter the
// pending faltante state instead. The completion commits before the remote
// call is attempted, and a remote failure leaves it committed.
func (s *SessionService) CompleteSession(ctx context.Context, cmd CompleteSessionCommand) (*CompleteResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireActive(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	completedByName := session.UserName
	if cmd.UserID != "" {
		user, err := s.users.FindUser(ctx, cmd.UserID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to resolve user", "userId", cmd.UserID)
			return nil, apperrors.ErrServiceUnavailable("identity directory").Wrap(err)
		}
		if user == nil {
			return nil, apperrors.ErrValidation("user not found").WithDetail("userId", cmd.UserID)
		}
		completedByName = user.Name
	}

	if err := session.Complete(completedByName); err != nil {
		var incomplete *domain.IncompleteItemsError
		if errors.As(err, &incomplete) {
			appErr := apperrors.ErrValidation("session has incomplete items")
			for _, it := range incomplete.Items {
				appErr.WithDetail(it.LineItemID, fmt.Sprintf("%d picked + %d missing of %d required",
					it.QuantityPicked, it.QuantityMissing, it.QuantityRequired))
			}
			return nil, appErr
		}
		return nil, apperrors.ErrValidation(err.Error())
	}

	// Phase 1: commit local terminal state before any remote side effect.
	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditSessionComplete,
		UserName:       completedByName,
		UserID:         cmd.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details: fmt.Sprintf("session completed in %ds: %d picked, %d missing",
			*session.DurationSeconds, session.TotalPicked(), session.TotalMissing()),
		Metadata: map[string]any{
			"durationSeconds": *session.DurationSeconds,
			"totalPicked":     session.TotalPicked(),
			"totalMissing":    session.TotalMissing(),
		},
		CreatedAt: time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordSessionCompleted(session.TotalMissing() > 0)
	}

	// Phase 2: best-effort remote propagation when nothing is missing.
	fulfillmentCreated := false
	if session.FulfillmentStatus == domain.FulfillmentPending {
		fulfillmentCreated = s.attemptFulfillment(ctx, session, completedByName, session.PickedFulfillmentLines())
	}

	s.logger.Info("Picking session completed",
		"orderId", session.OrderID, "sessionId", session.ID,
		"totalMissing", session.TotalMissing(), "fulfillmentCreated", fulfillmentCreated)

	return &CompleteResultDTO{
		DurationSeconds:    *session.DurationSeconds,
		FulfillmentCreated: fulfillmentCreated,
		MissingItems:       ToLineItemDTOs(session.MissingItems()),
		Session:            ToSessionDTO(session),
	}, nil
}

// CancelSession terminates the active session. Terminal, cannot be resumed.
func (s *SessionService) CancelSession(ctx context.Context, cmd CancelSessionCommand) (*SessionDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireActive(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	if err := session.Cancel(cmd.Reason); err != nil {
		if errors.Is(err, domain.ErrInvalidCancelReason) {
			return nil, apperrors.ErrValidation("cancel reason must be at least 3 characters")
		}
		return nil, apperrors.ErrValidation(err.Error())
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditSessionCancel,
		UserName:       session.UserName,
		UserID:         session.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("session cancelled: %s", session.CancelReason),
		Metadata:       map[string]any{"reason": session.CancelReason},
		CreatedAt:      time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordSessionCancelled()
	}

	s.logger.Info("Picking session cancelled", "orderId", session.OrderID, "sessionId", session.ID)
	return ToSessionDTO(session), nil
}

// PackSession marks the most recently completed session as packed.
func (s *SessionService) PackSession(ctx context.Context, cmd PackSessionCommand) (*SessionDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.repo.FindLatestCompletedByOrderID(ctx, cmd.OrderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get completed session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to get completed session: %w", err)
	}
	if session == nil {
		return nil, apperrors.ErrNotFound("completed picking session")
	}

	packedByName := ""
	if cmd.UserID != "" {
		user, err := s.users.FindUser(ctx, cmd.UserID)
		if err != nil {
			s.logger.WithError(err).Error("Failed to resolve user", "userId", cmd.UserID)
			return nil, apperrors.ErrServiceUnavailable("identity directory").Wrap(err)
		}
		if user == nil {
			return nil, apperrors.ErrValidation("user not found").WithDetail("userId", cmd.UserID)
		}
		packedByName = user.Name
	}

	if err := session.Pack(packedByName); err != nil {
		if errors.Is(err, domain.ErrAlreadyPacked) {
			return nil, apperrors.ErrValidation("session is already packed")
		}
		return nil, apperrors.ErrValidation(err.Error())
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.logger.Info("Picking session packed", "orderId", session.OrderID, "sessionId", session.ID, "packedBy", session.PackedByName)
	return ToSessionDTO(session), nil
}

// attemptFulfillment runs phase 2 of the completion saga: one submission
// attempt, result recorded on the session regardless of outcome.
func (s *SessionService) attemptFulfillment(ctx context.Context, session *domain.PickingSession, userName string, lines []domain.FulfillmentLine) bool {
	var submitErr error
	if len(lines) == 0 {
		// Nothing picked means nothing to submit; the outcome is settled.
		session.RecordFulfillmentResult(true)
	} else {
		submitErr = s.coordinator.Submit(ctx, session.OrderID, session.OrderDisplayID, userName, lines)
		session.RecordFulfillmentResult(submitErr == nil)
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to record fulfillment result", "orderId", session.OrderID)
	}

	return submitErr == nil && len(lines) > 0
}

func (s *SessionService) requireActive(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	session, err := s.repo.FindActiveByOrderID(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get session", "orderId", orderID)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, apperrors.ErrNotFound("active picking session")
	}
	return session, nil
}
