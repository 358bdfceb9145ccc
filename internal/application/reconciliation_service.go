package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/storeops/picking-service/internal/domain"
	apperrors "github.com/storeops/picking-service/pkg/errors"
	"github.com/storeops/picking-service/pkg/logging"
	"github.com/storeops/picking-service/pkg/metrics"
)

// ReconciliationService resolves faltantes on completed sessions: write
// them off with a voucher or a plain resolution, or wait and scan the
// missing stock back in.
type ReconciliationService struct {
	repo        domain.SessionRepository
	audit       domain.AuditLog
	users       domain.UserDirectory
	orders      domain.OrderGateway
	coordinator *FulfillmentCoordinator
	logger      *logging.Logger
	metrics     *metrics.Metrics
	locks       *orderLocks
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	repo domain.SessionRepository,
	audit domain.AuditLog,
	users domain.UserDirectory,
	orders domain.OrderGateway,
	coordinator *FulfillmentCoordinator,
	logger *logging.Logger,
	m *metrics.Metrics,
) *ReconciliationService {
	return &ReconciliationService{
		repo:        repo,
		audit:       audit,
		users:       users,
		orders:      orders,
		coordinator: coordinator,
		logger:      logger.WithComponent("reconciliation-service"),
		metrics:     m,
		locks:       &orderLocks{},
	}
}

// ResolveFaltante sets the faltante resolution. Voucher and resolved write
// the missing units off permanently and trigger the picked-only fulfillment.
func (s *ReconciliationService) ResolveFaltante(ctx context.Context, cmd ResolveFaltanteCommand) (*ResolveResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireCompleted(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	resolution := domain.FaltanteResolution(cmd.Resolution)
	if err := session.Resolve(resolution, cmd.Notes); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidResolution):
			return nil, apperrors.ErrValidation("resolution must be voucher, waiting or resolved").
				WithDetail("resolution", cmd.Resolution)
		case errors.Is(err, domain.ErrNoFaltante):
			return nil, apperrors.ErrValidation("session has no missing items to resolve")
		case errors.Is(err, domain.ErrFaltanteResolved):
			return nil, apperrors.ErrValidation("faltante is already resolved")
		default:
			return nil, apperrors.ErrValidation(err.Error())
		}
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	fulfillmentCreated := false
	if session.FulfillmentStatus == domain.FulfillmentPending {
		fulfillmentCreated = s.attemptFulfillment(ctx, session, session.PickedFulfillmentLines())
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditItemMissing,
		UserName:       session.UserName,
		UserID:         cmd.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("faltante resolved as %s", cmd.Resolution),
		Metadata: map[string]any{
			"resolution":         cmd.Resolution,
			"notes":              cmd.Notes,
			"fulfillmentCreated": fulfillmentCreated,
		},
		CreatedAt: time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordFaltanteResolved(cmd.Resolution)
	}

	s.logger.Info("Faltante resolved",
		"orderId", session.OrderID, "resolution", cmd.Resolution, "fulfillmentCreated", fulfillmentCreated)
	return &ResolveResultDTO{FulfillmentCreated: fulfillmentCreated, Session: ToSessionDTO(session)}, nil
}

// IssueVoucher resolves a faltante as voucher, minting a fixed-value
// single-use code scoped to the order through the remote promotion API.
func (s *ReconciliationService) IssueVoucher(ctx context.Context, cmd IssueVoucherCommand) (*VoucherResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	if cmd.Value <= 0 {
		return nil, apperrors.ErrValidation("voucher value must be positive")
	}

	session, err := s.requireCompleted(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if session.FaltanteResolution == nil {
		return nil, apperrors.ErrValidation("session has no missing items to resolve")
	}
	if session.FaltanteResolution.Terminal() {
		return nil, apperrors.ErrValidation("faltante is already resolved")
	}

	order, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch order", "orderId", cmd.OrderID)
		return nil, apperrors.NewAppError(apperrors.CodeServiceUnavailable,
			"order service is unavailable", http.StatusBadGateway).Wrap(err)
	}

	code, err := domain.GenerateVoucherCode(session.OrderDisplayID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate voucher code: %w", err)
	}
	value := domain.RoundVoucherValue(cmd.Value)

	promo, err := s.orders.CreatePromotion(ctx, domain.PromotionRequest{
		Code:       code,
		FixedValue: value,
		Currency:   "CLP",
		OrderID:    cmd.OrderID,
	})
	if err != nil {
		s.logger.WithError(err).Error("Failed to create promotion", "orderId", cmd.OrderID, "code", code)
		return nil, apperrors.NewAppError(apperrors.CodeServiceUnavailable,
			"voucher issuer is unavailable", http.StatusBadGateway).Wrap(err)
	}

	if err := session.Resolve(domain.FaltanteVoucher, cmd.Notes); err != nil {
		return nil, apperrors.ErrValidation(err.Error())
	}
	session.AppendFaltanteNote(fmt.Sprintf("voucher %s issued for %d", promo.Code, value))

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	fulfillmentCreated := false
	if session.FulfillmentStatus == domain.FulfillmentPending {
		fulfillmentCreated = s.attemptFulfillment(ctx, session, session.PickedFulfillmentLines())
	}

	appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
		Action:         domain.AuditItemMissing,
		UserName:       session.UserName,
		UserID:         cmd.UserID,
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Details:        fmt.Sprintf("faltante resolved with voucher %s (%d)", promo.Code, value),
		Metadata: map[string]any{
			"resolution":         string(domain.FaltanteVoucher),
			"notes":              cmd.Notes,
			"voucherCode":        promo.Code,
			"voucherValue":       value,
			"fulfillmentCreated": fulfillmentCreated,
		},
		CreatedAt: time.Now(),
	})

	if s.metrics != nil {
		s.metrics.RecordFaltanteResolved(string(domain.FaltanteVoucher))
		s.metrics.RecordVoucherIssued()
	}

	s.logger.Info("Voucher issued",
		"orderId", session.OrderID, "code", promo.Code, "value", value, "fulfillmentCreated", fulfillmentCreated)

	return &VoucherResultDTO{
		Code:               promo.Code,
		Value:              value,
		CustomerName:       order.CustomerName,
		CustomerPhone:      order.CustomerPhone,
		FulfillmentCreated: fulfillmentCreated,
	}, nil
}

// GetReceivable lists the outstanding missing items for an order.
func (s *ReconciliationService) GetReceivable(ctx context.Context, query GetReceivableQuery) (*ReceivableDTO, error) {
	session, err := s.requireCompleted(ctx, query.OrderID)
	if err != nil {
		return nil, err
	}
	if session.FaltanteResolution == nil {
		return nil, apperrors.ErrNotFound("faltante")
	}

	outstanding := make([]domain.LineItemProgress, 0)
	for _, item := range session.MissingItems() {
		if !item.Satisfied() {
			outstanding = append(outstanding, item)
		}
	}

	return &ReceivableDTO{
		OrderID:        session.OrderID,
		OrderDisplayID: session.OrderDisplayID,
		Resolution:     string(*session.FaltanteResolution),
		Items:          ToLineItemDTOs(outstanding),
	}, nil
}

// ReceiveItem registers one received unit against a missing item. Receiving
// the final unit resolves the faltante and triggers the single consolidated
// fulfillment for the full originally-required quantities.
func (s *ReconciliationService) ReceiveItem(ctx context.Context, cmd ReceiveItemCommand) (*ReceiveResultDTO, error) {
	unlock := s.locks.Lock(cmd.OrderID)
	defer unlock()

	session, err := s.requireCompleted(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	item, allReceived, err := session.Receive(cmd.LineItemID, cmd.Barcode, cmd.SKU)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoReceivableMatch):
			return nil, apperrors.NewAppError(apperrors.CodeNotFound,
				"no missing item matches or already fully received", http.StatusNotFound)
		case errors.Is(err, domain.ErrNoFaltante):
			return nil, apperrors.ErrNotFound("faltante")
		case errors.Is(err, domain.ErrFaltanteResolved):
			return nil, apperrors.ErrValidation("faltante is already resolved")
		default:
			return nil, apperrors.ErrValidation(err.Error())
		}
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to save session", "orderId", cmd.OrderID)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	fulfillmentCreated := false
	if allReceived && session.FulfillmentStatus == domain.FulfillmentPending {
		fulfillmentCreated = s.attemptFulfillment(ctx, session, session.FullFulfillmentLines())

		appendAudit(ctx, s.audit, s.logger, domain.AuditEntry{
			Action:         domain.AuditItemMissing,
			UserName:       session.UserName,
			OrderID:        session.OrderID,
			OrderDisplayID: session.OrderDisplayID,
			Details:        "all missing items received, faltante resolved",
			Metadata: map[string]any{
				"resolution":         string(domain.FaltanteResolved),
				"method":             "scan",
				"fulfillmentCreated": fulfillmentCreated,
			},
			CreatedAt: time.Now(),
		})

		if s.metrics != nil {
			s.metrics.RecordFaltanteResolved(string(domain.FaltanteResolved))
		}
	}

	s.logger.Info("Missing item received",
		"orderId", session.OrderID, "lineItemId", item.LineItemID,
		"received", item.QuantityReceived, "allReceived", allReceived)

	dto := ToLineItemDTO(*item)
	return &ReceiveResultDTO{
		Item:               &dto,
		AllReceived:        allReceived,
		FulfillmentCreated: fulfillmentCreated,
		Session:            ToSessionDTO(session),
	}, nil
}

// attemptFulfillment runs the single owed submission attempt and records
// the result on the session.
func (s *ReconciliationService) attemptFulfillment(ctx context.Context, session *domain.PickingSession, lines []domain.FulfillmentLine) bool {
	var submitErr error
	if len(lines) == 0 {
		session.RecordFulfillmentResult(true)
	} else {
		submitErr = s.coordinator.Submit(ctx, session.OrderID, session.OrderDisplayID, session.UserName, lines)
		session.RecordFulfillmentResult(submitErr == nil)
	}

	if err := s.repo.Save(ctx, session); err != nil {
		s.logger.WithError(err).Error("Failed to record fulfillment result", "orderId", session.OrderID)
	}

	return submitErr == nil && len(lines) > 0
}

func (s *ReconciliationService) requireCompleted(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	session, err := s.repo.FindLatestCompletedByOrderID(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get completed session", "orderId", orderID)
		return nil, fmt.Errorf("failed to get completed session: %w", err)
	}
	if session == nil {
		return nil, apperrors.ErrNotFound("completed picking session")
	}
	return session, nil
}
