package application

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/picking-service/internal/domain"
	apperrors "github.com/storeops/picking-service/pkg/errors"
)

func testOrderLines() []domain.OrderLine {
	return []domain.OrderLine{
		{LineItemID: "line-1", SKU: "SKU-001", Barcode: "111", Title: "Widget", Quantity: 2},
		{LineItemID: "line-2", SKU: "SKU-002", Barcode: "222", Title: "Gadget", Quantity: 1},
	}
}

func newTestSessionService(repo *fakeSessionRepo, audit *fakeAuditLog, users *fakeUserDirectory, orders *fakeOrderGateway) *SessionService {
	logger := testLogger()
	coordinator := NewFulfillmentCoordinator(orders, audit, logger, nil, 0)
	return NewSessionService(repo, audit, users, orders, coordinator, logger, nil)
}

func activePicker() *domain.User {
	return &domain.User{ID: "user-1", Name: "Ana", Role: "picker", Active: true}
}

func TestStartSessionCreatesNew(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	users := newFakeUserDirectory(activePicker())
	orders := &fakeOrderGateway{}
	service := newTestSessionService(repo, audit, users, orders)

	result, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID:        "order-1",
		OrderDisplayID: "1001",
		UserID:         "user-1",
		Items:          testOrderLines(),
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, "order-1", result.Session.OrderID)
	assert.Equal(t, "in_progress", result.Session.Status)
	assert.Equal(t, "Ana", result.Session.UserName)
	assert.Equal(t, []string{domain.AuditSessionStart}, audit.actions())
}

func TestStartSessionIsIdempotent(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	users := newFakeUserDirectory(activePicker())
	service := newTestSessionService(repo, audit, users, &fakeOrderGateway{})

	cmd := StartSessionCommand{OrderID: "order-1", OrderDisplayID: "1001", UserID: "user-1", Items: testOrderLines()}
	first, err := service.StartSession(context.Background(), cmd)
	require.NoError(t, err)

	second, err := service.StartSession(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	// Only the first start writes an audit entry
	assert.Len(t, audit.entries, 1)
}

func TestStartSessionUserChecks(t *testing.T) {
	tests := []struct {
		name       string
		users      *fakeUserDirectory
		wantStatus int
	}{
		{
			name:       "Unknown user",
			users:      newFakeUserDirectory(),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Inactive user",
			users:      newFakeUserDirectory(&domain.User{ID: "user-1", Name: "Ana", Active: false}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Directory unavailable",
			users:      &fakeUserDirectory{err: errors.New("connection refused")},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := newTestSessionService(newFakeSessionRepo(), &fakeAuditLog{}, tt.users, &fakeOrderGateway{})

			_, err := service.StartSession(context.Background(), StartSessionCommand{
				OrderID: "order-1",
				UserID:  "user-1",
				Items:   testOrderLines(),
			})
			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.wantStatus, appErr.HTTPStatus)
		})
	}
}

func TestStartSessionFetchesOrderWhenItemsOmitted(t *testing.T) {
	orders := &fakeOrderGateway{order: &domain.Order{
		ID:        "order-1",
		DisplayID: "1001",
		Items:     testOrderLines(),
	}}
	service := newTestSessionService(newFakeSessionRepo(), &fakeAuditLog{}, newFakeUserDirectory(activePicker()), orders)

	result, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1",
		UserID:  "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", result.Session.OrderDisplayID)
	assert.Len(t, result.Session.Items, 2)
}

func TestStartSessionLostRaceReturnsWinner(t *testing.T) {
	repo := newFakeSessionRepo()
	winner, err := domain.NewPickingSession("winner", "order-1", "1001", "user-2", "Berta", testOrderLines())
	require.NoError(t, err)

	// First Save hits the unique index; the winner appears on re-read.
	repo.onSave = func(session *domain.PickingSession) error {
		if session.ID != "winner" {
			repo.active["order-1"] = winner
			return domain.ErrDuplicateActiveSession
		}
		return nil
	}
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	result, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1",
		UserID:  "user-1",
		Items:   testOrderLines(),
	})
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, "winner", result.Session.ID)
}

func TestPickItemRecordsProgress(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	service := newTestSessionService(repo, audit, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", OrderDisplayID: "1001", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)

	result, err := service.PickItem(context.Background(), PickItemCommand{
		OrderID: "order-1", Barcode: "111", Method: "barcode",
	})
	require.NoError(t, err)
	assert.Equal(t, "line-1", result.Item.LineItemID)
	assert.Equal(t, 1, result.Item.QuantityPicked)
	assert.Equal(t, "barcode", result.Item.ScanMethod)
	assert.Contains(t, audit.actions(), domain.AuditItemPick)
}

func TestPickItemBarcodeMismatch(t *testing.T) {
	repo := newFakeSessionRepo()
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)

	_, err = service.PickItem(context.Background(), PickItemCommand{
		OrderID: "order-1", Barcode: "999", Method: "barcode",
	})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	assert.Contains(t, appErr.Message, "111")
	assert.Contains(t, appErr.Message, "222")
}

func TestPickItemWithoutActiveSession(t *testing.T) {
	service := newTestSessionService(newFakeSessionRepo(), &fakeAuditLog{}, newFakeUserDirectory(), &fakeOrderGateway{})

	_, err := service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: "line-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestCompleteSessionCleanSubmitsFulfillmentOnce(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	orders := &fakeOrderGateway{}
	service := newTestSessionService(repo, audit, newFakeUserDirectory(activePicker()), orders)

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", OrderDisplayID: "1001", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)
	for _, pick := range []string{"line-1", "line-1", "line-2"} {
		_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: pick})
		require.NoError(t, err)
	}

	result, err := service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)
	assert.True(t, result.FulfillmentCreated)
	assert.Empty(t, result.MissingItems)
	assert.Equal(t, "submitted", result.Session.FulfillmentStatus)

	require.Len(t, orders.fulfillments, 1)
	assert.ElementsMatch(t, []domain.FulfillmentLine{
		{LineItemID: "line-1", Quantity: 2},
		{LineItemID: "line-2", Quantity: 1},
	}, orders.fulfillments[0])
	assert.Contains(t, audit.actions(), domain.AuditSessionComplete)
}

func TestCompleteSessionRemoteFailureStaysCommitted(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	orders := &fakeOrderGateway{createErr: errors.New("order service down")}
	service := newTestSessionService(repo, audit, newFakeUserDirectory(activePicker()), orders)

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)
	for _, pick := range []string{"line-1", "line-1", "line-2"} {
		_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: pick})
		require.NoError(t, err)
	}

	result, err := service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)
	assert.False(t, result.FulfillmentCreated)
	// Completion is terminal regardless of the remote outcome
	assert.Equal(t, "completed", result.Session.Status)
	assert.Equal(t, "failed", result.Session.FulfillmentStatus)
	assert.Contains(t, audit.actions(), domain.AuditFulfillmentError)

	// A second completion attempt is rejected, never a second submission
	_, err = service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
	assert.Empty(t, orders.fulfillments)
}

func TestCompleteSessionIncompleteItems(t *testing.T) {
	repo := newFakeSessionRepo()
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)

	_, err = service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	assert.Len(t, appErr.Details, 2)

	session, err := repo.FindActiveByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, domain.SessionStatusInProgress, session.Status)
}

func TestCompleteSessionWithMissingDefersFulfillment(t *testing.T) {
	repo := newFakeSessionRepo()
	orders := &fakeOrderGateway{}
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), orders)

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)
	_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: "line-1"})
	require.NoError(t, err)
	_, err = service.MarkMissing(context.Background(), MarkMissingCommand{OrderID: "order-1", LineItemID: "line-1", Quantity: 1})
	require.NoError(t, err)
	_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: "line-2"})
	require.NoError(t, err)

	result, err := service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)
	assert.False(t, result.FulfillmentCreated)
	require.Len(t, result.MissingItems, 1)
	assert.Equal(t, "line-1", result.MissingItems[0].LineItemID)
	assert.Equal(t, "pending", result.Session.FaltanteResolution)
	assert.Empty(t, orders.fulfillments)
}

func TestCancelSession(t *testing.T) {
	repo := newFakeSessionRepo()
	audit := &fakeAuditLog{}
	service := newTestSessionService(repo, audit, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)

	_, err = service.CancelSession(context.Background(), CancelSessionCommand{OrderID: "order-1", Reason: " x "})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)

	dto, err := service.CancelSession(context.Background(), CancelSessionCommand{OrderID: "order-1", Reason: "wrong order"})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", dto.Status)
	assert.Contains(t, audit.actions(), domain.AuditSessionCancel)

	session, err := repo.FindActiveByOrderID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestPackSession(t *testing.T) {
	repo := newFakeSessionRepo()
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.PackSession(context.Background(), PackSessionCommand{OrderID: "order-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	_, err = service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)
	for _, pick := range []string{"line-1", "line-1", "line-2"} {
		_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: pick})
		require.NoError(t, err)
	}
	_, err = service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)

	dto, err := service.PackSession(context.Background(), PackSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)
	assert.True(t, dto.Packed)
	assert.Equal(t, "Ana", dto.PackedByName)
}

func TestGetSession(t *testing.T) {
	repo := newFakeSessionRepo()
	service := newTestSessionService(repo, &fakeAuditLog{}, newFakeUserDirectory(activePicker()), &fakeOrderGateway{})

	_, err := service.GetSession(context.Background(), GetSessionQuery{OrderID: "order-1"})
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	_, err = service.StartSession(context.Background(), StartSessionCommand{
		OrderID: "order-1", UserID: "user-1", Items: testOrderLines(),
	})
	require.NoError(t, err)
	for _, pick := range []string{"line-1", "line-1", "line-2"} {
		_, err = service.PickItem(context.Background(), PickItemCommand{OrderID: "order-1", LineItemID: pick})
		require.NoError(t, err)
	}
	_, err = service.CompleteSession(context.Background(), CompleteSessionCommand{OrderID: "order-1"})
	require.NoError(t, err)

	// Active lookup misses the completed session unless asked for
	_, err = service.GetSession(context.Background(), GetSessionQuery{OrderID: "order-1"})
	require.ErrorAs(t, err, &appErr)

	dto, err := service.GetSession(context.Background(), GetSessionQuery{OrderID: "order-1", IncludeCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, "completed", dto.Status)
	assert.Equal(t, 3, dto.TotalPicked)
	assert.Equal(t, 100, dto.ProgressPercent)
}
