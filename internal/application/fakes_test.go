package application

import (
	"context"
	"errors"
	"io"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{
		Level:       logging.LevelError,
		ServiceName: "test",
		Output:      io.Discard,
	})
}

// fakeSessionRepo keeps sessions in memory, one active and one completed
// per order, mirroring the uniqueness the real repository enforces.
type fakeSessionRepo struct {
	active    map[string]*domain.PickingSession
	completed map[string]*domain.PickingSession
	onSave    func(session *domain.PickingSession) error
	saveCount int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		active:    make(map[string]*domain.PickingSession),
		completed: make(map[string]*domain.PickingSession),
	}
}

func (r *fakeSessionRepo) Save(ctx context.Context, session *domain.PickingSession) error {
	r.saveCount++
	if r.onSave != nil {
		if err := r.onSave(session); err != nil {
			return err
		}
	}
	session.ClearDomainEvents()
	session.Version++

	switch session.Status {
	case domain.SessionStatusInProgress:
		r.active[session.OrderID] = session
	case domain.SessionStatusCompleted:
		delete(r.active, session.OrderID)
		r.completed[session.OrderID] = session
	case domain.SessionStatusCancelled:
		delete(r.active, session.OrderID)
	}
	return nil
}

func (r *fakeSessionRepo) FindByID(ctx context.Context, sessionID string) (*domain.PickingSession, error) {
	for _, s := range r.active {
		if s.ID == sessionID {
			return s, nil
		}
	}
	for _, s := range r.completed {
		if s.ID == sessionID {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeSessionRepo) FindActiveByOrderID(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	return r.active[orderID], nil
}

func (r *fakeSessionRepo) FindLatestCompletedByOrderID(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	return r.completed[orderID], nil
}

func (r *fakeSessionRepo) FindByOrderID(ctx context.Context, orderID string) ([]*domain.PickingSession, error) {
	sessions := make([]*domain.PickingSession, 0)
	if s := r.active[orderID]; s != nil {
		sessions = append(sessions, s)
	}
	if s := r.completed[orderID]; s != nil {
		sessions = append(sessions, s)
	}
	return sessions, nil
}

type fakeAuditLog struct {
	entries []domain.AuditEntry
}

func (a *fakeAuditLog) Append(ctx context.Context, entry domain.AuditEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAuditLog) actions() []string {
	actions := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

type fakeUserDirectory struct {
	users map[string]*domain.User
	err   error
}

func newFakeUserDirectory(users ...*domain.User) *fakeUserDirectory {
	d := &fakeUserDirectory{users: make(map[string]*domain.User)}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *fakeUserDirectory) FindUser(ctx context.Context, userID string) (*domain.User, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.users[userID], nil
}

// fakeOrderGateway records every outbound call for assertion.
type fakeOrderGateway struct {
	order        *domain.Order
	getErr       error
	fulfillments [][]domain.FulfillmentLine
	createErr    error
	promotions   []domain.PromotionRequest
	promotionErr error
}

func (g *fakeOrderGateway) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	if g.order == nil {
		return nil, errors.New("order not found")
	}
	return g.order, nil
}

func (g *fakeOrderGateway) CreateFulfillment(ctx context.Context, orderID string, lines []domain.FulfillmentLine) error {
	if g.createErr != nil {
		return g.createErr
	}
	g.fulfillments = append(g.fulfillments, lines)
	return nil
}

func (g *fakeOrderGateway) MarkFulfillmentDelivered(ctx context.Context, orderID, fulfillmentID string) error {
	return nil
}

func (g *fakeOrderGateway) CreateShipment(ctx context.Context, orderID, fulfillmentID string) error {
	return nil
}

func (g *fakeOrderGateway) CreatePromotion(ctx context.Context, req domain.PromotionRequest) (*domain.Promotion, error) {
	if g.promotionErr != nil {
		return nil, g.promotionErr
	}
	g.promotions = append(g.promotions, req)
	return &domain.Promotion{ID: "promo-1", Code: req.Code}, nil
}
