package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/pkg/events"
	"github.com/storeops/picking-service/pkg/kafka"
	"github.com/storeops/picking-service/pkg/outbox"
	outboxMongo "github.com/storeops/picking-service/pkg/outbox/mongodb"
	"github.com/storeops/picking-service/pkg/schema"
)

// SessionRepository persists PickingSession aggregates. Saves commit the
// aggregate and its pending domain events to the outbox in one transaction.
type SessionRepository struct {
	collection   *mongo.Collection
	db           *mongo.Database
	outboxRepo   *outboxMongo.OutboxRepository
	eventFactory *events.Factory
	validator    *schema.SessionValidator
}

func NewSessionRepository(db *mongo.Database, eventFactory *events.Factory, validator *schema.SessionValidator) *SessionRepository {
	repo := &SessionRepository{
		collection:   db.Collection("picking_sessions"),
		db:           db,
		outboxRepo:   outboxMongo.NewOutboxRepository(db),
		eventFactory: eventFactory,
		validator:    validator,
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *SessionRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{
			// One in_progress session per order, enforced at the store so
			// concurrent starts resolve to a single winner.
			Keys: bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": string(domain.SessionStatusInProgress)}).
				SetName("uniq_active_order"),
		},
		{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "completedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "faltanteResolution", Value: 1}}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)

	_ = r.outboxRepo.EnsureIndexes(ctx)
}

// Save persists the session with its domain events in a single transaction.
// The document is validated against the session schema before it is written.
func (r *SessionRepository) Save(ctx context.Context, session *domain.PickingSession) error {
	session.UpdatedAt = time.Now()

	if r.validator != nil {
		if err := r.validator.Validate(session); err != nil {
			return fmt.Errorf("session document rejected: %w", err)
		}
	}

	mongoSession, err := r.db.Client().StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer mongoSession.EndSession(ctx)

	prevVersion := session.Version
	session.Version = prevVersion + 1

	_, err = mongoSession.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		// 1. Save the aggregate
		if prevVersion == 0 {
			if _, err := r.collection.InsertOne(sessCtx, session); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return nil, domain.ErrDuplicateActiveSession
				}
				return nil, fmt.Errorf("failed to insert session: %w", err)
			}
		} else {
			filter := bson.M{"_id": session.ID, "version": prevVersion}
			result, err := r.collection.ReplaceOne(sessCtx, filter, session)
			if err != nil {
				return nil, fmt.Errorf("failed to replace session: %w", err)
			}
			if result.MatchedCount == 0 {
				return nil, fmt.Errorf("session %s was modified concurrently (version %d)", session.ID, prevVersion)
			}
		}

		// 2. Save domain events to outbox
		domainEvents := session.GetDomainEvents()
		if len(domainEvents) > 0 {
			outboxEvents := make([]*outbox.OutboxEvent, 0, len(domainEvents))
			for _, event := range domainEvents {
				cloudEvent := r.eventFactory.CreateEvent(sessCtx, event.EventType(), "session/"+session.ID, event)
				outboxEvent, err := outbox.NewOutboxEventFromCloudEvent(
					session.ID,
					"PickingSession",
					kafka.Topics.SessionEvents,
					cloudEvent,
				)
				if err != nil {
					return nil, fmt.Errorf("failed to create outbox event: %w", err)
				}
				outboxEvents = append(outboxEvents, outboxEvent)
			}

			if err := r.outboxRepo.SaveAll(sessCtx, outboxEvents); err != nil {
				return nil, fmt.Errorf("failed to save outbox events: %w", err)
			}
		}

		return nil, nil
	})

	if err != nil {
		session.Version = prevVersion
		if err == domain.ErrDuplicateActiveSession {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}

	// Clear only after commit; WithTransaction may retry the callback on
	// transient errors and the retry must still see the events.
	session.ClearDomainEvents()

	return nil
}

func (r *SessionRepository) FindByID(ctx context.Context, sessionID string) (*domain.PickingSession, error) {
	var session domain.PickingSession
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &session, err
}

func (r *SessionRepository) FindActiveByOrderID(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	filter := bson.M{"orderId": orderID, "status": domain.SessionStatusInProgress}

	var session domain.PickingSession
	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &session, err
}

func (r *SessionRepository) FindLatestCompletedByOrderID(ctx context.Context, orderID string) (*domain.PickingSession, error) {
	filter := bson.M{"orderId": orderID, "status": domain.SessionStatusCompleted}
	opts := options.FindOne().SetSort(bson.D{{Key: "completedAt", Value: -1}})

	var session domain.PickingSession
	err := r.collection.FindOne(ctx, filter, opts).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	return &session, err
}

func (r *SessionRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.PickingSession, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{"orderId": orderID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var sessions []*domain.PickingSession
	err = cursor.All(ctx, &sessions)
	return sessions, err
}

// GetOutboxRepository returns the outbox repository for this service
func (r *SessionRepository) GetOutboxRepository() outbox.Repository {
	return r.outboxRepo
}
