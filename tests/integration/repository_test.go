package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeops/picking-service/internal/domain"
	"github.com/storeops/picking-service/internal/infrastructure/mongodb"
	"github.com/storeops/picking-service/pkg/events"
	"github.com/storeops/picking-service/pkg/schema"
	sharedtesting "github.com/storeops/picking-service/pkg/testing"
)

func testOrderLines() []domain.OrderLine {
	return []domain.OrderLine{
		{LineItemID: "line-1", SKU: "SKU-001", Barcode: "111", Title: "Widget", Quantity: 2},
		{LineItemID: "line-2", SKU: "SKU-002", Barcode: "222", Title: "Gadget", Quantity: 1},
	}
}

func newTestSession(t *testing.T, id, orderID string) *domain.PickingSession {
	t.Helper()
	session, err := domain.NewPickingSession(id, orderID, "1001", "user-1", "Ana", testOrderLines())
	require.NoError(t, err)
	return session
}

func setupRepositories(t *testing.T) (*mongodb.SessionRepository, *mongodb.AuditRepository) {
	t.Helper()
	ctx := context.Background()

	container, err := sharedtesting.NewMongoDBContainer(ctx)
	require.NoError(t, err)

	client, err := container.GetClient(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
		_ = container.Close(context.Background())
	})

	validator, err := schema.NewSessionValidator()
	require.NoError(t, err)

	db := client.Database("picking_test")
	factory := events.NewFactory(events.SourcePicking)
	return mongodb.NewSessionRepository(db, factory, validator), mongodb.NewAuditRepository(db)
}

func TestSessionRepositorySaveAndFind(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := newTestSession(t, "session-1", "order-1")
	require.NoError(t, repo.Save(ctx, session))
	assert.Equal(t, int64(1), session.Version)
	// Save drains the pending domain events into the outbox
	assert.Empty(t, session.GetDomainEvents())

	found, err := repo.FindByID(ctx, "session-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "order-1", found.OrderID)
	assert.Equal(t, domain.SessionStatusInProgress, found.Status)
	assert.Len(t, found.Items, 2)

	active, err := repo.FindActiveByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "session-1", active.ID)

	missing, err := repo.FindActiveByOrderID(ctx, "order-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepositoryRejectsDuplicateActiveSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, repo.Save(ctx, newTestSession(t, "session-1", "order-1")))

	err := repo.Save(ctx, newTestSession(t, "session-2", "order-1"))
	assert.ErrorIs(t, err, domain.ErrDuplicateActiveSession)

	// A different order is unaffected
	require.NoError(t, repo.Save(ctx, newTestSession(t, "session-3", "order-2")))
}

func TestSessionRepositoryAllowsNewSessionAfterCancel(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	first := newTestSession(t, "session-1", "order-1")
	require.NoError(t, repo.Save(ctx, first))
	require.NoError(t, first.Cancel("wrong order"))
	require.NoError(t, repo.Save(ctx, first))

	// The partial unique index only covers in_progress sessions
	require.NoError(t, repo.Save(ctx, newTestSession(t, "session-2", "order-1")))
}

func TestSessionRepositoryVersionConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := newTestSession(t, "session-1", "order-1")
	require.NoError(t, repo.Save(ctx, session))

	stale, err := repo.FindByID(ctx, "session-1")
	require.NoError(t, err)

	_, err = session.Pick("line-1", "", domain.ScanMethodManual)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, session))

	// The stale copy lost the race and must not clobber the newer write
	_, err = stale.Pick("line-2", "", domain.ScanMethodManual)
	require.NoError(t, err)
	err = repo.Save(ctx, stale)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified concurrently")

	current, err := repo.FindByID(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, current.Items[0].QuantityPicked)
	assert.Equal(t, 0, current.Items[1].QuantityPicked)
}

func TestSessionRepositoryWritesOutboxEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session := newTestSession(t, "session-1", "order-1")
	_, err := session.Pick("line-1", "", domain.ScanMethodManual)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, session))

	// One start event plus one pick event
	pending, err := repo.GetOutboxRepository().FindUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "session-1", pending[0].AggregateID)
	assert.Equal(t, "PickingSession", pending[0].AggregateType)
}

func TestSessionRepositoryLatestCompleted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	repo, _ := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	complete := func(id string) {
		session := newTestSession(t, id, "order-1")
		require.NoError(t, repo.Save(ctx, session))
		for _, pick := range []struct{ line string }{{"line-1"}, {"line-1"}, {"line-2"}} {
			_, err := session.Pick(pick.line, "", domain.ScanMethodManual)
			require.NoError(t, err)
		}
		require.NoError(t, session.Complete("Ana"))
		require.NoError(t, repo.Save(ctx, session))
	}

	complete("session-1")
	time.Sleep(10 * time.Millisecond)
	complete("session-2")

	latest, err := repo.FindLatestCompletedByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "session-2", latest.ID)

	all, err := repo.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAuditRepositoryAppendAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	_, audit := setupRepositories(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries := []domain.AuditEntry{
		{Action: domain.AuditSessionStart, UserName: "Ana", OrderID: "order-1", Details: "started", CreatedAt: time.Now()},
		{Action: domain.AuditItemPick, UserName: "Ana", OrderID: "order-1", Details: "picked line-1", CreatedAt: time.Now()},
		{Action: domain.AuditSessionStart, UserName: "Berta", OrderID: "order-2", Details: "started", CreatedAt: time.Now()},
	}
	for _, entry := range entries {
		require.NoError(t, audit.Append(ctx, entry))
	}

	found, err := audit.FindByOrderID(ctx, "order-1", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	for _, entry := range found {
		assert.Equal(t, "order-1", entry.OrderID)
	}
}
