package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test fixtures
func createTestOrderLines() []OrderLine {
	return []OrderLine{
		{
			LineItemID: "line-1",
			VariantID:  "variant-1",
			SKU:        "SKU-001",
			Barcode:    "7801234567890",
			Title:      "Test Product 1",
			Quantity:   2,
		},
		{
			LineItemID: "line-2",
			VariantID:  "variant-2",
			SKU:        "SKU-002",
			Barcode:    "7809876543210",
			Title:      "Test Product 2",
			Quantity:   1,
		},
	}
}

func createTestSession(t *testing.T) *PickingSession {
	t.Helper()
	session, err := NewPickingSession("session-1", "order-1", "1001", "user-1", "Ana", createTestOrderLines())
	require.NoError(t, err)
	session.ClearDomainEvents()
	return session
}

// completedWithMissing returns a completed session where line-1 has one
// picked and one missing unit, and line-2 is fully picked.
func completedWithMissing(t *testing.T) *PickingSession {
	t.Helper()
	session := createTestSession(t)
	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	_, err = session.MarkMissing("line-1", 1)
	require.NoError(t, err)
	_, err = session.Pick("line-2", "", ScanMethodManual)
	require.NoError(t, err)
	require.NoError(t, session.Complete("Ana"))
	session.ClearDomainEvents()
	return session
}

func TestNewPickingSession(t *testing.T) {
	tests := []struct {
		name        string
		lines       []OrderLine
		expectError bool
	}{
		{
			name:        "Valid session creation",
			lines:       createTestOrderLines(),
			expectError: false,
		},
		{
			name:        "Session with no items",
			lines:       []OrderLine{},
			expectError: true,
		},
		{
			name:        "Session with negative quantity",
			lines:       []OrderLine{{LineItemID: "line-1", Quantity: -1}},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session, err := NewPickingSession("session-1", "order-1", "1001", "user-1", "Ana", tt.lines)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, session)
			} else {
				require.NoError(t, err)
				require.NotNil(t, session)
				assert.Equal(t, SessionStatusInProgress, session.Status)
				assert.Equal(t, FulfillmentNone, session.FulfillmentStatus)
				assert.Equal(t, 3, session.TotalRequired())
				assert.Equal(t, 0, session.TotalPicked())
				assert.Nil(t, session.FaltanteResolution)

				events := session.GetDomainEvents()
				require.Len(t, events, 1)
				event, ok := events[0].(*SessionStartedEvent)
				require.True(t, ok)
				assert.Equal(t, "order-1", event.OrderID)
				assert.Equal(t, 2, event.ItemCount)
			}
		})
	}
}

func TestPickByLineItemID(t *testing.T) {
	session := createTestSession(t)

	item, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	assert.Equal(t, 1, item.QuantityPicked)
	assert.Equal(t, ScanMethodManual, item.ScanMethod)
	assert.NotNil(t, item.PickedAt)

	item, err = session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	assert.Equal(t, 2, item.QuantityPicked)

	// line-1 requires 2; a third pick must fail
	_, err = session.Pick("line-1", "", ScanMethodManual)
	assert.ErrorIs(t, err, ErrItemAlreadyComplete)
	assert.Equal(t, 2, session.Items[0].QuantityPicked)

	_, err = session.Pick("line-unknown", "", ScanMethodManual)
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestPickByBarcode(t *testing.T) {
	session := createTestSession(t)

	item, err := session.Pick("", "7809876543210", ScanMethodBarcode)
	require.NoError(t, err)
	assert.Equal(t, "line-2", item.LineItemID)
	assert.Equal(t, ScanMethodBarcode, item.ScanMethod)

	// line-2 is now full; the same barcode matches nothing with capacity
	_, err = session.Pick("", "7809876543210", ScanMethodBarcode)
	var mismatch *BarcodeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "7809876543210", mismatch.Barcode)
	assert.Equal(t, []string{"7801234567890"}, mismatch.Outstanding)
	assert.Contains(t, mismatch.Error(), "7801234567890")
}

func TestPickBarcodeSkipsFullItems(t *testing.T) {
	// Two lines sharing a barcode: scans fill the first, then the second.
	lines := []OrderLine{
		{LineItemID: "line-1", Barcode: "111", Quantity: 1},
		{LineItemID: "line-2", Barcode: "111", Quantity: 1},
	}
	session, err := NewPickingSession("session-1", "order-1", "1001", "user-1", "Ana", lines)
	require.NoError(t, err)

	item, err := session.Pick("", "111", ScanMethodBarcode)
	require.NoError(t, err)
	assert.Equal(t, "line-1", item.LineItemID)

	item, err = session.Pick("", "111", ScanMethodBarcode)
	require.NoError(t, err)
	assert.Equal(t, "line-2", item.LineItemID)

	_, err = session.Pick("", "111", ScanMethodBarcode)
	var mismatch *BarcodeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Empty(t, mismatch.Outstanding)
}

func TestUnpick(t *testing.T) {
	session := createTestSession(t)

	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)

	require.NoError(t, session.Unpick("line-1"))
	assert.Equal(t, 0, session.Items[0].QuantityPicked)

	assert.ErrorIs(t, session.Unpick("line-1"), ErrNothingToUnpick)
	assert.ErrorIs(t, session.Unpick("line-unknown"), ErrItemNotFound)
}

func TestMarkMissing(t *testing.T) {
	tests := []struct {
		name        string
		picked      int
		quantity    int
		wantMissing int
		wantErr     error
	}{
		{name: "Full quantity missing", picked: 0, quantity: 2, wantMissing: 2},
		{name: "Clamped to unpicked remainder", picked: 1, quantity: 5, wantMissing: 1},
		{name: "Zero clears missing", picked: 0, quantity: 0, wantMissing: 0},
		{name: "Negative rejected", picked: 0, quantity: -1, wantErr: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := createTestSession(t)
			for i := 0; i < tt.picked; i++ {
				_, err := session.Pick("line-1", "", ScanMethodManual)
				require.NoError(t, err)
			}

			item, err := session.MarkMissing("line-1", tt.quantity)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMissing, item.QuantityMissing)
		})
	}
}

func TestMarkMissingOverwritesNotAccumulates(t *testing.T) {
	session := createTestSession(t)

	_, err := session.MarkMissing("line-1", 2)
	require.NoError(t, err)
	item, err := session.MarkMissing("line-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, item.QuantityMissing)

	item, err = session.MarkMissing("line-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, item.QuantityMissing)
}

func TestPickAfterMarkMissingReclampsMissing(t *testing.T) {
	session := createTestSession(t)

	// line-1 requires 2: pick one, mark the other missing, then find it after all
	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	_, err = session.MarkMissing("line-1", 1)
	require.NoError(t, err)

	item, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	assert.Equal(t, 2, item.QuantityPicked)
	assert.Equal(t, 0, item.QuantityMissing)

	events := session.GetDomainEvents()
	picked, ok := events[len(events)-1].(*ItemPickedEvent)
	require.True(t, ok)
	assert.Equal(t, 0, picked.QuantityMissing)

	// A clean completion owes a fulfillment for exactly the required quantities
	_, err = session.Pick("line-2", "", ScanMethodManual)
	require.NoError(t, err)
	require.NoError(t, session.Complete("Ana"))
	assert.Nil(t, session.FaltanteResolution)
	assert.Equal(t, FulfillmentPending, session.FulfillmentStatus)
	assert.Equal(t, []FulfillmentLine{
		{LineItemID: "line-1", Quantity: 2},
		{LineItemID: "line-2", Quantity: 1},
	}, session.FullFulfillmentLines())
}

func TestCompleteRequiresAllItemsAccountedFor(t *testing.T) {
	session := createTestSession(t)

	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)

	err = session.Complete("Ana")
	var incomplete *IncompleteItemsError
	require.ErrorAs(t, err, &incomplete)
	require.Len(t, incomplete.Items, 2)
	assert.Equal(t, "line-1", incomplete.Items[0].LineItemID)
	assert.Equal(t, 1, incomplete.Items[0].QuantityPicked)

	// Rejected completion must not mutate the session
	assert.Equal(t, SessionStatusInProgress, session.Status)
	assert.Nil(t, session.CompletedAt)
	assert.Equal(t, FulfillmentNone, session.FulfillmentStatus)
}

func TestCompleteCleanSessionOwesFulfillment(t *testing.T) {
	session := createTestSession(t)

	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	_, err = session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	_, err = session.Pick("line-2", "", ScanMethodManual)
	require.NoError(t, err)

	require.NoError(t, session.Complete("Berta"))
	assert.Equal(t, SessionStatusCompleted, session.Status)
	assert.Equal(t, "Berta", session.CompletedByName)
	require.NotNil(t, session.DurationSeconds)
	assert.GreaterOrEqual(t, *session.DurationSeconds, int64(0))
	assert.Equal(t, FulfillmentPending, session.FulfillmentStatus)
	assert.Nil(t, session.FaltanteResolution)

	assert.ErrorIs(t, session.Complete("Berta"), ErrSessionNotActive)
}

func TestCompleteWithMissingEntersPendingFaltante(t *testing.T) {
	session := completedWithMissing(t)

	require.NotNil(t, session.FaltanteResolution)
	assert.Equal(t, FaltantePending, *session.FaltanteResolution)
	// The fulfillment is deferred until the faltante is settled
	assert.Equal(t, FulfillmentNone, session.FulfillmentStatus)

	missing := session.MissingItems()
	require.Len(t, missing, 1)
	assert.Equal(t, "line-1", missing[0].LineItemID)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		reason  string
		wantErr error
	}{
		{name: "Valid reason", reason: "customer cancelled the order"},
		{name: "Reason trimmed then valid", reason: "  ok!  "},
		{name: "Too short after trim", reason: "  a ", wantErr: ErrInvalidCancelReason},
		{name: "Empty reason", reason: "", wantErr: ErrInvalidCancelReason},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := createTestSession(t)
			err := session.Cancel(tt.reason)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, SessionStatusInProgress, session.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, SessionStatusCancelled, session.Status)
			assert.Equal(t, strings.TrimSpace(tt.reason), session.CancelReason)
			assert.NotNil(t, session.CancelledAt)

			// Cancelled sessions reject all mutations
			_, err = session.Pick("line-1", "", ScanMethodManual)
			assert.ErrorIs(t, err, ErrSessionNotActive)
			assert.ErrorIs(t, session.Cancel("again"), ErrSessionNotActive)
		})
	}
}

func TestPack(t *testing.T) {
	session := createTestSession(t)
	assert.ErrorIs(t, session.Pack("Berta"), ErrSessionNotCompleted)

	session = completedWithMissing(t)
	require.NoError(t, session.Pack("Berta"))
	assert.True(t, session.Packed)
	assert.Equal(t, "Berta", session.PackedByName)
	assert.NotNil(t, session.PackedAt)

	assert.ErrorIs(t, session.Pack("Berta"), ErrAlreadyPacked)
}

func TestPackDefaultsToSessionUser(t *testing.T) {
	session := completedWithMissing(t)
	require.NoError(t, session.Pack(""))
	assert.Equal(t, "Ana", session.PackedByName)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name            string
		resolution      FaltanteResolution
		wantErr         error
		wantFulfillment FulfillmentStatus
	}{
		{name: "Voucher is terminal and owes fulfillment", resolution: FaltanteVoucher, wantFulfillment: FulfillmentPending},
		{name: "Resolved is terminal and owes fulfillment", resolution: FaltanteResolved, wantFulfillment: FulfillmentPending},
		{name: "Waiting defers the fulfillment", resolution: FaltanteWaiting, wantFulfillment: FulfillmentNone},
		{name: "Pending is not a valid target", resolution: FaltantePending, wantErr: ErrInvalidResolution},
		{name: "Unknown resolution", resolution: FaltanteResolution("refund"), wantErr: ErrInvalidResolution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := completedWithMissing(t)
			err := session.Resolve(tt.resolution, "note")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.resolution, *session.FaltanteResolution)
			assert.NotNil(t, session.FaltanteResolvedAt)
			assert.Equal(t, "note", session.FaltanteNotes)
			assert.Equal(t, tt.wantFulfillment, session.FulfillmentStatus)
		})
	}
}

func TestResolveTerminalStatesAreFinal(t *testing.T) {
	session := completedWithMissing(t)
	require.NoError(t, session.Resolve(FaltanteVoucher, ""))

	assert.ErrorIs(t, session.Resolve(FaltanteResolved, ""), ErrFaltanteResolved)
	assert.ErrorIs(t, session.Resolve(FaltanteWaiting, ""), ErrFaltanteResolved)
}

func TestResolveWaitingCanStillChange(t *testing.T) {
	session := completedWithMissing(t)
	require.NoError(t, session.Resolve(FaltanteWaiting, "supplier restock due"))
	require.NoError(t, session.Resolve(FaltanteVoucher, "gave up waiting"))
	assert.Equal(t, FaltanteVoucher, *session.FaltanteResolution)
	assert.Equal(t, "supplier restock due\ngave up waiting", session.FaltanteNotes)
}

func TestResolveWithoutFaltante(t *testing.T) {
	session := createTestSession(t)
	for i := 0; i < 2; i++ {
		_, err := session.Pick("line-1", "", ScanMethodManual)
		require.NoError(t, err)
	}
	_, err := session.Pick("line-2", "", ScanMethodManual)
	require.NoError(t, err)
	require.NoError(t, session.Complete("Ana"))

	assert.ErrorIs(t, session.Resolve(FaltanteVoucher, ""), ErrNoFaltante)
}

func TestReceiveMatchPriority(t *testing.T) {
	lines := []OrderLine{
		{LineItemID: "line-1", SKU: "SKU-A", Barcode: "111", Quantity: 1},
		{LineItemID: "line-2", SKU: "SKU-A", Barcode: "222", Quantity: 1},
	}
	session, err := NewPickingSession("session-1", "order-1", "1001", "user-1", "Ana", lines)
	require.NoError(t, err)
	_, err = session.MarkMissing("line-1", 1)
	require.NoError(t, err)
	_, err = session.MarkMissing("line-2", 1)
	require.NoError(t, err)
	require.NoError(t, session.Complete("Ana"))

	// lineItemId beats barcode: line-2 wins even though the barcode says line-1
	item, allReceived, err := session.Receive("line-2", "111", "")
	require.NoError(t, err)
	assert.Equal(t, "line-2", item.LineItemID)
	assert.False(t, allReceived)

	// sku match skips satisfied items: line-2 is done, so SKU-A hits line-1
	item, allReceived, err = session.Receive("", "", "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, "line-1", item.LineItemID)
	assert.True(t, allReceived)
}

func TestReceiveResolvesWhenAllReceived(t *testing.T) {
	session := completedWithMissing(t)

	item, allReceived, err := session.Receive("line-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, item.QuantityReceived)
	assert.True(t, allReceived)
	assert.Equal(t, FaltanteResolved, *session.FaltanteResolution)
	assert.Equal(t, FulfillmentPending, session.FulfillmentStatus)
	assert.Contains(t, session.FaltanteNotes, "all missing items received")

	// Resolved faltante accepts no further receiving
	_, _, err = session.Receive("line-1", "", "")
	assert.ErrorIs(t, err, ErrFaltanteResolved)
}

func TestReceiveNoMatch(t *testing.T) {
	session := completedWithMissing(t)

	_, _, err := session.Receive("line-unknown", "nope", "SKU-X")
	assert.ErrorIs(t, err, ErrNoReceivableMatch)

	// line-2 has nothing missing, so matching it directly also fails
	_, _, err = session.Receive("line-2", "", "")
	assert.ErrorIs(t, err, ErrNoReceivableMatch)
}

func TestReceiveRequiresFaltante(t *testing.T) {
	session := createTestSession(t)
	_, _, err := session.Receive("line-1", "", "")
	assert.ErrorIs(t, err, ErrSessionNotCompleted)

	session = completedWithMissing(t)
	require.NoError(t, session.Resolve(FaltanteVoucher, ""))
	_, _, err = session.Receive("line-1", "", "")
	assert.ErrorIs(t, err, ErrFaltanteResolved)
}

func TestReceiveAllowedWhileWaiting(t *testing.T) {
	session := completedWithMissing(t)
	require.NoError(t, session.Resolve(FaltanteWaiting, ""))

	_, allReceived, err := session.Receive("line-1", "", "")
	require.NoError(t, err)
	assert.True(t, allReceived)
	assert.Equal(t, FaltanteResolved, *session.FaltanteResolution)
}

func TestRecordFulfillmentResult(t *testing.T) {
	session := completedWithMissing(t)
	require.NoError(t, session.Resolve(FaltanteVoucher, ""))
	require.Equal(t, FulfillmentPending, session.FulfillmentStatus)

	session.RecordFulfillmentResult(false)
	assert.Equal(t, FulfillmentFailed, session.FulfillmentStatus)

	session.RecordFulfillmentResult(true)
	assert.Equal(t, FulfillmentSubmitted, session.FulfillmentStatus)
}

func TestProgressPercent(t *testing.T) {
	session := createTestSession(t)
	assert.Equal(t, 0, session.ProgressPercent())

	_, err := session.Pick("line-1", "", ScanMethodManual)
	require.NoError(t, err)
	assert.Equal(t, 33, session.ProgressPercent())

	_, err = session.MarkMissing("line-2", 1)
	require.NoError(t, err)
	// Missing units only count once the session is completed
	assert.Equal(t, 33, session.ProgressPercent())

	_, err = session.MarkMissing("line-1", 1)
	require.NoError(t, err)
	require.NoError(t, session.Complete("Ana"))
	assert.Equal(t, 100, session.ProgressPercent())
}

func TestFulfillmentLines(t *testing.T) {
	session := completedWithMissing(t)

	picked := session.PickedFulfillmentLines()
	require.Len(t, picked, 2)
	assert.Equal(t, FulfillmentLine{LineItemID: "line-1", Quantity: 1}, picked[0])
	assert.Equal(t, FulfillmentLine{LineItemID: "line-2", Quantity: 1}, picked[1])

	full := session.FullFulfillmentLines()
	require.Len(t, full, 2)
	assert.Equal(t, FulfillmentLine{LineItemID: "line-1", Quantity: 2}, full[0])
	assert.Equal(t, FulfillmentLine{LineItemID: "line-2", Quantity: 1}, full[1])
}

func TestGenerateVoucherCode(t *testing.T) {
	code, err := GenerateVoucherCode("1001")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, "VOUCHER-1001-"))

	suffix := strings.TrimPrefix(code, "VOUCHER-1001-")
	require.Len(t, suffix, 6)
	for _, r := range suffix {
		assert.Contains(t, voucherAlphabet, string(r))
	}

	other, err := GenerateVoucherCode("1001")
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestRoundVoucherValue(t *testing.T) {
	assert.Equal(t, 1500, RoundVoucherValue(1499.5))
	assert.Equal(t, 1499, RoundVoucherValue(1499.4))
	assert.Equal(t, 0, RoundVoucherValue(0.2))
}
