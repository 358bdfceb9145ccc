package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Errors
var (
	ErrSessionNotActive     = errors.New("session is not in progress")
	ErrSessionNotCompleted  = errors.New("session is not completed")
	ErrItemNotFound         = errors.New("item not found in session")
	ErrItemAlreadyComplete  = errors.New("item is already fully picked")
	ErrNothingToUnpick      = errors.New("item has no picked units to remove")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidCancelReason  = errors.New("cancel reason must be at least 3 characters")
	ErrAlreadyPacked        = errors.New("session is already packed")
	ErrInvalidResolution    = errors.New("invalid faltante resolution")
	ErrFaltanteResolved     = errors.New("faltante is already resolved")
	ErrNoFaltante           = errors.New("session has no missing items")
	ErrNoReceivableMatch    = errors.New("no missing item matches or already fully received")
)

// SessionStatus represents the lifecycle state of a picking session
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// ScanMethod records how an item pick was registered
type ScanMethod string

const (
	ScanMethodManual  ScanMethod = "manual"
	ScanMethodBarcode ScanMethod = "barcode"
)

// FaltanteResolution is the sub-state machine for sessions completed with
// missing units. It exists only on completed sessions with totalMissing > 0.
type FaltanteResolution string

const (
	FaltantePending  FaltanteResolution = "pending"
	FaltanteVoucher  FaltanteResolution = "voucher"
	FaltanteWaiting  FaltanteResolution = "waiting"
	FaltanteResolved FaltanteResolution = "resolved"
)

// Terminal reports whether the resolution can no longer change.
func (r FaltanteResolution) Terminal() bool {
	return r == FaltanteVoucher || r == FaltanteResolved
}

// FulfillmentStatus tracks whether the session's owed fulfillment submission
// has been attempted against the remote order service.
type FulfillmentStatus string

const (
	FulfillmentNone      FulfillmentStatus = "none"
	FulfillmentPending   FulfillmentStatus = "pending"
	FulfillmentSubmitted FulfillmentStatus = "submitted"
	FulfillmentFailed    FulfillmentStatus = "failed"
)

// PickingSession is the aggregate root for the picking bounded context.
// At most one in_progress session exists per orderId.
type PickingSession struct {
	ID                 string              `bson:"_id"`
	OrderID            string              `bson:"orderId"`
	OrderDisplayID     string              `bson:"orderDisplayId"`
	Status             SessionStatus       `bson:"status"`
	Items              []LineItemProgress  `bson:"items"`
	StartedAt          time.Time           `bson:"startedAt"`
	CompletedAt        *time.Time          `bson:"completedAt,omitempty"`
	CancelledAt        *time.Time          `bson:"cancelledAt,omitempty"`
	CancelReason       string              `bson:"cancelReason,omitempty"`
	DurationSeconds    *int64              `bson:"durationSeconds,omitempty"`
	UserID             string              `bson:"userId"`
	UserName           string              `bson:"userName"`
	CompletedByName    string              `bson:"completedByName,omitempty"`
	Packed             bool                `bson:"packed"`
	PackedAt           *time.Time          `bson:"packedAt,omitempty"`
	PackedByName       string              `bson:"packedByName,omitempty"`
	FaltanteResolution *FaltanteResolution `bson:"faltanteResolution,omitempty"`
	FaltanteResolvedAt *time.Time          `bson:"faltanteResolvedAt,omitempty"`
	FaltanteNotes      string              `bson:"faltanteNotes,omitempty"`
	FulfillmentStatus  FulfillmentStatus   `bson:"fulfillmentStatus"`
	CreatedAt          time.Time           `bson:"createdAt"`
	UpdatedAt          time.Time           `bson:"updatedAt"`
	Version            int64               `bson:"version"`
	DomainEvents       []DomainEvent       `bson:"-"`
}

// LineItemProgress tracks per-line-item quantities. quantityRequired is an
// immutable snapshot taken at session start.
type LineItemProgress struct {
	LineItemID       string     `bson:"lineItemId"`
	VariantID        string     `bson:"variantId,omitempty"`
	SKU              string     `bson:"sku,omitempty"`
	Barcode          string     `bson:"barcode,omitempty"`
	Title            string     `bson:"title,omitempty"`
	QuantityRequired int        `bson:"quantityRequired"`
	QuantityPicked   int        `bson:"quantityPicked"`
	QuantityMissing  int        `bson:"quantityMissing"`
	QuantityReceived int        `bson:"quantityReceived"`
	PickedAt         *time.Time `bson:"pickedAt,omitempty"`
	ScanMethod       ScanMethod `bson:"scanMethod,omitempty"`
}

// Satisfied reports whether this item needs no further receiving.
func (li LineItemProgress) Satisfied() bool {
	return li.QuantityMissing == 0 || li.QuantityReceived >= li.QuantityMissing
}

// FulfillmentLine is one line of a fulfillment submission.
type FulfillmentLine struct {
	LineItemID string `json:"lineItemId"`
	Quantity   int    `json:"quantity"`
}

// ItemShortfall describes why an item blocks completion.
type ItemShortfall struct {
	LineItemID       string `json:"lineItemId"`
	Title            string `json:"title,omitempty"`
	QuantityRequired int    `json:"quantityRequired"`
	QuantityPicked   int    `json:"quantityPicked"`
	QuantityMissing  int    `json:"quantityMissing"`
}

// IncompleteItemsError is returned by Complete when some items are neither
// fully picked nor accounted for as missing.
type IncompleteItemsError struct {
	Items []ItemShortfall
}

func (e *IncompleteItemsError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		parts = append(parts, fmt.Sprintf("%s: %d picked + %d missing of %d required",
			it.LineItemID, it.QuantityPicked, it.QuantityMissing, it.QuantityRequired))
	}
	return "session has incomplete items: " + strings.Join(parts, "; ")
}

// BarcodeMismatchError is returned when a scanned barcode matches no item
// with remaining pick capacity. Outstanding lists the barcodes still pickable.
type BarcodeMismatchError struct {
	Barcode     string
	Outstanding []string
}

func (e *BarcodeMismatchError) Error() string {
	if len(e.Outstanding) == 0 {
		return fmt.Sprintf("barcode %q matches no outstanding item", e.Barcode)
	}
	return fmt.Sprintf("barcode %q matches no outstanding item; expected one of: %s",
		e.Barcode, strings.Join(e.Outstanding, ", "))
}

// OrderLine is the order item snapshot a session is opened against.
type OrderLine struct {
	LineItemID string
	VariantID  string
	SKU        string
	Barcode    string
	Title      string
	Quantity   int
}

// NewPickingSession creates a new in-progress session for an order,
// snapshotting the order lines into LineItemProgress records.
func NewPickingSession(id, orderID, orderDisplayID, userID, userName string, lines []OrderLine) (*PickingSession, error) {
	if len(lines) == 0 {
		return nil, errors.New("session must have at least one item")
	}

	now := time.Now()
	items := make([]LineItemProgress, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 0 {
			return nil, ErrInvalidQuantity
		}
		items = append(items, LineItemProgress{
			LineItemID:       line.LineItemID,
			VariantID:        line.VariantID,
			SKU:              line.SKU,
			Barcode:          line.Barcode,
			Title:            line.Title,
			QuantityRequired: line.Quantity,
		})
	}

	session := &PickingSession{
		ID:                id,
		OrderID:           orderID,
		OrderDisplayID:    orderDisplayID,
		Status:            SessionStatusInProgress,
		Items:             items,
		StartedAt:         now,
		UserID:            userID,
		UserName:          userName,
		FulfillmentStatus: FulfillmentNone,
		CreatedAt:         now,
		UpdatedAt:         now,
		DomainEvents:      make([]DomainEvent, 0),
	}

	session.AddDomainEvent(&SessionStartedEvent{
		SessionID:      id,
		OrderID:        orderID,
		OrderDisplayID: orderDisplayID,
		UserID:         userID,
		UserName:       userName,
		ItemCount:      len(items),
		StartedAt:      now,
	})

	return session, nil
}

// Pick registers one picked unit. With ScanMethodBarcode the first item whose
// barcode matches and still has capacity wins; otherwise the item is resolved
// by exact lineItemId.
func (s *PickingSession) Pick(lineItemID, barcode string, method ScanMethod) (*LineItemProgress, error) {
	if s.Status != SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}

	idx := -1
	if method == ScanMethodBarcode {
		for i := range s.Items {
			if s.Items[i].Barcode == barcode && s.Items[i].QuantityPicked < s.Items[i].QuantityRequired {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &BarcodeMismatchError{Barcode: barcode, Outstanding: s.OutstandingBarcodes()}
		}
	} else {
		for i := range s.Items {
			if s.Items[i].LineItemID == lineItemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, ErrItemNotFound
		}
		if s.Items[idx].QuantityPicked >= s.Items[idx].QuantityRequired {
			return nil, ErrItemAlreadyComplete
		}
	}

	now := time.Now()
	item := s.Items[idx]
	item.QuantityPicked++
	// Picking shrinks the unpicked remainder, so a previously marked missing
	// count may no longer fit within it.
	if remaining := item.QuantityRequired - item.QuantityPicked; item.QuantityMissing > remaining {
		item.QuantityMissing = remaining
	}
	item.PickedAt = &now
	item.ScanMethod = method
	s.Items[idx] = item
	s.UpdatedAt = now

	s.AddDomainEvent(&ItemPickedEvent{
		SessionID:       s.ID,
		OrderID:         s.OrderID,
		LineItemID:      item.LineItemID,
		SKU:             item.SKU,
		QuantityPicked:  item.QuantityPicked,
		QuantityMissing: item.QuantityMissing,
		Method:          string(method),
		PickedAt:        now,
	})

	return &s.Items[idx], nil
}

// Unpick removes one picked unit from an item.
func (s *PickingSession) Unpick(lineItemID string) error {
	if s.Status != SessionStatusInProgress {
		return ErrSessionNotActive
	}

	for i := range s.Items {
		if s.Items[i].LineItemID != lineItemID {
			continue
		}
		if s.Items[i].QuantityPicked <= 0 {
			return ErrNothingToUnpick
		}

		now := time.Now()
		item := s.Items[i]
		item.QuantityPicked--
		s.Items[i] = item
		s.UpdatedAt = now

		s.AddDomainEvent(&ItemUnpickedEvent{
			SessionID:      s.ID,
			OrderID:        s.OrderID,
			LineItemID:     item.LineItemID,
			QuantityPicked: item.QuantityPicked,
			UnpickedAt:     now,
		})
		return nil
	}

	return ErrItemNotFound
}

// MarkMissing overwrites an item's missing count, clamped to the unpicked
// remainder. Repeated calls overwrite, they never accumulate.
func (s *PickingSession) MarkMissing(lineItemID string, quantity int) (*LineItemProgress, error) {
	if s.Status != SessionStatusInProgress {
		return nil, ErrSessionNotActive
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	for i := range s.Items {
		if s.Items[i].LineItemID != lineItemID {
			continue
		}

		now := time.Now()
		item := s.Items[i]
		remaining := item.QuantityRequired - item.QuantityPicked
		if quantity > remaining {
			quantity = remaining
		}
		item.QuantityMissing = quantity
		s.Items[i] = item
		s.UpdatedAt = now

		s.AddDomainEvent(&ItemMarkedMissingEvent{
			SessionID:       s.ID,
			OrderID:         s.OrderID,
			LineItemID:      item.LineItemID,
			QuantityMissing: item.QuantityMissing,
			MarkedAt:        now,
		})
		return &s.Items[i], nil
	}

	return nil, ErrItemNotFound
}

// Complete finalizes the session. Every item must be item-complete
// (picked + missing >= required). Sessions with missing units enter the
// pending faltante state and do not yet owe a fulfillment; clean sessions
// owe one immediately.
func (s *PickingSession) Complete(completedByName string) error {
	if s.Status != SessionStatusInProgress {
		return ErrSessionNotActive
	}

	shortfalls := make([]ItemShortfall, 0)
	for _, item := range s.Items {
		if item.QuantityPicked+item.QuantityMissing < item.QuantityRequired {
			shortfalls = append(shortfalls, ItemShortfall{
				LineItemID:       item.LineItemID,
				Title:            item.Title,
				QuantityRequired: item.QuantityRequired,
				QuantityPicked:   item.QuantityPicked,
				QuantityMissing:  item.QuantityMissing,
			})
		}
	}
	if len(shortfalls) > 0 {
		return &IncompleteItemsError{Items: shortfalls}
	}

	now := time.Now()
	duration := int64(now.Sub(s.StartedAt).Seconds())
	s.Status = SessionStatusCompleted
	s.CompletedAt = &now
	s.DurationSeconds = &duration
	s.CompletedByName = completedByName
	s.UpdatedAt = now

	if s.TotalMissing() > 0 {
		pending := FaltantePending
		s.FaltanteResolution = &pending
	} else {
		s.FulfillmentStatus = FulfillmentPending
	}

	s.AddDomainEvent(&SessionCompletedEvent{
		SessionID:       s.ID,
		OrderID:         s.OrderID,
		OrderDisplayID:  s.OrderDisplayID,
		CompletedByName: completedByName,
		DurationSeconds: duration,
		TotalPicked:     s.TotalPicked(),
		TotalMissing:    s.TotalMissing(),
		CompletedAt:     now,
	})

	return nil
}

// Cancel terminates the session. Cancelled sessions cannot be resumed.
func (s *PickingSession) Cancel(reason string) error {
	if s.Status != SessionStatusInProgress {
		return ErrSessionNotActive
	}
	reason = strings.TrimSpace(reason)
	if len(reason) < 3 {
		return ErrInvalidCancelReason
	}

	now := time.Now()
	s.Status = SessionStatusCancelled
	s.CancelledAt = &now
	s.CancelReason = reason
	s.UpdatedAt = now

	s.AddDomainEvent(&SessionCancelledEvent{
		SessionID:   s.ID,
		OrderID:     s.OrderID,
		Reason:      reason,
		CancelledAt: now,
	})

	return nil
}

// Pack marks a completed session as packed.
func (s *PickingSession) Pack(packedByName string) error {
	if s.Status != SessionStatusCompleted {
		return ErrSessionNotCompleted
	}
	if s.Packed {
		return ErrAlreadyPacked
	}

	now := time.Now()
	s.Packed = true
	s.PackedAt = &now
	if packedByName == "" {
		packedByName = s.UserName
	}
	s.PackedByName = packedByName
	s.UpdatedAt = now

	s.AddDomainEvent(&SessionPackedEvent{
		SessionID:    s.ID,
		OrderID:      s.OrderID,
		PackedByName: packedByName,
		PackedAt:     now,
	})

	return nil
}

// Resolve sets the faltante resolution. Voucher and resolved write the
// missing units off, so the session then owes a picked-only fulfillment.
func (s *PickingSession) Resolve(resolution FaltanteResolution, notes string) error {
	switch resolution {
	case FaltanteVoucher, FaltanteWaiting, FaltanteResolved:
	default:
		return ErrInvalidResolution
	}
	if s.Status != SessionStatusCompleted {
		return ErrSessionNotCompleted
	}
	if s.FaltanteResolution == nil {
		return ErrNoFaltante
	}
	if s.FaltanteResolution.Terminal() {
		return ErrFaltanteResolved
	}

	now := time.Now()
	s.FaltanteResolution = &resolution
	s.FaltanteResolvedAt = &now
	if notes != "" {
		s.AppendFaltanteNote(notes)
	}
	if resolution.Terminal() {
		s.FulfillmentStatus = FulfillmentPending
	}
	s.UpdatedAt = now

	s.AddDomainEvent(&FaltanteResolvedEvent{
		SessionID:  s.ID,
		OrderID:    s.OrderID,
		Resolution: string(resolution),
		Notes:      notes,
		ResolvedAt: now,
	})

	return nil
}

// Receive registers one received unit against a missing item. Match priority
// is lineItemId, then barcode, then sku, skipping items already satisfied;
// within each priority the first match in item order wins. When the last
// missing unit arrives the faltante resolves and the session owes a
// fulfillment for the full originally-required quantities.
func (s *PickingSession) Receive(lineItemID, barcode, sku string) (*LineItemProgress, bool, error) {
	if s.Status != SessionStatusCompleted {
		return nil, false, ErrSessionNotCompleted
	}
	if s.FaltanteResolution == nil {
		return nil, false, ErrNoFaltante
	}
	if r := *s.FaltanteResolution; r != FaltantePending && r != FaltanteWaiting {
		return nil, false, ErrFaltanteResolved
	}

	idx := s.matchReceivable(lineItemID, barcode, sku)
	if idx < 0 {
		return nil, false, ErrNoReceivableMatch
	}

	now := time.Now()
	item := s.Items[idx]
	item.QuantityReceived++
	s.Items[idx] = item
	s.UpdatedAt = now

	allReceived := true
	for _, it := range s.Items {
		if !it.Satisfied() {
			allReceived = false
			break
		}
	}

	if allReceived {
		resolved := FaltanteResolved
		s.FaltanteResolution = &resolved
		s.FaltanteResolvedAt = &now
		s.AppendFaltanteNote("all missing items received via scan")
		s.FulfillmentStatus = FulfillmentPending
	}

	s.AddDomainEvent(&ItemReceivedEvent{
		SessionID:        s.ID,
		OrderID:          s.OrderID,
		LineItemID:       item.LineItemID,
		QuantityReceived: item.QuantityReceived,
		AllReceived:      allReceived,
		ReceivedAt:       now,
	})

	return &s.Items[idx], allReceived, nil
}

func (s *PickingSession) matchReceivable(lineItemID, barcode, sku string) int {
	type matcher func(LineItemProgress) bool
	matchers := []matcher{}
	if lineItemID != "" {
		matchers = append(matchers, func(li LineItemProgress) bool { return li.LineItemID == lineItemID })
	}
	if barcode != "" {
		matchers = append(matchers, func(li LineItemProgress) bool { return li.Barcode == barcode })
	}
	if sku != "" {
		matchers = append(matchers, func(li LineItemProgress) bool { return li.SKU == sku })
	}

	for _, match := range matchers {
		for i := range s.Items {
			if s.Items[i].Satisfied() {
				continue
			}
			if match(s.Items[i]) {
				return i
			}
		}
	}
	return -1
}

// RecordFulfillmentResult transitions fulfillmentStatus after the single
// submission attempt the session owes.
func (s *PickingSession) RecordFulfillmentResult(success bool) {
	now := time.Now()
	if success {
		s.FulfillmentStatus = FulfillmentSubmitted
	} else {
		s.FulfillmentStatus = FulfillmentFailed
	}
	s.UpdatedAt = now

	s.AddDomainEvent(&FulfillmentAttemptedEvent{
		SessionID:   s.ID,
		OrderID:     s.OrderID,
		Success:     success,
		AttemptedAt: now,
	})
}

// AppendFaltanteNote appends to the faltante notes, newline separated.
func (s *PickingSession) AppendFaltanteNote(note string) {
	if s.FaltanteNotes == "" {
		s.FaltanteNotes = note
		return
	}
	s.FaltanteNotes = s.FaltanteNotes + "\n" + note
}

// TotalRequired sums quantityRequired across items.
func (s *PickingSession) TotalRequired() int {
	total := 0
	for _, item := range s.Items {
		total += item.QuantityRequired
	}
	return total
}

// TotalPicked sums quantityPicked across items.
func (s *PickingSession) TotalPicked() int {
	total := 0
	for _, item := range s.Items {
		total += item.QuantityPicked
	}
	return total
}

// TotalMissing sums quantityMissing across items.
func (s *PickingSession) TotalMissing() int {
	total := 0
	for _, item := range s.Items {
		total += item.QuantityMissing
	}
	return total
}

// TotalReceived sums quantityReceived across items.
func (s *PickingSession) TotalReceived() int {
	total := 0
	for _, item := range s.Items {
		total += item.QuantityReceived
	}
	return total
}

// IsComplete reports whether every item is fully picked or accounted for
// as missing.
func (s *PickingSession) IsComplete() bool {
	for _, item := range s.Items {
		if item.QuantityPicked+item.QuantityMissing < item.QuantityRequired {
			return false
		}
	}
	return true
}

// ProgressPercent returns the rounded completion percentage. Missing units
// count toward progress once the session is completed.
func (s *PickingSession) ProgressPercent() int {
	required := s.TotalRequired()
	if required == 0 {
		return 100
	}
	counted := s.TotalPicked()
	if s.Status == SessionStatusCompleted {
		counted += s.TotalMissing()
	}
	return int(math.Round(float64(counted) / float64(required) * 100))
}

// OutstandingBarcodes lists barcodes of items with remaining pick capacity.
func (s *PickingSession) OutstandingBarcodes() []string {
	codes := make([]string, 0)
	for _, item := range s.Items {
		if item.Barcode != "" && item.QuantityPicked < item.QuantityRequired {
			codes = append(codes, item.Barcode)
		}
	}
	return codes
}

// MissingItems returns the items with quantityMissing > 0.
func (s *PickingSession) MissingItems() []LineItemProgress {
	missing := make([]LineItemProgress, 0)
	for _, item := range s.Items {
		if item.QuantityMissing > 0 {
			missing = append(missing, item)
		}
	}
	return missing
}

// PickedFulfillmentLines returns one line per item at quantityPicked,
// filtering zero-quantity lines. Used for the voucher/resolved write-off
// path where missing units are never resubmitted.
func (s *PickingSession) PickedFulfillmentLines() []FulfillmentLine {
	lines := make([]FulfillmentLine, 0, len(s.Items))
	for _, item := range s.Items {
		if item.QuantityPicked > 0 {
			lines = append(lines, FulfillmentLine{LineItemID: item.LineItemID, Quantity: item.QuantityPicked})
		}
	}
	return lines
}

// FullFulfillmentLines returns one line per item at picked + missing,
// filtering zero-quantity lines. Used after all missing units have been
// received, when the shortfall has been made whole.
func (s *PickingSession) FullFulfillmentLines() []FulfillmentLine {
	lines := make([]FulfillmentLine, 0, len(s.Items))
	for _, item := range s.Items {
		qty := item.QuantityPicked + item.QuantityMissing
		if qty > 0 {
			lines = append(lines, FulfillmentLine{LineItemID: item.LineItemID, Quantity: qty})
		}
	}
	return lines
}

// AddDomainEvent adds a domain event
func (s *PickingSession) AddDomainEvent(event DomainEvent) {
	s.DomainEvents = append(s.DomainEvents, event)
}

// ClearDomainEvents clears all domain events
func (s *PickingSession) ClearDomainEvents() {
	s.DomainEvents = make([]DomainEvent, 0)
}

// GetDomainEvents returns all domain events
func (s *PickingSession) GetDomainEvents() []DomainEvent {
	return s.DomainEvents
}
