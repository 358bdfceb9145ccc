package application

import "github.com/storeops/picking-service/internal/domain"

// ToSessionDTO converts a domain PickingSession to SessionDTO
func ToSessionDTO(session *domain.PickingSession) *SessionDTO {
	if session == nil {
		return nil
	}

	items := make([]LineItemDTO, 0, len(session.Items))
	for _, item := range session.Items {
		items = append(items, ToLineItemDTO(item))
	}

	resolution := ""
	if session.FaltanteResolution != nil {
		resolution = string(*session.FaltanteResolution)
	}

	return &SessionDTO{
		ID:                 session.ID,
		OrderID:            session.OrderID,
		OrderDisplayID:     session.OrderDisplayID,
		Status:             string(session.Status),
		Items:              items,
		StartedAt:          session.StartedAt,
		CompletedAt:        session.CompletedAt,
		CancelledAt:        session.CancelledAt,
		CancelReason:       session.CancelReason,
		DurationSeconds:    session.DurationSeconds,
		UserID:             session.UserID,
		UserName:           session.UserName,
		CompletedByName:    session.CompletedByName,
		Packed:             session.Packed,
		PackedAt:           session.PackedAt,
		PackedByName:       session.PackedByName,
		FaltanteResolution: resolution,
		FaltanteResolvedAt: session.FaltanteResolvedAt,
		FaltanteNotes:      session.FaltanteNotes,
		FulfillmentStatus:  string(session.FulfillmentStatus),
		TotalRequired:      session.TotalRequired(),
		TotalPicked:        session.TotalPicked(),
		TotalMissing:       session.TotalMissing(),
		TotalReceived:      session.TotalReceived(),
		IsComplete:         session.IsComplete(),
		ProgressPercent:    session.ProgressPercent(),
	}
}

// ToLineItemDTO converts a domain LineItemProgress to LineItemDTO
func ToLineItemDTO(item domain.LineItemProgress) LineItemDTO {
	return LineItemDTO{
		LineItemID:       item.LineItemID,
		VariantID:        item.VariantID,
		SKU:              item.SKU,
		Barcode:          item.Barcode,
		Title:            item.Title,
		QuantityRequired: item.QuantityRequired,
		QuantityPicked:   item.QuantityPicked,
		QuantityMissing:  item.QuantityMissing,
		QuantityReceived: item.QuantityReceived,
		PickedAt:         item.PickedAt,
		ScanMethod:       string(item.ScanMethod),
	}
}

// ToLineItemDTOs converts a slice of LineItemProgress to DTOs
func ToLineItemDTOs(items []domain.LineItemProgress) []LineItemDTO {
	dtos := make([]LineItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, ToLineItemDTO(item))
	}
	return dtos
}
