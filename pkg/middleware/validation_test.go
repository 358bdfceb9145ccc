package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomValidators(t *testing.T) {
	v := GetValidator()

	tests := []struct {
		name    string
		tag     string
		value   string
		wantErr bool
	}{
		{name: "Valid SKU", tag: "sku", value: "SKU-001", wantErr: false},
		{name: "Lowercase SKU rejected", tag: "sku", value: "sku-001", wantErr: true},
		{name: "Too short SKU rejected", tag: "sku", value: "AB", wantErr: true},
		{name: "Valid EAN barcode", tag: "barcode", value: "7801234567890", wantErr: false},
		{name: "Short barcode rejected", tag: "barcode", value: "123", wantErr: true},
		{name: "Barcode with spaces rejected", tag: "barcode", value: "78 1234", wantErr: true},
		{name: "Barcode scan method", tag: "scan_method", value: "barcode", wantErr: false},
		{name: "Manual scan method", tag: "scan_method", value: "manual", wantErr: false},
		{name: "Unknown scan method rejected", tag: "scan_method", value: "rfid", wantErr: true},
		{name: "Voucher resolution", tag: "resolution", value: "voucher", wantErr: false},
		{name: "Waiting resolution", tag: "resolution", value: "waiting", wantErr: false},
		{name: "Resolved resolution", tag: "resolution", value: "resolved", wantErr: false},
		{name: "Refund resolution rejected", tag: "resolution", value: "refund", wantErr: true},
		{name: "Safe string", tag: "safe_string", value: "cliente no encontrado", wantErr: false},
		{name: "Null byte rejected", tag: "safe_string", value: "abc\x00def", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Var(tt.value, tt.tag)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBindingTagsCoverRequestFields(t *testing.T) {
	v := GetValidator()

	type pickRequest struct {
		LineItemID string `json:"lineItemId"`
		Barcode    string `json:"barcode" validate:"omitempty,barcode"`
		Method     string `json:"method" validate:"omitempty,scan_method"`
	}

	assert.NoError(t, v.Struct(pickRequest{Barcode: "7801234567890", Method: "barcode"}))
	assert.NoError(t, v.Struct(pickRequest{LineItemID: "line-1"}))
	assert.Error(t, v.Struct(pickRequest{Method: "rfid"}))
}
