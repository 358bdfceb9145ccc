package domain

import (
	"crypto/rand"
	"fmt"
	"math"
)

// voucherAlphabet excludes glyphs easy to misread on a printed code
// (I, L, O, 0, 1).
const voucherAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const voucherSuffixLen = 6

// GenerateVoucherCode builds a single-use compensation code scoped to an
// order, shaped VOUCHER-{displayId}-{6 chars}.
func GenerateVoucherCode(orderDisplayID string) (string, error) {
	buf := make([]byte, voucherSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating voucher suffix: %w", err)
	}
	for i := range buf {
		buf[i] = voucherAlphabet[int(buf[i])%len(voucherAlphabet)]
	}
	return fmt.Sprintf("VOUCHER-%s-%s", orderDisplayID, string(buf)), nil
}

// RoundVoucherValue rounds a requested voucher value to the nearest whole
// currency unit.
func RoundVoucherValue(value float64) int {
	return int(math.Round(value))
}
