package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Generate returns a uniformly sampled numeric code of exactly length digits.
// Each digit is drawn independently from crypto/rand so the code carries no
// bias toward shorter numbers and leading zeros are preserved.
func Generate(length int) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("otp length must be positive, got %d", length)
	}
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate otp digit: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
