package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const bookingAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// BookingCodeLength is the number of random characters after the prefix.
const BookingCodeLength = 9

// GenerateBookingCode returns prefix followed by nine random uppercase
// alphanumerics, e.g. TICKET-7QK2M9ZB1.
func GenerateBookingCode(prefix string) (string, error) {
	buf := make([]byte, BookingCodeLength)
	max := big.NewInt(int64(len(bookingAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate booking code: %w", err)
		}
		buf[i] = bookingAlphabet[n.Int64()]
	}
	return prefix + string(buf), nil
}
