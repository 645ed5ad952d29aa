package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// SaleNumber builds a human-readable sale number unique within a business.
// Nanosecond resolution keeps collisions out of reach at small-retail volume.
func SaleNumber(businessID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", businessID, at.UnixNano())
}
