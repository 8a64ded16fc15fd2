package format

import (
	"fmt"
	"time"
)

// FormatInvoiceNumber renders a human-readable invoice number from the
// configured prefix, the issue month, and a monotonic per-month sequence.
// Shape: <PREFIX>-<YYYYMM>-<SEQ zero padded to 5 digits>.
//
// This function is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
func FormatInvoiceNumber(prefix string, issuedAt time.Time, seq int64) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("invoice number prefix is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}
	return fmt.Sprintf("%s-%s-%05d", prefix, issuedAt.Format("200601"), seq), nil
}

// Period returns the YYYYMM key the sequence counter is scoped to.
func Period(issuedAt time.Time) string {
	return issuedAt.Format("200601")
}
