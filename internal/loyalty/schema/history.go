package schema

import (
	"fmt"
	"time"
)

// CleaningHistory is one entry of the append-only visit ledger.
type CleaningHistory struct {
	ID                 string    `json:"id"`
	ClientID           string    `json:"clientId"`
	BarcodeID          string    `json:"barcodeId"`
	CleaningDate       time.Time `json:"cleaningDate"`
	DiscountApplied    bool      `json:"discountApplied"`
	DiscountPercentage int       `json:"discountPercentage"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Validate checks if the CleaningHistory has valid field values.
func (h *CleaningHistory) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("id is required")
	}
	if h.ClientID == "" {
		return fmt.Errorf("client id is required")
	}
	if h.DiscountPercentage != 0 && h.DiscountPercentage != DiscountPercentage {
		return fmt.Errorf("discount percentage must be 0 or %d (got %d)", DiscountPercentage, h.DiscountPercentage)
	}
	if h.DiscountApplied != (h.DiscountPercentage > 0) {
		return fmt.Errorf("discountApplied=%t does not match percentage %d", h.DiscountApplied, h.DiscountPercentage)
	}
	return nil
}
