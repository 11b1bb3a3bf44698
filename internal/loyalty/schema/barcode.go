package schema

import (
	"fmt"
	"time"
)

const (
	// DiscountThreshold is the number of scans that completes a discount cycle.
	DiscountThreshold = 10

	// DiscountPercentage is the discount granted at the end of a cycle.
	DiscountPercentage = 50
)

// Barcode is a physical tag attached to a carpet.
//
// A barcode starts unassigned, is assigned to exactly one client, and then
// cycles through scans: every DiscountThreshold-th scan issues a discount
// and resets ScanCount to 0.
type Barcode struct {
	Code        string     `json:"code"`
	ClientID    string     `json:"clientId,omitempty"` // empty until assigned
	IsAssigned  bool       `json:"isAssigned"`
	ScanCount   int        `json:"scanCount"`
	CreatedAt   time.Time  `json:"createdAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	LastScanned *time.Time `json:"lastScanned,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Validate checks if the Barcode has valid field values.
func (b *Barcode) Validate() error {
	if b.Code == "" {
		return fmt.Errorf("code is required")
	}
	if b.IsAssigned != (b.ClientID != "") {
		return fmt.Errorf("barcode %s: isAssigned=%t does not match clientId %q", b.Code, b.IsAssigned, b.ClientID)
	}
	if b.ScanCount < 0 || b.ScanCount >= DiscountThreshold {
		return fmt.Errorf("scan count must be between 0 and %d (got %d)", DiscountThreshold-1, b.ScanCount)
	}
	return nil
}

// Assign binds the barcode to a client.
func (b *Barcode) Assign(clientID string, now time.Time) {
	b.ClientID = clientID
	b.IsAssigned = clientID != ""
	b.AssignedAt = &now
}

// RecordScan advances the scan counter and reports the discount earned by
// this scan. newCount is the count including this scan (1..DiscountThreshold).
func (b *Barcode) RecordScan(now time.Time) (newCount, discount int) {
	newCount = b.ScanCount + 1
	if newCount >= DiscountThreshold {
		discount = DiscountPercentage
		b.ScanCount = 0
	} else {
		b.ScanCount = newCount
	}
	b.LastScanned = &now
	return newCount, discount
}
