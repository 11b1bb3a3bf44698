package schema

import (
	"fmt"
	"time"
)

// Client is a customer enrolled in the loyalty program.
// PhoneNumber is the natural key used to avoid duplicate enrolment.
type Client struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PhoneNumber    string    `json:"phoneNumber"`
	TotalCleanings int       `json:"totalCleanings"`
	DiscountsUsed  int       `json:"discountsUsed"`
	CreatedAt      time.Time `json:"createdAt"`
	LastVisit      time.Time `json:"lastVisit"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Validate checks if the Client has valid field values.
func (c *Client) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.PhoneNumber == "" {
		return fmt.Errorf("phone number is required")
	}
	if len(c.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(c.Name))
	}
	if c.TotalCleanings < 0 {
		return fmt.Errorf("total cleanings must not be negative (got %d)", c.TotalCleanings)
	}
	if c.DiscountsUsed < 0 {
		return fmt.Errorf("discounts used must not be negative (got %d)", c.DiscountsUsed)
	}
	return nil
}

// IsLoyal reports whether the client has reached a full discount cycle.
func (c *Client) IsLoyal() bool {
	return c.TotalCleanings >= DiscountThreshold
}
