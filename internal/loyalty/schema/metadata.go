package schema

import (
	"fmt"
	"time"
)

// Well-known metadata keys.
const (
	KeyGeneratedBarcodesCount = "generated_barcodes_count"
	KeyTotalClientsCount      = "total_clients_count"
	KeyLastSyncTimestamp      = "last_sync_timestamp"
	KeyAppVersion             = "app_version"
)

// Metadata is one entry of the key/value counter register.
// Values are string encoded.
type Metadata struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks if the Metadata has valid field values.
func (m *Metadata) Validate() error {
	if m.Key == "" {
		return fmt.Errorf("key is required")
	}
	return nil
}
