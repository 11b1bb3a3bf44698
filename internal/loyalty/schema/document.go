package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Remote collection names.
const (
	CollectionClients  = "clients"
	CollectionBarcodes = "barcodes"
	CollectionHistory  = "cleaning_history"
	CollectionMetadata = "app_metadata"
)

// Fields is the flat field map of a remote document.
type Fields = map[string]any

// ParseError reports a remote document that could not be turned into an entity.
type ParseError struct {
	Collection string
	Key        string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s document %q: %s", e.Collection, e.Key, e.Reason)
}

// EncodeClient converts a client to its remote document fields.
func EncodeClient(c *Client) Fields {
	return Fields{
		"name":           c.Name,
		"phoneNumber":    c.PhoneNumber,
		"totalCleanings": int64(c.TotalCleanings),
		"discountsUsed":  int64(c.DiscountsUsed),
		"createdAt":      Millis(c.CreatedAt),
		"lastVisit":      Millis(c.LastVisit),
		"updatedAt":      Millis(c.UpdatedAt),
	}
}

// DecodeClient builds a client from a remote document keyed by id.
func DecodeClient(id string, f Fields) (*Client, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ParseError{Collection: CollectionClients, Key: id, Reason: "empty document key"}
	}
	return &Client{
		ID:             id,
		Name:           stringField(f, "name"),
		PhoneNumber:    stringField(f, "phoneNumber"),
		TotalCleanings: intField(f, "totalCleanings"),
		DiscountsUsed:  intField(f, "discountsUsed"),
		CreatedAt:      FromMillis(millisField(f, "createdAt")),
		LastVisit:      FromMillis(millisField(f, "lastVisit")),
		UpdatedAt:      FromMillis(millisField(f, "updatedAt")),
	}, nil
}

// EncodeBarcode converts a barcode to its remote document fields.
func EncodeBarcode(b *Barcode) Fields {
	var clientID any
	if b.ClientID != "" {
		clientID = b.ClientID
	}
	return Fields{
		"clientId":    clientID,
		"isAssigned":  b.IsAssigned,
		"scanCount":   int64(b.ScanCount),
		"createdAt":   Millis(b.CreatedAt),
		"assignedAt":  millisPtr(b.AssignedAt),
		"lastScanned": millisPtr(b.LastScanned),
		"updatedAt":   Millis(b.UpdatedAt),
	}
}

// DecodeBarcode builds a barcode from a remote document keyed by code.
//
// IsAssigned is derived from the presence of a client id so that a
// document with inconsistent fields still satisfies the local invariant.
func DecodeBarcode(code string, f Fields) (*Barcode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &ParseError{Collection: CollectionBarcodes, Key: code, Reason: "empty document key"}
	}
	b := &Barcode{
		Code:        code,
		ClientID:    stringField(f, "clientId"),
		ScanCount:   intField(f, "scanCount"),
		CreatedAt:   FromMillis(millisField(f, "createdAt")),
		AssignedAt:  timePtr(millisField(f, "assignedAt")),
		LastScanned: timePtr(millisField(f, "lastScanned")),
		UpdatedAt:   FromMillis(millisField(f, "updatedAt")),
	}
	b.IsAssigned = b.ClientID != ""
	if b.ScanCount < 0 || b.ScanCount >= DiscountThreshold {
		b.ScanCount = 0
	}
	return b, nil
}

// EncodeHistory converts a history entry to its remote document fields.
func EncodeHistory(h *CleaningHistory) Fields {
	return Fields{
		"clientId":           h.ClientID,
		"barcodeId":          h.BarcodeID,
		"cleaningDate":       Millis(h.CleaningDate),
		"discountApplied":    h.DiscountApplied,
		"discountPercentage": int64(h.DiscountPercentage),
		"updatedAt":          Millis(h.UpdatedAt),
	}
}

// DecodeHistory builds a history entry from a remote document keyed by id.
func DecodeHistory(id string, f Fields) (*CleaningHistory, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ParseError{Collection: CollectionHistory, Key: id, Reason: "empty document key"}
	}
	h := &CleaningHistory{
		ID:                 id,
		ClientID:           stringField(f, "clientId"),
		BarcodeID:          stringField(f, "barcodeId"),
		CleaningDate:       FromMillis(millisField(f, "cleaningDate")),
		DiscountPercentage: intField(f, "discountPercentage"),
		UpdatedAt:          FromMillis(millisField(f, "updatedAt")),
	}
	if h.DiscountPercentage != 0 && h.DiscountPercentage != DiscountPercentage {
		h.DiscountPercentage = 0
	}
	h.DiscountApplied = h.DiscountPercentage > 0
	if h.ClientID == "" {
		return nil, &ParseError{Collection: CollectionHistory, Key: id, Reason: "missing clientId"}
	}
	return h, nil
}

// EncodeMetadata converts a metadata entry to its remote document fields.
func EncodeMetadata(m *Metadata) Fields {
	return Fields{
		"key":       m.Key,
		"value":     m.Value,
		"updatedAt": Millis(m.UpdatedAt),
	}
}

// DecodeMetadata builds a metadata entry from a remote document.
// The "key" field wins over the document key when both are present.
func DecodeMetadata(docKey string, f Fields) (*Metadata, error) {
	key := stringField(f, "key")
	if key == "" {
		key = strings.TrimSpace(docKey)
	}
	if key == "" {
		return nil, &ParseError{Collection: CollectionMetadata, Key: docKey, Reason: "empty metadata key"}
	}
	return &Metadata{
		Key:       key,
		Value:     stringField(f, "value"),
		UpdatedAt: FromMillis(millisField(f, "updatedAt")),
	}, nil
}

// stringField returns f[name] as a string, or "" when absent or not a string.
// Numbers are formatted so that counters stored as numbers by other clients
// still read back as their decimal value.
func stringField(f Fields, name string) string {
	switch v := f[name].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		if v == math.Trunc(v) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func int64Field(f Fields, name string) (int64, bool) {
	switch v := f[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		if fl, err := v.Float64(); err == nil {
			return int64(fl), true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func intField(f Fields, name string) int {
	n, _ := int64Field(f, name)
	if n < 0 || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

// millisField reads a timestamp as unix milliseconds. RFC3339 strings are
// accepted for documents written by tools that prefer readable times.
func millisField(f Fields, name string) int64 {
	if n, ok := int64Field(f, name); ok {
		if n < 0 {
			return 0
		}
		return n
	}
	if s, ok := f[name].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
