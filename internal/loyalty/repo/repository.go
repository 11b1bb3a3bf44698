// Package repo implements the business operations of the loyalty program:
// barcode generation, assignment of barcodes to clients, and scan
// recording with the ten-scan discount rule.
//
// Every operation runs inside one local transaction, so a failure leaves
// no partial state behind. Assignment and scanning additionally hold a
// per-code lock, which serialises concurrent scans of the same tag while
// scans of different tags proceed in parallel.
//
// The repository never talks to the network except for the metadata push
// that follows barcode generation. Propagating entity changes to the
// cloud is the sync manager's job.
package repo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// Config controls barcode formatting and generation limits.
type Config struct {
	// BarcodePrefix starts every generated code.
	BarcodePrefix string

	// BarcodeWidth is the zero-padded width of the numeric suffix.
	BarcodeWidth int

	// MaxGenerate caps the count accepted by GenerateBarcodes.
	MaxGenerate int
}

// DefaultConfig returns the configuration that produces PDC000001 style codes.
func DefaultConfig() Config {
	return Config{
		BarcodePrefix: "PDC",
		BarcodeWidth:  6,
		MaxGenerate:   1000,
	}
}

// Stats summarises the local store.
type Stats = db.Stats

// ScanResult describes the outcome of one scan.
type ScanResult struct {
	// Client is the owning client after the scan was applied.
	Client *schema.Client `json:"client"`

	// Barcode is the scanned barcode after the scan was applied.
	Barcode *schema.Barcode `json:"barcode"`

	// History is the ledger entry recorded for this scan.
	History *schema.CleaningHistory `json:"history"`

	// ScanCount is the position of this scan in the discount cycle,
	// from 1 to schema.DiscountThreshold.
	ScanCount int `json:"scanCount"`

	// IsDiscountEligible is true when this scan completed a cycle.
	IsDiscountEligible bool `json:"isDiscountEligible"`

	// DiscountPercentage is 0 or schema.DiscountPercentage.
	DiscountPercentage int `json:"discountPercentage"`
}

// Repository runs business operations against the local store.
type Repository struct {
	db     *db.DB
	meta   *metadata.Manager
	clock  clock.Clock
	cfg    Config
	logger *log.Logger
	locks  *keyLocks
	newID  func() string
}

// New creates a Repository.
//
// If clk is nil a monotonic system clock is used. If logger is nil, a
// default logger writing to stderr is used. Zero Config fields take their
// DefaultConfig values.
func New(database *db.DB, meta *metadata.Manager, clk clock.Clock, cfg Config, logger *log.Logger) *Repository {
	defaults := DefaultConfig()
	if cfg.BarcodePrefix == "" {
		cfg.BarcodePrefix = defaults.BarcodePrefix
	}
	if cfg.BarcodeWidth <= 0 {
		cfg.BarcodeWidth = defaults.BarcodeWidth
	}
	if cfg.MaxGenerate <= 0 {
		cfg.MaxGenerate = defaults.MaxGenerate
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[repo] ", log.LstdFlags)
	}
	return &Repository{
		db:     database,
		meta:   meta,
		clock:  clk,
		cfg:    cfg,
		logger: logger,
		locks:  newKeyLocks(),
		newID:  uuid.NewString,
	}
}

// FormatCode renders a barcode code for sequence number seq.
func (r *Repository) FormatCode(seq int) string {
	return fmt.Sprintf("%s%0*d", r.cfg.BarcodePrefix, r.cfg.BarcodeWidth, seq)
}

// GenerateBarcodes creates count new unassigned barcodes and returns their codes.
//
// Sequence numbers continue from the larger of the generated barcode
// counter and the highest existing code, so a stale counter pulled from
// the cloud never reissues a code. The counter is advanced in the same
// transaction. After commit the metadata is pushed to the cloud; a push
// failure is logged and does not fail the call.
func (r *Repository) GenerateBarcodes(ctx context.Context, count int) ([]string, error) {
	if count < 1 || count > r.cfg.MaxGenerate {
		return nil, newFailure(KindInvalid, ErrInvalidInput, "invalid_count",
			fmt.Sprintf("Count must be between 1 and %d", r.cfg.MaxGenerate))
	}

	var codes []string
	err := r.db.WithTx(ctx, func(q *db.Queries) error {
		current, err := r.meta.GeneratedBarcodesCountTx(ctx, q)
		if err != nil {
			return err
		}
		highest, err := q.MaxBarcodeSequence(ctx, r.cfg.BarcodePrefix)
		if err != nil {
			return err
		}
		seed := max(current, highest)

		codes = make([]string, 0, count)
		for i := 1; i <= count; i++ {
			now := r.clock.Now()
			b := &schema.Barcode{
				Code:      r.FormatCode(seed + i),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := q.InsertBarcode(ctx, b); err != nil {
				return err
			}
			codes = append(codes, b.Code)
		}

		return r.meta.SetGeneratedBarcodesCountTx(ctx, q, seed+count)
	})
	if err != nil {
		return nil, storageFailure(ErrGeneration, "generation_failed", "Failed to generate barcodes", err)
	}

	r.logger.Printf("Generated %d barcodes (%s..%s)", len(codes), codes[0], codes[len(codes)-1])

	if _, err := r.meta.SyncMetadataToCloud(ctx); err != nil {
		r.logger.Printf("Metadata push after generation failed: %v", err)
	}

	return codes, nil
}

// AssignBarcodeToClient binds an unassigned barcode to the client with the
// given phone number, creating the client if needed.
//
// An existing client is renamed when name differs from the stored name.
// The total client count metadata is refreshed from the store. Returns the
// resolved client.
func (r *Repository) AssignBarcodeToClient(ctx context.Context, code, name, phone string) (*schema.Client, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	switch {
	case code == "":
		return nil, newFailure(KindInvalid, ErrInvalidInput, "invalid_code", "Barcode code is required")
	case name == "":
		return nil, newFailure(KindInvalid, ErrInvalidInput, "invalid_name", "Client name is required")
	case phone == "":
		return nil, newFailure(KindInvalid, ErrInvalidInput, "invalid_phone", "Phone number is required")
	}

	unlock := r.locks.lock(code)
	defer unlock()

	var client *schema.Client
	err := r.db.WithTx(ctx, func(q *db.Queries) error {
		b, err := r.loadBarcode(ctx, q, code)
		if err != nil {
			return err
		}
		if b.IsAssigned {
			return newFailure(KindConflict, ErrBarcodeAlreadyAssigned, "barcode_already_assigned", "Barcode already assigned")
		}

		now := r.clock.Now()
		client, err = q.GetClientByPhone(ctx, phone)
		switch {
		case db.IsNotFound(err):
			client = &schema.Client{
				ID:          r.newID(),
				Name:        name,
				PhoneNumber: phone,
				CreatedAt:   now,
				LastVisit:   now,
				UpdatedAt:   now,
			}
			if err := client.Validate(); err != nil {
				return newFailure(KindInvalid, ErrInvalidInput, "invalid_client", err.Error())
			}
			if err := q.InsertClient(ctx, client); err != nil {
				return err
			}
		case err != nil:
			return err
		case client.Name != name:
			client.Name = name
			client.UpdatedAt = now
			if err := q.UpdateClient(ctx, client); err != nil {
				return err
			}
		}

		b.Assign(client.ID, now)
		b.UpdatedAt = now
		if err := q.UpdateBarcode(ctx, b); err != nil {
			return err
		}

		total, err := q.CountClients(ctx)
		if err != nil {
			return err
		}
		return r.meta.SetTotalClientsCountTx(ctx, q, total)
	})
	if err != nil {
		return nil, asFailure(err, "assign_failed", "Failed to assign barcode")
	}

	r.logger.Printf("Assigned %s to %s (%s)", code, client.Name, client.ID)
	return client, nil
}

// ScanBarcode records one cleaning for the client owning code.
//
// The scan counter advances by one. The scan that brings it to
// schema.DiscountThreshold grants a schema.DiscountPercentage discount and
// resets the counter to 0. The client's totals and a new history entry are
// written in the same transaction.
func (r *Repository) ScanBarcode(ctx context.Context, code string) (*ScanResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, newFailure(KindInvalid, ErrInvalidInput, "invalid_code", "Barcode code is required")
	}

	unlock := r.locks.lock(code)
	defer unlock()

	var result *ScanResult
	err := r.db.WithTx(ctx, func(q *db.Queries) error {
		b, err := r.loadBarcode(ctx, q, code)
		if err != nil {
			return err
		}
		if !b.IsAssigned || b.ClientID == "" {
			return newFailure(KindConflict, ErrBarcodeNotAssigned, "barcode_not_assigned", "Barcode not assigned")
		}

		client, err := q.GetClientByID(ctx, b.ClientID)
		if db.IsNotFound(err) {
			return newFailure(KindIntegrity, ErrClientMissing, "client_missing", "Client not found")
		}
		if err != nil {
			return err
		}

		now := r.clock.Now()
		newCount, discount := b.RecordScan(now)
		b.UpdatedAt = now
		if err := q.UpdateBarcode(ctx, b); err != nil {
			return err
		}

		client.TotalCleanings++
		if discount > 0 {
			client.DiscountsUsed++
		}
		client.LastVisit = now
		client.UpdatedAt = now
		if err := q.UpdateClient(ctx, client); err != nil {
			return err
		}

		h := &schema.CleaningHistory{
			ID:                 r.newID(),
			ClientID:           client.ID,
			BarcodeID:          b.Code,
			CleaningDate:       now,
			DiscountApplied:    discount > 0,
			DiscountPercentage: discount,
			UpdatedAt:          now,
		}
		if err := q.InsertHistory(ctx, h); err != nil {
			return err
		}

		result = &ScanResult{
			Client:             client,
			Barcode:            b,
			History:            h,
			ScanCount:          newCount,
			IsDiscountEligible: discount > 0,
			DiscountPercentage: discount,
		}
		return nil
	})
	if err != nil {
		return nil, asFailure(err, "scan_failed", "Failed to scan barcode")
	}

	if result.IsDiscountEligible {
		r.logger.Printf("Scan %s: %s earned %d%% discount", code, result.Client.Name, result.DiscountPercentage)
	}
	return result, nil
}

func (r *Repository) loadBarcode(ctx context.Context, q *db.Queries, code string) (*schema.Barcode, error) {
	b, err := q.GetBarcode(ctx, code)
	if db.IsNotFound(err) {
		return nil, newFailure(KindNotFound, ErrBarcodeNotFound, "barcode_not_found", "Barcode not found")
	}
	return b, err
}

// Clients returns all clients ordered by name.
func (r *Repository) Clients(ctx context.Context) ([]*schema.Client, error) {
	return r.db.ListClients(ctx)
}

// Client returns one client by id.
func (r *Repository) Client(ctx context.Context, id string) (*schema.Client, error) {
	c, err := r.db.GetClientByID(ctx, id)
	if db.IsNotFound(err) {
		return nil, newFailure(KindNotFound, fmt.Errorf("%w: %w", ErrClientMissing, err), "client_not_found", "Client not found")
	}
	return c, err
}

// ClientByPhone returns the client enrolled with phone.
func (r *Repository) ClientByPhone(ctx context.Context, phone string) (*schema.Client, error) {
	c, err := r.db.GetClientByPhone(ctx, strings.TrimSpace(phone))
	if db.IsNotFound(err) {
		return nil, newFailure(KindNotFound, fmt.Errorf("%w: %w", ErrClientMissing, err), "client_not_found", "Client not found")
	}
	return c, err
}

// Barcode returns one barcode by code.
func (r *Repository) Barcode(ctx context.Context, code string) (*schema.Barcode, error) {
	b, err := r.db.GetBarcode(ctx, strings.TrimSpace(code))
	if db.IsNotFound(err) {
		return nil, newFailure(KindNotFound, ErrBarcodeNotFound, "barcode_not_found", "Barcode not found")
	}
	return b, err
}

// Barcodes returns every barcode ordered by code.
func (r *Repository) Barcodes(ctx context.Context) ([]*schema.Barcode, error) {
	return r.db.ListBarcodes(ctx)
}

// UnassignedBarcodes returns barcodes not yet bound to a client.
func (r *Repository) UnassignedBarcodes(ctx context.Context) ([]*schema.Barcode, error) {
	return r.db.ListUnassignedBarcodes(ctx)
}

// UnassignedCount returns the number of unassigned barcodes.
func (r *Repository) UnassignedCount(ctx context.Context) (int, error) {
	return r.db.CountUnassignedBarcodes(ctx)
}

// ClientBarcodes returns the barcodes assigned to a client.
func (r *Repository) ClientBarcodes(ctx context.Context, clientID string) ([]*schema.Barcode, error) {
	return r.db.ListClientBarcodes(ctx, clientID)
}

// ClientHistory returns one client's cleaning history, newest first.
func (r *Repository) ClientHistory(ctx context.Context, clientID string) ([]*schema.CleaningHistory, error) {
	return r.db.ListClientHistory(ctx, clientID)
}

// History returns the full cleaning history, newest first.
func (r *Repository) History(ctx context.Context) ([]*schema.CleaningHistory, error) {
	return r.db.ListHistory(ctx)
}

// HistorySince returns cleanings on or after since, newest first.
func (r *Repository) HistorySince(ctx context.Context, since time.Time) ([]*schema.CleaningHistory, error) {
	return r.db.ListHistorySince(ctx, since)
}

// Stats returns store totals. Loyal clients have completed at least one
// full discount cycle worth of cleanings.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	return r.db.GetStats(ctx, schema.DiscountThreshold)
}

// WatchClients streams all clients.
func (r *Repository) WatchClients(ctx context.Context) <-chan []*schema.Client {
	return r.db.WatchClients(ctx)
}

// WatchUnassignedBarcodes streams barcodes not yet bound to a client.
func (r *Repository) WatchUnassignedBarcodes(ctx context.Context) <-chan []*schema.Barcode {
	return r.db.WatchUnassignedBarcodes(ctx)
}

// WatchClientBarcodes streams one client's barcodes.
func (r *Repository) WatchClientBarcodes(ctx context.Context, clientID string) <-chan []*schema.Barcode {
	return r.db.WatchClientBarcodes(ctx, clientID)
}

// WatchClientHistory streams one client's cleaning history.
func (r *Repository) WatchClientHistory(ctx context.Context, clientID string) <-chan []*schema.CleaningHistory {
	return r.db.WatchClientHistory(ctx, clientID)
}

// VerifyBarcodes checks that isAssigned mirrors clientId and that scan
// counters are in range for every stored barcode.
func (r *Repository) VerifyBarcodes(ctx context.Context) error {
	barcodes, err := r.db.ListBarcodes(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, b := range barcodes {
		if err := b.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
