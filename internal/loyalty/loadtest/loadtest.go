// Package loadtest drives concurrent scans through the business repository.
//
// Workers scan an overlapping set of assigned barcodes so several
// goroutines contend for the same code. After the run every touched
// barcode and client is checked against the number of scans that
// succeeded:
//   - client total cleanings == successful scans
//   - client discounts used == successful scans / 10
//   - barcode scan count == successful scans % 10
//   - cleaning history entries == successful scans
package loadtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// Options controls a load test run.
type Options struct {
	// Workers is the number of concurrent scanning goroutines.
	Workers int

	// ScansPerWorker is the number of scans each worker performs.
	ScansPerWorker int

	// Barcodes is the number of barcodes generated and assigned before
	// the run. Ignored when Codes is set.
	Barcodes int

	// Codes scans existing assigned barcodes instead of creating new ones.
	Codes []string
}

// DefaultOptions returns a moderate run: 20 workers, 50 scans each, 10 codes.
func DefaultOptions() Options {
	return Options{
		Workers:        20,
		ScansPerWorker: 50,
		Barcodes:       10,
	}
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalScans int
	Errors     int
}

// Result is the outcome of a run.
type Result struct {
	Stats      *LatencyStats
	Duration   time.Duration
	Successful int
	Discounts  int

	// PerCode counts successful scans by barcode.
	PerCode map[string]int

	// Violations lists every invariant that did not hold after the run.
	Violations []string
}

// OK reports whether the run had no errors and no violations.
func (r *Result) OK() bool {
	return r.Stats.Errors == 0 && len(r.Violations) == 0
}

// Setup generates n barcodes and assigns each to a new client.
func Setup(ctx context.Context, r *repo.Repository, n int) ([]string, error) {
	codes, err := r.GenerateBarcodes(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to generate barcodes: %w", err)
	}
	for i, code := range codes {
		name := fmt.Sprintf("Load Client %d", i+1)
		phone := fmt.Sprintf("555-%04d", i+1)
		if _, err := r.AssignBarcodeToClient(ctx, code, name, phone); err != nil {
			return nil, fmt.Errorf("failed to assign %s: %w", code, err)
		}
	}
	return codes, nil
}

// Run performs the scans and verifies the resulting store state.
//
// Worker w scans codes[(w+j) % len(codes)] on its j-th iteration, so at
// any moment several workers are scanning the same code.
func Run(ctx context.Context, r *repo.Repository, opts Options) (*Result, error) {
	if opts.Workers <= 0 || opts.ScansPerWorker <= 0 {
		return nil, fmt.Errorf("workers and scans per worker must be positive")
	}

	codes := opts.Codes
	if len(codes) == 0 {
		if opts.Barcodes <= 0 {
			return nil, fmt.Errorf("barcodes must be positive")
		}
		var err error
		codes, err = Setup(ctx, r, opts.Barcodes)
		if err != nil {
			return nil, err
		}
	}

	baseline, err := snapshot(ctx, r, codes)
	if err != nil {
		return nil, err
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations = make([]time.Duration, 0, opts.Workers*opts.ScansPerWorker)
		perCode   = make(map[string]int, len(codes))
		errCount  int
		discounts int
	)

	start := time.Now()
	for w := 0; w < opts.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < opts.ScansPerWorker; j++ {
				if ctx.Err() != nil {
					return
				}
				code := codes[(worker+j)%len(codes)]

				t := time.Now()
				res, err := r.ScanBarcode(ctx, code)
				elapsed := time.Since(t)

				mu.Lock()
				durations = append(durations, elapsed)
				if err != nil {
					errCount++
				} else {
					perCode[code]++
					if res.IsDiscountEligible {
						discounts++
					}
				}
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Stats:     computeLatencyStats(durations),
		Duration:  time.Since(start),
		Discounts: discounts,
		PerCode:   perCode,
	}
	result.Stats.Errors = errCount
	for _, n := range perCode {
		result.Successful += n
	}

	violations, err := verify(ctx, r, baseline, perCode)
	if err != nil {
		return nil, err
	}
	result.Violations = violations
	return result, nil
}

// codeState is the per-barcode state captured before a run.
type codeState struct {
	clientID  string
	scanCount int
	cleanings int
	discounts int
	history   int
}

func snapshot(ctx context.Context, r *repo.Repository, codes []string) (map[string]codeState, error) {
	states := make(map[string]codeState, len(codes))
	owners := make(map[string]string, len(codes))
	for _, code := range codes {
		b, err := r.Barcode(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("failed to load barcode %s: %w", code, err)
		}
		if !b.IsAssigned {
			return nil, fmt.Errorf("barcode %s is not assigned", code)
		}
		if other, ok := owners[b.ClientID]; ok {
			return nil, fmt.Errorf("barcodes %s and %s share client %s", other, code, b.ClientID)
		}
		owners[b.ClientID] = code

		c, err := r.Client(ctx, b.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to load client %s: %w", b.ClientID, err)
		}
		h, err := r.ClientHistory(ctx, b.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to load history for %s: %w", b.ClientID, err)
		}
		states[code] = codeState{
			clientID:  b.ClientID,
			scanCount: b.ScanCount,
			cleanings: c.TotalCleanings,
			discounts: c.DiscountsUsed,
			history:   len(h),
		}
	}
	return states, nil
}

func verify(ctx context.Context, r *repo.Repository, baseline map[string]codeState, perCode map[string]int) ([]string, error) {
	after, err := snapshot(ctx, r, sortedKeys(baseline))
	if err != nil {
		return nil, err
	}

	var violations []string
	for _, code := range sortedKeys(baseline) {
		before, now, n := baseline[code], after[code], perCode[code]
		check := func(what string, got, want int) {
			if got != want {
				violations = append(violations, fmt.Sprintf("%s: %s = %d, want %d", code, what, got, want))
			}
		}

		check("total cleanings", now.cleanings, before.cleanings+n)
		check("history entries", now.history, before.history+n)
		check("discounts used", now.discounts,
			before.discounts+(before.scanCount+n)/schema.DiscountThreshold)
		check("scan count", now.scanCount, (before.scanCount+n)%schema.DiscountThreshold)
	}
	return violations, nil
}

func sortedKeys(m map[string]codeState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalScans: len(sorted),
	}
}

// PrintStats formats latency statistics.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Scans:   %d\n", s.TotalScans)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
