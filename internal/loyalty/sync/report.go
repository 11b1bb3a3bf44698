package sync

import (
	"fmt"
	"strings"
	"time"
)

// CollectionReport counts the outcome of syncing one collection.
type CollectionReport struct {
	Collection string        `json:"collection"`
	Cloud      int           `json:"cloud"`
	Local      int           `json:"local"`
	Inserted   int           `json:"inserted"`
	Updated    int           `json:"updated"`
	Pushed     int           `json:"pushed"`
	Unchanged  int           `json:"unchanged"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// Changed reports whether the pass wrote anything on either side.
func (r *CollectionReport) Changed() bool {
	return r.Inserted+r.Updated+r.Pushed > 0
}

func (r *CollectionReport) String() string {
	return fmt.Sprintf("%s: cloud=%d local=%d inserted=%d updated=%d pushed=%d unchanged=%d skipped=%d",
		r.Collection, r.Cloud, r.Local, r.Inserted, r.Updated, r.Pushed, r.Unchanged, r.Skipped)
}

// Report summarises a SyncAll pass.
type Report struct {
	StartTime   time.Time           `json:"start_time"`
	Duration    time.Duration       `json:"duration"`
	Collections []*CollectionReport `json:"collections"`
	Err         string              `json:"error,omitempty"`
}

// Collection returns the report for name, or nil if it did not run.
func (r *Report) Collection(name string) *CollectionReport {
	for _, c := range r.Collections {
		if c.Collection == name {
			return c
		}
	}
	return nil
}

// Pushed returns the number of documents written to the remote store.
func (r *Report) Pushed() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Pushed
	}
	return n
}

// Pulled returns the number of local records written from remote documents.
func (r *Report) Pulled() int {
	n := 0
	for _, c := range r.Collections {
		n += c.Inserted + c.Updated
	}
	return n
}

// Changed reports whether any collection wrote anything.
func (r *Report) Changed() bool {
	for _, c := range r.Collections {
		if c.Changed() {
			return true
		}
	}
	return false
}

func (r *Report) String() string {
	parts := make([]string, 0, len(r.Collections))
	for _, c := range r.Collections {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, "; ")
}
