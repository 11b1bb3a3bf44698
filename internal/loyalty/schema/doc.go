// Package schema defines the loyalty entities and their remote document format.
//
// # Overview
//
// Four entities are tracked: clients, barcode tags, the cleaning history
// ledger, and a small metadata register of counters. Each entity is stored
// as a row in the local database and mirrored as one flat document per
// record in a remote collection:
//
//	clients           keyed by Client.ID
//	barcodes          keyed by Barcode.Code
//	cleaning_history  keyed by CleaningHistory.ID
//	app_metadata      keyed by Metadata.Key
//
// # Timestamps
//
// All timestamps have millisecond resolution. Documents carry them as
// int64 unix milliseconds. UpdatedAt is the last-write-wins clock used by
// the sync manager.
//
// # Decoding
//
// Remote documents are decoded leniently: a missing or mistyped field is
// replaced by its zero default (counters 0, flags false, nullable fields
// nil) instead of failing the whole pull. Only a document without a usable
// key yields a *ParseError.
//
// Example:
//
//	fields := schema.EncodeBarcode(b)
//	back, err := schema.DecodeBarcode(b.Code, fields)
package schema
