// Package api exposes the loyalty operations as a JSON HTTP API.
//
// Routes:
//
//	GET  /health
//	GET  /status                  UI state and store statistics
//	GET  /clients                 all clients
//	GET  /clients/:id             one client
//	GET  /clients/:id/barcodes    barcodes assigned to a client
//	GET  /clients/:id/history     cleanings recorded for a client
//	GET  /barcodes/unassigned     barcodes ready to hand out
//	POST /barcodes                {"count": n}
//	POST /barcodes/:code/assign   {"name": "...", "phone": "..."}
//	POST /barcodes/:code/scan
//	POST /sync                    pull from the remote store
//
// Errors are returned as {"error_code": "...", "message": "..."}. Not found
// maps to 404, state conflicts to 409, invalid input to 400 and integrity
// or storage failures to 500.
package api
