package app

import (
	"context"

	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// Clients streams every client ordered by name.
func (a *App) Clients(ctx context.Context) <-chan []*schema.Client {
	return a.repo.WatchClients(ctx)
}

// UnassignedBarcodes streams barcodes that are ready to hand out.
func (a *App) UnassignedBarcodes(ctx context.Context) <-chan []*schema.Barcode {
	return a.repo.WatchUnassignedBarcodes(ctx)
}

// ClientBarcodes streams the barcodes assigned to one client.
func (a *App) ClientBarcodes(ctx context.Context, clientID string) <-chan []*schema.Barcode {
	return a.repo.WatchClientBarcodes(ctx, clientID)
}

// ClientHistory streams one client's cleanings, newest first.
func (a *App) ClientHistory(ctx context.Context, clientID string) <-chan []*schema.CleaningHistory {
	return a.repo.WatchClientHistory(ctx, clientID)
}

// Stats returns store counts for status displays.
func (a *App) Stats(ctx context.Context) (*repo.Stats, error) {
	return a.repo.Stats(ctx)
}
