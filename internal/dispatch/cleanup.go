package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aperture-photos/aperture/internal/logger"
	"github.com/aperture-photos/aperture/internal/storage"
	"github.com/aperture-photos/aperture/internal/store"
)

const cleanupBatchSize = 100

type CleanupDependencies struct {
	Storage storage.Storage
	Tickets store.TicketStore
}

type CleanupStats struct {
	TicketsCleaned      int
	StorageDeleteErrors int
	StoreDeleteErrors   int
}

// RunCleanup sweeps tickets that expired without being finalized. The raw
// object a client may have uploaded against the ticket goes first, then the
// ticket row. Consumed tickets are never touched here; their raw objects
// belong to the ingest pipeline.
func RunCleanup(ctx context.Context, deps *CleanupDependencies) (*CleanupStats, error) {
	log := logger.FromContext(ctx)
	start := time.Now()
	stats := &CleanupStats{}

	for {
		tickets, err := deps.Tickets.ListExpiredTickets(ctx, time.Now(), cleanupBatchSize)
		if err != nil {
			return stats, fmt.Errorf("list expired tickets: %w", err)
		}
		if len(tickets) == 0 {
			break
		}

		for _, t := range tickets {
			if err := deps.Storage.Delete(ctx, t.RawObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Warn("failed to delete abandoned raw object",
					"ticket_id", t.TicketID,
					"key", t.RawObjectKey,
					"error", err,
				)
				stats.StorageDeleteErrors++
			}

			if err := deps.Tickets.DeleteTicket(ctx, t.TicketID); err != nil {
				log.Warn("failed to delete expired ticket",
					"ticket_id", t.TicketID,
					"error", err,
				)
				stats.StoreDeleteErrors++
				continue
			}
			stats.TicketsCleaned++
		}

		if len(tickets) < cleanupBatchSize {
			break
		}
	}

	if stats.TicketsCleaned > 0 || stats.StorageDeleteErrors > 0 || stats.StoreDeleteErrors > 0 {
		log.Info("ticket cleanup completed",
			"duration_ms", time.Since(start).Milliseconds(),
			"tickets_cleaned", stats.TicketsCleaned,
			"storage_errors", stats.StorageDeleteErrors,
			"store_errors", stats.StoreDeleteErrors,
		)
	}

	return stats, nil
}
