package storage

import (
	"context"
	"log/slog"
	"time"

	"courier/internal/server/database"
)

// TransferSource is the slice of the record store the sweeper needs.
type TransferSource interface {
	GetExpired(ctx context.Context) ([]*database.Transfer, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Sweeper periodically reclaims expired transfers: file bytes first, then
// the record. It may run concurrently with the lazy purge performed on the
// read paths; both sides delete idempotently.
type Sweeper struct {
	repo     TransferSource
	store    Store
	interval time.Duration
	done     chan struct{}
}

// NewSweeper creates a sweeper with the given interval.
func NewSweeper(repo TransferSource, store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		repo:     repo,
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine. The loop stops
// when ctx is canceled.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("sweeper started", "interval", s.interval)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// RunOnce performs a single sweep pass. Exported so tests can trigger a
// sweep deterministically instead of waiting on the ticker.
func (s *Sweeper) RunOnce(ctx context.Context) {
	expired, err := s.repo.GetExpired(ctx)
	if err != nil {
		slog.Error("failed to list expired transfers", "error", err)
		return
	}

	if len(expired) == 0 {
		return
	}

	var reclaimed, failed int
	for _, t := range expired {
		ok := true
		for _, f := range t.Files {
			// Best-effort: one bad file never halts the sweep.
			if err := s.store.Delete(ctx, f.StoredName); err != nil {
				slog.Error("failed to delete file bytes",
					"transfer_id", t.ID,
					"stored_name", f.StoredName,
					"error", err,
				)
				ok = false
			}
		}

		if _, err := s.repo.Delete(ctx, t.ID); err != nil {
			slog.Error("failed to delete transfer record",
				"transfer_id", t.ID,
				"error", err,
			)
			ok = false
		}

		if ok {
			reclaimed++
			slog.Info("reclaimed expired transfer",
				"transfer_id", t.ID,
				"files", len(t.Files),
				"expired_at", t.ExpiresAt,
			)
		} else {
			failed++
		}
	}

	slog.Info("sweep complete",
		"reclaimed", reclaimed,
		"failed", failed,
		"total_expired", len(expired),
	)
}
