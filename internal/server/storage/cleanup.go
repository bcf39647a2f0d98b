package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// ReferenceChecker reports whether a stored name is referenced by a
// published short link.
type ReferenceChecker interface {
	StoredFilenameExists(ctx context.Context, name string) (bool, error)
}

// CleanupService periodically removes stored files that no short link
// refers to: uploads that failed validation, and partial uploads left by a
// crash. Files younger than the grace period are skipped so in-flight
// uploads are never touched.
type CleanupService struct {
	refs     ReferenceChecker
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(refs ReferenceChecker, store Store, interval, grace time.Duration) *CleanupService {
	return &CleanupService{
		refs:     refs,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "grace", cs.grace)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// RunOnce performs a single cleanup cycle and returns the number of files removed.
func (cs *CleanupService) RunOnce(ctx context.Context) int {
	entries, err := cs.store.List()
	if err != nil {
		slog.Error("failed to list stored files", "error", err)
		return 0
	}

	cutoff := cs.now().Add(-cs.grace)
	var (
		removed, failed int
		reclaimed       uint64
	)
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.ModTime.After(cutoff) {
			continue
		}

		if !e.Temp {
			referenced, err := cs.refs.StoredFilenameExists(ctx, e.Name)
			if err != nil {
				slog.Error("failed to check stored file reference", "name", e.Name, "error", err)
				failed++
				continue
			}
			if referenced {
				continue
			}
		}

		if err := cs.store.Delete(e.Name); err != nil {
			slog.Error("failed to delete orphaned file", "name", e.Name, "error", err)
			failed++
			continue
		}

		removed++
		reclaimed += uint64(e.Size)
		slog.Info("removed orphaned file",
			"name", e.Name,
			"size", humanize.Bytes(uint64(e.Size)),
			"modified_at", e.ModTime,
		)
	}

	slog.Info("cleanup cycle complete",
		"removed", removed,
		"failed", failed,
		"reclaimed", humanize.Bytes(reclaimed),
		"scanned", len(entries),
	)
	return removed
}
