package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/blobvault/internal/blob/manager"
)

type compactTarget interface {
	CompactAll(ctx context.Context) []manager.CompactReport
}

// compactor periodically compacts every registered blob store
type compactor struct {
	target   compactTarget
	interval time.Duration
	wg       sync.WaitGroup
}

func newCompactor(target compactTarget, interval time.Duration) *compactor {
	return &compactor{
		target:   target,
		interval: interval,
	}
}

// Start runs compaction every interval until ctx is done. A zero interval
// disables the compactor.
func (c *compactor) Start(ctx context.Context) {
	if c.interval <= 0 {
		slog.Info("blob compactor disabled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		slog.Debug("blob compactor started", "interval", c.interval)
		for {
			select {
			case <-ctx.Done():
				slog.Debug("blob compactor stopped")
				return
			case <-ticker.C:
				c.runOnce(ctx)
			}
		}
	}()
}

// Wait blocks until the compactor loop has exited
func (c *compactor) Wait() {
	c.wg.Wait()
}

func (c *compactor) runOnce(ctx context.Context) []manager.CompactReport {
	start := time.Now()
	reports := c.target.CompactAll(ctx)

	var failed int
	var reclaimed int64
	for _, r := range reports {
		if r.Err != nil {
			failed++
			slog.Error("blob compactor error", "store", r.Store, "error", r.Err)
			continue
		}
		reclaimed += r.Result.BytesReclaimed
	}

	slog.Debug("blob compactor result",
		"stores", len(reports),
		"failed", failed,
		"reclaimed", humanize.Bytes(uint64(reclaimed)),
		"took", time.Since(start),
	)
	return reports
}
