package server

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/blobvault/internal/blob"
	"github.com/openmined/blobvault/internal/blob/manager"
	"github.com/stretchr/testify/assert"
)

type countingTarget struct {
	calls atomic.Int32
}

func (c *countingTarget) CompactAll(ctx context.Context) []manager.CompactReport {
	c.calls.Add(1)
	return []manager.CompactReport{
		{Store: "ok", Result: &blob.CompactResult{Purged: 1, BytesReclaimed: 1024}},
		{Store: "broken", Err: errors.New("disk full")},
	}
}

func TestCompactorRunsOnInterval(t *testing.T) {
	target := &countingTarget{}
	c := newCompactor(target, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	assert.Eventually(t, func() bool { return target.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	c.Wait()
	calls := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, target.calls.Load(), "no runs after stop")
}

func TestCompactorDisabled(t *testing.T) {
	target := &countingTarget{}
	c := newCompactor(target, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	c.Wait()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, target.calls.Load())
}

func TestCompactorRunOnceKeepsFailures(t *testing.T) {
	c := newCompactor(&countingTarget{}, time.Hour)
	reports := c.runOnce(context.Background())
	assert.Len(t, reports, 2)
	assert.Error(t, reports[1].Err)
}
