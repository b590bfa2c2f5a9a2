package coordinator

import (
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// runExpirySweep fails any non-terminal swap whose timelock has passed, at
// startup and every sweepEvery thereafter, per §4.7.
func (c *Coordinator) runExpirySweep() {
	defer c.wg.Done()

	c.sweepOnce()

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepOnce()
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Coordinator) sweepOnce() {
	ids, err := c.repo.ExpireScan(time.Now())
	if err != nil {
		c.log.Error("expiry scan failed", "error", err)
		return
	}

	for _, swapID := range ids {
		updated, err := c.repo.Update(swapID, func(s *storage.Swap) error {
			s.Status = storage.StatusFailed
			s.ErrorMessages = append(s.ErrorMessages, "timeout")
			return nil
		})
		if err != nil {
			c.log.Error("failed to expire swap", "swap_id", swapID, "error", err)
			continue
		}
		c.log.Info("swap expired", "swap_id", swapID)
		c.mirrorCache(updated)
		c.notify("swap_status_changed", updated)
	}
}
