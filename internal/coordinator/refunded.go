package coordinator

import (
	"errors"
	"fmt"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// handleRefunded implements the HTLC_REFUNDED rule from §4.7: locate the
// swap by the refunded leg's contract id and transition it to REFUNDED. The
// relayer never initiates refunds itself — the on-chain timelock lets
// either participant self-refund — so this is purely observational.
func (c *Coordinator) handleRefunded(ev *canon.Event) error {
	swap, err := c.repo.FindByContract(string(ev.Chain), ev.ContractID)
	if err != nil {
		if errors.Is(err, storage.ErrSwapNotFound) {
			c.log.Debug("HTLC_REFUNDED for unknown contract, ignoring", "chain", ev.Chain, "contract_id", ev.ContractID)
			return nil
		}
		return fmt.Errorf("find by contract: %w", err)
	}

	if swap.Status.IsTerminal() {
		c.log.Debug("HTLC_REFUNDED for already-terminal swap, ignoring", "swap_id", swap.SwapID, "status", swap.Status)
		return nil
	}

	updated, err := c.repo.Update(swap.SwapID, func(s *storage.Swap) error {
		s.RefundTxHash = &ev.TxHash
		s.Status = storage.StatusRefunded
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}

	c.log.Info("swap refunded", "swap_id", swap.SwapID, "chain", ev.Chain)
	c.mirrorCache(updated)
	c.notify("swap_status_changed", updated)
	return nil
}
