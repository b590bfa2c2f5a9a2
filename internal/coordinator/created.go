package coordinator

import (
	"errors"
	"fmt"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// handleCreated implements the HTLC_CREATED rule from §4.7: the first
// observed leg opens a swap in SOURCE_LOCKED; the second observed leg pairs
// against it and advances to BOTH_LOCKED, or fails the swap on a mismatch.
func (c *Coordinator) handleCreated(ev *canon.Event) error {
	existing, err := c.repo.FindByHashlock(ev.Hashlock)
	if err != nil && !errors.Is(err, storage.ErrSwapNotFound) {
		return fmt.Errorf("find by hashlock: %w", err)
	}

	if existing == nil {
		return c.openSwap(ev)
	}
	return c.pairSwap(existing, ev)
}

// openSwap creates a new swap for the first leg observed for this hashlock.
func (c *Coordinator) openSwap(ev *canon.Event) error {
	if err := validateTimelock(ev.Timelock, c.maxTimelock); err != nil {
		c.log.Warn("rejecting HTLC_CREATED with invalid timelock", "contract_id", ev.ContractID, "error", err)
		return err
	}

	swapID := canon.SwapID(ev.ContractID, ev.Hashlock)
	expiresAt := time.Unix(ev.Timelock, 0).UTC()

	swap := &storage.Swap{
		SwapID:          swapID,
		Initiator:       ev.Sender,
		Receiver:        ev.Receiver,
		Hashlock:        ev.Hashlock,
		Amount:          ev.Amount,
		TokenSource:     ev.Token,
		TimelockSeconds: ev.Timelock,
		ExpiresAt:       expiresAt,
		Status:          storage.StatusPending,
		SourceTxHash:    ev.TxHash,
	}
	setContractID(swap, ev.Chain, ev.ContractID)

	created, err := c.repo.CreateIfAbsent(swap)
	if err != nil {
		return fmt.Errorf("create swap: %w", err)
	}
	if !created {
		// A racing leg on the same hashlock beat us to it; fall through to
		// the pairing path against whatever is now stored.
		stored, err := c.repo.Load(swapID)
		if err != nil {
			return fmt.Errorf("load raced swap: %w", err)
		}
		return c.pairSwap(stored, ev)
	}

	updated, err := c.repo.Update(swapID, func(s *storage.Swap) error {
		s.Status = storage.StatusSourceLocked
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance to source_locked: %w", err)
	}

	c.log.Info("swap opened", "swap_id", swapID, "chain", ev.Chain, "contract_id", ev.ContractID)
	c.mirrorCache(updated)
	c.notify("swap_created", updated)
	return nil
}

// pairSwap attaches the second observed leg to an already-open swap.
func (c *Coordinator) pairSwap(swap *storage.Swap, ev *canon.Event) error {
	if swap.Status.IsTerminal() {
		c.log.Debug("HTLC_CREATED for already-terminal swap, ignoring", "swap_id", swap.SwapID, "status", swap.Status)
		return nil
	}

	if mismatch := pairingMismatch(swap, ev); mismatch != "" {
		return c.failSwap(swap.SwapID, mismatch)
	}

	updated, err := c.repo.Update(swap.SwapID, func(s *storage.Swap) error {
		setContractID(s, ev.Chain, ev.ContractID)
		if s.TokenTarget == "" {
			s.TokenTarget = ev.Token
		}
		s.Status = storage.StatusBothLocked
		return nil
	})
	if err != nil {
		return fmt.Errorf("advance to both_locked: %w", err)
	}

	c.log.Info("swap both legs locked", "swap_id", swap.SwapID)
	c.mirrorCache(updated)
	c.notify("swap_status_changed", updated)
	return nil
}

// pairingMismatch reports a non-empty reason if ev cannot legally be the
// counter-leg of swap. Cross-asset/cross-token pairs are allowed: amount,
// hashlock, and receiver/initiator correspondence must match, but token and
// chain-specific denomination may differ, per §4.7.
func pairingMismatch(swap *storage.Swap, ev *canon.Event) string {
	if swap.Hashlock != ev.Hashlock {
		return "pairing mismatch"
	}
	if swap.Amount != "" && ev.Amount != "" && swap.Amount != ev.Amount {
		return "pairing mismatch"
	}
	if swap.Initiator != "" && ev.Receiver != "" && swap.Initiator != ev.Receiver {
		return "pairing mismatch"
	}
	return ""
}

// validateTimelock enforces that a newly observed timelock is strictly in
// the future and no further out than maxTimelock, per §4.7.
func validateTimelock(timelock int64, maxTimelock time.Duration) error {
	expires := time.Unix(timelock, 0).UTC()
	now := time.Now().UTC()
	if !expires.After(now) {
		return fmt.Errorf("timelock %s is not strictly in the future", expires)
	}
	if expires.After(now.Add(maxTimelock)) {
		return fmt.Errorf("timelock %s exceeds the maximum of %s", expires, maxTimelock)
	}
	return nil
}

func setContractID(swap *storage.Swap, chain canon.Chain, contractID string) {
	switch chain {
	case canon.ChainEVM:
		swap.EVMContractID = &contractID
	case canon.ChainMove:
		swap.MoveContractID = &contractID
	}
}

// failSwap transitions swap to FAILED and appends reason, emitting the
// lifecycle event. Used by every rule in §4.7 that can permanently reject
// an event.
func (c *Coordinator) failSwap(swapID, reason string) error {
	updated, err := c.repo.Update(swapID, func(s *storage.Swap) error {
		s.Status = storage.StatusFailed
		s.ErrorMessages = append(s.ErrorMessages, reason)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail swap: %w", err)
	}
	c.log.Warn("swap failed", "swap_id", swapID, "reason", reason)
	c.mirrorCache(updated)
	c.notify("swap_error", updated)
	return nil
}
