package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// handleWithdrawn implements the HTLC_WITHDRAWN rule from §4.7: verify the
// revealed preimage against the swap's hashlock, persist it, and — once
// both legs are locked — request the counter-withdrawal so the relayer
// completes the other side automatically.
func (c *Coordinator) handleWithdrawn(ev *canon.Event) error {
	swap, err := c.repo.FindByContract(string(ev.Chain), ev.ContractID)
	if err != nil {
		if errors.Is(err, storage.ErrSwapNotFound) {
			c.log.Debug("HTLC_WITHDRAWN for unknown contract, ignoring", "chain", ev.Chain, "contract_id", ev.ContractID)
			return nil
		}
		return fmt.Errorf("find by contract: %w", err)
	}

	if swap.Status.IsTerminal() {
		c.log.Debug("HTLC_WITHDRAWN for already-terminal swap, ignoring", "swap_id", swap.SwapID, "status", swap.Status)
		return nil
	}

	if !canon.VerifyPreimage(ev.Preimage, swap.Hashlock) {
		return c.failSwap(swap.SwapID, "preimage verification failed")
	}

	preimage := ev.Preimage
	updated, err := c.repo.Update(swap.SwapID, func(s *storage.Swap) error {
		s.Preimage = &preimage
		s.Status = storage.StatusPreimageRevealed
		if ev.Chain == canon.ChainEVM {
			s.SourceTxHash = ev.TxHash
		} else {
			s.TargetTxHash = &ev.TxHash
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidSwapState) {
			c.log.Warn("HTLC_WITHDRAWN arrived before both legs locked; recording without advancing", "swap_id", swap.SwapID, "status", swap.Status)
			return nil
		}
		return fmt.Errorf("reveal preimage: %w", err)
	}

	c.log.Info("preimage revealed", "swap_id", swap.SwapID, "chain", ev.Chain)
	c.mirrorCache(updated)
	c.notify("swap_status_changed", updated)

	if updated.EVMContractID == nil || updated.MoveContractID == nil {
		// Only one leg was ever locked; there is no counter-withdrawal to
		// perform.
		return nil
	}

	return c.completeCounterWithdrawal(updated, ev.Chain, preimage)
}

// completeCounterWithdrawal asks the executor to withdraw the other chain's
// leg using the revealed preimage, completing the swap on success or
// failing it once retries are exhausted, per §4.7/§4.8.
func (c *Coordinator) completeCounterWithdrawal(swap *storage.Swap, sourceChain canon.Chain, preimage string) error {
	otherChain, otherContractID := counterLeg(swap, sourceChain)
	if otherContractID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	txHash, err := c.exec.Withdraw(ctx, otherChain, otherContractID, preimage)
	if err != nil {
		// One additional retry at the coordinator level, independent of the
		// executor's own internal transient-error retries.
		txHash, err = c.exec.Withdraw(ctx, otherChain, otherContractID, preimage)
	}

	if err != nil {
		retried, uerr := c.repo.Update(swap.SwapID, func(s *storage.Swap) error {
			s.RetryCount++
			s.ErrorMessages = append(s.ErrorMessages, "counter-withdrawal failed: "+err.Error())
			return nil
		})
		if uerr != nil {
			return fmt.Errorf("record counter-withdrawal failure: %w", uerr)
		}
		if retried.RetryCount >= retried.MaxRetries {
			return c.failSwap(swap.SwapID, "counter-withdrawal failed")
		}
		c.log.Warn("counter-withdrawal failed, will not auto-retry further this event", "swap_id", swap.SwapID, "error", err)
		c.mirrorCache(retried)
		c.notify("swap_status_changed", retried)
		return nil
	}

	updated, err := c.repo.Update(swap.SwapID, func(s *storage.Swap) error {
		if otherChain == canon.ChainEVM {
			s.SourceTxHash = txHash
		} else {
			s.TargetTxHash = &txHash
		}
		s.Status = storage.StatusCompleted
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete swap: %w", err)
	}

	c.log.Info("swap completed", "swap_id", swap.SwapID)
	c.mirrorCache(updated)
	c.notify("swap_status_changed", updated)
	return nil
}

// counterLeg returns the chain and contract id opposite sourceChain.
func counterLeg(swap *storage.Swap, sourceChain canon.Chain) (canon.Chain, string) {
	if sourceChain == canon.ChainEVM {
		if swap.MoveContractID == nil {
			return canon.ChainMove, ""
		}
		return canon.ChainMove, *swap.MoveContractID
	}
	if swap.EVMContractID == nil {
		return canon.ChainEVM, ""
	}
	return canon.ChainEVM, *swap.EVMContractID
}
