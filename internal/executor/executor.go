// Package executor implements the withdrawal executor (C8): it builds,
// signs, and submits withdraw/refund transactions on whichever chain the
// coordinator asks for, opaque to the coordinator's own retry logic.
package executor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/evmchain"
	"github.com/klingon-tech/htlc-relayer/internal/movechain"
	"github.com/klingon-tech/htlc-relayer/internal/retry"
	"github.com/klingon-tech/htlc-relayer/pkg/helpers"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// evmBackend is the slice of *evmchain.Client the executor depends on,
// extracted so tests can fake the RPC surface.
type evmBackend interface {
	Withdraw(ctx context.Context, priv *ecdsa.PrivateKey, contractID, preimage [32]byte) (string, error)
	Refund(ctx context.Context, priv *ecdsa.PrivateKey, contractID [32]byte) (string, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// moveBackend is the slice of *movechain.Client the executor depends on.
type moveBackend interface {
	ExecuteTransaction(ctx context.Context, txBytesB64 string, signaturesB64 []string) (string, error)
}

// chainError is returned for a chain the executor does not recognize; a
// recognized chain whose backend is nil gets a "not configured" error instead.
type chainError struct {
	chain canon.Chain
}

func (e *chainError) Error() string {
	return fmt.Sprintf("executor: unsupported chain %q", e.chain)
}

// Executor acts on-chain on the coordinator's behalf.
type Executor struct {
	evm     evmBackend
	evmKey  *ecdsa.PrivateKey
	move    moveBackend
	moveKey MoveSigner
	log     *logging.Logger
}

// MoveSigner produces a signed, ready-to-submit transaction for a Move
// withdraw/refund call. The concrete signing scheme is chain-specific and
// opaque to the executor; wired in by the caller.
type MoveSigner interface {
	SignWithdraw(contractID, preimage string) (txBytesB64 string, signaturesB64 []string, err error)
	SignRefund(contractID string) (txBytesB64 string, signaturesB64 []string, err error)
}

// Config wires the executor's per-chain backends.
type Config struct {
	EVMClient  *evmchain.Client
	EVMKey     *ecdsa.PrivateKey
	MoveClient *movechain.Client
	MoveSigner MoveSigner
}

// New constructs an Executor. Either chain's backend may be nil if the
// deployment only relays in one direction.
func New(cfg Config) *Executor {
	var evm evmBackend
	if cfg.EVMClient != nil {
		evm = cfg.EVMClient
	}
	var move moveBackend
	if cfg.MoveClient != nil {
		move = cfg.MoveClient
	}
	return newExecutor(evm, cfg.EVMKey, move, cfg.MoveSigner)
}

func newExecutor(evm evmBackend, evmKey *ecdsa.PrivateKey, move moveBackend, moveKey MoveSigner) *Executor {
	return &Executor{
		evm:     evm,
		evmKey:  evmKey,
		move:    move,
		moveKey: moveKey,
		log:     logging.GetDefault().Component("executor"),
	}
}

// Withdraw submits withdraw(contractID, preimage) on chain and waits for
// the receipt, retrying transient errors.
func (e *Executor) Withdraw(ctx context.Context, chain canon.Chain, contractID, preimageHex string) (txHash string, err error) {
	switch chain {
	case canon.ChainEVM:
		return e.withdrawEVM(ctx, contractID, preimageHex)
	case canon.ChainMove:
		return e.withdrawMove(ctx, contractID, preimageHex)
	default:
		return "", &chainError{chain: chain}
	}
}

// Refund submits refund(contractID) on chain and waits for the receipt.
func (e *Executor) Refund(ctx context.Context, chain canon.Chain, contractID string) (txHash string, err error) {
	switch chain {
	case canon.ChainEVM:
		return e.refundEVM(ctx, contractID)
	case canon.ChainMove:
		return e.refundMove(ctx, contractID)
	default:
		return "", &chainError{chain: chain}
	}
}

func (e *Executor) withdrawEVM(ctx context.Context, contractID, preimageHex string) (string, error) {
	if e.evm == nil || e.evmKey == nil {
		return "", fmt.Errorf("executor: evm backend not configured")
	}
	cid, err := toBytes32(contractID)
	if err != nil {
		return "", fmt.Errorf("contract id: %w", err)
	}
	preimage, err := toBytes32(preimageHex)
	if err != nil {
		return "", fmt.Errorf("preimage: %w", err)
	}

	var txHash string
	err = retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		var err error
		txHash, err = e.evm.Withdraw(ctx, e.evmKey, cid, preimage)
		return err
	})
	if err != nil {
		return "", err
	}

	if _, err := e.evm.WaitMined(ctx, common.HexToHash(txHash)); err != nil {
		return txHash, fmt.Errorf("wait mined: %w", err)
	}
	return txHash, nil
}

func (e *Executor) refundEVM(ctx context.Context, contractID string) (string, error) {
	if e.evm == nil || e.evmKey == nil {
		return "", fmt.Errorf("executor: evm backend not configured")
	}
	cid, err := toBytes32(contractID)
	if err != nil {
		return "", fmt.Errorf("contract id: %w", err)
	}

	var txHash string
	err = retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		var err error
		txHash, err = e.evm.Refund(ctx, e.evmKey, cid)
		return err
	})
	if err != nil {
		return "", err
	}

	if _, err := e.evm.WaitMined(ctx, common.HexToHash(txHash)); err != nil {
		return txHash, fmt.Errorf("wait mined: %w", err)
	}
	return txHash, nil
}

func (e *Executor) withdrawMove(ctx context.Context, contractID, preimageHex string) (string, error) {
	if e.move == nil || e.moveKey == nil {
		return "", fmt.Errorf("executor: move backend not configured")
	}

	var digest string
	err := retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		txBytes, sigs, err := e.moveKey.SignWithdraw(contractID, preimageHex)
		if err != nil {
			return err
		}
		digest, err = e.move.ExecuteTransaction(ctx, txBytes, sigs)
		return err
	})
	return digest, err
}

func (e *Executor) refundMove(ctx context.Context, contractID string) (string, error) {
	if e.move == nil || e.moveKey == nil {
		return "", fmt.Errorf("executor: move backend not configured")
	}

	var digest string
	err := retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		txBytes, sigs, err := e.moveKey.SignRefund(contractID)
		if err != nil {
			return err
		}
		digest, err = e.move.ExecuteTransaction(ctx, txBytes, sigs)
		return err
	})
	return digest, err
}

func toBytes32(h string) ([32]byte, error) {
	var out [32]byte
	b, err := helpers.HexToBytes(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

