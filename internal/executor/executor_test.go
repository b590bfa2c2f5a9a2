package executor

import (
	"context"
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
)

type fakeEVM struct {
	withdrawCalls int
	refundCalls   int
	withdrawErr   error
	txHash        string
}

func (f *fakeEVM) Withdraw(ctx context.Context, priv *ecdsa.PrivateKey, contractID, preimage [32]byte) (string, error) {
	f.withdrawCalls++
	if f.withdrawErr != nil {
		return "", f.withdrawErr
	}
	return f.txHash, nil
}

func (f *fakeEVM) Refund(ctx context.Context, priv *ecdsa.PrivateKey, contractID [32]byte) (string, error) {
	f.refundCalls++
	return f.txHash, nil
}

func (f *fakeEVM) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful}, nil
}

type fakeMove struct {
	digest string
}

func (f *fakeMove) ExecuteTransaction(ctx context.Context, txBytesB64 string, signaturesB64 []string) (string, error) {
	return f.digest, nil
}

type fakeMoveSigner struct{}

func (fakeMoveSigner) SignWithdraw(contractID, preimage string) (string, []string, error) {
	return "tx-bytes", []string{"sig"}, nil
}

func (fakeMoveSigner) SignRefund(contractID string) (string, []string, error) {
	return "tx-bytes", []string{"sig"}, nil
}

func testKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestWithdrawEVM(t *testing.T) {
	evm := &fakeEVM{txHash: "0x" + hex32("aa")}
	e := newExecutor(evm, testKey(t), nil, nil)

	txHash, err := e.Withdraw(context.Background(), canon.ChainEVM, "0x"+hex32("01"), "0x"+hex32("02"))
	require.NoError(t, err)
	require.Equal(t, evm.txHash, txHash)
	require.Equal(t, 1, evm.withdrawCalls)
}

func TestRefundEVM(t *testing.T) {
	evm := &fakeEVM{txHash: "0x" + hex32("bb")}
	e := newExecutor(evm, testKey(t), nil, nil)

	txHash, err := e.Refund(context.Background(), canon.ChainEVM, "0x"+hex32("01"))
	require.NoError(t, err)
	require.Equal(t, evm.txHash, txHash)
	require.Equal(t, 1, evm.refundCalls)
}

func TestWithdrawMove(t *testing.T) {
	move := &fakeMove{digest: "digest123"}
	e := newExecutor(nil, nil, move, fakeMoveSigner{})

	digest, err := e.Withdraw(context.Background(), canon.ChainMove, "0xCONTRACT", "0xPREIMAGE")
	require.NoError(t, err)
	require.Equal(t, "digest123", digest)
}

func TestWithdrawUnsupportedChain(t *testing.T) {
	e := newExecutor(nil, nil, nil, nil)
	_, err := e.Withdraw(context.Background(), canon.Chain("bitcoin"), "x", "y")
	require.Error(t, err)
}

func TestWithdrawEVMNotConfigured(t *testing.T) {
	e := newExecutor(nil, nil, nil, nil)
	_, err := e.Withdraw(context.Background(), canon.ChainEVM, "0x"+hex32("01"), "0x"+hex32("02"))
	require.Error(t, err)
}

func hex32(suffix string) string {
	out := make([]byte, 64)
	for i := range out {
		out[i] = '0'
	}
	copy(out[64-len(suffix):], suffix)
	return string(out)
}
