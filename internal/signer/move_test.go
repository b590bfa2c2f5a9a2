package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoveKeyDeterministic(t *testing.T) {
	key1, err := MoveKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	key2, err := MoveKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, key1, key2)
}

func TestMoveKeyDiffersByIndex(t *testing.T) {
	key0, err := MoveKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	key1, err := MoveKey(testMnemonic, "", 0, 1)
	require.NoError(t, err)
	require.NotEqual(t, key0, key1)
}

func TestMoveKeyRejectsInvalidMnemonic(t *testing.T) {
	_, err := MoveKey("not a real mnemonic", "", 0, 0)
	require.Error(t, err)
}

func TestMoveWalletSignWithdrawVerifies(t *testing.T) {
	key, err := MoveKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)

	w := NewMoveWallet(key, "0xpkg", "")
	txB64, sigs, err := w.SignWithdraw("0xcontract", "0xpreimage")
	require.NoError(t, err)
	require.NotEmpty(t, txB64)
	require.Len(t, sigs, 1)

	data, err := base64.StdEncoding.DecodeString(txB64)
	require.NoError(t, err)
	sig, err := base64.StdEncoding.DecodeString(sigs[0])
	require.NoError(t, err)
	require.True(t, ed25519.Verify(key.Public().(ed25519.PublicKey), data, sig))
}

func TestMoveWalletSignRefund(t *testing.T) {
	key, err := MoveKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)

	w := NewMoveWallet(key, "0xpkg", "htlc")
	txB64, sigs, err := w.SignRefund("0xcontract")
	require.NoError(t, err)
	require.NotEmpty(t, txB64)
	require.Len(t, sigs, 1)
}
