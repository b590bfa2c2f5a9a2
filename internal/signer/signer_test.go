package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestEVMKeyDeterministic(t *testing.T) {
	key1, err := EVMKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	key2, err := EVMKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, key1.D, key2.D)
}

func TestEVMKeyDiffersByIndex(t *testing.T) {
	key0, err := EVMKey(testMnemonic, "", 0, 0)
	require.NoError(t, err)
	key1, err := EVMKey(testMnemonic, "", 0, 1)
	require.NoError(t, err)
	require.NotEqual(t, key0.D, key1.D)
}

func TestEVMKeyRejectsInvalidMnemonic(t *testing.T) {
	_, err := EVMKey("not a real mnemonic", "", 0, 0)
	require.Error(t, err)
}
