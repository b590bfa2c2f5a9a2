package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSwapIDStableAndLength(t *testing.T) {
	id1 := SwapID("0xAA01", "0xHH")
	id2 := SwapID("0xAA01", "0xHH")
	require.Equal(t, id1, id2)
	require.Len(t, id1, 16)
}

func TestSwapIDDiffersByHashlock(t *testing.T) {
	require.NotEqual(t, SwapID("0xAA01", "0xHH"), SwapID("0xAA01", "0xQQ"))
}

func TestVerifyPreimage(t *testing.T) {
	preimage := []byte("super secret preimage")
	sum := sha256.Sum256(preimage)
	hashlock := "0x" + hex.EncodeToString(sum[:])
	preimageHex := "0x" + hex.EncodeToString(preimage)

	require.True(t, VerifyPreimage(preimageHex, hashlock))
	require.False(t, VerifyPreimage(preimageHex, "0xdeadbeef"))
}
