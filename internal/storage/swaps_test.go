package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleSwap(id string) *Swap {
	now := time.Now()
	evmID := "0xAA01"
	return &Swap{
		SwapID:          id,
		Initiator:       "0xS",
		Receiver:        "0xR",
		EVMContractID:   &evmID,
		Hashlock:        "0xHH",
		Amount:          "1000",
		TokenSource:     "USDC",
		TokenTarget:     "USDC",
		TimelockSeconds: 3600,
		ExpiresAt:       now.Add(time.Hour),
		Status:          StatusPending,
		SourceTxHash:    "0xtx1",
	}
}

func TestCreateIfAbsent(t *testing.T) {
	s := newTestStorage(t)

	created, err := s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)
	require.True(t, created)

	created, err = s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)
	require.False(t, created)
}

func TestLoadAndFindByHashlock(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)

	loaded, err := s.Load("swap1")
	require.NoError(t, err)
	require.Equal(t, "0xHH", loaded.Hashlock)

	byHash, err := s.FindByHashlock("0xHH")
	require.NoError(t, err)
	require.Equal(t, "swap1", byHash.SwapID)

	_, err = s.Load("missing")
	require.ErrorIs(t, err, ErrSwapNotFound)
}

func TestFindByContract(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)

	found, err := s.FindByContract("evm", "0xAA01")
	require.NoError(t, err)
	require.Equal(t, "swap1", found.SwapID)

	_, err = s.FindByContract("move", "0xdoesnotexist")
	require.ErrorIs(t, err, ErrSwapNotFound)
}

func TestUpdateLegalTransition(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)

	updated, err := s.Update("swap1", func(sw *Swap) error {
		sw.Status = StatusSourceLocked
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StatusSourceLocked, updated.Status)
}

func TestUpdateRejectsIllegalTransition(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.CreateIfAbsent(sampleSwap("swap1"))
	require.NoError(t, err)

	_, err = s.Update("swap1", func(sw *Swap) error {
		sw.Status = StatusCompleted // PENDING -> COMPLETED is not allowed
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidSwapState)
}

func TestTerminalSwapOnlyErrorMessagesMutable(t *testing.T) {
	s := newTestStorage(t)
	sw := sampleSwap("swap1")
	sw.Status = StatusFailed
	_, err := s.CreateIfAbsent(sw)
	require.NoError(t, err)

	_, err = s.Update("swap1", func(sw *Swap) error {
		sw.Amount = "9999" // should be silently reverted
		sw.ErrorMessages = append(sw.ErrorMessages, "late note")
		return nil
	})
	require.NoError(t, err)

	reloaded, err := s.Load("swap1")
	require.NoError(t, err)
	require.Equal(t, "1000", reloaded.Amount)
	require.Contains(t, reloaded.ErrorMessages, "late note")
}

func TestExpireScan(t *testing.T) {
	s := newTestStorage(t)
	sw := sampleSwap("swap1")
	sw.ExpiresAt = time.Now().Add(-time.Minute)
	_, err := s.CreateIfAbsent(sw)
	require.NoError(t, err)

	ids, err := s.ExpireScan(time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"swap1"}, ids)
}

func TestExpireScanExcludesTerminal(t *testing.T) {
	s := newTestStorage(t)
	sw := sampleSwap("swap1")
	sw.ExpiresAt = time.Now().Add(-time.Minute)
	sw.Status = StatusFailed
	_, err := s.CreateIfAbsent(sw)
	require.NoError(t, err)

	ids, err := s.ExpireScan(time.Now())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestListByStatus(t *testing.T) {
	s := newTestStorage(t)
	a := sampleSwap("a")
	b := sampleSwap("b")
	b.Hashlock = "0xOther"
	b.EVMContractID = nil
	b.Status = StatusFailed
	_, _ = s.CreateIfAbsent(a)
	_, _ = s.CreateIfAbsent(b)

	pending := StatusPending
	swaps, err := s.ListByStatus(&pending, 10)
	require.NoError(t, err)
	require.Len(t, swaps, 1)
	require.Equal(t, "a", swaps[0].SwapID)
}
