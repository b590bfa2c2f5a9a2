package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
)

func sampleEvent() *canon.Event {
	return &canon.Event{
		Chain:             canon.ChainEVM,
		Type:              canon.HTLCCreated,
		ContractID:        "0xAA01",
		TxHash:            "0xtx1",
		LogIndex:          0,
		BlockOrCheckpoint: 100,
		ObservedAt:        time.Now(),
		Hashlock:          "0xHH",
		Amount:            "1000",
	}
}

func TestRecordEventAppliedThenDuplicate(t *testing.T) {
	s := newTestStorage(t)
	ev := sampleEvent()

	result, err := s.RecordEventAndAdvanceCursor(ev, "evm", 100)
	require.NoError(t, err)
	require.Equal(t, ResultApplied, result)

	result, err = s.RecordEventAndAdvanceCursor(ev, "evm", 100)
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, result)
}

func TestRecordEventAdvancesCursorAtomically(t *testing.T) {
	s := newTestStorage(t)
	ev := sampleEvent()

	_, ok, err := s.CursorOf("evm")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.RecordEventAndAdvanceCursor(ev, "evm", 150)
	require.NoError(t, err)

	pos, ok, err := s.CursorOf("evm")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(150), pos)
}

func TestCursorNeverMovesBackward(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, s.AdvanceCursor("evm", 200))
	require.NoError(t, s.AdvanceCursor("evm", 100))

	pos, _, err := s.CursorOf("evm")
	require.NoError(t, err)
	require.Equal(t, uint64(200), pos)
}

func TestRecordEventError(t *testing.T) {
	s := newTestStorage(t)
	ev := sampleEvent()
	require.NoError(t, s.RecordEventError(ev, errors.New("boom")))

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM processed_event_errors`).Scan(&count))
	require.Equal(t, 1, count)
}
