package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// fakeRepo is an in-memory Repository that mirrors storage.Storage's
// transition/absorb rules closely enough to exercise the coordinator's
// handlers without a database.
type fakeRepo struct {
	mu    sync.Mutex
	swaps map[string]*storage.Swap
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{swaps: make(map[string]*storage.Swap)}
}

func (r *fakeRepo) CreateIfAbsent(swap *storage.Swap) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.swaps[swap.SwapID]; exists {
		return false, nil
	}
	cp := *swap
	if cp.MaxRetries == 0 {
		cp.MaxRetries = 3
	}
	r.swaps[swap.SwapID] = &cp
	return true, nil
}

func (r *fakeRepo) Load(swapID string) (*storage.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sw, ok := r.swaps[swapID]
	if !ok {
		return nil, storage.ErrSwapNotFound
	}
	cp := *sw
	return &cp, nil
}

func (r *fakeRepo) FindByHashlock(hashlock string) (*storage.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sw := range r.swaps {
		if sw.Hashlock == hashlock {
			cp := *sw
			return &cp, nil
		}
	}
	return nil, storage.ErrSwapNotFound
}

func (r *fakeRepo) FindByContract(chain, contractID string) (*storage.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sw := range r.swaps {
		if chain == "evm" && sw.EVMContractID != nil && *sw.EVMContractID == contractID {
			cp := *sw
			return &cp, nil
		}
		if chain == "move" && sw.MoveContractID != nil && *sw.MoveContractID == contractID {
			cp := *sw
			return &cp, nil
		}
	}
	return nil, storage.ErrSwapNotFound
}

func (r *fakeRepo) Update(swapID string, mutate func(*storage.Swap) error) (*storage.Swap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.swaps[swapID]
	if !ok {
		return nil, storage.ErrSwapNotFound
	}
	before := *current
	next := *current
	if err := mutate(&next); err != nil {
		return nil, err
	}
	if !before.Status.CanTransition(next.Status) {
		return nil, storage.ErrInvalidSwapState
	}
	if before.Status.IsTerminal() && next.Status == before.Status {
		next.EVMContractID = before.EVMContractID
		next.MoveContractID = before.MoveContractID
		next.Preimage = before.Preimage
		next.Amount = before.Amount
		next.TargetTxHash = before.TargetTxHash
		next.RefundTxHash = before.RefundTxHash
		next.RetryCount = before.RetryCount
	}
	next.UpdatedAt = time.Now()
	r.swaps[swapID] = &next
	cp := next
	return &cp, nil
}

func (r *fakeRepo) ExpireScan(now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, sw := range r.swaps {
		if !sw.Status.IsTerminal() && !sw.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	err      error
	txHash   string
	lastCall struct {
		chain      canon.Chain
		contractID string
		preimage   string
	}
}

func (f *fakeExecutor) Withdraw(ctx context.Context, chain canon.Chain, contractID, preimageHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCall.chain = chain
	f.lastCall.contractID = contractID
	f.lastCall.preimage = preimageHex
	if f.err != nil {
		return "", f.err
	}
	return f.txHash, nil
}

type fakeCache struct {
	mu   sync.Mutex
	sets int
}

func (f *fakeCache) Set(key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	f.sets++
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) Delete(key string) {}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) NotifySwap(eventType string, swap *storage.Swap) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
}

func newTestCoordinator(repo *fakeRepo, exec *fakeExecutor) *Coordinator {
	return New(Config{
		Source:   nil,
		Repo:     repo,
		Executor: exec,
		Cache:    &fakeCache{},
		Notifier: &fakeNotifier{},
	})
}

func createdEvent(chain canon.Chain, contractID, hashlock, sender, receiver, amount, token string, timelock int64) *canon.Event {
	return &canon.Event{
		Chain:      chain,
		Type:       canon.HTLCCreated,
		ContractID: contractID,
		TxHash:     "0xtx" + contractID,
		Hashlock:   hashlock,
		Sender:     sender,
		Receiver:   receiver,
		Amount:     amount,
		Token:      token,
		Timelock:   timelock,
		ObservedAt: time.Now(),
	}
}

func TestHandleCreatedOpensSwap(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	ev := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", time.Now().Add(time.Hour).Unix())
	require.NoError(t, c.handleCreated(ev))

	swapID := canon.SwapID("0xC1", "0xHASH")
	sw, err := repo.Load(swapID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusSourceLocked, sw.Status)
	require.Equal(t, "0xC1", *sw.EVMContractID)
	require.Nil(t, sw.MoveContractID)
}

func TestHandleCreatedPairsSwap(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	timelock := time.Now().Add(time.Hour).Unix()
	first := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", timelock)
	require.NoError(t, c.handleCreated(first))

	second := createdEvent(canon.ChainMove, "0xM1", "0xHASH", "bob", "alice", "1000", "COIN", timelock)
	require.NoError(t, c.handleCreated(second))

	swapID := canon.SwapID("0xC1", "0xHASH")
	sw, err := repo.Load(swapID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusBothLocked, sw.Status)
	require.Equal(t, "0xM1", *sw.MoveContractID)
}

func TestHandleCreatedPairingMismatch(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	timelock := time.Now().Add(time.Hour).Unix()
	first := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", timelock)
	require.NoError(t, c.handleCreated(first))

	second := createdEvent(canon.ChainMove, "0xM1", "0xHASH", "bob", "alice", "999", "COIN", timelock)
	require.NoError(t, c.handleCreated(second))

	swapID := canon.SwapID("0xC1", "0xHASH")
	sw, err := repo.Load(swapID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, sw.Status)
	require.Contains(t, sw.ErrorMessages, "pairing mismatch")
}

func TestHandleCreatedRejectsPastTimelock(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	ev := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", time.Now().Add(-time.Hour).Unix())
	require.Error(t, c.handleCreated(ev))

	_, err := repo.Load(canon.SwapID("0xC1", "0xHASH"))
	require.ErrorIs(t, err, storage.ErrSwapNotFound)
}

func TestHandleWithdrawnCompletesSwap(t *testing.T) {
	repo := newFakeRepo()
	exec := &fakeExecutor{txHash: "0xcounter"}
	c := newTestCoordinator(repo, exec)

	timelock := time.Now().Add(time.Hour).Unix()
	require.NoError(t, c.handleCreated(createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", timelock)))
	require.NoError(t, c.handleCreated(createdEvent(canon.ChainMove, "0xM1", "0xHASH", "bob", "alice", "1000", "COIN", timelock)))

	preimageHash, err := canon.HashPreimage("0xa1")
	require.NoError(t, err)
	swapID := canon.SwapID("0xC1", "0xHASH")
	_, err = repo.Update(swapID, func(s *storage.Swap) error {
		s.Hashlock = preimageHash
		return nil
	})
	require.NoError(t, err)

	withdrawn := &canon.Event{
		Chain:      canon.ChainEVM,
		Type:       canon.HTLCWithdrawn,
		ContractID: "0xC1",
		TxHash:     "0xwd",
		Preimage:   "0xa1",
	}
	require.NoError(t, c.handleWithdrawn(withdrawn))

	sw, err := repo.Load(swapID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, sw.Status)
	require.Equal(t, 1, exec.calls)
	require.Equal(t, canon.ChainMove, exec.lastCall.chain)
	require.Equal(t, "0xM1", exec.lastCall.contractID)
}

func TestHandleWithdrawnBadPreimage(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	timelock := time.Now().Add(time.Hour).Unix()
	require.NoError(t, c.handleCreated(createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", timelock)))

	withdrawn := &canon.Event{
		Chain:      canon.ChainEVM,
		Type:       canon.HTLCWithdrawn,
		ContractID: "0xC1",
		Preimage:   "0xWRONG",
	}
	require.NoError(t, c.handleWithdrawn(withdrawn))

	sw, err := repo.Load(canon.SwapID("0xC1", "0xHASH"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, sw.Status)
	require.Contains(t, sw.ErrorMessages, "preimage verification failed")
}

func TestHandleWithdrawnOrphanIgnored(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	withdrawn := &canon.Event{Chain: canon.ChainEVM, Type: canon.HTLCWithdrawn, ContractID: "0xNOPE", Preimage: "0xP1"}
	require.NoError(t, c.handleWithdrawn(withdrawn))
}

func TestHandleRefunded(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	timelock := time.Now().Add(time.Hour).Unix()
	require.NoError(t, c.handleCreated(createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", timelock)))

	refunded := &canon.Event{Chain: canon.ChainEVM, Type: canon.HTLCRefunded, ContractID: "0xC1", TxHash: "0xrf"}
	require.NoError(t, c.handleRefunded(refunded))

	sw, err := repo.Load(canon.SwapID("0xC1", "0xHASH"))
	require.NoError(t, err)
	require.Equal(t, storage.StatusRefunded, sw.Status)
}

func TestSweepExpiresNonTerminalSwaps(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	timelock := time.Now().Add(-time.Minute).Unix()
	_ = timelock
	swapID := "expiredswap"
	_, err := repo.CreateIfAbsent(&storage.Swap{
		SwapID:    swapID,
		Hashlock:  "0xHASH2",
		Status:    storage.StatusSourceLocked,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	c.sweepOnce()

	sw, err := repo.Load(swapID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, sw.Status)
	require.Contains(t, sw.ErrorMessages, "timeout")
}

func TestPartitionIndexDeterministic(t *testing.T) {
	a := partitionIndex("0xHASH", 16)
	b := partitionIndex("0xHASH", 16)
	require.Equal(t, a, b)
}

func TestPartitionKeyRoutesWithdrawnToCreatedHashlock(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	created := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", time.Now().Add(time.Hour).Unix())
	require.Equal(t, "0xHASH", c.partitionKey(created))

	withdrawn := &canon.Event{Chain: canon.ChainEVM, Type: canon.HTLCWithdrawn, ContractID: "0xC1", Preimage: "0xP1"}
	require.Equal(t, "0xHASH", c.partitionKey(withdrawn))
}

func TestPartitionKeyFallsBackToRepoAcrossRestart(t *testing.T) {
	repo := newFakeRepo()
	_, err := repo.CreateIfAbsent(&storage.Swap{
		SwapID:        canon.SwapID("0xC1", "0xHASH"),
		Hashlock:      "0xHASH",
		EVMContractID: strPtr("0xC1"),
		Status:        storage.StatusSourceLocked,
	})
	require.NoError(t, err)

	// A fresh Coordinator has no in-process contractKeys entry for 0xC1 (as
	// after a process restart), so the withdrawn event must resolve its
	// partition key through the repository instead.
	c := newTestCoordinator(repo, &fakeExecutor{})
	withdrawn := &canon.Event{Chain: canon.ChainEVM, Type: canon.HTLCWithdrawn, ContractID: "0xC1", Preimage: "0xP1"}
	require.Equal(t, "0xHASH", c.partitionKey(withdrawn))
}

func TestPartitionKeyUnknownContractFallsBackToContractID(t *testing.T) {
	repo := newFakeRepo()
	c := newTestCoordinator(repo, &fakeExecutor{})

	withdrawn := &canon.Event{Chain: canon.ChainEVM, Type: canon.HTLCWithdrawn, ContractID: "0xNOPE", Preimage: "0xP1"}
	require.Equal(t, "0xNOPE", c.partitionKey(withdrawn))
}

func strPtr(s string) *string { return &s }

func TestStartStopDrainsEvents(t *testing.T) {
	repo := newFakeRepo()
	bus := newFakeSource()
	c := New(Config{
		Source:     bus,
		Repo:       repo,
		Executor:   &fakeExecutor{},
		Cache:      &fakeCache{},
		Notifier:   &fakeNotifier{},
		SweepEvery: time.Hour,
	})
	c.Start()

	ev := createdEvent(canon.ChainEVM, "0xC1", "0xHASH", "alice", "bob", "1000", "USDC", time.Now().Add(time.Hour).Unix())
	bus.publish(ev)

	require.Eventually(t, func() bool {
		_, err := repo.Load(canon.SwapID("0xC1", "0xHASH"))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	c.Stop()
}

type fakeSource struct {
	ch chan *canon.Event
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *canon.Event, 16)}
}

func (f *fakeSource) Events() <-chan *canon.Event { return f.ch }
func (f *fakeSource) publish(ev *canon.Event)      { f.ch <- ev }
