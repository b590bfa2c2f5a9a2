// Package coordinator implements the swap coordinator (C7): the single
// logical consumer of the canonical event bus that drives each swap's
// lifecycle state machine. Processing one event is a unit of work; units for
// the same swap_id are serialized against each other while units for
// different swaps proceed concurrently.
package coordinator

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// EventSource is the slice of *eventbus.Bus the coordinator consumes.
type EventSource interface {
	Events() <-chan *canon.Event
}

// Repository is the slice of *storage.Storage the coordinator needs.
type Repository interface {
	CreateIfAbsent(swap *storage.Swap) (bool, error)
	Load(swapID string) (*storage.Swap, error)
	FindByHashlock(hashlock string) (*storage.Swap, error)
	FindByContract(chain, contractID string) (*storage.Swap, error)
	Update(swapID string, mutate func(*storage.Swap) error) (*storage.Swap, error)
	ExpireScan(now time.Time) ([]string, error)
}

// Executor is the slice of *executor.Executor the coordinator needs to
// request counter-withdrawals. Opaque to the coordinator beyond this
// contract, per §4.8.
type Executor interface {
	Withdraw(ctx context.Context, chain canon.Chain, contractID, preimageHex string) (txHash string, err error)
}

// HotCache mirrors non-terminal swaps for fast external reads. A cache
// failure never blocks or fails swap processing.
type HotCache interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Delete(key string)
}

// Notifier is the slice of the push hub the coordinator publishes lifecycle
// events to. Best-effort: a notify failure is logged, never fatal to swap
// processing.
type Notifier interface {
	NotifySwap(eventType string, swap *storage.Swap)
}

// Config wires the coordinator's collaborators and tunables.
type Config struct {
	Source      EventSource
	Repo        Repository
	Executor    Executor
	Cache       HotCache
	Notifier    Notifier
	Workers     int           // partition count; default 16
	QueueDepth  int           // per-worker buffer; default 64
	MaxTimelock time.Duration // default 1 year, per §4.7
	SweepEvery  time.Duration // default 5m, per §4.7
}

// Coordinator is the swap lifecycle state machine.
type Coordinator struct {
	repo     Repository
	exec     Executor
	cache    HotCache
	notifier Notifier
	log      *logging.Logger

	source EventSource

	workers     []chan *canon.Event
	maxTimelock time.Duration
	sweepEvery  time.Duration

	contractKeys sync.Map // contractKey(chain, contractID) -> hashlock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

const (
	defaultWorkers     = 16
	defaultQueueDepth  = 64
	defaultMaxTimelock = 365 * 24 * time.Hour
	defaultSweepEvery  = 5 * time.Minute
)

// New constructs a Coordinator. Call Start to begin consuming events.
func New(cfg Config) *Coordinator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	maxTimelock := cfg.MaxTimelock
	if maxTimelock <= 0 {
		maxTimelock = defaultMaxTimelock
	}
	sweepEvery := cfg.SweepEvery
	if sweepEvery <= 0 {
		sweepEvery = defaultSweepEvery
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		repo:        cfg.Repo,
		exec:        cfg.Executor,
		cache:       cfg.Cache,
		notifier:    cfg.Notifier,
		log:         logging.GetDefault().Component("coordinator"),
		source:      cfg.Source,
		maxTimelock: maxTimelock,
		sweepEvery:  sweepEvery,
		ctx:         ctx,
		cancel:      cancel,
	}

	c.workers = make([]chan *canon.Event, workers)
	for i := range c.workers {
		c.workers[i] = make(chan *canon.Event, queueDepth)
	}

	return c
}

// Start launches the dispatch loop, the per-partition worker goroutines, and
// the expiry sweep loop.
func (c *Coordinator) Start() {
	for i, ch := range c.workers {
		c.wg.Add(1)
		go c.runWorker(i, ch)
	}

	c.wg.Add(1)
	go c.runDispatch()

	c.wg.Add(1)
	go c.runExpirySweep()
}

// Stop cancels the dispatch, worker, and sweep loops and waits for them to
// exit.
func (c *Coordinator) Stop() {
	c.cancel()
	c.wg.Wait()
}

// runDispatch reads the fanned-in event stream and routes each event to the
// worker owning its swap_id partition, so same-swap events always serialize
// through the same goroutine while different swaps process concurrently.
func (c *Coordinator) runDispatch() {
	defer c.wg.Done()

	events := c.source.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.route(ev)
		case <-c.ctx.Done():
			return
		}
	}
}

// route partitions an event by the hashlock of the swap it belongs to, so
// that every event for one swap — regardless of which field the
// originating chain populated — lands on the same worker and serializes
// against the others.
func (c *Coordinator) route(ev *canon.Event) {
	key := c.partitionKey(ev)
	idx := partitionIndex(key, len(c.workers))

	select {
	case c.workers[idx] <- ev:
	case <-c.ctx.Done():
	}
}

// partitionKey resolves ev to the stable per-swap partition key. HTLC_CREATED
// carries its own hashlock directly; HTLC_WITHDRAWN and HTLC_REFUNDED carry
// only a contract id (see evmchain/client.go and movechain/observer.go),
// so partitionKey resolves that contract id to the swap's hashlock first
// through the in-process index populated as HTLC_CREATED events are routed,
// then by asking the repository directly — this second path covers a
// process restart, where the HTLC_CREATED that would have populated the
// index was already consumed and recorded applied in a prior run and will
// never be redelivered. Only a withdrawn/refunded event for a contract id
// the coordinator has never seen a creation for (neither in this process
// nor in the repository) falls back to the contract id itself; handle*
// already ignores those regardless of which worker they land on.
func (c *Coordinator) partitionKey(ev *canon.Event) string {
	if ev.Type == canon.HTLCCreated {
		if ev.Hashlock != "" {
			c.contractKeys.Store(contractKey(ev.Chain, ev.ContractID), ev.Hashlock)
		}
		return ev.Hashlock
	}

	ck := contractKey(ev.Chain, ev.ContractID)
	if hashlock, ok := c.contractKeys.Load(ck); ok {
		return hashlock.(string)
	}

	if swap, err := c.repo.FindByContract(string(ev.Chain), ev.ContractID); err == nil {
		c.contractKeys.Store(ck, swap.Hashlock)
		return swap.Hashlock
	}

	return ev.ContractID
}

func contractKey(chain canon.Chain, contractID string) string {
	return string(chain) + ":" + contractID
}

func partitionIndex(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// runWorker processes events from one partition strictly in the order they
// were enqueued.
func (c *Coordinator) runWorker(id int, ch <-chan *canon.Event) {
	defer c.wg.Done()

	log := c.log.With("worker", id)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := c.handle(ev); err != nil {
				log.Error("event handling failed", "chain", ev.Chain, "type", ev.Type, "contract_id", ev.ContractID, "error", err)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// handle dispatches one canonical event to its lifecycle rule, per §4.7.
func (c *Coordinator) handle(ev *canon.Event) error {
	switch ev.Type {
	case canon.HTLCCreated:
		return c.handleCreated(ev)
	case canon.HTLCWithdrawn:
		return c.handleWithdrawn(ev)
	case canon.HTLCRefunded:
		return c.handleRefunded(ev)
	default:
		c.log.Warn("unrecognized event type", "type", ev.Type)
		return nil
	}
}

// mirrorCache best-effort writes swap to the hot cache. Failures are logged
// and never propagated: the cache is advisory, per §4.3.
func (c *Coordinator) mirrorCache(swap *storage.Swap) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(cacheKey(swap.SwapID), swap, 10*time.Minute); err != nil {
		c.log.Warn("cache mirror failed", "swap_id", swap.SwapID, "error", err)
	}
	if swap.Status.IsTerminal() {
		// Terminal swaps don't need the hot-path mirror any longer; let the
		// authoritative repository serve any late reads.
		c.cache.Delete(cacheKey(swap.SwapID))
	}
}

func cacheKey(swapID string) string {
	return "swap:" + swapID
}

// notify best-effort publishes a lifecycle event to the push hub.
func (c *Coordinator) notify(eventType string, swap *storage.Swap) {
	if c.notifier == nil {
		return
	}
	c.notifier.NotifySwap(eventType, swap)
}
