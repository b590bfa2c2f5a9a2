package evmchain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/retry"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// interBatchPause is the delay between successive FilterLogs chunks within
// one poll, per §4.4's "small inter-batch pause to respect rate limits".
const interBatchPause = 100 * time.Millisecond

// Source is the chain_cursors key the EVM observer advances.
const Source = "evm"

// EventSink is the destination for translated canonical events; satisfied
// by *eventbus.Bus.
type EventSink interface {
	PublishEVM(ctx context.Context, ev *canon.Event) error
}

// chainReader is the narrow slice of *Client the observer's poll loop uses,
// extracted so tests can drive the loop against a fake RPC backend.
type chainReader interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
	DecodeLog(l types.Log) (*canon.Event, error)
}

// logSubscriber is implemented by chainReaders that can open a live
// eth_subscribe push feed; it's checked with a type assertion rather than
// folded into chainReader since not every RPC endpoint (or test fake)
// supports it. A subscribed log only wakes the poll loop early — it never
// bypasses poll's confirmation depth or idempotency handling.
type logSubscriber interface {
	SubscribeLogs(ctx context.Context) (<-chan types.Log, ethereum.Subscription, error)
}

// EventRecorder persists the idempotency key and cursor position together;
// satisfied by *storage.Storage.
type EventRecorder interface {
	RecordEventAndAdvanceCursor(ev *canon.Event, source string, newPosition uint64) (storage.RecordResult, error)
	RecordEventError(ev *canon.Event, cause error) error
	CursorOf(source string) (position uint64, ok bool, err error)
	AdvanceCursor(source string, newPosition uint64) error
}

// ObserverConfig configures the EVM observer's polling and confirmation
// behavior.
type ObserverConfig struct {
	Confirmations  uint64
	PollInterval   time.Duration
	StartBlock     uint64 // floor for the initial cursor; never scanned below this
	BatchSize      uint64 // max blocks per FilterLogs call; default 1000
	BackfillBlocks uint64 // initial replay depth behind the tip when no cursor is persisted; default 10000
}

// Observer implements C4: it tails HTLC logs on the EVM chain, translates
// them into canonical events, and hands them to the event store and bus.
type Observer struct {
	client chainReader
	sink   EventSink
	cfg    ObserverConfig
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewObserver constructs an Observer.
func NewObserver(client *Client, sink EventSink, cfg ObserverConfig) *Observer {
	return newObserver(client, sink, cfg)
}

func newObserver(client chainReader, sink EventSink, cfg ObserverConfig) *Observer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}
	if cfg.BackfillBlocks == 0 {
		cfg.BackfillBlocks = 10000
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		client: client,
		sink:   sink,
		cfg:    cfg,
		log:    logging.GetDefault().Component("evmchain-observer"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the backfill-then-poll loop in a goroutine. recorder
// supplies the resume cursor and durably records each event alongside the
// cursor advance.
func (o *Observer) Start(recorder EventRecorder) {
	go o.run(recorder)
}

// Stop signals the observer loop to exit.
func (o *Observer) Stop() {
	o.cancel()
}

func (o *Observer) run(recorder EventRecorder) {
	cursor, ok, err := recorder.CursorOf(Source)
	if err != nil {
		o.log.Error("failed to load evm cursor, starting from configured start block", "error", err)
		cursor = o.cfg.StartBlock
	} else if !ok {
		cursor = o.backfillStartCursor()
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	kick := make(chan struct{}, 1)
	if sub, logs, ok := o.trySubscribe(); ok {
		defer sub.Unsubscribe()
		go o.tailSubscription(sub, logs, kick)
	}

	// Run one pass immediately so a restart doesn't wait a full interval
	// before catching up on the backlog.
	cursor = o.poll(recorder, cursor)

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			cursor = o.poll(recorder, cursor)
		case <-kick:
			cursor = o.poll(recorder, cursor)
		}
	}
}

// backfillStartCursor computes the initial cursor when no cursor has ever
// been persisted: at most BackfillBlocks behind the current tip, per §4.4's
// "historical backfill runs once at startup... from max(0, current_block −
// 10000)", never below the operator-configured StartBlock floor.
func (o *Observer) backfillStartCursor() uint64 {
	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()

	latest, err := o.client.LatestBlock(ctx)
	if err != nil {
		o.log.Warn("failed to fetch latest block for backfill start, using configured start block", "error", err)
		return o.cfg.StartBlock
	}
	if latest <= o.cfg.BackfillBlocks {
		return o.cfg.StartBlock
	}
	if start := latest - o.cfg.BackfillBlocks; start > o.cfg.StartBlock {
		return start
	}
	return o.cfg.StartBlock
}

// trySubscribe attempts to open a live log subscription per §4.4's
// "attempt to open a live push subscription... if unavailable or after
// failure, fall back to polling". Not every chainReader (or RPC endpoint)
// supports it, so failure here is routine, not an error condition.
func (o *Observer) trySubscribe() (ethereum.Subscription, <-chan types.Log, bool) {
	subscriber, ok := o.client.(logSubscriber)
	if !ok {
		return nil, nil, false
	}
	logs, sub, err := subscriber.SubscribeLogs(o.ctx)
	if err != nil {
		o.log.Debug("live log subscription unavailable, polling only", "error", err)
		return nil, nil, false
	}
	o.log.Info("live log subscription established")
	return sub, logs, true
}

// tailSubscription wakes the poll loop as soon as a log arrives instead of
// acting on it directly: a pushed log hasn't necessarily cleared
// Confirmations yet, so poll's confirmation depth and idempotency handling
// remain the single source of truth for what gets recorded and published.
func (o *Observer) tailSubscription(sub ethereum.Subscription, logs <-chan types.Log, kick chan<- struct{}) {
	for {
		select {
		case <-o.ctx.Done():
			return
		case err := <-sub.Err():
			if err != nil {
				o.log.Warn("log subscription ended, falling back to polling only", "error", err)
			}
			return
		case <-logs:
			select {
			case kick <- struct{}{}:
			default:
			}
		}
	}
}

// poll fetches logs in (cursor, latest-confirmations], in chunks of at most
// BatchSize blocks per §4.4, translates and records each, and returns the
// new cursor position.
func (o *Observer) poll(recorder EventRecorder, cursor uint64) uint64 {
	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()

	var latest uint64
	err := retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		var err error
		latest, err = o.client.LatestBlock(ctx)
		return err
	})
	if err != nil {
		o.log.Warn("failed to fetch latest block", "error", err)
		return cursor
	}

	if latest < o.cfg.Confirmations {
		return cursor
	}
	safeHead := latest - o.cfg.Confirmations
	if safeHead <= cursor {
		return cursor
	}

	for from := cursor + 1; from <= safeHead; from += o.cfg.BatchSize {
		to := from + o.cfg.BatchSize - 1
		if to > safeHead {
			to = safeHead
		}

		var logs []types.Log
		err := retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
			raw, err := o.client.FilterLogs(ctx, from, to)
			if err != nil {
				return err
			}
			logs = raw
			return nil
		})
		if err != nil {
			o.log.Warn("failed to filter evm logs", "from", from, "to", to, "error", err)
			return cursor
		}

		for _, l := range logs {
			ev, err := o.client.DecodeLog(l)
			if err != nil {
				o.log.Debug("skipping unrecognized log", "error", err)
				continue
			}
			ev.ObservedAt = time.Now()

			result, err := recorder.RecordEventAndAdvanceCursor(ev, Source, l.BlockNumber)
			if err != nil {
				o.log.Error("failed to record evm event", "tx_hash", ev.TxHash, "error", err)
				_ = recorder.RecordEventError(ev, err)
				continue
			}
			if result == storage.ResultDuplicate {
				continue
			}

			if err := o.sink.PublishEVM(ctx, ev); err != nil {
				o.log.Warn("failed to publish evm event", "tx_hash", ev.TxHash, "error", err)
			}
		}

		// Advance the durable cursor to the full scanned chunk even when no
		// events were found in its tail, so a restart doesn't re-scan an
		// already-empty range.
		if err := recorder.AdvanceCursor(Source, to); err != nil {
			o.log.Warn("failed to advance evm cursor", "to", to, "error", err)
			return cursor
		}
		cursor = to

		if to < safeHead {
			select {
			case <-time.After(interBatchPause):
			case <-ctx.Done():
				return cursor
			}
		}
	}

	return cursor
}
