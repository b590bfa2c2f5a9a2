package movechain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
	"github.com/klingon-tech/htlc-relayer/internal/retry"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// Source is the chain_cursors key the Move observer advances.
const Source = "move"

// batchSize is the approximate number of checkpoints covered per poll,
// enforced indirectly via the event page size.
const batchSize = 100

// EventSink is the destination for translated canonical events; satisfied
// by *eventbus.Bus.
type EventSink interface {
	PublishMove(ctx context.Context, ev *canon.Event) error
}

// EventRecorder persists the idempotency key and cursor position together;
// satisfied by *storage.Storage.
type EventRecorder interface {
	RecordEventAndAdvanceCursor(ev *canon.Event, source string, newPosition uint64) (storage.RecordResult, error)
	RecordEventError(ev *canon.Event, cause error) error
	CursorOf(source string) (position uint64, ok bool, err error)
	AdvanceCursor(source string, newPosition uint64) error
}

// eventQuerier is the narrow slice of *Client the observer depends on,
// extracted so tests can fake the RPC surface.
type eventQuerier interface {
	QueryEvents(ctx context.Context, cursor interface{}, limit int) ([]rawMoveEvent, interface{}, bool, error)
}

// ObserverConfig configures the Move observer's polling behavior.
type ObserverConfig struct {
	PollInterval time.Duration
}

// Observer implements C5: it pages through HTLC module events on the Move
// chain, translates them into canonical events, and hands them to the
// event store and bus. Polling is the only mode (no push subscription is
// assumed to exist).
type Observer struct {
	client eventQuerier
	sink   EventSink
	cfg    ObserverConfig
	log    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewObserver constructs a Move Observer.
func NewObserver(client *Client, sink EventSink, cfg ObserverConfig) *Observer {
	return newObserver(client, sink, cfg)
}

func newObserver(client eventQuerier, sink EventSink, cfg ObserverConfig) *Observer {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Observer{
		client: client,
		sink:   sink,
		cfg:    cfg,
		log:    logging.GetDefault().Component("movechain-observer"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the poll loop in a goroutine.
func (o *Observer) Start(recorder EventRecorder) {
	go o.run(recorder)
}

// Stop signals the observer loop to exit.
func (o *Observer) Stop() {
	o.cancel()
}

func (o *Observer) run(recorder EventRecorder) {
	position, ok, err := recorder.CursorOf(Source)
	if err != nil {
		o.log.Error("failed to load move cursor", "error", err)
	}
	var cursor interface{}
	if ok && position > 0 {
		cursor = strconv.FormatUint(position, 10)
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	cursor = o.poll(recorder, cursor)

	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			cursor = o.poll(recorder, cursor)
		}
	}
}

// poll pages through at most one batch of events starting at cursor,
// translating and recording each. It returns the cursor to resume from on
// the next poll.
func (o *Observer) poll(recorder EventRecorder, cursor interface{}) interface{} {
	ctx, cancel := context.WithTimeout(o.ctx, 30*time.Second)
	defer cancel()

	var (
		events     []rawMoveEvent
		nextCursor interface{}
	)
	err := retry.Do(ctx, 3, retry.DefaultBackoff(), func(attempt int) error {
		var err error
		events, nextCursor, _, err = o.client.QueryEvents(ctx, cursor, batchSize)
		return err
	})
	if err != nil {
		o.log.Warn("failed to query move events", "error", err)
		return cursor
	}

	var lastCheckpoint uint64
	haveCheckpoint := false

	for _, raw := range events {
		ev, err := translateMoveEvent(raw)
		if err != nil {
			o.log.Debug("skipping unrecognized move event", "type", raw.Type, "error", err)
			continue
		}
		ev.ObservedAt = time.Now()

		if ev.BlockOrCheckpoint > lastCheckpoint {
			lastCheckpoint = ev.BlockOrCheckpoint
			haveCheckpoint = true
		}

		result, err := recorder.RecordEventAndAdvanceCursor(ev, Source, ev.BlockOrCheckpoint)
		if err != nil {
			o.log.Error("failed to record move event", "tx_hash", ev.TxHash, "error", err)
			_ = recorder.RecordEventError(ev, err)
			continue
		}
		if result == storage.ResultDuplicate {
			continue
		}

		if err := o.sink.PublishMove(ctx, ev); err != nil {
			o.log.Warn("failed to publish move event", "tx_hash", ev.TxHash, "error", err)
		}
	}

	if haveCheckpoint {
		if err := recorder.AdvanceCursor(Source, lastCheckpoint); err != nil {
			o.log.Warn("failed to advance move cursor", "error", err)
		}
	}

	if nextCursor == nil {
		return cursor
	}
	return nextCursor
}

// htlcCreatedPayload is the shape of a Move HTLCCreated event's parsedJson.
type htlcCreatedPayload struct {
	ContractID        string `json:"contract_id"`
	Sender            string `json:"sender"`
	Receiver          string `json:"receiver"`
	Token             string `json:"token"`
	Amount            string `json:"amount"`
	Hashlock          string `json:"hashlock"`
	Timelock          string `json:"timelock"`
	CounterpartyChain string `json:"counterparty_chain_id"`
}

type htlcWithdrawnPayload struct {
	ContractID string `json:"contract_id"`
	Preimage   string `json:"preimage"`
}

type htlcRefundedPayload struct {
	ContractID string `json:"contract_id"`
}

// translateMoveEvent converts one raw Move event into the canonical shape,
// dispatching on the event type's module-qualified suffix.
func translateMoveEvent(raw rawMoveEvent) (*canon.Event, error) {
	checkpoint, err := strconv.ParseUint(raw.Checkpoint, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse checkpoint %q: %w", raw.Checkpoint, err)
	}
	logIndex, err := strconv.ParseUint(raw.ID.EventSeq, 10, 32)
	if err != nil {
		logIndex = 0
	}

	base := &canon.Event{
		Chain:             canon.ChainMove,
		TxHash:            raw.ID.TxDigest,
		LogIndex:          uint32(logIndex),
		BlockOrCheckpoint: checkpoint,
	}

	switch {
	case strings.HasSuffix(raw.Type, "::HTLCCreated"):
		var p htlcCreatedPayload
		if err := json.Unmarshal(raw.ParsedJSON, &p); err != nil {
			return nil, fmt.Errorf("unmarshal HTLCCreated: %w", err)
		}
		base.Type = canon.HTLCCreated
		base.ContractID = p.ContractID
		base.Sender = p.Sender
		base.Receiver = p.Receiver
		base.Token = p.Token
		base.Amount = p.Amount
		base.Hashlock = p.Hashlock
		base.CounterpartyChainID = p.CounterpartyChain
		if t, err := strconv.ParseInt(p.Timelock, 10, 64); err == nil {
			base.Timelock = t
		}

	case strings.HasSuffix(raw.Type, "::HTLCWithdrawn"):
		var p htlcWithdrawnPayload
		if err := json.Unmarshal(raw.ParsedJSON, &p); err != nil {
			return nil, fmt.Errorf("unmarshal HTLCWithdrawn: %w", err)
		}
		base.Type = canon.HTLCWithdrawn
		base.ContractID = p.ContractID
		base.Preimage = p.Preimage

	case strings.HasSuffix(raw.Type, "::HTLCRefunded"):
		var p htlcRefundedPayload
		if err := json.Unmarshal(raw.ParsedJSON, &p); err != nil {
			return nil, fmt.Errorf("unmarshal HTLCRefunded: %w", err)
		}
		base.Type = canon.HTLCRefunded
		base.ContractID = p.ContractID

	default:
		return nil, fmt.Errorf("unrecognized move event type %q", raw.Type)
	}

	return base, nil
}
