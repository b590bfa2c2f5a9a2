// Package eventbus merges the EVM and Move observer outputs into a single
// stream the swap coordinator consumes. Ordering within one source's
// channel is preserved; ordering across sources is not, matching §4.6.
package eventbus

import (
	"context"

	"github.com/klingon-tech/htlc-relayer/internal/canon"
)

// Bus is the canonical event bus: one buffered channel per source chain,
// fanned into a single consumer channel.
type Bus struct {
	evm  chan *canon.Event
	move chan *canon.Event
	out  chan *canon.Event
	done chan struct{}
}

// New creates a bus with the given per-source buffer size.
func New(bufferSize int) *Bus {
	b := &Bus{
		evm:  make(chan *canon.Event, bufferSize),
		move: make(chan *canon.Event, bufferSize),
		out:  make(chan *canon.Event, bufferSize),
		done: make(chan struct{}),
	}
	go b.fanIn()
	return b
}

// PublishEVM enqueues an event observed on the EVM chain. Blocks if the
// per-source buffer is full, applying backpressure to the observer.
func (b *Bus) PublishEVM(ctx context.Context, ev *canon.Event) error {
	select {
	case b.evm <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// PublishMove enqueues an event observed on the Move chain.
func (b *Bus) PublishMove(ctx context.Context, ev *canon.Event) error {
	select {
	case b.move <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return nil
	}
}

// Events returns the single consumer channel the coordinator reads from.
func (b *Bus) Events() <-chan *canon.Event {
	return b.out
}

// Close stops accepting new events and closes the consumer channel once
// pending events have been delivered.
func (b *Bus) Close() {
	close(b.done)
}

func (b *Bus) fanIn() {
	defer close(b.out)
	for {
		select {
		case ev := <-b.evm:
			select {
			case b.out <- ev:
			case <-b.done:
				return
			}
		case ev := <-b.move:
			select {
			case b.out <- ev:
			case <-b.done:
				return
			}
		case <-b.done:
			return
		}
	}
}
