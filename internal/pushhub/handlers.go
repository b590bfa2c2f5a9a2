package pushhub

import (
	"time"

	"github.com/klingon-tech/htlc-relayer/internal/storage"
)

// handleInbound processes one decoded client message and returns zero or
// more envelopes to send back to that same session, per §4.9's inbound
// action set (subscribe/unsubscribe/subscribe_swap/unsubscribe_swap/
// get_swaps/get_swap/pong).
func (h *Hub) handleInbound(s *Session, msg InboundMessage) []Envelope {
	s.touch()

	switch msg.Action {
	case ActionSubscribe:
		s.subscribeTopics(msg.Topics)
		return nil

	case ActionUnsubscribe:
		s.unsubscribeTopics(msg.Topics)
		return nil

	case ActionSubscribeSwap:
		if msg.SwapID == "" {
			return []Envelope{errorEnvelope("swap_id required")}
		}
		s.subscribeSwap(msg.SwapID)
		return []Envelope{{Type: TypeSwapSubscribed, Data: map[string]string{"swap_id": msg.SwapID}, Timestamp: now()}}

	case ActionUnsubscribeSwap:
		if msg.SwapID == "" {
			return []Envelope{errorEnvelope("swap_id required")}
		}
		s.unsubscribeSwap(msg.SwapID)
		return []Envelope{{Type: TypeSwapUnsubscribed, Data: map[string]string{"swap_id": msg.SwapID}, Timestamp: now()}}

	case ActionGetSwap:
		return []Envelope{h.handleGetSwap(msg.SwapID)}

	case ActionGetSwaps:
		return []Envelope{h.handleGetSwaps(msg.Status, msg.Limit)}

	case ActionPong:
		// touch() above already reset the staleness clock; nothing else to do.
		return nil

	default:
		return []Envelope{errorEnvelope("unknown action: " + msg.Action)}
	}
}

func (h *Hub) handleGetSwap(swapID string) Envelope {
	if swapID == "" {
		return errorEnvelope("swap_id required")
	}
	if h.repo == nil {
		return errorEnvelope("swap repository unavailable")
	}
	swap, err := h.repo.Load(swapID)
	if err != nil {
		return errorEnvelope(err.Error())
	}
	return Envelope{Type: TypeSwap, Data: swap, Timestamp: now()}
}

func (h *Hub) handleGetSwaps(statusFilter string, limit int) Envelope {
	if h.repo == nil {
		return errorEnvelope("swap repository unavailable")
	}

	var status *storage.Status
	if statusFilter != "" {
		st := storage.Status(statusFilter)
		status = &st
	}

	swaps, err := h.repo.ListByStatus(status, limit)
	if err != nil {
		return errorEnvelope(err.Error())
	}
	return Envelope{Type: TypeSwapList, Data: swaps, Timestamp: now()}
}

func errorEnvelope(message string) Envelope {
	return Envelope{Type: TypeError, Data: map[string]string{"message": message}, Timestamp: now()}
}

func now() int64 {
	return time.Now().Unix()
}
