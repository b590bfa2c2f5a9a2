// Package pushhub implements the push hub (C9): a WebSocket fan-out that
// lets external subscribers follow swap lifecycle events in real time,
// filtered by topic or by a specific swap_id, per §4.9.
package pushhub

// MessageType is the envelope's discriminator.
type MessageType string

const (
	TypeHeartbeat          MessageType = "heartbeat"
	TypeSwapCreated        MessageType = "swap_created"
	TypeSwapUpdated        MessageType = "swap_updated"
	TypeSwapStatusChanged  MessageType = "swap_status_changed"
	TypeSwapError          MessageType = "swap_error"
	TypeSwapSubscribed     MessageType = "swap_subscribed"
	TypeSwapUnsubscribed   MessageType = "swap_unsubscribed"
	TypeError              MessageType = "error"

	// Query-response types, beyond the base broadcast enum: answers to the
	// session's own get_swaps/get_swap requests.
	TypeSwapList MessageType = "swap_list"
	TypeSwap     MessageType = "swap"
)

// Envelope is the wire message shape for every push hub message, inbound
// acks and outbound broadcasts alike.
type Envelope struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Topic is a broadcast channel a session can subscribe to wholesale,
// independent of any specific swap_id.
type Topic string

const (
	TopicSwapUpdates      Topic = "swap_updates"
	TopicHTLCEvents       Topic = "htlc_events"
	TopicSystemEvents     Topic = "system_events"
	TopicWithdrawalEvents Topic = "withdrawal_events"
)

var validTopics = map[Topic]bool{
	TopicSwapUpdates:      true,
	TopicHTLCEvents:       true,
	TopicSystemEvents:     true,
	TopicWithdrawalEvents: true,
}

// InboundMessage is what a session sends the hub: a subscription or query
// request.
type InboundMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics,omitempty"`
	SwapID string   `json:"swap_id,omitempty"`
	Status string   `json:"status,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// Inbound actions.
const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionSubscribeSwap  = "subscribe_swap"
	ActionUnsubscribeSwap = "unsubscribe_swap"
	ActionGetSwaps       = "get_swaps"
	ActionGetSwap        = "get_swap"
	ActionPong           = "pong"
)
