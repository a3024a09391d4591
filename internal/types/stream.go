package types

// Canonical stream event types, emitted in this order for a complete
// message: message_start, then per block start/delta/stop, then
// message_delta and message_stop.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// StreamEvent is one canonical streaming event. Block-addressed events
// carry Index; it is a pointer so that index 0 survives serialization.
type StreamEvent struct {
	Type         string            `json:"type"`
	Index        *int              `json:"index,omitempty"`
	Message      *MessagesResponse `json:"message,omitempty"`
	ContentBlock *ContentBlock     `json:"content_block,omitempty"`
	Delta        *EventDelta       `json:"delta,omitempty"`
	Usage        *DeltaUsage       `json:"usage,omitempty"`
	Error        interface{}       `json:"error,omitempty"`
}

// EventDelta is the delta payload of content_block_delta and
// message_delta events.
type EventDelta struct {
	Type         string  `json:"type,omitempty"`
	Text         string  `json:"text,omitempty"`
	StopReason   string  `json:"stop_reason,omitempty"`
	StopSequence *string `json:"stop_sequence,omitempty"`
}

// DeltaUsage is the incremental usage attached to message_delta.
type DeltaUsage struct {
	OutputTokens int `json:"output_tokens"`
}

// BlockIndex returns a pointer suitable for StreamEvent.Index.
func BlockIndex(i int) *int {
	return &i
}
