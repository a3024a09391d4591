package normalizer

import (
	openai "github.com/sashabaranov/go-openai"

	"github.com/jedisct1/inferswitch/internal/types"
)

// ChunkNormalizer translates a native streaming delta sequence into
// canonical events. It is stateful per stream: the synthetic
// message_start is emitted exactly once, on the first chunk that
// carries a role. Not safe for concurrent use; create one per stream.
type ChunkNormalizer struct {
	started bool
	model   string
}

// NewChunkNormalizer creates a normalizer for one stream. The model
// name is stamped onto the synthetic message_start.
func NewChunkNormalizer(model string) *ChunkNormalizer {
	return &ChunkNormalizer{model: model}
}

// Normalize converts one chunk into zero or more canonical events. A
// chunk with no actionable payload yields nothing. A single chunk can
// yield several events: when the first chunk carries both a role and
// content, the synthetic message_start is emitted immediately before
// the content_block_delta so downstream consumers always see the
// start frame first. Event order within the slice is the canonical
// stream order.
func (n *ChunkNormalizer) Normalize(chunk *openai.ChatCompletionStreamResponse) []types.StreamEvent {
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []types.StreamEvent
	if !n.started && choice.Delta.Role != "" {
		n.started = true
		events = append(events, types.StreamEvent{
			Type: types.EventMessageStart,
			Message: &types.MessagesResponse{
				ID:      chunk.ID,
				Type:    "message",
				Role:    choice.Delta.Role,
				Content: []types.ContentBlock{},
				Model:   n.model,
			},
		})
	}

	if choice.Delta.Content != "" {
		events = append(events, types.StreamEvent{
			Type:  types.EventContentBlockDelta,
			Index: types.BlockIndex(0),
			Delta: &types.EventDelta{Type: "text_delta", Text: choice.Delta.Content},
		})
	}

	if choice.FinishReason != "" {
		events = append(events, types.StreamEvent{
			Type:  types.EventMessageDelta,
			Delta: &types.EventDelta{StopReason: StopReason(choice.FinishReason)},
		})
	}
	return events
}

// SynthesizeStream renders a complete response as the canonical event
// sequence, for delivering a non-streaming reply over a streaming
// transport. An optional leading text block is emitted before the
// response's own content; block indices are contiguous and strictly
// increasing across both.
func SynthesizeStream(resp *types.MessagesResponse, leadingText string) []types.StreamEvent {
	start := *resp
	start.Content = []types.ContentBlock{}
	start.StopReason = ""
	start.Usage.OutputTokens = 0

	events := []types.StreamEvent{
		{Type: types.EventMessageStart, Message: &start},
	}

	index := 0
	if leadingText != "" {
		events = append(events, blockTriple(index, leadingText)...)
		index++
	}
	for _, block := range resp.Content {
		events = append(events, blockTriple(index, blockText(block))...)
		index++
	}

	events = append(events,
		types.StreamEvent{
			Type:  types.EventMessageDelta,
			Delta: &types.EventDelta{StopReason: resp.StopReason},
			Usage: &types.DeltaUsage{OutputTokens: resp.Usage.OutputTokens},
		},
		types.StreamEvent{Type: types.EventMessageStop},
	)
	return events
}

// blockTriple is the start/delta/stop sequence for one text block.
func blockTriple(index int, text string) []types.StreamEvent {
	empty := types.NewTextBlock("")
	return []types.StreamEvent{
		{Type: types.EventContentBlockStart, Index: types.BlockIndex(index), ContentBlock: &empty},
		{Type: types.EventContentBlockDelta, Index: types.BlockIndex(index), Delta: &types.EventDelta{Type: "text_delta", Text: text}},
		{Type: types.EventContentBlockStop, Index: types.BlockIndex(index)},
	}
}

// blockText renders a content block as stream-delta text, using the
// same placeholder scheme as the flat-text conversion.
func blockText(block types.ContentBlock) string {
	return FlattenBlocks([]types.ContentBlock{block})
}
