// Package normalizer translates between provider wire formats and the
// canonical message schema. Every function here is pure: no state, no
// network, no clocks.
package normalizer

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jedisct1/inferswitch/internal/types"
)

// finishReasonToStop maps OpenAI finish reasons onto canonical stop
// reasons. Unknown reasons map to end_turn.
var finishReasonToStop = map[openai.FinishReason]string{
	openai.FinishReasonStop:          types.StopEndTurn,
	openai.FinishReasonLength:        types.StopMaxTokens,
	openai.FinishReasonFunctionCall:  types.StopToolUse,
	openai.FinishReasonContentFilter: types.StopStopSequence,
}

// StopReason converts an OpenAI finish reason to the canonical stop
// reason.
func StopReason(reason openai.FinishReason) string {
	if stop, ok := finishReasonToStop[reason]; ok {
		return stop
	}
	return types.StopEndTurn
}

// OpenAIToCanonical converts a chat-completion response into the
// canonical shape: first-choice text becomes a single text block, the
// finish reason is mapped, and the usage counters are renamed.
func OpenAIToCanonical(resp *openai.ChatCompletionResponse) *types.MessagesResponse {
	var text string
	stopReason := types.StopEndTurn
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		text = choice.Message.Content
		stopReason = StopReason(choice.FinishReason)
	}

	return &types.MessagesResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    []types.ContentBlock{types.NewTextBlock(text)},
		Model:      resp.Model,
		StopReason: stopReason,
		Usage: types.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
}

// CanonicalToOpenAIMessages converts a canonical conversation into flat
// chat-completion messages. The system prompt becomes a leading
// system-role message; typed content blocks collapse into flat text,
// with placeholders standing in for blocks that have no flat-text
// equivalent. Cache-control metadata is dropped.
func CanonicalToOpenAIMessages(system string, messages []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: FlattenBlocks(msg.Content),
		})
	}
	return out
}

// OpenAIMessagesToCanonical is the inverse: system-role messages are
// extracted and merged into one system string (joined by a blank
// line), everything else becomes a canonical message with one text
// block.
func OpenAIMessagesToCanonical(messages []openai.ChatCompletionMessage) (string, []types.Message) {
	var system []string
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == openai.ChatMessageRoleSystem {
			system = append(system, msg.Content)
			continue
		}
		out = append(out, types.Message{
			Role:    msg.Role,
			Content: []types.ContentBlock{types.NewTextBlock(msg.Content)},
		})
	}
	return strings.Join(system, "\n\n"), out
}

// FlattenBlocks collapses typed content blocks into flat text for
// targets that only speak strings. Non-text blocks are replaced with
// bracketed placeholders.
func FlattenBlocks(blocks []types.ContentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case types.BlockText:
			parts = append(parts, block.Text)
		case types.BlockImage:
			parts = append(parts, "[Image]")
		case types.BlockToolUse:
			parts = append(parts, fmt.Sprintf("[Tool Use: %s]", block.Name))
		case types.BlockToolResult:
			parts = append(parts, "[Tool Result]")
		}
	}
	return strings.Join(parts, "\n")
}
