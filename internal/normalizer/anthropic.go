package normalizer

import (
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jedisct1/inferswitch/internal/types"
)

// CanonicalToAnthropicParams converts a canonical request into the
// Anthropic SDK's parameter struct, for backends that dispatch through
// that client. Text blocks pass through as blocks; block types the
// param schema cannot express here are substituted with the same
// placeholders the flat-text conversion uses.
func CanonicalToAnthropicParams(req *types.MessagesRequest) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  make([]anthropic.MessageParam, 0, len(req.Messages)),
	}
	if params.MaxTokens == 0 {
		// The upstream API rejects requests without max_tokens.
		params.MaxTokens = 1024
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.System, Type: "text"},
		}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}
	if len(req.StopSequences) > 0 {
		stop := make([]string, len(req.StopSequences))
		copy(stop, req.StopSequences)
		params.StopSequences = stop
	}

	for _, msg := range req.Messages {
		params.Messages = append(params.Messages, convertMessageParam(msg))
	}
	return params
}

func convertMessageParam(msg types.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case types.BlockText:
			blocks = append(blocks, anthropic.NewTextBlock(block.Text))
		case types.BlockImage:
			blocks = append(blocks, anthropic.NewTextBlock("[Image]"))
		case types.BlockToolUse:
			blocks = append(blocks, anthropic.NewTextBlock(fmt.Sprintf("[Tool Use: %s]", block.Name)))
		case types.BlockToolResult:
			blocks = append(blocks, anthropic.NewTextBlock("[Tool Result]"))
		}
	}
	if msg.Role == "assistant" {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}
