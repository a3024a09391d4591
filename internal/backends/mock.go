package backends

import (
	"context"
	"fmt"

	"github.com/jedisct1/inferswitch/internal/normalizer"
	"github.com/jedisct1/inferswitch/internal/types"
)

// Mock returns deterministic responses for local runs and tests. It
// stands in for external backend clients, which live outside this
// module.
type Mock struct {
	name      string
	models    []string
	modelSet  map[string]bool
	dynamic   bool
	responses map[string]string
	reply     string

	// Err, when set, fails every call; used to exercise the error path.
	Err error
}

// NewMock creates a mock backend with a static model list. A nil model
// list makes the backend dynamic, accepting any model.
func NewMock(name string, models []string) *Mock {
	modelSet := make(map[string]bool, len(models))
	for _, m := range models {
		modelSet[m] = true
	}
	return &Mock{
		name:      name,
		models:    models,
		modelSet:  modelSet,
		dynamic:   len(models) == 0,
		responses: make(map[string]string),
		reply:     "OK",
	}
}

// WithReply sets the default reply text.
func (m *Mock) WithReply(text string) *Mock {
	m.reply = text
	return m
}

// RespondTo maps the text of the last user message to a canned reply.
func (m *Mock) RespondTo(prompt, reply string) *Mock {
	m.responses[prompt] = reply
	return m
}

func (m *Mock) Name() string { return m.name }

func (m *Mock) DynamicModelList() bool { return m.dynamic }

func (m *Mock) Models() []string {
	if m.dynamic {
		return nil
	}
	models := make([]string, len(m.models))
	copy(models, m.models)
	return models
}

func (m *Mock) SupportsModel(model string) bool {
	return m.dynamic || m.modelSet[model]
}

func (m *Mock) CreateMessage(ctx context.Context, req *types.MessagesRequest) (*types.MessagesResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	text := m.reply
	if prompt := lastUserText(req); prompt != "" {
		if canned, ok := m.responses[prompt]; ok {
			text = canned
		}
	}
	return &types.MessagesResponse{
		ID:         fmt.Sprintf("msg_mock_%s", m.name),
		Type:       "message",
		Role:       "assistant",
		Content:    []types.ContentBlock{types.NewTextBlock(text)},
		Model:      req.Model,
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 1, OutputTokens: 1},
	}, nil
}

func (m *Mock) CreateMessageStream(ctx context.Context, req *types.MessagesRequest) (<-chan types.StreamEvent, error) {
	resp, err := m.CreateMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	events := make(chan types.StreamEvent, 16)
	go func() {
		defer close(events)
		for _, event := range normalizer.SynthesizeStream(resp, "") {
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func lastUserText(req *types.MessagesRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != "user" {
			continue
		}
		for _, block := range req.Messages[i].Content {
			if block.Type == types.BlockText {
				return block.Text
			}
		}
	}
	return ""
}

var _ Backend = (*Mock)(nil)
