package backends

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_KindPriority(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		kind ErrorKind
	}{
		// Context-window phrases win even when the message also smells
		// like a generic invalid request.
		{"context window beats invalid request", "invalid request: context_length_exceeded", KindContextWindowExceeded},
		{"context window plain", "prompt is above the maximum context size", KindContextWindowExceeded},
		{"authentication", "invalid api key provided", KindAuthentication},
		{"rate limit", "rate limit reached for gpt-4o", KindRateLimit},
		{"model not found", "unknown model: gpt-5-nano", KindModelNotFound},
		{"unavailable", "connection refused", KindBackendUnavailable},
		{"invalid request", "bad request: missing messages", KindInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := Classify(errors.New(tt.msg), "openai")

			var tagged *Error
			require.ErrorAs(t, classified, &tagged)
			assert.Equal(t, tt.kind, tagged.Kind)
			assert.Equal(t, "openai", tagged.Backend)
			assert.Equal(t, kindStatus[tt.kind], tagged.StatusCode)
		})
	}
}

func TestClassify_UnmatchedPassesThrough(t *testing.T) {
	raw := errors.New("something nobody anticipated")
	classified := Classify(raw, "openai")
	assert.Equal(t, raw, classified)
}

func TestClassify_TaggedPassesThrough(t *testing.T) {
	tagged := NewError(KindRateLimit, "slow down", "openai")
	classified := Classify(fmt.Errorf("call failed: %w", tagged), "other")

	var got *Error
	require.ErrorAs(t, classified, &got)
	assert.Equal(t, tagged, got)
}

func TestClassify_Nil(t *testing.T) {
	assert.NoError(t, Classify(nil, "openai"))
}

func TestShouldDisableModel(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		disable bool
	}{
		{"nil", nil, false},
		{"auth error", NewError(KindAuthentication, "invalid api key", "openai"), true},
		{"rate limit", NewError(KindRateLimit, "too many requests", "openai"), true},
		{"payment required", &Error{Kind: KindInvalidRequest, Message: "payment required", StatusCode: 402}, true},
		{"400 rejecting the model", NewError(KindInvalidRequest, "model gpt-5 does not exist", "openai"), true},
		{"400 rejecting the body", NewError(KindInvalidRequest, "missing field: messages", "openai"), false},
		{"untyped credit failure", errors.New("insufficient credits remaining"), true},
		{"untyped unrelated failure", errors.New("stream closed unexpectedly"), false},
		{"completed-call error is not a health signal", NewError(KindContextWindowExceeded, "context window exceeded", "openai"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.disable, ShouldDisableModel(tt.err))
		})
	}
}

func TestNewModelNotFound_Details(t *testing.T) {
	err := NewModelNotFound("no backend found for model 'x'", "x", "", []string{"a", "b"})

	assert.Equal(t, KindModelNotFound, err.Kind)
	assert.Equal(t, 404, err.StatusCode)
	assert.Equal(t, "x", err.Details["requested_model"])
	assert.Equal(t, []string{"a", "b"}, err.Details["available_models"])

	api := err.ToAPI()
	detail, ok := api["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "model_not_found", detail["type"])
}
