package backends

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the stable error tag exposed on the API surface.
type ErrorKind string

const (
	KindContextWindowExceeded ErrorKind = "context_window_exceeded"
	KindAuthentication        ErrorKind = "authentication_error"
	KindRateLimit             ErrorKind = "rate_limit_error"
	KindModelNotFound         ErrorKind = "model_not_found"
	KindBackendUnavailable    ErrorKind = "backend_unavailable"
	KindInvalidRequest        ErrorKind = "invalid_request"
)

var kindStatus = map[ErrorKind]int{
	KindContextWindowExceeded: 400,
	KindAuthentication:        401,
	KindRateLimit:             429,
	KindModelNotFound:         404,
	KindBackendUnavailable:    503,
	KindInvalidRequest:        400,
}

// Error is the unified backend error carried across the gateway.
type Error struct {
	Kind       ErrorKind
	Message    string
	Backend    string
	StatusCode int
	Details    map[string]interface{}
}

func (e *Error) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s: %s (backend %s)", e.Kind, e.Message, e.Backend)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ToAPI renders the error in the canonical wire shape.
func (e *Error) ToAPI() map[string]interface{} {
	detail := map[string]interface{}{
		"type":    string(e.Kind),
		"message": e.Message,
	}
	if e.Backend != "" {
		detail["backend"] = e.Backend
	}
	for k, v := range e.Details {
		detail[k] = v
	}
	return map[string]interface{}{"error": detail}
}

// NewError builds an Error with the default status for its kind.
func NewError(kind ErrorKind, message, backend string) *Error {
	return &Error{
		Kind:       kind,
		Message:    message,
		Backend:    backend,
		StatusCode: kindStatus[kind],
	}
}

// NewModelNotFound builds a model_not_found error carrying the requested
// model and, when known, every supported model across backends.
func NewModelNotFound(message, model, backend string, availableModels []string) *Error {
	err := NewError(KindModelNotFound, message, backend)
	err.Details = map[string]interface{}{"requested_model": model}
	if len(availableModels) > 0 {
		err.Details["available_models"] = availableModels
	}
	return err
}

// classificationRule pairs a set of message phrases with the kind they
// indicate. Rules are evaluated top to bottom; the order is part of the
// contract — context-window phrases come first so a length-caused 400 is
// never misread as a generic invalid request.
type classificationRule struct {
	kind    ErrorKind
	phrases []string
}

var classificationRules = []classificationRule{
	{KindContextWindowExceeded, []string{
		"context_length_exceeded",
		"max_tokens_exceeded",
		"request_too_large",
		"context window",
		"maximum context",
		"token limit exceeded",
		"context length",
		"exceeds maximum",
		"too many tokens",
		"message too long",
	}},
	{KindAuthentication, []string{
		"api key",
		"authentication",
		"unauthorized",
		"invalid key",
	}},
	{KindRateLimit, []string{
		"rate limit",
		"too many requests",
		"quota exceeded",
	}},
	{KindModelNotFound, []string{
		"model not found",
		"unknown model",
		"invalid model",
	}},
	{KindBackendUnavailable, []string{
		"service unavailable",
		"connection error",
		"connection refused",
		"timeout",
	}},
	{KindInvalidRequest, []string{
		"invalid request",
		"bad request",
		"validation error",
	}},
}

// Classify converts a raw backend failure into a tagged Error. Already
// tagged errors pass through unchanged; errors matching no rule are
// returned as-is.
func Classify(err error, backend string) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range classificationRules {
		for _, phrase := range rule.phrases {
			if strings.Contains(msg, phrase) {
				return NewError(rule.kind, err.Error(), backend)
			}
		}
	}
	return err
}

// unsupportedModelPhrases are the 400-response fragments that indicate
// the model itself was rejected rather than the request body.
var unsupportedModelPhrases = []string{
	"model",
	"not supported",
	"not found",
	"invalid model",
	"unknown model",
	"does not exist",
}

// ShouldDisableModel reports whether a failed call warrants temporarily
// disabling the model: authentication, rate-limit and credit failures,
// plus 400s that reject the model itself.
func ShouldDisableModel(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	var tagged *Error
	if errors.As(err, &tagged) {
		switch {
		case tagged.Kind == KindAuthentication || tagged.Kind == KindRateLimit:
			return true
		case tagged.StatusCode == 429 || tagged.StatusCode == 402:
			return true
		case tagged.StatusCode == 400:
			for _, phrase := range unsupportedModelPhrases {
				if strings.Contains(msg, phrase) {
					return true
				}
			}
			return false
		}
	}
	return strings.Contains(msg, "credit") || strings.Contains(msg, "insufficient")
}
