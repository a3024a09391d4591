package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/jedisct1/inferswitch/internal/backends"
	"github.com/jedisct1/inferswitch/internal/normalizer"
	"github.com/jedisct1/inferswitch/internal/routing"
	"github.com/jedisct1/inferswitch/internal/types"
)

const defaultAnthropicVersion = "2023-06-01"

// Classifier scores a request so the router can pick a candidate list.
// Implementations run ML models and live outside this module; each
// label is optional, with the zero value meaning "no label".
type Classifier interface {
	// DifficultyScore rates the request, typically within [0,5].
	DifficultyScore(ctx context.Context, req *types.MessagesRequest) (float64, error)

	// ExpertName names the expert bucket, or "" when none applies.
	ExpertName(ctx context.Context, req *types.MessagesRequest) (string, error)

	// ExpertiseTag returns the legacy expertise tag, or "".
	ExpertiseTag(ctx context.Context, req *types.MessagesRequest) (string, error)
}

// handleMessages serves the canonical chat endpoint: classify, route,
// dispatch, then mark the model's availability from the outcome.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req types.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest,
			fmt.Sprintf("invalid JSON: %v", err), ""))
		return
	}
	if req.Model == "" {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest, "model is required", ""))
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, backends.NewError(backends.KindInvalidRequest, "messages cannot be empty", ""))
		return
	}

	version := r.Header.Get("Anthropic-Version")
	if version == "" {
		version = defaultAnthropicVersion
	}
	w.Header().Set("Anthropic-Version", version)

	q := routing.Query{
		Model:           req.Model,
		ExplicitBackend: r.Header.Get("X-Backend"),
	}
	s.classify(r.Context(), &req, &q)

	sel, err := s.router.SelectBackend(q)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !s.config.ProxyMode {
		s.serveCanned(w, &req, sel)
		return
	}

	dispatch := req
	dispatch.Model = sel.Model

	if req.Stream {
		s.streamMessage(w, r, &dispatch, sel)
		return
	}

	resp, err := sel.Backend.CreateMessage(r.Context(), &dispatch)
	if err != nil {
		s.failDispatch(w, sel, err)
		return
	}
	s.router.MarkModelSuccess(sel.Model)

	w.Header().Set("X-Backend", sel.Backend.Name())
	s.writeJSON(w, http.StatusOK, resp)
}

// streamMessage relays a backend event stream to the client as SSE.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request, req *types.MessagesRequest, sel *routing.Selection) {
	events, err := sel.Backend.CreateMessageStream(r.Context(), req)
	if err != nil {
		s.failDispatch(w, sel, err)
		return
	}

	sse := s.startSSE(w, sel)
	for event := range events {
		sse.send(event)
	}
	sse.flush()

	s.router.MarkModelSuccess(sel.Model)
}

// serveCanned answers with a locally synthesized reply. Routing has
// already run, so the response carries the selected model; nothing
// reaches the backend.
func (s *Server) serveCanned(w http.ResponseWriter, req *types.MessagesRequest, sel *routing.Selection) {
	resp := &types.MessagesResponse{
		ID:         fmt.Sprintf("msg_local_%s", sel.Backend.Name()),
		Type:       "message",
		Role:       "assistant",
		Content:    []types.ContentBlock{types.NewTextBlock("OK")},
		Model:      sel.Model,
		StopReason: types.StopEndTurn,
		Usage:      types.Usage{InputTokens: 1, OutputTokens: 1},
	}

	if req.Stream {
		sse := s.startSSE(w, sel)
		for _, event := range normalizer.SynthesizeStream(resp, "") {
			sse.send(event)
		}
		sse.flush()
		return
	}

	w.Header().Set("X-Backend", sel.Backend.Name())
	s.writeJSON(w, http.StatusOK, resp)
}

// failDispatch classifies a backend failure, updates availability and
// renders the error.
func (s *Server) failDispatch(w http.ResponseWriter, sel *routing.Selection, err error) {
	classified := backends.Classify(err, sel.Backend.Name())

	s.logger.WithError(classified).WithFields(logrus.Fields{
		"backend": sel.Backend.Name(),
		"model":   sel.Model,
	}).Error("Backend call failed")

	if backends.ShouldDisableModel(classified) {
		s.router.MarkModelFailure(sel.Model)
	}
	s.writeError(w, classified)
}

// classify fills in the query's classification labels. A classifier is
// only consulted when its criterion is configured and its output can
// still change the outcome; when every candidate list of a criterion is
// identical, the label is pinned without running the classifier.
func (s *Server) classify(ctx context.Context, req *types.MessagesRequest, q *routing.Query) {
	policy := s.router.Policy()

	if len(policy.ExpertModels) > 0 {
		if policy.AllExpertModelsAreSame() {
			q.ExpertName = anyKey(policy.ExpertModels)
		} else if s.classifier != nil {
			if name, err := s.classifier.ExpertName(ctx, req); err != nil {
				s.logger.WithError(err).Warn("Expert classification failed")
			} else {
				q.ExpertName = name
			}
		}
	}

	if len(policy.ExpertiseModels) > 0 {
		if policy.AllExpertiseModelsAreSame() {
			q.ExpertiseTag = anyKey(policy.ExpertiseModels)
		} else if s.classifier != nil {
			if tag, err := s.classifier.ExpertiseTag(ctx, req); err != nil {
				s.logger.WithError(err).Warn("Expertise classification failed")
			} else {
				q.ExpertiseTag = tag
			}
		}
	}

	if len(policy.DifficultyModels) > 0 {
		if policy.AllDifficultyModelsAreSame() {
			score := policy.DifficultyModels[0].Min
			q.Difficulty = &score
		} else if s.classifier != nil {
			if score, err := s.classifier.DifficultyScore(ctx, req); err != nil {
				s.logger.WithError(err).Warn("Difficulty classification failed")
			} else {
				q.Difficulty = &score
			}
		}
	}
}

// anyKey picks an arbitrary key. Only used when every value in the
// mapping is identical, so the choice cannot matter.
func anyKey(mapping map[string][]string) string {
	for k := range mapping {
		return k
	}
	return ""
}

// sseWriter frames canonical stream events as server-sent events:
// "event: <type>" then "data: <json>" and a blank line.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *logrus.Logger
}

func (s *Server) startSSE(w http.ResponseWriter, sel *routing.Selection) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Backend", sel.Backend.Name())
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher, logger: s.logger}
}

func (sw *sseWriter) send(event types.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		sw.logger.WithError(err).Error("Failed to marshal stream event")
		return
	}
	fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event.Type, data)
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

func (sw *sseWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
