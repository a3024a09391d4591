package routing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jedisct1/inferswitch/internal/availability"
	"github.com/jedisct1/inferswitch/internal/backends"
)

// Rule names the chain step that produced a selection.
const (
	RuleForcedExpert     = "forced_expert"
	RuleForcedExpertise  = "forced_expertise"
	RuleForcedDifficulty = "forced_difficulty"
	RuleExplicitBackend  = "explicit_backend"
	RuleBackendPin       = "backend_pin"
	RuleExpert           = "expert"
	RuleExpertise        = "expertise"
	RuleDifficulty       = "difficulty"
	RuleModelProvider    = "model_provider"
	RuleFallback         = "fallback"
)

// Query carries the per-request routing inputs: the requested model,
// an optional explicit backend from the request headers, and whatever
// classification labels the upstream classifiers produced.
type Query struct {
	Model           string
	ExplicitBackend string
	Difficulty      *float64
	ExpertiseTag    string
	ExpertName      string
}

// Selection is the outcome of one routing decision: the backend to
// dispatch to, the concrete model to request from it, and the rule
// that decided. It is returned by value per request; nothing shared is
// mutated.
type Selection struct {
	Backend backends.Backend
	Model   string
	Rule    string
}

// Router selects a backend and model per request from an immutable
// Policy, the backend registry and the availability tracker.
type Router struct {
	policy   *Policy
	registry *backends.Registry
	tracker  *availability.Tracker
	logger   *logrus.Logger
}

// NewRouter creates a router over a policy snapshot.
func NewRouter(policy *Policy, registry *backends.Registry, tracker *availability.Tracker, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		policy:   policy,
		registry: registry,
		tracker:  tracker,
		logger:   logger,
	}
}

// Policy returns the policy snapshot the router was built with.
func (r *Router) Policy() *Policy { return r.policy }

// SelectBackend runs the routing chain and returns the selection, or a
// model_not_found error carrying every supported model once the chain
// is exhausted. The chain, in order: forced single-criterion routing,
// model override rewrite, explicit backend, global backend pin, expert
// routing, expertise routing, difficulty routing, the model→provider
// map, and the fallback pair.
func (r *Router) SelectBackend(q Query) (*Selection, error) {
	// Forced routing short-circuits its criterion when the matching
	// classification is present; a miss falls through to the normal
	// chain instead of failing the request.
	if sel, ok := r.selectForced(q); ok {
		r.logSelection(sel, q)
		return sel, nil
	}

	model := r.policy.EffectiveModel(q.Model)
	if model != q.Model {
		r.logger.WithFields(logrus.Fields{
			"requested_model": q.Model,
			"effective_model": model,
		}).Debug("Model override applied")
	}

	if q.ExplicitBackend != "" {
		sel, err := r.selectExplicit(q.ExplicitBackend, model)
		if err != nil {
			return nil, err
		}
		r.logSelection(sel, q)
		return sel, nil
	}

	if r.policy.ActiveBackend != "" {
		if b, ok := r.registry.Get(r.policy.ActiveBackend); ok {
			if b.DynamicModelList() || b.SupportsModel(model) {
				sel := &Selection{Backend: b, Model: model, Rule: RuleBackendPin}
				r.logSelection(sel, q)
				return sel, nil
			}
		}
		// A pin that cannot serve the model falls through.
	}

	if q.ExpertName != "" {
		if sel, ok := r.selectFromCandidates(r.policy.ExpertCandidates(q.ExpertName), RuleExpert); ok {
			r.logSelection(sel, q)
			return sel, nil
		}
	}

	if q.ExpertiseTag != "" {
		if sel, ok := r.selectFromCandidates(r.policy.ExpertiseCandidates(q.ExpertiseTag), RuleExpertise); ok {
			r.logSelection(sel, q)
			return sel, nil
		}
	}

	if q.Difficulty != nil {
		if sel, ok := r.selectFromCandidates(r.policy.DifficultyCandidates(*q.Difficulty), RuleDifficulty); ok {
			r.logSelection(sel, q)
			return sel, nil
		}
	}

	if provider, ok := r.policy.ModelProviders[model]; ok {
		if b, registered := r.registry.Get(provider); registered {
			sel := &Selection{Backend: b, Model: model, Rule: RuleModelProvider}
			r.logSelection(sel, q)
			return sel, nil
		}
	}

	if r.policy.FallbackBackend != "" && r.policy.FallbackModel != "" {
		if b, ok := r.registry.Get(r.policy.FallbackBackend); ok {
			sel := &Selection{Backend: b, Model: r.policy.FallbackModel, Rule: RuleFallback}
			r.logSelection(sel, q)
			return sel, nil
		}
	}

	return nil, backends.NewModelNotFound(
		fmt.Sprintf("no backend found for model %q", model),
		model, "", r.registry.SupportedModels(),
	)
}

// selectForced tries the single forced criterion, expert before
// expertise before difficulty.
func (r *Router) selectForced(q Query) (*Selection, bool) {
	switch {
	case r.policy.ForceExpert && q.ExpertName != "":
		return r.selectFromCandidates(r.policy.ExpertCandidates(q.ExpertName), RuleForcedExpert)
	case r.policy.ForceExpertise && q.ExpertiseTag != "":
		return r.selectFromCandidates(r.policy.ExpertiseCandidates(q.ExpertiseTag), RuleForcedExpertise)
	case r.policy.ForceDifficulty && q.Difficulty != nil:
		return r.selectFromCandidates(r.policy.DifficultyCandidates(*q.Difficulty), RuleForcedDifficulty)
	}
	return nil, false
}

// selectExplicit honors the per-request backend header. Unlike every
// other step, a miss here is an error scoped to the named backend
// rather than a fallthrough.
func (r *Router) selectExplicit(name, model string) (*Selection, error) {
	b, ok := r.registry.Get(name)
	if !ok {
		return nil, backends.NewError(backends.KindInvalidRequest,
			fmt.Sprintf("unknown backend %q", name), name)
	}
	if !b.DynamicModelList() && !b.SupportsModel(model) {
		return nil, backends.NewModelNotFound(
			fmt.Sprintf("backend %q does not support model %q", name, model),
			model, name, b.Models(),
		)
	}
	return &Selection{Backend: b, Model: model, Rule: RuleExplicitBackend}, nil
}

// selectFromCandidates walks a candidate list in order, skipping
// models that are disabled, unmapped, or mapped to an unregistered
// backend. Exhaustion is a miss, not an error.
func (r *Router) selectFromCandidates(candidates []string, rule string) (*Selection, bool) {
	for _, model := range candidates {
		if !r.tracker.IsAvailable(model) {
			r.logger.WithFields(logrus.Fields{
				"model": model,
				"rule":  rule,
			}).Debug("Skipping disabled candidate")
			continue
		}
		provider, ok := r.policy.ModelProviders[model]
		if !ok {
			continue
		}
		b, ok := r.registry.Get(provider)
		if !ok {
			continue
		}
		return &Selection{Backend: b, Model: model, Rule: rule}, true
	}
	return nil, false
}

// MarkModelFailure records a failed call against the concrete model
// that served it.
func (r *Router) MarkModelFailure(model string) {
	r.tracker.MarkFailure(model)
}

// MarkModelSuccess re-enables a model after a completed call.
func (r *Router) MarkModelSuccess(model string) {
	r.tracker.MarkSuccess(model)
}

// EffectiveModel applies only the override rewrite, independent of any
// selection.
func (r *Router) EffectiveModel(model string) string {
	return r.policy.EffectiveModel(model)
}

// DisabledModels reports the models currently held out of rotation.
func (r *Router) DisabledModels() []string {
	return r.tracker.DisabledModels()
}

func (r *Router) logSelection(sel *Selection, q Query) {
	r.logger.WithFields(logrus.Fields{
		"backend":         sel.Backend.Name(),
		"model":           sel.Model,
		"rule":            sel.Rule,
		"requested_model": q.Model,
	}).Info("Request routed")
}
