package routing

import (
	"fmt"
)

// Decision is the serializable explanation of one routing outcome,
// returned by the dry-run decision endpoint without dispatching
// anything.
type Decision struct {
	Backend        string   `json:"backend"`
	Model          string   `json:"model"`
	RequestedModel string   `json:"requested_model"`
	Rule           string   `json:"rule"`
	Mode           Mode     `json:"mode"`
	Reasoning      []string `json:"reasoning"`
	DisabledModels []string `json:"disabled_models,omitempty"`
}

// Explain runs the routing chain for a query and reports the outcome
// with human-readable reasoning. Routing errors propagate unchanged so
// the caller can render them the same way the dispatch path would.
func (r *Router) Explain(q Query) (*Decision, error) {
	sel, err := r.SelectBackend(q)
	if err != nil {
		return nil, err
	}

	reasoning := []string{fmt.Sprintf("Rule %q selected backend %q", sel.Rule, sel.Backend.Name())}
	if effective := r.policy.EffectiveModel(q.Model); effective != q.Model {
		reasoning = append(reasoning, fmt.Sprintf("Model override rewrote %q to %q", q.Model, effective))
	}
	if sel.Model != q.Model && sel.Rule != RuleExplicitBackend {
		reasoning = append(reasoning, fmt.Sprintf("Dispatching model %q", sel.Model))
	}

	return &Decision{
		Backend:        sel.Backend.Name(),
		Model:          sel.Model,
		RequestedModel: q.Model,
		Rule:           sel.Rule,
		Mode:           r.policy.RoutingMode(),
		Reasoning:      reasoning,
		DisabledModels: r.tracker.DisabledModels(),
	}, nil
}
