package routing

import "strings"

// DifficultyRange maps a closed score interval to an ordered candidate
// model list. Ranges may overlap; the first matching range wins, so the
// slice order is part of the policy.
type DifficultyRange struct {
	Min    float64
	Max    float64
	Models []string
}

// Contains reports whether a score falls inside the range, bounds
// included.
func (d DifficultyRange) Contains(score float64) bool {
	return score >= d.Min && score <= d.Max
}

// Mode names the routing behavior a policy produces.
type Mode string

const (
	ModeForcedExpert     Mode = "forced_expert"
	ModeForcedExpertise  Mode = "forced_expertise"
	ModeForcedDifficulty Mode = "forced_difficulty"
	ModeExpert           Mode = "expert"
	ModeExpertise        Mode = "expertise"
	ModeDifficulty       Mode = "difficulty"
	ModeNormal           Mode = "normal"
)

// Policy is an immutable snapshot of the operator's routing
// configuration. A Router holds exactly one; reloading configuration
// means building a new Router.
type Policy struct {
	// ModelOverrides rewrites the requested model before any other
	// lookup. The "*" key matches any model without an exact entry.
	ModelOverrides map[string]string

	// DifficultyModels, ExpertModels and ExpertiseModels map a
	// classification result to its candidate list. Expertise is the
	// legacy tag scheme kept for older classifier deployments; its keys
	// are stored lowercase.
	DifficultyModels []DifficultyRange
	ExpertModels     map[string][]string
	ExpertiseModels  map[string][]string

	// ModelProviders maps a concrete model name to the backend that
	// serves it.
	ModelProviders map[string]string

	// FallbackBackend and FallbackModel are tried when every other
	// step misses. Both must be set for the fallback to apply.
	FallbackBackend string
	FallbackModel   string

	// ActiveBackend pins every request to one backend when set.
	ActiveBackend string

	ForceDifficulty bool
	ForceExpert     bool
	ForceExpertise  bool
}

// EffectiveModel applies the override rewrite: exact key first, then
// the "*" wildcard, else the model unchanged.
func (p *Policy) EffectiveModel(model string) string {
	if override, ok := p.ModelOverrides[model]; ok {
		return override
	}
	if override, ok := p.ModelOverrides["*"]; ok {
		return override
	}
	return model
}

// ExpertCandidates returns the candidate list for an expert label.
func (p *Policy) ExpertCandidates(expert string) []string {
	return p.ExpertModels[expert]
}

// ExpertiseCandidates returns the candidate list for a legacy
// expertise tag. Tags are matched case-insensitively.
func (p *Policy) ExpertiseCandidates(tag string) []string {
	return p.ExpertiseModels[strings.ToLower(tag)]
}

// DifficultyCandidates returns the candidate list of the first range
// containing the score, or nil when no range matches.
func (p *Policy) DifficultyCandidates(score float64) []string {
	for _, r := range p.DifficultyModels {
		if r.Contains(score) {
			return r.Models
		}
	}
	return nil
}

// RoutingMode derives the mode from the policy: forced criteria first
// (expert before expertise before difficulty), then whichever criterion
// has candidates configured, else normal.
func (p *Policy) RoutingMode() Mode {
	switch {
	case p.ForceExpert:
		return ModeForcedExpert
	case p.ForceExpertise:
		return ModeForcedExpertise
	case p.ForceDifficulty:
		return ModeForcedDifficulty
	case len(p.ExpertModels) > 0:
		return ModeExpert
	case len(p.ExpertiseModels) > 0:
		return ModeExpertise
	case len(p.DifficultyModels) > 0:
		return ModeDifficulty
	default:
		return ModeNormal
	}
}

// AllDifficultyModelsAreSame reports whether every difficulty range
// carries an identical candidate list, in which case running the
// difficulty classifier cannot change the routing outcome.
func (p *Policy) AllDifficultyModelsAreSame() bool {
	if len(p.DifficultyModels) == 0 {
		return false
	}
	first := p.DifficultyModels[0].Models
	for _, r := range p.DifficultyModels[1:] {
		if !sameModels(first, r.Models) {
			return false
		}
	}
	return true
}

// AllExpertModelsAreSame is the expert-classifier analogue of
// AllDifficultyModelsAreSame.
func (p *Policy) AllExpertModelsAreSame() bool {
	return allCandidateListsSame(p.ExpertModels)
}

// AllExpertiseModelsAreSame is the legacy-tag analogue.
func (p *Policy) AllExpertiseModelsAreSame() bool {
	return allCandidateListsSame(p.ExpertiseModels)
}

func allCandidateListsSame(mapping map[string][]string) bool {
	if len(mapping) == 0 {
		return false
	}
	var first []string
	for _, models := range mapping {
		if first == nil {
			first = models
			continue
		}
		if !sameModels(first, models) {
			return false
		}
	}
	return true
}

func sameModels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
