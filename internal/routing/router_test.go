package routing

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jedisct1/inferswitch/internal/availability"
	"github.com/jedisct1/inferswitch/internal/backends"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestRouter(t *testing.T, policy *Policy, backendModels map[string][]string) *Router {
	t.Helper()

	logger := quietLogger()
	registry := backends.NewRegistry(logger)
	for name, models := range backendModels {
		registry.Register(backends.NewMock(name, models))
	}
	tracker := availability.NewTracker(time.Minute, logger)
	return NewRouter(policy, registry, tracker, logger)
}

func score(v float64) *float64 { return &v }

func TestSelectBackend_DifficultyRanges(t *testing.T) {
	policy := &Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"m1"}},
			{Min: 2, Max: 5, Models: []string{"m2", "m3"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2", "m3": "p3"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"}, "p3": {"m3"},
	})

	// A score inside exactly one range selects from that range's list.
	sel, err := router.SelectBackend(Query{Model: "ignored", Difficulty: score(1.0)})
	require.NoError(t, err)
	assert.Equal(t, "p1", sel.Backend.Name())
	assert.Equal(t, "m1", sel.Model)
	assert.Equal(t, RuleDifficulty, sel.Rule)

	sel, err = router.SelectBackend(Query{Model: "ignored", Difficulty: score(4.0)})
	require.NoError(t, err)
	assert.Equal(t, "p2", sel.Backend.Name())
	assert.Equal(t, "m2", sel.Model)
}

func TestSelectBackend_OverlappingRangesFirstMatchWins(t *testing.T) {
	policy := &Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 5, Models: []string{"m1"}},
			{Min: 2, Max: 5, Models: []string{"m2"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"},
	})

	sel, err := router.SelectBackend(Query{Model: "ignored", Difficulty: score(3.0)})
	require.NoError(t, err)
	assert.Equal(t, "m1", sel.Model)
}

func TestSelectBackend_CandidateOrderWithUnavailableModels(t *testing.T) {
	policy := &Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"m1"}},
			{Min: 2, Max: 5, Models: []string{"m2", "m3"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2", "m3": "p3"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"}, "p3": {"m3"},
	})

	router.MarkModelFailure("m2")

	sel, err := router.SelectBackend(Query{Model: "ignored", Difficulty: score(3.0)})
	require.NoError(t, err)
	assert.Equal(t, "p3", sel.Backend.Name())
	assert.Equal(t, "m3", sel.Model)

	// The skipped candidate comes back after a success.
	router.MarkModelSuccess("m2")
	sel, err = router.SelectBackend(Query{Model: "ignored", Difficulty: score(3.0)})
	require.NoError(t, err)
	assert.Equal(t, "m2", sel.Model)
}

func TestSelectBackend_OverrideAppliedBeforeProviderLookup(t *testing.T) {
	policy := &Policy{
		ModelOverrides: map[string]string{"x": "y"},
		ModelProviders: map[string]string{"y": "p"},
	}
	router := newTestRouter(t, policy, map[string][]string{"p": {"y"}})

	sel, err := router.SelectBackend(Query{Model: "x"})
	require.NoError(t, err)
	assert.Equal(t, "p", sel.Backend.Name())
	assert.Equal(t, "y", sel.Model)
	assert.Equal(t, RuleModelProvider, sel.Rule)
}

func TestSelectBackend_WildcardOverride(t *testing.T) {
	policy := &Policy{
		ModelOverrides: map[string]string{"*": "y", "special": "z"},
		ModelProviders: map[string]string{"y": "p", "z": "p"},
	}
	router := newTestRouter(t, policy, map[string][]string{"p": {"y", "z"}})

	sel, err := router.SelectBackend(Query{Model: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "y", sel.Model)

	// Exact keys beat the wildcard.
	sel, err = router.SelectBackend(Query{Model: "special"})
	require.NoError(t, err)
	assert.Equal(t, "z", sel.Model)
}

func TestSelectBackend_ExplicitBackend(t *testing.T) {
	policy := &Policy{}
	router := newTestRouter(t, policy, map[string][]string{
		"static":  {"m1"},
		"dynamic": nil,
	})

	sel, err := router.SelectBackend(Query{Model: "m1", ExplicitBackend: "static"})
	require.NoError(t, err)
	assert.Equal(t, "static", sel.Backend.Name())
	assert.Equal(t, RuleExplicitBackend, sel.Rule)

	// A dynamic backend accepts any model.
	sel, err = router.SelectBackend(Query{Model: "whatever", ExplicitBackend: "dynamic"})
	require.NoError(t, err)
	assert.Equal(t, "dynamic", sel.Backend.Name())

	// An unsupported model on a static backend is an error, not a
	// fallthrough.
	_, err = router.SelectBackend(Query{Model: "m2", ExplicitBackend: "static"})
	var tagged *backends.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, backends.KindModelNotFound, tagged.Kind)
	assert.Equal(t, "static", tagged.Backend)

	_, err = router.SelectBackend(Query{Model: "m1", ExplicitBackend: "nope"})
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, backends.KindInvalidRequest, tagged.Kind)
}

func TestSelectBackend_BackendPin(t *testing.T) {
	policy := &Policy{
		ActiveBackend:  "pinned",
		ModelProviders: map[string]string{"m1": "other"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"pinned": {"m1"},
		"other":  {"m1", "m2"},
	})

	sel, err := router.SelectBackend(Query{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "pinned", sel.Backend.Name())
	assert.Equal(t, RuleBackendPin, sel.Rule)

	// A pin that cannot serve the model falls through to the
	// model→provider map.
	policy.ModelProviders["m2"] = "other"
	sel, err = router.SelectBackend(Query{Model: "m2"})
	require.NoError(t, err)
	assert.Equal(t, "other", sel.Backend.Name())
	assert.Equal(t, RuleModelProvider, sel.Rule)
}

func TestSelectBackend_ForcedRoutingFallsThroughOnMiss(t *testing.T) {
	policy := &Policy{
		ForceDifficulty: true,
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"m1"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"},
	})

	// Score outside every range: the forced criterion misses and the
	// normal chain resolves the request instead of failing it.
	sel, err := router.SelectBackend(Query{Model: "m2", Difficulty: score(4.5)})
	require.NoError(t, err)
	assert.Equal(t, "p2", sel.Backend.Name())
	assert.Equal(t, RuleModelProvider, sel.Rule)
}

func TestSelectBackend_ForcedPrecedence(t *testing.T) {
	policy := &Policy{
		ForceExpert:     true,
		ForceDifficulty: true,
		ExpertModels:    map[string][]string{"coding": {"m1"}},
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 5, Models: []string{"m2"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"},
	})

	sel, err := router.SelectBackend(Query{Model: "ignored", ExpertName: "coding", Difficulty: score(3.0)})
	require.NoError(t, err)
	assert.Equal(t, "m1", sel.Model)
	assert.Equal(t, RuleForcedExpert, sel.Rule)
}

func TestSelectBackend_ExpertBeforeExpertiseBeforeDifficulty(t *testing.T) {
	policy := &Policy{
		ExpertModels:    map[string][]string{"coding": {"m1"}},
		ExpertiseModels: map[string][]string{"math": {"m2"}},
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 5, Models: []string{"m3"}},
		},
		ModelProviders: map[string]string{"m1": "p1", "m2": "p2", "m3": "p3"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"p1": {"m1"}, "p2": {"m2"}, "p3": {"m3"},
	})

	sel, err := router.SelectBackend(Query{
		Model:        "ignored",
		ExpertName:   "coding",
		ExpertiseTag: "math",
		Difficulty:   score(2.0),
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", sel.Model)
	assert.Equal(t, RuleExpert, sel.Rule)

	sel, err = router.SelectBackend(Query{
		Model:        "ignored",
		ExpertiseTag: "MATH",
		Difficulty:   score(2.0),
	})
	require.NoError(t, err)
	assert.Equal(t, "m2", sel.Model)
	assert.Equal(t, RuleExpertise, sel.Rule)
}

func TestSelectBackend_Fallback(t *testing.T) {
	policy := &Policy{
		FallbackBackend: "fb",
		FallbackModel:   "m-default",
	}
	router := newTestRouter(t, policy, map[string][]string{"fb": {"m-default"}})

	sel, err := router.SelectBackend(Query{Model: "unmapped"})
	require.NoError(t, err)
	assert.Equal(t, "fb", sel.Backend.Name())
	assert.Equal(t, "m-default", sel.Model)
	assert.Equal(t, RuleFallback, sel.Rule)
}

func TestSelectBackend_ExhaustionReportsSupportedModels(t *testing.T) {
	router := newTestRouter(t, &Policy{}, map[string][]string{
		"p1": {"m1", "m2"},
	})

	_, err := router.SelectBackend(Query{Model: "nope"})
	var tagged *backends.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, backends.KindModelNotFound, tagged.Kind)
	assert.Equal(t, "nope", tagged.Details["requested_model"])
	assert.ElementsMatch(t, []string{"m1", "m2"}, tagged.Details["available_models"])
}

func TestSelectBackend_FailedScenarioFromDifficultyPolicy(t *testing.T) {
	policy := &Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"m1"}},
			{Min: 2, Max: 5, Models: []string{"m2", "m3"}},
		},
		ModelProviders: map[string]string{"m1": "P1", "m2": "P2", "m3": "P3"},
	}
	router := newTestRouter(t, policy, map[string][]string{
		"P1": {"m1"}, "P2": {"m2"}, "P3": {"m3"},
	})
	router.MarkModelFailure("m2")

	sel, err := router.SelectBackend(Query{Model: "ignored", Difficulty: score(3.0)})
	require.NoError(t, err)
	assert.Equal(t, "P3", sel.Backend.Name())
	assert.Equal(t, "m3", sel.Model)
}

func TestRoutingModeDerivation(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		mode   Mode
	}{
		{"normal", Policy{}, ModeNormal},
		{"difficulty configured", Policy{DifficultyModels: []DifficultyRange{{Max: 5, Models: []string{"m"}}}}, ModeDifficulty},
		{"expertise configured", Policy{ExpertiseModels: map[string][]string{"math": {"m"}}}, ModeExpertise},
		{"expert beats expertise", Policy{
			ExpertModels:    map[string][]string{"coding": {"m"}},
			ExpertiseModels: map[string][]string{"math": {"m"}},
		}, ModeExpert},
		{"forced difficulty beats configured expert", Policy{
			ForceDifficulty: true,
			ExpertModels:    map[string][]string{"coding": {"m"}},
		}, ModeForcedDifficulty},
		{"forced expert wins overall", Policy{
			ForceExpert:     true,
			ForceExpertise:  true,
			ForceDifficulty: true,
		}, ModeForcedExpert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mode, tt.policy.RoutingMode())
		})
	}
}

func TestAllCandidateListsSame(t *testing.T) {
	same := Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"a", "b"}},
			{Min: 2, Max: 5, Models: []string{"a", "b"}},
		},
		ExpertModels: map[string][]string{
			"coding": {"a"},
			"math":   {"a"},
		},
		ExpertiseModels: map[string][]string{
			"coding": {"a"},
			"math":   {"b"},
		},
	}
	assert.True(t, same.AllDifficultyModelsAreSame())
	assert.True(t, same.AllExpertModelsAreSame())
	assert.False(t, same.AllExpertiseModelsAreSame())

	// Order matters: [a,b] and [b,a] are different policies.
	ordered := Policy{
		DifficultyModels: []DifficultyRange{
			{Min: 0, Max: 2, Models: []string{"a", "b"}},
			{Min: 2, Max: 5, Models: []string{"b", "a"}},
		},
	}
	assert.False(t, ordered.AllDifficultyModelsAreSame())

	empty := Policy{}
	assert.False(t, empty.AllDifficultyModelsAreSame())
	assert.False(t, empty.AllExpertModelsAreSame())
}

func TestExplain(t *testing.T) {
	policy := &Policy{
		ModelOverrides: map[string]string{"x": "y"},
		ModelProviders: map[string]string{"y": "p"},
	}
	router := newTestRouter(t, policy, map[string][]string{"p": {"y"}})

	decision, err := router.Explain(Query{Model: "x"})
	require.NoError(t, err)
	assert.Equal(t, "p", decision.Backend)
	assert.Equal(t, "y", decision.Model)
	assert.Equal(t, "x", decision.RequestedModel)
	assert.Equal(t, RuleModelProvider, decision.Rule)
	assert.Equal(t, ModeNormal, decision.Mode)
	assert.NotEmpty(t, decision.Reasoning)
}
