package availability

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDisableDuration is how long a model stays disabled after a
// failure when no duration is configured.
const DefaultDisableDuration = 300 * time.Second

// Tracker temporarily disables models that fail, independent of which
// backend serves them. A model with no record is available; records
// expire lazily on the next lookup.
type Tracker struct {
	mu            sync.Mutex
	disabledUntil map[string]time.Time
	disableFor    time.Duration
	logger        *logrus.Logger
	now           func() time.Time // overridable for tests
}

// NewTracker creates a tracker. A zero or negative disableFor falls back
// to DefaultDisableDuration.
func NewTracker(disableFor time.Duration, logger *logrus.Logger) *Tracker {
	if disableFor <= 0 {
		disableFor = DefaultDisableDuration
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		disabledUntil: make(map[string]time.Time),
		disableFor:    disableFor,
		logger:        logger,
		now:           time.Now,
	}
}

// IsAvailable reports whether a model is currently usable. An expired
// record is removed on the way out.
func (t *Tracker) IsAvailable(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	until, disabled := t.disabledUntil[model]
	if !disabled {
		return true
	}
	if !t.now().Before(until) {
		delete(t.disabledUntil, model)
		t.logger.WithField("model", model).Info("Model re-enabled after cooldown")
		return true
	}
	return false
}

// MarkFailure disables a model for the configured duration, overwriting
// any existing record.
func (t *Tracker) MarkFailure(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	until := t.now().Add(t.disableFor)
	t.disabledUntil[model] = until
	t.logger.WithFields(logrus.Fields{
		"model":          model,
		"disabled_until": until.Format(time.RFC3339),
	}).Warn("Model temporarily disabled after failure")
}

// MarkSuccess re-enables a model immediately.
func (t *Tracker) MarkSuccess(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, disabled := t.disabledUntil[model]; disabled {
		delete(t.disabledUntil, model)
		t.logger.WithField("model", model).Info("Model re-enabled after successful request")
	}
}

// DisabledModels sweeps expired records and returns the models still
// disabled.
func (t *Tracker) DisabledModels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var disabled []string
	for model, until := range t.disabledUntil {
		if !now.Before(until) {
			delete(t.disabledUntil, model)
			continue
		}
		disabled = append(disabled, model)
	}
	return disabled
}

// Reset clears every record, re-enabling all models.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.disabledUntil); n > 0 {
		t.disabledUntil = make(map[string]time.Time)
		t.logger.WithField("count", n).Info("Cleared disabled models")
	}
}
