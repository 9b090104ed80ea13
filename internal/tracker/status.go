package tracker

import (
	"strings"

	"taskgate.app/bot/core/config"
)

// StatusClass is the coarse bucket a remote status falls into. The remote
// workflow is customizable per queue, so classification goes through the
// configured alias sets instead of exact status keys.
type StatusClass int

const (
	StatusUnknown StatusClass = iota
	StatusInProgress
	StatusNeedsApproval
	StatusCompleted
)

func (c StatusClass) String() string {
	switch c {
	case StatusInProgress:
		return "in_progress"
	case StatusNeedsApproval:
		return "needs_approval"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

type StatusClassifier struct {
	completed     map[string]bool
	inProgress    map[string]bool
	needsApproval map[string]bool
}

func NewStatusClassifier(aliases config.StatusAliases) *StatusClassifier {
	return &StatusClassifier{
		completed:     foldSet(aliases.Completed),
		inProgress:    foldSet(aliases.InProgress),
		needsApproval: foldSet(aliases.NeedsApproval),
	}
}

// Classify buckets a status by its machine key or display label, whichever
// matches. Matching is case-insensitive; completion wins over the other
// classes when a deployment lists the same label in two sets.
func (c *StatusClassifier) Classify(key, display string) StatusClass {
	if c.matches(c.completed, key, display) {
		return StatusCompleted
	}
	if c.matches(c.needsApproval, key, display) {
		return StatusNeedsApproval
	}
	if c.matches(c.inProgress, key, display) {
		return StatusInProgress
	}
	return StatusUnknown
}

func (c *StatusClassifier) ClassifyStatus(s Status) StatusClass {
	return c.Classify(s.Key, s.Display)
}

func (c *StatusClassifier) matches(set map[string]bool, key, display string) bool {
	return set[fold(key)] || set[fold(display)]
}

func foldSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[fold(v)] = true
	}
	return set
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
