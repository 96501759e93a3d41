// Package priority maps an incoming request to an initial admission
// priority by inspecting its query string.
package priority

import (
	"net/http"
	"strconv"
)

const (
	// MaxUrgency is the numerically smallest, highest-urgency priority.
	MaxUrgency = 1
	// Bypass is the special priority that skips admission control entirely.
	Bypass = 0
)

// Param is the name of the query parameter carrying the priority.
const Param = "priority"

// Extractor maps requests to a priority in [MaxUrgency, MinPriority], or to
// Bypass.
type Extractor struct {
	MinPriority int
}

// NewExtractor creates an Extractor. minPriority must be >= MaxUrgency.
func NewExtractor(minPriority int) *Extractor {
	if minPriority < MaxUrgency {
		minPriority = MaxUrgency
	}
	return &Extractor{MinPriority: minPriority}
}

// Extract returns the priority assigned to r.
//
// The exact value Bypass (0) is checked before range validation, even
// though 0 falls outside the valid [MaxUrgency, MinPriority] interval —
// this ordering is deliberate. Any other unparseable, missing, or
// out-of-range value clamps to MinPriority rather than being rejected.
func (e *Extractor) Extract(r *http.Request) int {
	raw := r.URL.Query().Get(Param)
	if raw == "" {
		return e.MinPriority
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return e.MinPriority
	}

	if v == Bypass {
		return Bypass
	}

	if v < MaxUrgency || v > e.MinPriority {
		return e.MinPriority
	}
	return v
}
