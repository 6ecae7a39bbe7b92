package engine

import "sync"

// firingGuard tracks (ruleID, eventID) firings per correlation so the
// same rule cannot fire twice on the same event within one correlation.
// Forward chains that re-deliver an event to an already-fired rule are
// cut here rather than by the depth cap.
//
// History is in-memory and dropped per correlation once the correlation
// quiesces, preventing unbounded growth under steady load.
type firingGuard struct {
	mu      sync.Mutex
	history map[string]map[string]bool // correlation -> "ruleID\x00eventID"
}

func newFiringGuard() *firingGuard {
	return &firingGuard{history: make(map[string]map[string]bool)}
}

// seen records the pair and reports whether it had fired before.
func (g *firingGuard) seen(correlationID, ruleID, eventID string) bool {
	key := ruleID + "\x00" + eventID
	g.mu.Lock()
	defer g.mu.Unlock()
	per := g.history[correlationID]
	if per == nil {
		per = make(map[string]bool)
		g.history[correlationID] = per
	}
	if per[key] {
		return true
	}
	per[key] = true
	return false
}

// clear drops all history for a correlation.
func (g *firingGuard) clear(correlationID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.history, correlationID)
}

// size returns the number of correlations with history. Used by tests.
func (g *firingGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history)
}
