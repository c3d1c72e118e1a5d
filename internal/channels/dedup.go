package channels

import "sync"

// DedupGuard marks inbound events as in flight so a redelivered or
// concurrently dispatched copy of the same event is not processed twice.
//
// Every successful TryBegin must be paired with End, normally via defer.
type DedupGuard struct {
	inflight sync.Map // eventID string → struct{}
}

// NewDedupGuard creates an empty guard.
func NewDedupGuard() *DedupGuard {
	return &DedupGuard{}
}

// TryBegin marks eventID and returns true, or returns false without side
// effects if it is already marked.
func (g *DedupGuard) TryBegin(eventID string) bool {
	_, loaded := g.inflight.LoadOrStore(eventID, struct{}{})
	return !loaded
}

// End unmarks eventID. Unknown ids are ignored.
func (g *DedupGuard) End(eventID string) {
	g.inflight.Delete(eventID)
}

// InFlight reports whether eventID is currently marked.
func (g *DedupGuard) InFlight(eventID string) bool {
	_, ok := g.inflight.Load(eventID)
	return ok
}

// Len returns the number of events currently in flight.
func (g *DedupGuard) Len() int {
	n := 0
	g.inflight.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
