package app

import "sync"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens when a page cannot keep up with its events.
type Policy interface {
	OnBackPressure(sid SessionID) BackpressureAction
}

// SimplePolicy kicks on the first dropped event.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops events until a session has dropped Limit of them,
// then kicks it.
type TolerantPolicy struct {
	Limit int

	mu      sync.Mutex
	dropped map[SessionID]int
}

func (p *TolerantPolicy) OnBackPressure(sid SessionID) BackpressureAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dropped == nil {
		p.dropped = make(map[SessionID]int)
	}
	p.dropped[sid]++
	if p.dropped[sid] >= p.Limit {
		delete(p.dropped, sid)
		return KickMember
	}
	return DropFrame
}

// Forget clears the drop count of a finished session.
func (p *TolerantPolicy) Forget(sid SessionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dropped, sid)
}
