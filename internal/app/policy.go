package app

import (
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose event buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member core.SessionID) BackpressureAction
}

type SimplePolicy struct{}

// OnBackPressure always kicks: a member that missed an event is out of sync.
func (SimplePolicy) OnBackPressure(room domain.RoomID, member core.SessionID) BackpressureAction {
	return KickMember
}
