package domain

import "fmt"

// ChannelState is the lifecycle state of a channel record.
type ChannelState uint8

const (
	StateNone ChannelState = iota
	StateOpen
	StatePendingClose
	StateClosed
)

var stateNames = [...]string{"None", "Open", "PendingClose", "Closed"}

func (s ChannelState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ChannelState(%d)", uint8(s))
}

// Valid reports whether the state value is within the supported range.
func (s ChannelState) Valid() bool { return s <= StateClosed }

// Active reports whether the channel holds a live escrow that blocks re-opening.
func (s ChannelState) Active() bool { return s == StateOpen || s == StatePendingClose }

func (s ChannelState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid channel state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *ChannelState) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = ChannelState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown channel state %q", string(text))
}

// ChannelEvent drives a state transition.
type ChannelEvent uint8

const (
	EventOpen ChannelEvent = iota
	EventSettle
	EventExpire
	EventClose
	EventEmergencyWithdraw
)

// Transition returns the state reached by applying ev to from. Pairs outside
// the lifecycle graph are rejected with a lifecycle error.
func Transition(from ChannelState, ev ChannelEvent) (ChannelState, error) {
	if !from.Valid() {
		return from, ErrChannelNotOpen
	}
	switch ev {
	case EventOpen:
		if from.Active() {
			return from, ErrChannelAlreadyExists
		}
		return StateOpen, nil
	case EventSettle:
		if from != StateOpen {
			return from, ErrChannelNotOpen
		}
		return StateOpen, nil
	case EventExpire:
		if from != StateOpen {
			return from, ErrChannelNotOpen
		}
		return StatePendingClose, nil
	case EventClose:
		if !from.Active() {
			return from, ErrChannelNotOpen
		}
		return StateClosed, nil
	case EventEmergencyWithdraw:
		return StateClosed, nil
	default:
		return from, fmt.Errorf("unknown channel event %d", uint8(ev))
	}
}
