package types

import "fmt"

// SignalType identifies an observable signal emitted by the game.
type SignalType uint8

const (
	SignalTypeRequestSent SignalType = iota + 1
	SignalTypeGameComplete
	SignalTypeTargetRevealed
	// SignalTypeCallbackRejected marks a correlated callback that was retired without being applied
	SignalTypeCallbackRejected
	SignalTypeRequestInvalidated
)

func (t SignalType) String() string {
	switch t {
	case SignalTypeRequestSent:
		return "request_sent"
	case SignalTypeGameComplete:
		return "game_complete"
	case SignalTypeTargetRevealed:
		return "target_revealed"
	case SignalTypeCallbackRejected:
		return "callback_rejected"
	case SignalTypeRequestInvalidated:
		return "request_invalidated"
	default:
		return "unknown"
	}
}

func (t SignalType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *SignalType) UnmarshalText(text []byte) error {
	for c := SignalTypeRequestSent; c <= SignalTypeRequestInvalidated; c++ {
		if c.String() == string(text) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown signal type %q", text)
}

// Signal is emitted to external observers (the oracle, indexers, clients).
// Fields that do not apply to a signal type are left zero.
type Signal struct {
	GameID    string     `json:"gameId"`
	Seq       uint64     `json:"seq"`
	Type      SignalType `json:"type"`
	Timestamp int64      `json:"timestamp"`
	RequestID uint64     `json:"requestId,omitempty"`
	Requester string     `json:"requester,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	// Handles are the ciphertexts the oracle is asked to decrypt or evaluate
	Handles []string `json:"handles,omitempty"`
	// ValueTypes are the expected result type codes, in order
	ValueTypes []uint8 `json:"valueTypes,omitempty"`
	Winner     string  `json:"winner,omitempty"`
	Target     uint64  `json:"target,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}
