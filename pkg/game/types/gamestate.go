package types

import "fmt"

// Phase is the game's lifecycle stage. The numeric values are the status
// codes clients see and must not be reordered.
type Phase uint8

const (
	PhaseLaunching Phase = iota + 1
	PhaseLaunched
	PhaseCompleted
	PhaseRevealing
	PhaseRevealed
)

func (p Phase) String() string {
	switch p {
	case PhaseLaunching:
		return "launching"
	case PhaseLaunched:
		return "launched"
	case PhaseCompleted:
		return "completed"
	case PhaseRevealing:
		return "revealing"
	case PhaseRevealed:
		return "revealed"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for candidate := PhaseLaunching; candidate <= PhaseRevealed; candidate++ {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// GameState is a read-only snapshot of the game.
type GameState struct {
	// GameID identifies the game instance, one per server run
	GameID string `json:"gameId"`
	// Timestamp is the time at which the snapshot was taken
	Timestamp int64 `json:"timestamp"`
	Phase     Phase `json:"phase"`
	// Sum is the latest plaintext sum returned by the oracle
	Sum uint64 `json:"sum"`
	// Target is set once the target has been revealed
	Target     *uint64 `json:"target,omitempty"`
	Winner     string  `json:"winner,omitempty"`
	IsComplete bool    `json:"isComplete"`
	// LiveRequests is the number of oracle requests awaiting a callback
	LiveRequests int `json:"liveRequests"`
	// Deposits maps player ids to their accumulated deposits
	Deposits map[string]uint64 `json:"deposits"`
}

func (g *GameState) Copy() *GameState {
	c := *g
	if g.Target != nil {
		target := *g.Target
		c.Target = &target
	}
	c.Deposits = make(map[string]uint64, len(g.Deposits))
	for player, amount := range g.Deposits {
		c.Deposits[player] = amount
	}
	return &c
}
