package state

import (
	"context"
	"fmt"
	"sync"

	gametypes "github.com/cbodonnell/fomo/pkg/game/types"
)

var _ StateManager = &InMemoryStateManager{}

type InMemoryStateManager struct {
	lock      sync.RWMutex
	gameState *gametypes.GameState
}

func NewInMemoryStateManager(initial *gametypes.GameState) *InMemoryStateManager {
	if initial == nil {
		initial = &gametypes.GameState{
			Phase:    gametypes.PhaseLaunching,
			Deposits: make(map[string]uint64),
		}
	}
	return &InMemoryStateManager{
		gameState: initial.Copy(),
	}
}

func (m *InMemoryStateManager) Get(ctx context.Context) (*gametypes.GameState, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.gameState.Copy(), nil
}

func (m *InMemoryStateManager) Set(ctx context.Context, gameState *gametypes.GameState) error {
	if gameState == nil {
		return fmt.Errorf("game state is nil")
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	m.gameState = gameState.Copy()
	return nil
}
