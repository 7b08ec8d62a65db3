package repositories

import (
	"context"

	gametypes "github.com/cbodonnell/fomo/pkg/game/types"
)

type Repository interface {
	Close(ctx context.Context) error
	// SaveGameState upserts the snapshot and its deposit balances under the snapshot's game id
	SaveGameState(ctx context.Context, gameState *gametypes.GameState) error
	// SaveSignal appends a signal to the game's signal log. Saving the same sequence twice is a no-op.
	SaveSignal(ctx context.Context, signal *gametypes.Signal) error
	// ListSignals returns up to limit signals with a sequence greater than after, oldest first
	ListSignals(ctx context.Context, gameID string, after uint64, limit int) ([]gametypes.Signal, error)
	// LoadGameState returns the last saved snapshot of a game, or ErrNotFound
	LoadGameState(ctx context.Context, gameID string) (*gametypes.GameState, error)
}
