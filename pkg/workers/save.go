package workers

import (
	"context"
	"time"

	"github.com/cbodonnell/fomo/pkg/game/constants"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/repositories"
	"github.com/cbodonnell/fomo/pkg/state"
)

type SaveGameStateWorker struct {
	repository        repositories.Repository
	saveGameStateChan <-chan SaveGameStateRequest
	stateManager      state.StateManager
	interval          time.Duration
}

type NewSaveGameStateWorkerOptions struct {
	Repository        repositories.Repository
	SaveGameStateChan <-chan SaveGameStateRequest
	StateManager      state.StateManager
	Interval          time.Duration
}

// SaveGameStateRequest asks for a snapshot to be written now rather than on the next tick.
type SaveGameStateRequest struct {
	GameState *types.GameState
}

// NewSaveGameStateWorker creates a new SaveGameStateWorker.
// The worker processes save requests from the game loop and
// periodically saves the game state to the repository.
func NewSaveGameStateWorker(opts NewSaveGameStateWorkerOptions) *SaveGameStateWorker {
	interval := opts.Interval
	if interval <= 0 {
		interval = constants.DefaultSaveInterval
	}
	return &SaveGameStateWorker{
		repository:        opts.Repository,
		saveGameStateChan: opts.SaveGameStateChan,
		stateManager:      opts.StateManager,
		interval:          interval,
	}
}

func (w *SaveGameStateWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.saveCurrent(context.Background(), time.Now())
			return
		case saveRequest := <-w.saveGameStateChan:
			if saveRequest.GameState != nil {
				w.saveGameState(ctx, saveRequest.GameState)
			}
		case t := <-ticker.C:
			w.saveCurrent(ctx, t)
		}
	}
}

func (w *SaveGameStateWorker) saveCurrent(ctx context.Context, t time.Time) {
	gameState, err := w.stateManager.Get(ctx)
	if err != nil {
		log.Error("Failed to get current game state: %v", err)
		return
	}
	if gameState.GameID == "" {
		// nothing has been published yet
		return
	}
	gameState.Timestamp = t.UnixMilli()
	w.saveGameState(ctx, gameState)
}

func (w *SaveGameStateWorker) saveGameState(ctx context.Context, gameState *types.GameState) {
	err := w.repository.SaveGameState(ctx, gameState)
	if err != nil {
		log.Error("Failed to save game state: %v", err)
	}
}
