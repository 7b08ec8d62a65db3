package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mocks "github.com/cbodonnell/fomo/mocks/github.com/cbodonnell/fomo/pkg/repositories"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/messages"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	frames [][]byte
}

func (b *recordingBroadcaster) Broadcast(frame []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
}

func (b *recordingBroadcaster) Frames() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.frames...)
}

func TestSignalWorker(t *testing.T) {
	tests := []struct {
		name    string
		saveErr error
	}{
		{name: "saved"},
		{name: "save failure still broadcasts", saveErr: errors.New("disk full")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			repo := mocks.NewRepository(t)
			repo.EXPECT().SaveSignal(mock.Anything, mock.MatchedBy(func(s *types.Signal) bool {
				return s.Seq == 1 && s.Type == types.SignalTypeRequestSent
			})).Return(tt.saveErr).Once()

			broadcaster := &recordingBroadcaster{}
			m := metrics.New()
			signals := make(chan types.Signal, 1)
			forward := make(chan types.Signal, 1)

			w := NewSignalWorker(NewSignalWorkerOptions{
				Repository:  repo,
				Broadcaster: broadcaster,
				Metrics:     m,
				SignalChan:  signals,
				Forward:     forward,
			})
			go w.Start(ctx)

			sent := types.Signal{GameID: "game-1", Seq: 1, Type: types.SignalTypeRequestSent, RequestID: 1, Kind: "set_target"}
			signals <- sent

			select {
			case got := <-forward:
				assert.Equal(t, sent, got)
			case <-time.After(time.Second):
				t.Fatal("signal was not forwarded")
			}

			frames := broadcaster.Frames()
			require.Len(t, frames, 1)
			decoded, err := messages.DeserializeSignal(frames[0])
			require.NoError(t, err)
			assert.Equal(t, sent, *decoded)
			assert.EqualValues(t, 1, m.Counter("oracle.requests.sent.set_target"))
		})
	}
}

func TestSaveGameStateWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stateManager := state.NewInMemoryStateManager(nil)
	require.NoError(t, stateManager.Set(ctx, &types.GameState{GameID: "game-1", Phase: types.PhaseLaunched}))

	saved := make(chan *types.GameState, 10)
	repo := mocks.NewRepository(t)
	repo.EXPECT().SaveGameState(mock.Anything, mock.Anything).Run(func(_ context.Context, gameState *types.GameState) {
		saved <- gameState
	}).Return(nil)

	saveChan := make(chan SaveGameStateRequest, 1)
	w := NewSaveGameStateWorker(NewSaveGameStateWorkerOptions{
		Repository:        repo,
		SaveGameStateChan: saveChan,
		StateManager:      stateManager,
		Interval:          time.Hour,
	})
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	saveChan <- SaveGameStateRequest{GameState: &types.GameState{GameID: "game-1", Phase: types.PhaseRevealing, Winner: "alice"}}
	select {
	case gameState := <-saved:
		assert.Equal(t, types.PhaseRevealing, gameState.Phase)
		assert.Equal(t, "alice", gameState.Winner)
	case <-time.After(time.Second):
		t.Fatal("requested save did not happen")
	}

	// shutting down flushes the current snapshot
	cancel()
	<-done
	select {
	case gameState := <-saved:
		assert.Equal(t, types.PhaseLaunched, gameState.Phase)
		assert.NotZero(t, gameState.Timestamp)
	default:
		t.Fatal("final save did not happen")
	}
}
