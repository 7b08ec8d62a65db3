package game

import (
	"context"
	"testing"
	"time"

	mocks "github.com/cbodonnell/fomo/mocks/github.com/cbodonnell/fomo/pkg/queue"
	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/game/constants"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/queue"
	"github.com/cbodonnell/fomo/pkg/state"
	"github.com/cbodonnell/fomo/pkg/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, q queue.Queue, saveChan chan workers.SaveGameStateRequest) *Manager {
	t.Helper()
	g, err := NewGame(NewGameOptions{
		GameID:    "game-1",
		Evaluator: fhe.NewMemoryEvaluator(),
	})
	require.NoError(t, err)
	return NewManager(NewManagerOptions{
		Game:              g,
		ActionQueue:       q,
		StateManager:      state.NewInMemoryStateManager(nil),
		SaveGameStateChan: saveChan,
		Metrics:           metrics.New(),
		LoopInterval:      time.Millisecond,
	})
}

func TestManager_Round(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	saveChan := make(chan workers.SaveGameStateRequest, 10)
	m := newTestManager(t, queue.NewInMemoryQueue(constants.ActionQueueSize), saveChan)
	go m.Start(ctx)

	id, err := m.SetTarget(ctx, "owner", 1000, 5000)
	require.NoError(t, err)

	requests, err := m.Requests(ctx)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, ledger.KindSetTarget, requests[0].Kind)

	require.NoError(t, m.Callback(ctx, id, setTargetReply))
	// the snapshot is published before the reply
	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseLaunched, status.Phase)
	assert.Equal(t, "game-1", status.GameID)

	id, err = m.Deposit(ctx, "alice", 1000, units(1000))
	require.NoError(t, err)
	require.NoError(t, m.Callback(ctx, id, depositReply(1000)))

	amount, err := m.DepositOf(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1000, amount)

	_, err = m.Deposit(ctx, "bob", 1, units(2))
	assert.ErrorIs(t, err, ErrIncorrectPayment)

	id, err = m.Deposit(ctx, "bob", 4000, units(4000))
	require.NoError(t, err)
	require.NoError(t, m.Callback(ctx, id, winningReply))

	id, err = m.RevealTarget(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, m.Callback(ctx, id, revealReply))

	err = m.Callback(ctx, id, revealReply)
	assert.ErrorIs(t, err, ledger.ErrUnknownRequest)

	status, err = m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseRevealed, status.Phase)
	assert.Equal(t, "bob", status.Winner)
	require.NotNil(t, status.Target)
	assert.EqualValues(t, 888, *status.Target)

	// every phase change was handed to the save worker
	var phases []types.Phase
	for len(saveChan) > 0 {
		phases = append(phases, (<-saveChan).GameState.Phase)
	}
	assert.Equal(t, []types.Phase{types.PhaseLaunching, types.PhaseLaunched, types.PhaseRevealing, types.PhaseRevealed}, phases)
}

func TestManager_Invalidate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := newTestManager(t, queue.NewInMemoryQueue(constants.ActionQueueSize), nil)
	go m.Start(ctx)

	id, err := m.SetTarget(ctx, "owner", 1, 10)
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(ctx, id))
	assert.ErrorIs(t, m.Invalidate(ctx, id), ledger.ErrUnknownRequest)

	requests, err := m.Requests(ctx)
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestManager_QueueFull(t *testing.T) {
	mockQueue := mocks.NewQueue(t)
	mockQueue.EXPECT().Enqueue(mock.Anything).Return(queue.ErrQueueFull)

	m := newTestManager(t, mockQueue, nil)
	_, err := m.SetTarget(context.Background(), "owner", 1, 10)
	assert.ErrorIs(t, err, queue.ErrQueueFull)
}

func TestManager_tick(t *testing.T) {
	ctx := context.Background()
	mockQueue := mocks.NewQueue(t)
	m := newTestManager(t, mockQueue, nil)

	set := &setTargetAction{pending: newPending(), requester: "owner", low: 1000, high: 5000}
	reveal := &revealTargetAction{pending: newPending(), requester: "owner"}
	mockQueue.EXPECT().Size().Return(3).Once()
	mockQueue.EXPECT().ReadAllMessages().Return([]interface{}{"not an action", set, reveal}, nil).Once()

	require.NoError(t, m.tick(ctx))

	setResult := <-set.reply
	assert.NoError(t, setResult.Err)
	assert.EqualValues(t, 1, setResult.RequestID)

	revealResult := <-reveal.reply
	assert.ErrorIs(t, revealResult.Err, ErrPhaseMismatch)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.LiveRequests)

	mockQueue.EXPECT().Size().Return(0).Once()
	mockQueue.EXPECT().ReadAllMessages().Return(nil, nil).Once()
	require.NoError(t, m.tick(ctx))
}
