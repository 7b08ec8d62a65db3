package game

import (
	"context"
	"fmt"
	"time"

	"github.com/cbodonnell/fomo/pkg/game/constants"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/cbodonnell/fomo/pkg/queue"
	"github.com/cbodonnell/fomo/pkg/state"
	"github.com/cbodonnell/fomo/pkg/workers"
	"github.com/shopspring/decimal"
)

// Manager owns a Game and applies player actions and oracle callbacks to it
// one at a time from the game loop. Callers block until their action has been
// applied and the resulting snapshot published.
type Manager struct {
	game              *Game
	actionQueue       queue.Queue
	stateManager      state.StateManager
	saveGameStateChan chan<- workers.SaveGameStateRequest
	metrics           *metrics.Metrics
	loopInterval      time.Duration

	lastPhase types.Phase
}

// NewManagerOptions contains options for creating a new Manager.
type NewManagerOptions struct {
	Game              *Game
	ActionQueue       queue.Queue
	StateManager      state.StateManager
	SaveGameStateChan chan<- workers.SaveGameStateRequest
	Metrics           *metrics.Metrics
	LoopInterval      time.Duration
}

func NewManager(opts NewManagerOptions) *Manager {
	loopInterval := opts.LoopInterval
	if loopInterval <= 0 {
		loopInterval = constants.DefaultLoopInterval
	}
	return &Manager{
		game:              opts.Game,
		actionQueue:       opts.ActionQueue,
		stateManager:      opts.StateManager,
		saveGameStateChan: opts.SaveGameStateChan,
		metrics:           opts.Metrics,
		loopInterval:      loopInterval,
	}
}

// ActionResult is the outcome of one action.
type ActionResult struct {
	RequestID uint64
	Requests  []Request
	Err       error
}

type action interface {
	replyChan() chan ActionResult
}

type pending struct {
	reply chan ActionResult
}

func newPending() pending {
	return pending{reply: make(chan ActionResult, 1)}
}

func (p pending) replyChan() chan ActionResult {
	return p.reply
}

type setTargetAction struct {
	pending
	requester string
	low       uint64
	high      uint64
}

type depositAction struct {
	pending
	requester string
	amount    uint64
	payment   decimal.Decimal
}

type revealTargetAction struct {
	pending
	requester string
}

type callbackAction struct {
	pending
	requestID uint64
	payload   []values.Raw
}

type invalidateAction struct {
	pending
	requestID uint64
}

type listRequestsAction struct {
	pending
}

// Start runs the game loop until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.publish(ctx); err != nil {
		return fmt.Errorf("failed to publish initial game state: %v", err)
	}

	ticker := time.NewTicker(m.loopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				log.Error("Failed to run game tick: %v", err)
			}
		}
	}
}

// tick applies every queued action, publishes the resulting snapshot and only
// then replies, so a caller that reads after its reply sees its own action.
func (m *Manager) tick(ctx context.Context) error {
	if m.metrics != nil {
		m.metrics.SetQueueDepth(m.actionQueue.Size())
	}
	items, err := m.actionQueue.ReadAllMessages()
	if err != nil {
		return fmt.Errorf("failed to read actions: %v", err)
	}
	if len(items) == 0 {
		return nil
	}

	type reply struct {
		to     chan ActionResult
		result ActionResult
	}
	replies := make([]reply, 0, len(items))
	for _, item := range items {
		a, ok := item.(action)
		if !ok {
			log.Error("unhandled action type: %T", item)
			continue
		}
		start := time.Now()
		result := m.process(a)
		if m.metrics != nil {
			m.metrics.RecordAction(time.Since(start))
		}
		replies = append(replies, reply{to: a.replyChan(), result: result})
	}

	err = m.publish(ctx)
	for _, r := range replies {
		r.to <- r.result
	}
	return err
}

func (m *Manager) process(a action) ActionResult {
	switch a := a.(type) {
	case *setTargetAction:
		id, err := m.game.SetTarget(a.requester, a.low, a.high)
		return ActionResult{RequestID: id, Err: err}
	case *depositAction:
		id, err := m.game.Deposit(a.requester, a.amount, a.payment)
		return ActionResult{RequestID: id, Err: err}
	case *revealTargetAction:
		id, err := m.game.RevealTarget(a.requester)
		return ActionResult{RequestID: id, Err: err}
	case *callbackAction:
		err := m.game.OnCallback(a.requestID, a.payload)
		if err != nil {
			log.Warn("Callback for request %d rejected: %v", a.requestID, err)
		}
		return ActionResult{RequestID: a.requestID, Err: err}
	case *invalidateAction:
		return ActionResult{RequestID: a.requestID, Err: m.game.Invalidate(a.requestID)}
	case *listRequestsAction:
		return ActionResult{Requests: m.game.Requests()}
	default:
		return ActionResult{Err: fmt.Errorf("unhandled action type: %T", a)}
	}
}

func (m *Manager) publish(ctx context.Context) error {
	snapshot := m.game.Status()
	if err := m.stateManager.Set(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to set game state: %v", err)
	}

	// phase changes are persisted right away instead of waiting for the save interval
	if snapshot.Phase != m.lastPhase {
		m.lastPhase = snapshot.Phase
		if m.saveGameStateChan != nil {
			select {
			case m.saveGameStateChan <- workers.SaveGameStateRequest{GameState: snapshot}:
			default:
				log.Warn("Save channel full, %s snapshot will be saved on the next interval", snapshot.Phase)
			}
		}
	}
	return nil
}

func (m *Manager) submit(ctx context.Context, a action) (ActionResult, error) {
	if err := m.actionQueue.Enqueue(a); err != nil {
		return ActionResult{}, fmt.Errorf("failed to enqueue action: %w", err)
	}
	select {
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	case result := <-a.replyChan():
		return result, result.Err
	}
}

// SetTarget issues a SetTarget request and returns its id.
func (m *Manager) SetTarget(ctx context.Context, requester string, low, high uint64) (uint64, error) {
	result, err := m.submit(ctx, &setTargetAction{pending: newPending(), requester: requester, low: low, high: high})
	return result.RequestID, err
}

// Deposit issues a Deposit request and returns its id.
func (m *Manager) Deposit(ctx context.Context, requester string, amount uint64, payment decimal.Decimal) (uint64, error) {
	result, err := m.submit(ctx, &depositAction{pending: newPending(), requester: requester, amount: amount, payment: payment})
	return result.RequestID, err
}

// RevealTarget issues a RevealTarget request and returns its id.
func (m *Manager) RevealTarget(ctx context.Context, requester string) (uint64, error) {
	result, err := m.submit(ctx, &revealTargetAction{pending: newPending(), requester: requester})
	return result.RequestID, err
}

// Callback delivers an oracle callback.
func (m *Manager) Callback(ctx context.Context, requestID uint64, payload []values.Raw) error {
	_, err := m.submit(ctx, &callbackAction{pending: newPending(), requestID: requestID, payload: payload})
	return err
}

// Invalidate retires a live request without applying it.
func (m *Manager) Invalidate(ctx context.Context, requestID uint64) error {
	_, err := m.submit(ctx, &invalidateAction{pending: newPending(), requestID: requestID})
	return err
}

// Requests lists the live oracle requests.
func (m *Manager) Requests(ctx context.Context) ([]Request, error) {
	result, err := m.submit(ctx, &listRequestsAction{pending: newPending()})
	return result.Requests, err
}

// Status returns the latest published snapshot.
func (m *Manager) Status(ctx context.Context) (*types.GameState, error) {
	return m.stateManager.Get(ctx)
}

// DepositOf returns the total deposited by a player.
func (m *Manager) DepositOf(ctx context.Context, player string) (uint64, error) {
	gameState, err := m.stateManager.Get(ctx)
	if err != nil {
		return 0, err
	}
	return gameState.Deposits[player], nil
}
