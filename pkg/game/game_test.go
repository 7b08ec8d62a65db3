package game

import (
	"math"
	"math/big"
	"testing"

	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testGame struct {
	*Game
	evaluator *fhe.MemoryEvaluator
	signals   []types.Signal
}

func newTestGame(t *testing.T, owner string) *testGame {
	t.Helper()
	tg := &testGame{evaluator: fhe.NewMemoryEvaluator()}
	g, err := NewGame(NewGameOptions{
		GameID:    "game-1",
		Evaluator: tg.evaluator,
		Owner:     owner,
		SignalHandler: func(s types.Signal) {
			tg.signals = append(tg.signals, s)
		},
	})
	require.NoError(t, err)
	tg.Game = g
	return tg
}

func (tg *testGame) lastSignal() types.Signal {
	return tg.signals[len(tg.signals)-1]
}

func units(n int64) decimal.Decimal {
	return decimal.New(n, 0)
}

var (
	setTargetReply = []values.Raw{{Data: 0, Type: 129}, {Data: 1, Type: 129}, {Data: 2, Type: 129}}
	winningReply   = []values.Raw{{Data: 5000, Type: 1}, {Data: 1, Type: 0}, {Data: 1, Type: 0}}
	revealReply    = []values.Raw{{Data: 2, Type: 129}, {Data: 888, Type: 1}}
)

func depositReply(sum uint64) []values.Raw {
	return []values.Raw{{Data: sum, Type: 129}, {Data: 0, Type: 128}, {Data: 0, Type: 0}}
}

// launch drives a fresh game into Launched.
func (tg *testGame) launch(t *testing.T) {
	t.Helper()
	id, err := tg.SetTarget("owner", 1000, 5000)
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, setTargetReply))
	require.Equal(t, types.PhaseLaunched, tg.Status().Phase)
}

func TestGame_FullRound(t *testing.T) {
	tg := newTestGame(t, "")

	assert.Equal(t, types.PhaseLaunching, tg.Status().Phase)

	id, err := tg.SetTarget("owner", 1000, 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	sent := tg.lastSignal()
	assert.Equal(t, types.SignalTypeRequestSent, sent.Type)
	assert.Equal(t, "set_target", sent.Kind)
	assert.Equal(t, []uint8{1, 1, 1}, sent.ValueTypes)
	assert.Len(t, sent.Handles, 3)
	assert.Equal(t, "game-1", sent.GameID)

	require.NoError(t, tg.OnCallback(id, setTargetReply))
	status := tg.Status()
	assert.Equal(t, types.PhaseLaunched, status.Phase)
	assert.Nil(t, status.Target)

	target, isBool, err := tg.evaluator.Decrypt(tg.targetHandle)
	require.NoError(t, err)
	assert.False(t, isBool)
	assert.GreaterOrEqual(t, target, uint64(1000))
	assert.Less(t, target, uint64(5000))

	id, err = tg.Deposit("alice", 1000, units(1000))
	require.NoError(t, err)
	assert.EqualValues(t, 2, id)
	assert.Equal(t, []uint8{1, 0, 0}, tg.lastSignal().ValueTypes)

	require.NoError(t, tg.OnCallback(id, depositReply(1000)))
	status = tg.Status()
	assert.Equal(t, types.PhaseLaunched, status.Phase)
	assert.EqualValues(t, 1000, status.Sum)
	assert.Empty(t, status.Winner)
	assert.False(t, status.IsComplete)
	assert.EqualValues(t, 1000, tg.DepositOf("alice"))

	id, err = tg.Deposit("bob", 4000, units(4000))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, winningReply))
	status = tg.Status()
	assert.Equal(t, types.PhaseRevealing, status.Phase)
	assert.Equal(t, "bob", status.Winner)
	assert.False(t, status.IsComplete)
	assert.EqualValues(t, 5000, status.Sum)
	complete := tg.lastSignal()
	assert.Equal(t, types.SignalTypeGameComplete, complete.Type)
	assert.Equal(t, "bob", complete.Winner)

	id, err = tg.RevealTarget("carol")
	require.NoError(t, err)
	assert.Equal(t, []uint8{1, 1}, tg.lastSignal().ValueTypes)
	require.NoError(t, tg.OnCallback(id, revealReply))

	status = tg.Status()
	assert.Equal(t, types.PhaseRevealed, status.Phase)
	require.NotNil(t, status.Target)
	assert.EqualValues(t, 888, *status.Target)
	assert.True(t, status.IsComplete)
	assert.Equal(t, "bob", status.Winner)
	assert.Zero(t, status.LiveRequests)

	revealed := tg.lastSignal()
	assert.Equal(t, types.SignalTypeTargetRevealed, revealed.Type)
	assert.EqualValues(t, 888, revealed.Target)

	for i, s := range tg.signals {
		assert.EqualValues(t, i+1, s.Seq)
	}
}

func TestGame_PhaseMismatch(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, tg *testGame)
		action func(tg *testGame) error
	}{
		{
			name: "deposit while launching",
			action: func(tg *testGame) error {
				_, err := tg.Deposit("alice", 1, units(1))
				return err
			},
		},
		{
			name: "reveal while launching",
			action: func(tg *testGame) error {
				_, err := tg.RevealTarget("alice")
				return err
			},
		},
		{
			name:  "set target twice",
			setup: func(t *testing.T, tg *testGame) { tg.launch(t) },
			action: func(tg *testGame) error {
				_, err := tg.SetTarget("owner", 1, 2)
				return err
			},
		},
		{
			name:  "reveal while launched",
			setup: func(t *testing.T, tg *testGame) { tg.launch(t) },
			action: func(tg *testGame) error {
				_, err := tg.RevealTarget("alice")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGame(t, "")
			if tt.setup != nil {
				tt.setup(t, tg)
			}
			before := tg.Status()
			err := tt.action(tg)
			assert.ErrorIs(t, err, ErrPhaseMismatch)
			after := tg.Status()
			assert.Equal(t, before.Phase, after.Phase)
			assert.Equal(t, before.LiveRequests, after.LiveRequests)
		})
	}
}

func TestGame_DepositValidation(t *testing.T) {
	tests := []struct {
		name    string
		amount  uint64
		payment decimal.Decimal
		unit    decimal.Decimal
		wantErr error
	}{
		{name: "exact", amount: 10, payment: units(10)},
		{name: "underpaid", amount: 10, payment: units(9), wantErr: ErrIncorrectPayment},
		{name: "overpaid", amount: 10, payment: units(11), wantErr: ErrIncorrectPayment},
		{name: "zero amount", amount: 0, payment: units(0), wantErr: ErrInvalidAmount},
		{name: "scaled unit", amount: 3, payment: decimal.New(3, 12), unit: decimal.New(1, 12)},
		{name: "scaled unit underpaid", amount: 3, payment: decimal.New(3, 11), unit: decimal.New(1, 12), wantErr: ErrIncorrectPayment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGame(t, "")
			tg.paymentUnit = units(1)
			if !tt.unit.IsZero() {
				tg.paymentUnit = tt.unit
			}
			tg.launch(t)

			_, err := tg.Deposit("alice", tt.amount, tt.payment)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, tg.Status().LiveRequests)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 1, tg.Status().LiveRequests)
		})
	}
}

func TestGame_DepositOverflow(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)

	id, err := tg.Deposit("alice", 100, units(100))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, depositReply(100)))

	limit := uint64(math.MaxUint64)
	_, err = tg.Deposit("bob", limit-99, decimal.NewFromBigInt(new(big.Int).SetUint64(limit-99), 0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Zero(t, tg.Status().LiveRequests)
	assert.EqualValues(t, 100, tg.Status().Sum)

	// the largest amount that still fits is accepted
	_, err = tg.Deposit("bob", limit-100, decimal.NewFromBigInt(new(big.Int).SetUint64(limit-100), 0))
	assert.NoError(t, err)
}

func TestGame_SetTargetValidation(t *testing.T) {
	tg := newTestGame(t, "owner")

	_, err := tg.SetTarget("mallory", 1000, 5000)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = tg.SetTarget("owner", 5000, 5000)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = tg.SetTarget("owner", 1000, 5000)
	require.NoError(t, err)

	_, err = tg.SetTarget("owner", 1000, 5000)
	assert.ErrorIs(t, err, ledger.ErrDuplicateLiveRequest)
}

func TestGame_DuplicateDeposit(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)

	first, err := tg.Deposit("alice", 1, units(1))
	require.NoError(t, err)
	_, err = tg.Deposit("bob", 1, units(1))
	assert.ErrorIs(t, err, ledger.ErrDuplicateLiveRequest)

	require.NoError(t, tg.OnCallback(first, depositReply(1)))
	second, err := tg.Deposit("bob", 1, units(1))
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestGame_DuplicateLiveRequest(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, tg *testGame)
		issue func(tg *testGame) (uint64, error)
	}{
		{
			name: "set target",
			setup: func(t *testing.T, tg *testGame) {
				_, err := tg.SetTarget("owner", 1000, 5000)
				require.NoError(t, err)
			},
			issue: func(tg *testGame) (uint64, error) {
				return tg.SetTarget("owner", 10, 20)
			},
		},
		{
			name: "deposit",
			setup: func(t *testing.T, tg *testGame) {
				tg.launch(t)
				_, err := tg.Deposit("alice", 10, units(10))
				require.NoError(t, err)
			},
			issue: func(tg *testGame) (uint64, error) {
				return tg.Deposit("bob", 20, units(20))
			},
		},
		{
			name: "reveal target",
			setup: func(t *testing.T, tg *testGame) {
				tg.launch(t)
				id, err := tg.Deposit("alice", 5000, units(5000))
				require.NoError(t, err)
				require.NoError(t, tg.OnCallback(id, winningReply))
				_, err = tg.RevealTarget("alice")
				require.NoError(t, err)
			},
			issue: func(tg *testGame) (uint64, error) {
				return tg.RevealTarget("bob")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGame(t, "")
			tt.setup(t, tg)

			before := tg.Status()
			requestsBefore := tg.Requests()
			signalsBefore := len(tg.signals)
			handlesBefore := []fhe.Handle{tg.sumHandle, tg.targetHandle, tg.crossedHandle}

			_, err := tt.issue(tg)
			assert.ErrorIs(t, err, ledger.ErrDuplicateLiveRequest)

			after := tg.Status()
			after.Timestamp = before.Timestamp
			assert.Equal(t, before, after)
			assert.Equal(t, requestsBefore, tg.Requests())
			assert.Len(t, tg.signals, signalsBefore, "no request sent")
			assert.Equal(t, handlesBefore, []fhe.Handle{tg.sumHandle, tg.targetHandle, tg.crossedHandle})
			assert.EqualValues(t, 1000, tg.low)
			assert.EqualValues(t, 5000, tg.high)
		})
	}
}

func TestGame_ReleasesSupersededCiphertexts(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)
	// sum, crossed flag and target
	live := tg.evaluator.Len()
	assert.Equal(t, 3, live)

	var sum uint64
	for i := 0; i < 5; i++ {
		id, err := tg.Deposit("alice", 10, units(10))
		require.NoError(t, err)
		sum += 10
		require.NoError(t, tg.OnCallback(id, depositReply(sum)))
		assert.Equal(t, live, tg.evaluator.Len())
	}

	id, err := tg.Deposit("alice", 10, units(10))
	require.NoError(t, err)
	assert.Error(t, tg.OnCallback(id, depositReply(sum)[:1]))
	assert.Equal(t, live, tg.evaluator.Len(), "rejected deposit")

	id, err = tg.Deposit("alice", 10, units(10))
	require.NoError(t, err)
	require.NoError(t, tg.Invalidate(id))
	assert.Equal(t, live, tg.evaluator.Len(), "invalidated deposit")

	_, _, err = tg.evaluator.Decrypt(tg.sumHandle)
	assert.NoError(t, err)
	_, _, err = tg.evaluator.Decrypt(tg.targetHandle)
	assert.NoError(t, err)
}

func TestGame_CallbackAppliesOnce(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)

	id, err := tg.Deposit("alice", 1000, units(1000))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, depositReply(1000)))

	err = tg.OnCallback(id, depositReply(1000))
	assert.ErrorIs(t, err, ledger.ErrUnknownRequest)
	assert.EqualValues(t, 1000, tg.DepositOf("alice"))
	assert.EqualValues(t, 1000, tg.Status().Sum)

	err = tg.OnCallback(99, depositReply(1000))
	assert.ErrorIs(t, err, ledger.ErrUnknownRequest)
}

func TestGame_RejectedCallbacks(t *testing.T) {
	tests := []struct {
		name    string
		payload []values.Raw
		wantErr error
	}{
		{name: "unknown type code", payload: []values.Raw{{Data: 1, Type: 7}, {Data: 0, Type: 0}, {Data: 0, Type: 0}}, wantErr: values.ErrUnknownTypeCode},
		{name: "malformed bool", payload: []values.Raw{{Data: 1, Type: 1}, {Data: 2, Type: 0}, {Data: 0, Type: 0}}, wantErr: values.ErrMalformedValue},
		{name: "too few values", payload: []values.Raw{{Data: 1, Type: 1}}, wantErr: ledger.ErrShapeMismatch},
		{name: "wrong types", payload: []values.Raw{{Data: 1, Type: 0}, {Data: 0, Type: 0}, {Data: 0, Type: 0}}, wantErr: ledger.ErrShapeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tg := newTestGame(t, "")
			tg.launch(t)

			id, err := tg.Deposit("alice", 5, units(5))
			require.NoError(t, err)

			err = tg.OnCallback(id, tt.payload)
			assert.ErrorIs(t, err, tt.wantErr)

			status := tg.Status()
			assert.Equal(t, types.PhaseLaunched, status.Phase)
			assert.Zero(t, status.Sum)
			assert.Zero(t, status.LiveRequests)
			assert.Zero(t, tg.DepositOf("alice"))

			rejected := tg.lastSignal()
			assert.Equal(t, types.SignalTypeCallbackRejected, rejected.Type)
			assert.Equal(t, id, rejected.RequestID)
			assert.Equal(t, "deposit", rejected.Kind)
			assert.NotEmpty(t, rejected.Reason)

			// the slot is free again
			_, err = tg.Deposit("alice", 5, units(5))
			assert.NoError(t, err)
		})
	}
}

func TestGame_WinnerIsImmutable(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)

	// a winner flag without crossing keeps the game launched
	id, err := tg.Deposit("alice", 10, units(10))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, []values.Raw{{Data: 10, Type: 1}, {Data: 0, Type: 0}, {Data: 1, Type: 0}}))
	assert.Equal(t, "alice", tg.Status().Winner)
	assert.Equal(t, types.PhaseLaunched, tg.Status().Phase)

	id, err = tg.Deposit("bob", 10, units(10))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, []values.Raw{{Data: 20, Type: 1}, {Data: 1, Type: 0}, {Data: 1, Type: 0}}))

	status := tg.Status()
	assert.Equal(t, "alice", status.Winner)
	assert.Equal(t, types.PhaseRevealing, status.Phase)
	assert.EqualValues(t, 10, status.Deposits["bob"])

	completes := 0
	for _, s := range tg.signals {
		if s.Type == types.SignalTypeGameComplete {
			completes++
		}
	}
	assert.Equal(t, 1, completes)
}

func TestGame_StaleCallbackAfterPhaseChange(t *testing.T) {
	tg := newTestGame(t, "")
	tg.launch(t)

	id, err := tg.Deposit("alice", 5000, units(5000))
	require.NoError(t, err)
	require.NoError(t, tg.OnCallback(id, winningReply))
	require.Equal(t, types.PhaseRevealing, tg.Status().Phase)

	// a reveal whose phase has been forced back cannot apply
	reveal, err := tg.RevealTarget("alice")
	require.NoError(t, err)
	tg.phase = types.PhaseLaunched
	err = tg.OnCallback(reveal, revealReply)
	assert.ErrorIs(t, err, ErrPhaseMismatch)
	assert.Nil(t, tg.Status().Target)
	assert.Zero(t, tg.Status().LiveRequests)
	assert.Equal(t, types.SignalTypeCallbackRejected, tg.lastSignal().Type)
}

func TestGame_Invalidate(t *testing.T) {
	tg := newTestGame(t, "")

	id, err := tg.SetTarget("owner", 1000, 5000)
	require.NoError(t, err)
	require.Len(t, tg.Requests(), 1)

	require.NoError(t, tg.Invalidate(id))
	assert.Empty(t, tg.Requests())
	invalidated := tg.lastSignal()
	assert.Equal(t, types.SignalTypeRequestInvalidated, invalidated.Type)
	assert.Equal(t, id, invalidated.RequestID)
	assert.Equal(t, "set_target", invalidated.Kind)

	assert.ErrorIs(t, tg.Invalidate(id), ledger.ErrUnknownRequest)
	assert.ErrorIs(t, tg.OnCallback(id, setTargetReply), ledger.ErrUnknownRequest)
	assert.Equal(t, types.PhaseLaunching, tg.Status().Phase)

	next, err := tg.SetTarget("owner", 1000, 5000)
	require.NoError(t, err)
	assert.Greater(t, next, id)
}

func TestNewGame(t *testing.T) {
	_, err := NewGame(NewGameOptions{})
	assert.Error(t, err)

	g, err := NewGame(NewGameOptions{Evaluator: fhe.NewMemoryEvaluator()})
	require.NoError(t, err)
	assert.True(t, g.paymentUnit.Equal(units(1)))
}
