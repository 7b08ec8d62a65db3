package game

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/oracle/dispatcher"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/shopspring/decimal"
)

// Expected callback shapes per request kind.
var (
	SetTargetShape    = []values.Descriptor{values.Uint64, values.Uint64, values.Uint64}
	DepositShape      = []values.Descriptor{values.Uint64, values.Bool, values.Bool}
	RevealTargetShape = []values.Descriptor{values.Uint64, values.Uint64}
)

// RequestArgs is what a transition needs again when its callback arrives.
type RequestArgs struct {
	Low   uint64
	High  uint64
	Nonce fhe.Handle

	Amount  uint64
	Sum     fhe.Handle
	Crossed fhe.Handle
}

// Request is an outstanding oracle request.
type Request = ledger.Record[RequestArgs]

// Game is the state machine for a single game. Transitions are gated on the
// current phase and on oracle callbacks. Game is not safe for concurrent use;
// Manager serializes all access.
type Game struct {
	id          string
	evaluator   fhe.Evaluator
	paymentUnit decimal.Decimal
	owner       string
	emit        func(types.Signal)
	signalSeq   uint64

	requests   *ledger.Ledger[RequestArgs]
	dispatcher *dispatcher.Dispatcher[RequestArgs]

	phase         types.Phase
	low           uint64
	high          uint64
	sumHandle     fhe.Handle
	targetHandle  fhe.Handle
	crossedHandle fhe.Handle
	sum           uint64
	target        *uint64
	winner        string
	isComplete    bool
	deposits      map[string]uint64
}

// NewGameOptions contains options for creating a new Game.
type NewGameOptions struct {
	GameID    string
	Evaluator fhe.Evaluator
	// PaymentUnit is the payment required per deposited unit
	PaymentUnit decimal.Decimal
	// Owner, if set, is the only identity allowed to set the target
	Owner string
	// SignalHandler receives every signal the game emits
	SignalHandler func(types.Signal)
}

func NewGame(opts NewGameOptions) (*Game, error) {
	if opts.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	paymentUnit := opts.PaymentUnit
	if paymentUnit.IsZero() {
		paymentUnit = decimal.New(1, 0)
	}

	g := &Game{
		id:          opts.GameID,
		evaluator:   opts.Evaluator,
		paymentUnit: paymentUnit,
		owner:       opts.Owner,
		emit:        opts.SignalHandler,
		phase:       types.PhaseLaunching,
		deposits:    make(map[string]uint64),
	}
	g.requests = ledger.New(g.requestSent)
	g.dispatcher = dispatcher.New[RequestArgs](g.requests, g)

	var err error
	if g.sumHandle, err = g.evaluator.TrivialEncrypt(0); err != nil {
		return nil, fmt.Errorf("failed to encrypt initial sum: %v", err)
	}
	if g.crossedHandle, err = g.evaluator.TrivialEncryptBool(false); err != nil {
		return nil, fmt.Errorf("failed to encrypt initial crossed flag: %v", err)
	}

	return g, nil
}

// SetTarget asks the oracle to seed a hidden target in [low, high).
func (g *Game) SetTarget(requester string, low, high uint64) (uint64, error) {
	if g.phase != types.PhaseLaunching {
		return 0, fmt.Errorf("%w: cannot set target while %s", ErrPhaseMismatch, g.phase)
	}
	if g.owner != "" && requester != g.owner {
		return 0, fmt.Errorf("%w: only the owner can set the target", ErrUnauthorized)
	}
	if low >= high {
		return 0, fmt.Errorf("%w: low %d must be below high %d", ErrInvalidRange, low, high)
	}
	if g.requests.HasLive(ledger.KindSetTarget) {
		return 0, fmt.Errorf("%w: set target is outstanding", ledger.ErrDuplicateLiveRequest)
	}

	lowHandle, err := g.evaluator.TrivialEncrypt(low)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt low bound: %v", err)
	}
	highHandle, err := g.evaluator.TrivialEncrypt(high)
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt high bound: %v", err)
	}
	nonce, err := g.evaluator.Random()
	if err != nil {
		return 0, fmt.Errorf("failed to encrypt nonce: %v", err)
	}

	id, err := g.requests.Issue(ledger.KindSetTarget, requester, SetTargetShape,
		[]fhe.Handle{lowHandle, highHandle, nonce},
		RequestArgs{Low: low, High: high, Nonce: nonce})
	if err != nil {
		return 0, err
	}
	g.low, g.high = low, high
	return id, nil
}

// Deposit adds amount to the encrypted sum and asks the oracle for the new
// sum, whether it crossed the target and whether this deposit crossed first.
// The payment must equal amount times the payment unit exactly.
func (g *Game) Deposit(requester string, amount uint64, payment decimal.Decimal) (uint64, error) {
	if g.phase != types.PhaseLaunched {
		return 0, fmt.Errorf("%w: cannot deposit while %s", ErrPhaseMismatch, g.phase)
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	// the encrypted sum and the tallies wrap at 64 bits
	if g.sum > math.MaxUint64-amount || g.deposits[requester] > math.MaxUint64-amount {
		return 0, fmt.Errorf("%w: amount %d would overflow the pot", ErrInvalidAmount, amount)
	}
	expected := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).Mul(g.paymentUnit)
	if !payment.Equal(expected) {
		return 0, fmt.Errorf("%w: got %s, want %s", ErrIncorrectPayment, payment, expected)
	}
	if g.requests.HasLive(ledger.KindDeposit) {
		return 0, fmt.Errorf("%w: a deposit is outstanding", ledger.ErrDuplicateLiveRequest)
	}

	sum, err := g.evaluator.AddScalar(g.sumHandle, amount)
	if err != nil {
		return 0, fmt.Errorf("failed to add deposit: %v", err)
	}
	crossed, err := g.evaluator.Ge(sum, g.targetHandle)
	if err != nil {
		return 0, fmt.Errorf("failed to compare sum with target: %v", err)
	}
	notCrossedBefore, err := g.evaluator.Not(g.crossedHandle)
	if err != nil {
		return 0, fmt.Errorf("failed to negate crossed flag: %v", err)
	}
	first, err := g.evaluator.And(crossed, notCrossedBefore)
	g.release(notCrossedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate winner flag: %v", err)
	}

	return g.requests.Issue(ledger.KindDeposit, requester, DepositShape,
		[]fhe.Handle{sum, crossed, first},
		RequestArgs{Amount: amount, Sum: sum, Crossed: crossed})
}

// RevealTarget asks the oracle to decrypt the target.
func (g *Game) RevealTarget(requester string) (uint64, error) {
	if g.phase != types.PhaseRevealing {
		return 0, fmt.Errorf("%w: cannot reveal while %s", ErrPhaseMismatch, g.phase)
	}
	if g.requests.HasLive(ledger.KindRevealTarget) {
		return 0, fmt.Errorf("%w: reveal is outstanding", ledger.ErrDuplicateLiveRequest)
	}
	return g.requests.Issue(ledger.KindRevealTarget, requester, RevealTargetShape,
		[]fhe.Handle{g.sumHandle, g.targetHandle},
		RequestArgs{})
}

// OnCallback applies an oracle callback. See dispatcher.Dispatcher.
func (g *Game) OnCallback(requestID uint64, payload []values.Raw) error {
	return g.dispatcher.OnCallback(requestID, payload)
}

// Invalidate retires a live request without applying it, freeing its kind
// for a new request.
func (g *Game) Invalidate(requestID uint64) error {
	record, err := g.requests.Take(requestID)
	if err != nil {
		return err
	}
	log.Warn("Invalidated %s request %d for %s after %s", record.Kind, record.ID, record.Requester, record.Age())
	g.releaseUncommitted(record)
	g.signal(types.Signal{
		Type:      types.SignalTypeRequestInvalidated,
		RequestID: record.ID,
		Requester: record.Requester,
		Kind:      record.Kind.String(),
	})
	return nil
}

// Requests returns the outstanding oracle requests.
func (g *Game) Requests() []Request {
	return g.requests.Live()
}

func (g *Game) ResolveSetTarget(record Request, decoded []values.TypedValue) error {
	if g.phase != types.PhaseLaunching {
		return fmt.Errorf("%w: set target callback while %s", ErrPhaseMismatch, g.phase)
	}

	var mix uint64
	for _, v := range decoded {
		n, err := values.AsUint(v)
		if err != nil {
			return err
		}
		mix += n
	}

	args := record.Args
	seed, err := g.evaluator.AddScalar(args.Nonce, mix)
	if err != nil {
		return fmt.Errorf("failed to seed target: %v", err)
	}
	offset, err := g.evaluator.RemScalar(seed, args.High-args.Low)
	if err != nil {
		return fmt.Errorf("failed to reduce target: %v", err)
	}
	target, err := g.evaluator.AddScalar(offset, args.Low)
	g.release(seed, offset)
	if err != nil {
		return fmt.Errorf("failed to offset target: %v", err)
	}
	g.release(record.Handles...)

	g.targetHandle = target
	g.low, g.high = args.Low, args.High
	g.phase = types.PhaseLaunched
	log.Info("Target set within [%d, %d), game launched", args.Low, args.High)
	return nil
}

func (g *Game) ResolveDeposit(record Request, decoded []values.TypedValue) error {
	if g.phase != types.PhaseLaunched {
		return fmt.Errorf("%w: deposit callback while %s", ErrPhaseMismatch, g.phase)
	}
	sum, err := values.AsUint(decoded[0])
	if err != nil {
		return err
	}
	crossed, err := values.AsBool(decoded[1])
	if err != nil {
		return err
	}
	isWinner, err := values.AsBool(decoded[2])
	if err != nil {
		return err
	}

	g.deposits[record.Requester] += record.Args.Amount
	g.sum = sum
	// the previous sum and flag are superseded, the winner flag was only needed by the oracle
	g.release(g.sumHandle, g.crossedHandle, record.Handles[2])
	g.sumHandle = record.Args.Sum
	g.crossedHandle = record.Args.Crossed

	if isWinner {
		if g.winner == "" {
			g.winner = record.Requester
			g.isComplete = false
			log.Info("Player %s crossed the target first", g.winner)
			g.signal(types.Signal{
				Type:      types.SignalTypeGameComplete,
				RequestID: record.ID,
				Winner:    g.winner,
			})
		} else {
			log.Warn("Ignoring winner flag for %s, winner is already %s", record.Requester, g.winner)
		}
	}
	if crossed {
		g.phase = types.PhaseRevealing
	}
	return nil
}

func (g *Game) ResolveRevealTarget(record Request, decoded []values.TypedValue) error {
	if g.phase != types.PhaseRevealing {
		return fmt.Errorf("%w: reveal callback while %s", ErrPhaseMismatch, g.phase)
	}
	target, err := values.AsUint(decoded[1])
	if err != nil {
		return err
	}

	g.target = &target
	g.isComplete = true
	g.phase = types.PhaseRevealed
	log.Info("Target revealed as %d", target)
	g.signal(types.Signal{
		Type:      types.SignalTypeTargetRevealed,
		RequestID: record.ID,
		Winner:    g.winner,
		Target:    target,
	})
	return nil
}

func (g *Game) Reject(record Request, err error) {
	g.releaseUncommitted(record)
	g.signal(types.Signal{
		Type:      types.SignalTypeCallbackRejected,
		RequestID: record.ID,
		Requester: record.Requester,
		Kind:      record.Kind.String(),
		Reason:    err.Error(),
	})
}

// Status returns a snapshot of the game.
func (g *Game) Status() *types.GameState {
	state := &types.GameState{
		GameID:       g.id,
		Timestamp:    time.Now().UnixMilli(),
		Phase:        g.phase,
		Sum:          g.sum,
		Winner:       g.winner,
		IsComplete:   g.isComplete,
		LiveRequests: g.requests.Len(),
		Deposits:     make(map[string]uint64, len(g.deposits)),
	}
	if g.target != nil {
		target := *g.target
		state.Target = &target
	}
	for player, amount := range g.deposits {
		state.Deposits[player] = amount
	}
	return state
}

func (g *Game) DepositOf(player string) uint64 {
	return g.deposits[player]
}

func (g *Game) requestSent(record Request) {
	handles := make([]string, len(record.Handles))
	for i, h := range record.Handles {
		handles[i] = string(h)
	}
	valueTypes := make([]uint8, len(record.Shape))
	for i, d := range record.Shape {
		code, err := values.TypeCode(d, values.EncodingDecrypted)
		if err != nil {
			log.Error("No type code for %s in request %d: %v", d, record.ID, err)
			continue
		}
		valueTypes[i] = code
	}
	log.Debug("Sent %s request %d for %s", record.Kind, record.ID, record.Requester)
	g.signal(types.Signal{
		Type:       types.SignalTypeRequestSent,
		RequestID:  record.ID,
		Requester:  record.Requester,
		Kind:       record.Kind.String(),
		Handles:    handles,
		ValueTypes: valueTypes,
	})
}

// releaseUncommitted frees the ciphertexts a retired request created. Reveal
// requests only reference the live sum and target, which stay.
func (g *Game) releaseUncommitted(record Request) {
	switch record.Kind {
	case ledger.KindSetTarget, ledger.KindDeposit:
		g.release(record.Handles...)
	}
}

func (g *Game) release(handles ...fhe.Handle) {
	if r, ok := g.evaluator.(fhe.Releaser); ok {
		r.Release(handles...)
	}
}

func (g *Game) signal(s types.Signal) {
	g.signalSeq++
	s.GameID = g.id
	s.Seq = g.signalSeq
	s.Timestamp = time.Now().UnixMilli()
	if g.emit != nil {
		g.emit(s)
	}
}
