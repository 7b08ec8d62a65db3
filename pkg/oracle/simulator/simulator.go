// Package simulator is a development oracle. It answers every request the
// game sends using the in-process evaluator, so a server can run a full round
// without an external decryption service.
package simulator

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
)

// Decrypter reveals the plaintext behind a handle.
type Decrypter interface {
	Decrypt(h fhe.Handle) (uint64, bool, error)
}

// Callbacker delivers oracle results back to the game.
type Callbacker interface {
	Callback(ctx context.Context, requestID uint64, payload []values.Raw) error
}

type Simulator struct {
	decrypter  Decrypter
	callbacker Callbacker
	signalChan <-chan types.Signal
	delay      time.Duration

	wg sync.WaitGroup
}

type NewSimulatorOptions struct {
	Decrypter  Decrypter
	Callbacker Callbacker
	SignalChan <-chan types.Signal
	// Delay is how long to wait before answering a request
	Delay time.Duration
}

func NewSimulator(opts NewSimulatorOptions) *Simulator {
	return &Simulator{
		decrypter:  opts.Decrypter,
		callbacker: opts.Callbacker,
		signalChan: opts.SignalChan,
		delay:      opts.Delay,
	}
}

// Start answers requests until ctx is done or the signal channel closes.
// Each request is answered on its own goroutine so a slow callback never
// holds up the signal stream.
func (s *Simulator) Start(ctx context.Context) {
	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-s.signalChan:
			if !ok {
				return
			}
			if signal.Type != types.SignalTypeRequestSent {
				continue
			}
			s.wg.Add(1)
			go func(signal types.Signal) {
				defer s.wg.Done()
				s.answer(ctx, signal)
			}(signal)
		}
	}
}

func (s *Simulator) answer(ctx context.Context, signal types.Signal) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}
	}

	payload, err := s.Reply(signal)
	if err != nil {
		log.Error("Simulator failed to answer request %d: %v", signal.RequestID, err)
		return
	}
	if err := s.callbacker.Callback(ctx, signal.RequestID, payload); err != nil {
		log.Warn("Simulator callback for request %d failed: %v", signal.RequestID, err)
		return
	}
	log.Debug("Simulator answered %s request %d", signal.Kind, signal.RequestID)
}

// Reply builds the callback payload for a sent request. Set target requests
// get fresh random values; every other request gets its handles decrypted.
func (s *Simulator) Reply(signal types.Signal) ([]values.Raw, error) {
	if len(signal.Handles) != len(signal.ValueTypes) {
		return nil, fmt.Errorf("request %d has %d handles and %d value types", signal.RequestID, len(signal.Handles), len(signal.ValueTypes))
	}

	payload := make([]values.Raw, len(signal.Handles))
	if signal.Kind == ledger.KindSetTarget.String() {
		for i, code := range signal.ValueTypes {
			n, err := randomUint64()
			if err != nil {
				return nil, err
			}
			payload[i] = values.Raw{Data: n, Type: uint64(code | values.TriviallyWrappedFlag)}
		}
		return payload, nil
	}

	for i, h := range signal.Handles {
		n, _, err := s.decrypter.Decrypt(fhe.Handle(h))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt handle %d: %w", i, err)
		}
		payload[i] = values.Raw{Data: n, Type: uint64(signal.ValueTypes[i])}
	}
	return payload, nil
}

func randomUint64() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("failed to read random bytes: %v", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
