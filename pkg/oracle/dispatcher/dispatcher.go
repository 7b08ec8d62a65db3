// Package dispatcher is the entry point for oracle callbacks. It correlates a
// callback with its ledger record, decodes the typed payload and routes it to
// the transition for the record's kind.
package dispatcher

import (
	"fmt"

	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
)

// Transitions applies resolved requests to the state machine.
type Transitions[T any] interface {
	ResolveSetTarget(record ledger.Record[T], decoded []values.TypedValue) error
	ResolveDeposit(record ledger.Record[T], decoded []values.TypedValue) error
	ResolveRevealTarget(record ledger.Record[T], decoded []values.TypedValue) error
	// Reject is called when a correlated callback could not be applied.
	// The record has already been retired.
	Reject(record ledger.Record[T], err error)
}

type Dispatcher[T any] struct {
	requests    *ledger.Ledger[T]
	transitions Transitions[T]
}

func New[T any](requests *ledger.Ledger[T], transitions Transitions[T]) *Dispatcher[T] {
	return &Dispatcher[T]{
		requests:    requests,
		transitions: transitions,
	}
}

// OnCallback applies the result of request id. The record is retired before
// the payload is inspected, so a replayed or duplicated callback always fails
// with ledger.ErrUnknownRequest.
func (d *Dispatcher[T]) OnCallback(id uint64, payload []values.Raw) error {
	record, err := d.requests.Take(id)
	if err != nil {
		log.Warn("Rejected callback for request %d: %v", id, err)
		return err
	}

	if err := d.apply(record, payload); err != nil {
		log.Warn("Retired %s request %d without applying it: %v", record.Kind, record.ID, err)
		d.transitions.Reject(record, err)
		return err
	}

	log.Debug("Applied %s request %d for %s", record.Kind, record.ID, record.Requester)
	return nil
}

func (d *Dispatcher[T]) apply(record ledger.Record[T], payload []values.Raw) error {
	decoded, err := values.DecodeAll(payload)
	if err != nil {
		return err
	}
	if err := ledger.ValidateShape(record, decoded); err != nil {
		return err
	}

	switch record.Kind {
	case ledger.KindSetTarget:
		return d.transitions.ResolveSetTarget(record, decoded)
	case ledger.KindDeposit:
		return d.transitions.ResolveDeposit(record, decoded)
	case ledger.KindRevealTarget:
		return d.transitions.ResolveRevealTarget(record, decoded)
	default:
		return fmt.Errorf("no transition for request kind %d", record.Kind)
	}
}
