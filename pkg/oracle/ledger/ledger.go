// Package ledger tracks oracle requests that are waiting for a callback.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
)

var (
	ErrDuplicateLiveRequest = errors.New("duplicate live request")
	ErrUnknownRequest       = errors.New("unknown request")
	ErrShapeMismatch        = errors.New("shape mismatch")
)

// Kind identifies which game transition a request resolves.
type Kind int

const (
	KindSetTarget Kind = iota + 1
	KindDeposit
	KindRevealTarget
)

func (k Kind) String() string {
	switch k {
	case KindSetTarget:
		return "set_target"
	case KindDeposit:
		return "deposit"
	case KindRevealTarget:
		return "reveal_target"
	default:
		return "unknown"
	}
}

// Record is an outstanding oracle request.
// Args holds whatever the issuer needs again when the callback arrives.
type Record[T any] struct {
	ID        uint64
	Requester string
	Kind      Kind
	Shape     []values.Descriptor
	Handles   []fhe.Handle
	// IssuedAt is the ledger's logical clock at issue time
	IssuedAt uint64
	Created  time.Time
	Args     T
}

// Age returns how long the request has been outstanding.
func (r Record[T]) Age() time.Duration {
	return time.Since(r.Created)
}

// Ledger holds at most one live request per kind. It is not safe for
// concurrent use; the owning state machine serializes access.
type Ledger[T any] struct {
	lastID uint64
	clock  uint64
	live   map[uint64]*Record[T]
	byKind map[Kind]uint64
	notify func(Record[T])
}

// New creates a Ledger. notify, if not nil, is called with every issued record.
func New[T any](notify func(Record[T])) *Ledger[T] {
	return &Ledger[T]{
		live:   make(map[uint64]*Record[T]),
		byKind: make(map[Kind]uint64),
		notify: notify,
	}
}

// Issue records a new request and returns its id. Ids are never reused.
func (l *Ledger[T]) Issue(kind Kind, requester string, shape []values.Descriptor, handles []fhe.Handle, args T) (uint64, error) {
	if liveID, ok := l.byKind[kind]; ok {
		return 0, fmt.Errorf("%w: %s request %d is outstanding", ErrDuplicateLiveRequest, kind, liveID)
	}

	l.lastID++
	l.clock++
	record := &Record[T]{
		ID:        l.lastID,
		Requester: requester,
		Kind:      kind,
		Shape:     append([]values.Descriptor(nil), shape...),
		Handles:   append([]fhe.Handle(nil), handles...),
		IssuedAt:  l.clock,
		Created:   time.Now(),
		Args:      args,
	}
	l.live[record.ID] = record
	l.byKind[kind] = record.ID

	if l.notify != nil {
		l.notify(*record)
	}
	return record.ID, nil
}

// Take removes and returns the live record for id. A second Take for the
// same id fails, so each callback can be applied at most once.
func (l *Ledger[T]) Take(id uint64) (Record[T], error) {
	record, ok := l.live[id]
	if !ok {
		return Record[T]{}, fmt.Errorf("%w: %d", ErrUnknownRequest, id)
	}
	delete(l.live, id)
	delete(l.byKind, record.Kind)
	return *record, nil
}

func (l *Ledger[T]) HasLive(kind Kind) bool {
	_, ok := l.byKind[kind]
	return ok
}

// Live returns a copy of the outstanding records ordered by id.
func (l *Ledger[T]) Live() []Record[T] {
	records := make([]Record[T], 0, len(l.live))
	for _, r := range l.live {
		records = append(records, *r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
	return records
}

func (l *Ledger[T]) Len() int {
	return len(l.live)
}

// ValidateShape checks that decoded values match the record's expected
// descriptors position by position. Encodings are not compared.
func ValidateShape[T any](record Record[T], decoded []values.TypedValue) error {
	if len(decoded) != len(record.Shape) {
		return fmt.Errorf("%w: request %d expects %d values, got %d", ErrShapeMismatch, record.ID, len(record.Shape), len(decoded))
	}
	for i, want := range record.Shape {
		if got := decoded[i].Descriptor(); got != want {
			return fmt.Errorf("%w: request %d value %d is %s, want %s", ErrShapeMismatch, record.ID, i, got, want)
		}
	}
	return nil
}
