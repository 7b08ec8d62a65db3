package ledger

import (
	"testing"

	"github.com/cbodonnell/fomo/pkg/fhe"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var depositShape = []values.Descriptor{values.Uint64, values.Bool, values.Bool}

func TestLedgerLifecycle(t *testing.T) {
	var sent []Record[uint64]
	l := New(func(r Record[uint64]) {
		sent = append(sent, r)
	})

	id, err := l.Issue(KindDeposit, "alice", depositShape, []fhe.Handle{"a", "b", "c"}, 1000)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	require.Len(t, sent, 1)
	assert.Equal(t, "alice", sent[0].Requester)
	assert.Equal(t, KindDeposit, sent[0].Kind)
	assert.True(t, l.HasLive(KindDeposit))

	_, err = l.Issue(KindDeposit, "bob", depositShape, nil, 5)
	assert.ErrorIs(t, err, ErrDuplicateLiveRequest)
	assert.Equal(t, 1, l.Len())
	assert.Len(t, sent, 1)

	// a different kind may be live at the same time
	revealID, err := l.Issue(KindRevealTarget, "bob", []values.Descriptor{values.Uint64, values.Uint64}, nil, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, revealID)

	record, err := l.Take(id)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, record.Args)
	assert.Equal(t, []fhe.Handle{"a", "b", "c"}, record.Handles)
	assert.False(t, l.HasLive(KindDeposit))

	_, err = l.Take(id)
	assert.ErrorIs(t, err, ErrUnknownRequest)

	next, err := l.Issue(KindDeposit, "bob", depositShape, nil, 7)
	require.NoError(t, err)
	assert.EqualValues(t, 3, next, "ids are never reused")

	live := l.Live()
	require.Len(t, live, 2)
	assert.EqualValues(t, 2, live[0].ID)
	assert.EqualValues(t, 3, live[1].ID)
	assert.Greater(t, live[1].IssuedAt, live[0].IssuedAt)
}

func TestValidateShape(t *testing.T) {
	decode := func(raw ...values.Raw) []values.TypedValue {
		decoded, err := values.DecodeAll(raw)
		require.NoError(t, err)
		return decoded
	}
	record := Record[struct{}]{ID: 9, Shape: depositShape}

	tests := []struct {
		name    string
		decoded []values.TypedValue
		wantErr bool
	}{
		{
			name:    "exact match with mixed encodings",
			decoded: decode(values.Raw{Data: 2, Type: 129}, values.Raw{Data: 0, Type: 128}, values.Raw{Data: 1, Type: 0}),
		},
		{
			name:    "too few values",
			decoded: decode(values.Raw{Data: 2, Type: 129}, values.Raw{Data: 0, Type: 128}),
			wantErr: true,
		},
		{
			name:    "wrong kind in position",
			decoded: decode(values.Raw{Data: 2, Type: 129}, values.Raw{Data: 0, Type: 1}, values.Raw{Data: 1, Type: 0}),
			wantErr: true,
		},
		{
			name:    "wrong bit width",
			decoded: decode(values.Raw{Data: 2, Type: 2}, values.Raw{Data: 0, Type: 0}, values.Raw{Data: 1, Type: 0}),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateShape(record, tt.decoded)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrShapeMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}
