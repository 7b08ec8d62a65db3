package messages

import (
	"bytes"
	"fmt"
	"io"

	signalfb "github.com/cbodonnell/fomo/flatbuffers/signal"
	"github.com/cbodonnell/fomo/pkg/game/types"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/klauspost/compress/zstd"
)

// SerializeSignal encodes a signal as a zstd compressed flatbuffer frame.
// Frames are what the signal log persists and what subscribers receive.
func SerializeSignal(s *types.Signal) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("signal is nil")
	}
	b := SerializeSignalFlatbuffer(s)

	compressed := bytes.NewBuffer(nil)
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress signal: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}

	return compressed.Bytes(), nil
}

func DeserializeSignal(data []byte) (*types.Signal, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer compReader.Close()
	b, err := io.ReadAll(compReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed signal: %v", err)
	}

	s, err := DeserializeSignalFlatbuffer(b)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize signal: %v", err)
	}

	return s, nil
}

func SerializeSignalFlatbuffer(s *types.Signal) []byte {
	builder := flatbuffers.NewBuilder(0)

	// strings and vectors must be created before the table is started
	gameID := builder.CreateString(s.GameID)
	requester := builder.CreateString(s.Requester)
	kind := builder.CreateString(s.Kind)
	winner := builder.CreateString(s.Winner)
	reason := builder.CreateString(s.Reason)

	handleOffsets := make([]flatbuffers.UOffsetT, len(s.Handles))
	for i, h := range s.Handles {
		handleOffsets[i] = builder.CreateString(h)
	}
	signalfb.SignalStartHandlesVector(builder, len(handleOffsets))
	for i := len(handleOffsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(handleOffsets[i])
	}
	handles := builder.EndVector(len(handleOffsets))

	valueTypes := builder.CreateByteVector(s.ValueTypes)

	signalfb.SignalStart(builder)
	signalfb.SignalAddGameId(builder, gameID)
	signalfb.SignalAddSeq(builder, s.Seq)
	signalfb.SignalAddType(builder, byte(s.Type))
	signalfb.SignalAddTimestamp(builder, s.Timestamp)
	signalfb.SignalAddRequestId(builder, s.RequestID)
	signalfb.SignalAddRequester(builder, requester)
	signalfb.SignalAddKind(builder, kind)
	signalfb.SignalAddHandles(builder, handles)
	signalfb.SignalAddValueTypes(builder, valueTypes)
	signalfb.SignalAddWinner(builder, winner)
	signalfb.SignalAddTarget(builder, s.Target)
	signalfb.SignalAddReason(builder, reason)
	signalOffset := signalfb.SignalEnd(builder)
	builder.Finish(signalOffset)

	return builder.FinishedBytes()
}

func DeserializeSignalFlatbuffer(b []byte) (s *types.Signal, err error) {
	// the generated accessors panic on truncated input
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed signal frame: %v", r)
		}
	}()
	if len(b) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("malformed signal frame: %d bytes", len(b))
	}

	fb := signalfb.GetRootAsSignal(b, 0)
	s = &types.Signal{
		GameID:    string(fb.GameId()),
		Seq:       fb.Seq(),
		Type:      types.SignalType(fb.Type()),
		Timestamp: fb.Timestamp(),
		RequestID: fb.RequestId(),
		Requester: string(fb.Requester()),
		Kind:      string(fb.Kind()),
		Winner:    string(fb.Winner()),
		Target:    fb.Target(),
		Reason:    string(fb.Reason()),
	}
	if n := fb.HandlesLength(); n > 0 {
		s.Handles = make([]string, n)
		for i := 0; i < n; i++ {
			s.Handles[i] = string(fb.Handles(i))
		}
	}
	if vt := fb.ValueTypesBytes(); len(vt) > 0 {
		s.ValueTypes = append([]uint8(nil), vt...)
	}

	return s, nil
}
