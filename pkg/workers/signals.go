package workers

import (
	"context"

	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/messages"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/repositories"
)

// Broadcaster delivers an encoded signal frame to live subscribers.
type Broadcaster interface {
	Broadcast(frame []byte)
}

// SignalWorker publishes the signals emitted by the game loop. Each signal is
// persisted before it is broadcast so the log never lags what subscribers saw.
type SignalWorker struct {
	repository  repositories.Repository
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	signalChan  <-chan types.Signal
	forward     chan<- types.Signal
}

type NewSignalWorkerOptions struct {
	Repository  repositories.Repository
	Broadcaster Broadcaster
	Metrics     *metrics.Metrics
	SignalChan  <-chan types.Signal
	// Forward optionally receives every signal after it has been published,
	// e.g. for an in-process oracle
	Forward chan<- types.Signal
}

func NewSignalWorker(opts NewSignalWorkerOptions) *SignalWorker {
	return &SignalWorker{
		repository:  opts.Repository,
		broadcaster: opts.Broadcaster,
		metrics:     opts.Metrics,
		signalChan:  opts.SignalChan,
		forward:     opts.Forward,
	}
}

func (w *SignalWorker) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case signal := <-w.signalChan:
			w.publish(ctx, signal)
		}
	}
}

func (w *SignalWorker) publish(ctx context.Context, signal types.Signal) {
	log.Debug("Publishing signal %d (%s) for game %s", signal.Seq, signal.Type, signal.GameID)

	if w.repository != nil {
		if err := w.repository.SaveSignal(ctx, &signal); err != nil {
			log.Error("Failed to save signal %d: %v", signal.Seq, err)
		}
	}

	if w.metrics != nil {
		w.metrics.RecordSignal(signal)
	}

	if w.broadcaster != nil {
		frame, err := messages.SerializeSignal(&signal)
		if err != nil {
			log.Error("Failed to serialize signal %d: %v", signal.Seq, err)
		} else {
			w.broadcaster.Broadcast(frame)
		}
	}

	if w.forward != nil {
		select {
		case <-ctx.Done():
		case w.forward <- signal:
		}
	}
}
