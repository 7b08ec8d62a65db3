// Package metrics counts protocol activity in a go-metrics registry.
package metrics

import (
	"io"
	"time"

	"github.com/cbodonnell/fomo/pkg/game/types"
	gometrics "github.com/rcrowley/go-metrics"
)

type Metrics struct {
	registry gometrics.Registry

	requestsSent        gometrics.Counter
	callbacksRejected   gometrics.Counter
	requestsInvalidated gometrics.Counter
	gamesCompleted      gometrics.Counter
	targetsRevealed     gometrics.Counter
	actions             gometrics.Timer
	queueDepth          gometrics.Gauge
}

func New() *Metrics {
	r := gometrics.NewRegistry()
	return &Metrics{
		registry:            r,
		requestsSent:        gometrics.NewRegisteredCounter("oracle.requests.sent", r),
		callbacksRejected:   gometrics.NewRegisteredCounter("oracle.callbacks.rejected", r),
		requestsInvalidated: gometrics.NewRegisteredCounter("oracle.requests.invalidated", r),
		gamesCompleted:      gometrics.NewRegisteredCounter("game.completed", r),
		targetsRevealed:     gometrics.NewRegisteredCounter("game.target.revealed", r),
		actions:             gometrics.NewRegisteredTimer("game.actions", r),
		queueDepth:          gometrics.NewRegisteredGauge("game.queue.depth", r),
	}
}

// RecordSignal counts a signal by type. Request counts are also kept per kind.
func (m *Metrics) RecordSignal(s types.Signal) {
	switch s.Type {
	case types.SignalTypeRequestSent:
		m.requestsSent.Inc(1)
		gometrics.GetOrRegisterCounter("oracle.requests.sent."+s.Kind, m.registry).Inc(1)
	case types.SignalTypeCallbackRejected:
		m.callbacksRejected.Inc(1)
	case types.SignalTypeRequestInvalidated:
		m.requestsInvalidated.Inc(1)
	case types.SignalTypeGameComplete:
		m.gamesCompleted.Inc(1)
	case types.SignalTypeTargetRevealed:
		m.targetsRevealed.Inc(1)
	}
}

// RecordAction records how long the game loop spent on one action.
func (m *Metrics) RecordAction(d time.Duration) {
	m.actions.Update(d)
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Update(int64(n))
}

func (m *Metrics) Counter(name string) int64 {
	c, ok := m.registry.Get(name).(gometrics.Counter)
	if !ok {
		return 0
	}
	return c.Count()
}

// WriteJSON writes a snapshot of all metrics.
func (m *Metrics) WriteJSON(w io.Writer) {
	gometrics.WriteJSONOnce(m.registry, w)
}
