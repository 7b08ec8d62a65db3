package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cbodonnell/fomo/pkg/game"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/messages"
	"github.com/cbodonnell/fomo/pkg/oracle/ledger"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/cbodonnell/fomo/pkg/queue"
)

type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return "invalid request body: " + e.err.Error()
}

func (e *badRequestError) Unwrap() error {
	return e.err
}

// StatusFor maps a game or protocol error to an HTTP status.
func StatusFor(err error) int {
	var badRequest *badRequestError
	switch {
	case errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrDuplicateLiveRequest), errors.Is(err, game.ErrPhaseMismatch):
		return http.StatusConflict
	case errors.Is(err, game.ErrIncorrectPayment), errors.Is(err, game.ErrInvalidAmount), errors.Is(err, game.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, values.ErrUnknownTypeCode), errors.Is(err, values.ErrMalformedValue),
		errors.Is(err, values.ErrTypeMismatch), errors.Is(err, ledger.ErrShapeMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed: %v", err)
		writeJSON(w, status, &messages.ServerError{Error: "internal error"})
		return
	}
	writeJSON(w, status, &messages.ServerError{Error: err.Error()})
}
