package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cbodonnell/fomo/pkg/api/middleware"
	"github.com/cbodonnell/fomo/pkg/game"
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/log"
	"github.com/cbodonnell/fomo/pkg/messages"
	"github.com/cbodonnell/fomo/pkg/metrics"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
	"github.com/cbodonnell/fomo/pkg/repositories"
	"github.com/cbodonnell/fomo/pkg/version"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// GameService is the game as seen by the API. *game.Manager implements it.
type GameService interface {
	SetTarget(ctx context.Context, requester string, low, high uint64) (uint64, error)
	Deposit(ctx context.Context, requester string, amount uint64, payment decimal.Decimal) (uint64, error)
	RevealTarget(ctx context.Context, requester string) (uint64, error)
	Callback(ctx context.Context, requestID uint64, payload []values.Raw) error
	Invalidate(ctx context.Context, requestID uint64) error
	Requests(ctx context.Context) ([]game.Request, error)
	Status(ctx context.Context) (*types.GameState, error)
	DepositOf(ctx context.Context, player string) (uint64, error)
}

var _ GameService = &game.Manager{}

func HandleSetTarget(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, ok := middleware.PlayerFromContext(r.Context())
		if !ok {
			http.Error(w, "Failed to get player from context", http.StatusInternalServerError)
			return
		}
		body := &messages.ClientSetTarget{}
		if err := decodeBody(r, body); err != nil {
			writeError(w, err)
			return
		}

		id, err := service.SetTarget(r.Context(), player, body.Low, body.High)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, &messages.ServerRequestIssued{RequestID: id})
	}
}

func HandleDeposit(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, ok := middleware.PlayerFromContext(r.Context())
		if !ok {
			http.Error(w, "Failed to get player from context", http.StatusInternalServerError)
			return
		}
		body := &messages.ClientDeposit{}
		if err := decodeBody(r, body); err != nil {
			writeError(w, err)
			return
		}
		payment, err := decimal.NewFromString(body.Payment)
		if err != nil {
			writeError(w, fmt.Errorf("%w: payment %q is not a number", game.ErrIncorrectPayment, body.Payment))
			return
		}

		id, err := service.Deposit(r.Context(), player, body.Amount, payment)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, &messages.ServerRequestIssued{RequestID: id})
	}
}

func HandleRevealTarget(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player, ok := middleware.PlayerFromContext(r.Context())
		if !ok {
			http.Error(w, "Failed to get player from context", http.StatusInternalServerError)
			return
		}

		id, err := service.RevealTarget(r.Context(), player)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, &messages.ServerRequestIssued{RequestID: id})
	}
}

func HandleGetGame(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameState, err := service.Status(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, gameState)
	}
}

func HandleGetDeposit(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		player := mux.Vars(r)["playerID"]
		amount, err := service.DepositOf(r.Context(), player)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &messages.ServerDeposit{Player: player, Amount: amount})
	}
}

// HandleGetSavedGame serves the last persisted snapshot of any game, including
// games from earlier runs.
func HandleGetSavedGame(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameState, err := repository.LoadGameState(r.Context(), mux.Vars(r)["gameID"])
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "Game not found", http.StatusNotFound)
				return
			}
			log.Error("failed to load game state: %v", err)
			http.Error(w, "Failed to load game state", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, gameState)
	}
}

func HandleListSignals(service GameService, repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		gameID := query.Get("gameId")
		if gameID == "" {
			gameState, err := service.Status(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			gameID = gameState.GameID
		}
		after, err := parseUintParam(query.Get("after"), 0)
		if err != nil {
			http.Error(w, "Invalid after parameter", http.StatusBadRequest)
			return
		}
		limit, err := parseUintParam(query.Get("limit"), repositories.DefaultSignalLimit)
		if err != nil || limit > 1000 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}

		signals, err := repository.ListSignals(r.Context(), gameID, after, int(limit))
		if err != nil {
			log.Error("failed to list signals: %v", err)
			http.Error(w, "Failed to list signals", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, &messages.ServerSignals{GameID: gameID, Signals: signals})
	}
}

func HandleOracleCallback(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := &messages.OracleCallback{}
		if err := decodeBody(r, body); err != nil {
			writeError(w, err)
			return
		}

		if err := service.Callback(r.Context(), body.RequestID, body.Values); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleListRequests(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, err := service.Requests(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]messages.ServerOracleRequest, 0, len(requests))
		for _, req := range requests {
			handles := make([]string, len(req.Handles))
			for i, h := range req.Handles {
				handles[i] = string(h)
			}
			valueTypes := make([]uint8, 0, len(req.Shape))
			for _, d := range req.Shape {
				if code, err := values.TypeCode(d, values.EncodingDecrypted); err == nil {
					valueTypes = append(valueTypes, code)
				}
			}
			out = append(out, messages.ServerOracleRequest{
				RequestID:  req.ID,
				Kind:       req.Kind.String(),
				Requester:  req.Requester,
				Handles:    handles,
				ValueTypes: valueTypes,
				AgeMillis:  req.Age().Milliseconds(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func HandleInvalidateRequest(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(r)["requestID"], 10, 64)
		if err != nil {
			http.Error(w, "Failed to parse requestID", http.StatusBadRequest)
			return
		}

		if err := service.Invalidate(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleMetrics(m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		m.WriteJSON(w)
	}
}

func HandleHealth(service GameService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameState, err := service.Status(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &messages.ServerHealth{Status: "ok", Version: version.Get(), GameID: gameState.GameID})
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, messages.MessageBufferSize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

func parseUintParam(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}
