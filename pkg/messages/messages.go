package messages

import (
	"github.com/cbodonnell/fomo/pkg/game/types"
	"github.com/cbodonnell/fomo/pkg/oracle/values"
)

const (
	// MessageBufferSize represents the maximum size of a request body
	MessageBufferSize = 64 * 1024
)

// OracleCallback is the body the oracle posts when a request resolves.
type OracleCallback struct {
	RequestID uint64       `json:"requestId"`
	Values    []values.Raw `json:"values"`
}

// ClientSetTarget is the body of a set target action.
type ClientSetTarget struct {
	Low  uint64 `json:"low"`
	High uint64 `json:"high"`
}

// ClientDeposit is the body of a deposit action. Payment is a decimal
// string so large payment units survive JSON.
type ClientDeposit struct {
	Amount  uint64 `json:"amount"`
	Payment string `json:"payment"`
}

// ServerRequestIssued is the response to an action that issued an oracle request.
type ServerRequestIssued struct {
	RequestID uint64 `json:"requestId"`
}

// ServerDeposit is the response to a deposit query.
type ServerDeposit struct {
	Player string `json:"player"`
	Amount uint64 `json:"amount"`
}

// ServerError is the body of every error response.
type ServerError struct {
	Error string `json:"error"`
}

// ServerOracleRequest describes a live oracle request to operators.
type ServerOracleRequest struct {
	RequestID  uint64   `json:"requestId"`
	Kind       string   `json:"kind"`
	Requester  string   `json:"requester"`
	Handles    []string `json:"handles"`
	ValueTypes []uint8  `json:"valueTypes"`
	AgeMillis  int64    `json:"ageMs"`
}

// ServerSignals is a page of the signal log.
type ServerSignals struct {
	GameID  string         `json:"gameId"`
	Signals []types.Signal `json:"signals"`
}

type ServerHealth struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	GameID  string `json:"gameId"`
}
