package constants

import "time"

const (
	// ActionQueueSize is the maximum number of player actions and oracle callbacks waiting for the game loop
	ActionQueueSize int = 10000
	// SignalChannelSize is the buffer between the game loop and the signal worker
	SignalChannelSize int = 1000
	// SaveChannelSize is the buffer between the game loop and the save worker
	SaveChannelSize int = 100

	// DefaultLoopInterval is how often the game loop drains the action queue
	DefaultLoopInterval time.Duration = 10 * time.Millisecond
	// DefaultSaveInterval is how often the save worker persists the latest snapshot
	DefaultSaveInterval time.Duration = 10 * time.Second

	// DefaultPaymentUnit is the payment required per unit deposited.
	// Production deployments typically charge 10^12 wei per unit.
	DefaultPaymentUnit string = "1"
)
