package dispatch

import "errors"

var (
	// ErrInstanceNotFound is returned when an instance lookup misses.
	ErrInstanceNotFound = errors.New("notification instance not found")

	// ErrInstanceTerminal is returned when a terminal instance is mutated.
	ErrInstanceTerminal = errors.New("notification instance is terminal")

	// ErrNoSender is returned when no sender is registered for a channel.
	ErrNoSender = errors.New("no sender registered for channel")
)
