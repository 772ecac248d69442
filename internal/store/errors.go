package store

import "errors"

var (
	// ErrSessionNotFound is returned when a session update targets an unknown id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded is returned when mutating a session that has already ended.
	ErrSessionEnded = errors.New("session already ended")
)
