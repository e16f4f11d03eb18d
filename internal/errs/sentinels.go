// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNoSession indicates no runtime instance exists for the user.
	ErrNoSession = errors.New("no session for user")

	// ErrNotConnected indicates a command requires a connected session.
	ErrNotConnected = errors.New("session not connected")

	// ErrConflict indicates the account was taken over by another client;
	// the session stays down until an operator re-initializes it.
	ErrConflict = errors.New("session conflict, re-initialize required")

	// ErrSendFailed indicates a delivery failure reported by the network.
	ErrSendFailed = errors.New("send failed")

	// ErrInvalidRecipient indicates the destination address could not be
	// normalized into a network address.
	ErrInvalidRecipient = errors.New("invalid recipient address")
)
