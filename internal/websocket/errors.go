package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("failed to marshal message to JSON")
	ErrNilConnection    = errors.New("connection cannot be nil")
)

// Application close codes sent on refused or displaced connections.
const (
	CloseInvalidClientID = 4000
	CloseRateLimited     = 4008
)
