package types

import "errors"

var (
	ErrInvalidClientID = errors.New("client ID must be 1-100 characters")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)
