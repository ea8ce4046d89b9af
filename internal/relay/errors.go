package relay

import "errors"

var (
	ErrTooManyConnections = errors.New("too many connections")
)
