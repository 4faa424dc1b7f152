package nats

import (
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docscan/internal/infrastructure/resilience"
)

// publishErrors retries connection-level failures. Anything else, such as a payload over
// the server limit, fails the dispatch at once.
var publishErrors = resilience.ErrorRules{
	Transient: func(err error) bool {
		return errors.Is(err, nats.ErrNoServers) ||
			errors.Is(err, nats.ErrTimeout) ||
			errors.Is(err, nats.ErrConnectionClosed) ||
			errors.Is(err, nats.ErrConnectionReconnecting) ||
			errors.Is(err, nats.ErrReconnectBufExceeded) ||
			errors.Is(err, nats.ErrDisconnected)
	},
	Rejected: func(err error) bool {
		return errors.Is(err, nats.ErrMaxPayload) || errors.Is(err, nats.ErrBadSubject)
	},
}
