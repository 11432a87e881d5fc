package coordinator

import (
	"errors"

	"github.com/tecu23/room-server/pkg/rules"
)

// Reason is the error kind reported to clients in an error event.
type Reason string

// Error kinds surfaced to clients
const (
	ReasonInvalidSessionKey Reason = "InvalidSessionKey"
	ReasonUnknownSession    Reason = "UnknownSession"
	ReasonNotInSession      Reason = "NotInSession"
	ReasonIllegalMove       Reason = "IllegalMove"
	ReasonMalformedMove     Reason = "MalformedMove"
	ReasonUnknownClient     Reason = "UnknownClient"
	ReasonInternal          Reason = "Internal"
)

// Sentinel errors returned by the coordinator. Callers classify with errors.Is or ReasonOf.
var (
	ErrInvalidSessionKey = errors.New("invalid session key")
	ErrUnknownSession    = errors.New("unknown session")
	ErrNotInSession      = errors.New("not in a session")
	ErrUnknownClient     = errors.New("unknown client")
	ErrIllegalMove       = rules.ErrIllegalMove
	ErrMalformedMove     = rules.ErrMalformedMove
)

// ReasonOf maps err to the kind reported to clients.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrInvalidSessionKey):
		return ReasonInvalidSessionKey
	case errors.Is(err, ErrUnknownSession):
		return ReasonUnknownSession
	case errors.Is(err, ErrNotInSession):
		return ReasonNotInSession
	case errors.Is(err, ErrIllegalMove):
		return ReasonIllegalMove
	case errors.Is(err, ErrMalformedMove):
		return ReasonMalformedMove
	case errors.Is(err, ErrUnknownClient):
		return ReasonUnknownClient
	default:
		return ReasonInternal
	}
}
