package remote

import (
	"errors"
	"fmt"
)

// ErrTransport reports that the service could not be reached after retries.
var ErrTransport = errors.New("asset service unreachable")

// ProtocolError is a response the service sent but the client cannot accept:
// a non-success status, an error payload, or a bare string body.
type ProtocolError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("asset service %s: status %d: %s", e.Endpoint, e.Status, e.Message)
}
