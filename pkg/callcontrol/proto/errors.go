package proto

import "fmt"

// Error codes surfaced to clients via ERROR messages.
const (
	ErrCodeProtocolViolation  = "ERR_PROTOCOL_VIOLATION"
	ErrCodeUnknownMessageType = "ERR_UNKNOWN_MESSAGE_TYPE"
	ErrCodeInvalidSession     = "ERR_INVALID_SESSION"
	ErrCodeInvalidTransition  = "ERR_INVALID_TRANSITION"
	ErrCodeNotPrimaryDevice   = "ERR_NOT_PRIMARY_DEVICE"
	ErrCodeTechnicalException = "ERR_TECHNICAL_EXCEPTION"
)

// UnknownMessageTypeError marks a well-formed message whose type is not part
// of the protocol. The connection stays open; the client gets an ERROR reply.
type UnknownMessageTypeError struct {
	Type string
}

func (e *UnknownMessageTypeError) Error() string {
	return fmt.Sprintf("unknown message type '%s'", e.Type)
}

func IsUnknownMessageTypeError(e error) bool {
	_, ok := e.(*UnknownMessageTypeError)
	return ok
}
