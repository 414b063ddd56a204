package callcontrol

import "github.com/memovia/callkeeper/pkg/callcontrol/websocket"

// Flag mirrors the websocket driver's write semantics: continue the
// connection, close it gracefully after the write, or drop it hard.
type Flag = websocket.Flag

const (
	FlagContinue        = websocket.FlagContinue
	FlagCloseGracefully = websocket.FlagCloseGracefully
	FlagTerminate       = websocket.FlagTerminate
)

// messageHandler is a tooling for handling incoming messages. It is similar
// to the go http handler implementation and allows middleware handlers such
// as ensureAttached.
type messageHandler interface {
	Handle(msg interface{}) ([]byte, Flag, error)
}

type messageHandlerFunc func(msg interface{}) ([]byte, Flag, error)

func (f messageHandlerFunc) Handle(msg interface{}) ([]byte, Flag, error) {
	return f(msg)
}
