package callflow

import "fmt"

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.To)
}

func IsTransitionError(e error) bool {
	_, ok := e.(*TransitionError)
	return ok
}

type UnknownStateError struct {
	Value string
}

func (e *UnknownStateError) Error() string {
	return fmt.Sprintf("unknown call state '%s'", e.Value)
}

func IsUnknownStateError(e error) bool {
	_, ok := e.(*UnknownStateError)
	return ok
}
