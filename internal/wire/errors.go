package wire

import "fmt"

// MessageError indicates a well-formed frame with wrong contents: a
// missing or mistyped field, a cookie mismatch, or a CSN regression.
type MessageError struct {
	Reason string
}

func (e *MessageError) Error() string { return fmt.Sprintf("wire: %s", e.Reason) }

func newMessageError(format string, args ...interface{}) error {
	return &MessageError{Reason: fmt.Sprintf(format, args...)}
}

// MessageFlowError indicates a message arrived in the wrong protocol state.
type MessageFlowError struct {
	Reason string
}

func (e *MessageFlowError) Error() string { return fmt.Sprintf("wire: %s", e.Reason) }

func newMessageFlowError(format string, args ...interface{}) error {
	return &MessageFlowError{Reason: fmt.Sprintf(format, args...)}
}
