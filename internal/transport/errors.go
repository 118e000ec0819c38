package transport

import (
	"fmt"
)

// 传输层错误定义
var (
	ErrEndOfSession     = NewTpError(1000, "End of session", "")
	ErrUnknownTransport = NewTpError(1002, "Unknown transport", "")
	ErrFrameTooLarge    = NewTpError(1003, "Frame too large", "")
	ErrListenerClosed   = NewTpError(1004, "Listener is closed", "")
	ErrUnknownMode      = NewTpError(1005, "Unknown session mode", "")
)

type tpError struct {
	code    int
	msg     string
	context string
}

func (e *tpError) Error() string {
	if e.context != "" {
		return fmt.Sprintf("Error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("Error %d: %s", e.code, e.msg)
}

// Code returns the numeric error code.
func (e *tpError) Code() int { return e.code }

// Is matches errors with the same code, so a sentinel with context still compares equal.
func (e *tpError) Is(target error) bool {
	t, ok := target.(*tpError)
	return ok && t.code == e.code
}

func NewTpError(code int, message string, context string) *tpError {
	return &tpError{
		code:    code,
		msg:     message,
		context: context,
	}
}

func withContext(e *tpError, context string) *tpError {
	return NewTpError(e.code, e.msg, context)
}
