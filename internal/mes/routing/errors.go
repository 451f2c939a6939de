package routing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownStatus         = errors.New("unknown operation status")
	ErrPredecessorNotReady   = errors.New("predecessor operations are not complete")
	ErrIllegalBackTransition = errors.New("operation is in a terminal state")
	ErrInvalidTransition     = errors.New("transition not allowed")
	ErrOrphanedOperation     = errors.New("operation has no live routing")
	ErrOperationNotFound     = errors.New("operation not found")
)

// TransitionError 状态转换被拒绝
type TransitionError struct {
	From     Status
	To       Status
	Blocking []string // 未完成的前置工序
	Err      error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Err)
	if len(e.Blocking) > 0 {
		msg += " (waiting on " + strings.Join(e.Blocking, ", ") + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}
