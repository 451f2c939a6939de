package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-mes/internal/mes/repository"
	"github.com/bitfantasy/nimo-mes/internal/mes/routing"
)

var (
	ErrUnauthorized       = errors.New("permission denied")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNoActiveRouting    = errors.New("part has no active routing")
	ErrInvalidDependency  = errors.New("invalid operation dependency")
)

// PersistenceError 存储层失败，可重试
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}

// domainError 可以直接返回给调用方的业务错误
func domainError(err error) bool {
	var te *routing.TransitionError
	return errors.As(err, &te) ||
		errors.Is(err, routing.ErrOperationNotFound) ||
		errors.Is(err, routing.ErrOrphanedOperation) ||
		errors.Is(err, routing.ErrUnknownStatus) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidDependency) ||
		errors.Is(err, ErrNoActiveRouting)
}

// persistence 把非业务错误包装为 PersistenceError
func persistence(op string, err error) error {
	if err == nil || domainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
