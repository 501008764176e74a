package models

import (
	"errors"
	"fmt"
)

var (
	ErrBadParameter = errors.New("bad parameter")
	ErrConnection   = errors.New("storage connection error")
	ErrQuery        = errors.New("query error")
	ErrMapping      = errors.New("row mapping error")
	ErrRender       = errors.New("render error")
	ErrUnknownKind  = errors.New("unknown sensor kind")
)

// ParamError reports a malformed or missing caller parameter.
type ParamError struct {
	Name   string
	Reason string
}

// NewParamError builds a ParamError for the named parameter.
func NewParamError(name, reason string) *ParamError {
	return &ParamError{Name: name, Reason: reason}
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func (e *ParamError) Unwrap() error {
	return ErrBadParameter
}
