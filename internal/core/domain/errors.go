package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTemporary    = errors.New("temporary failure")

	ErrMalformedResponse    = errors.New("malformed structured response")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrAgentPipeline        = errors.New("agent pipeline failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
