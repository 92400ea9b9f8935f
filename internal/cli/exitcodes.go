package cli

import (
	"errors"

	"github.com/raphaelgruber/tmimport/internal/models"
	"github.com/raphaelgruber/tmimport/internal/service"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK     = 0
	exitJob    = 1
	exitUsage  = 2
	exitConfig = 3
	exitDB     = 4
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// ExitCode maps an Execute error onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, service.ErrInvalidTransition) {
		return exitUsage
	}
	return exitJob
}
