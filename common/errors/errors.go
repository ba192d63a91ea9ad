package errors

// ExitCodeError pairs an error with the code the process should exit with.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

// Cause lets errors.Cause see through to the wrapped error.
func (e *ExitCodeError) Cause() error {
	return e.error
}

// GetExitCode returns the code carried by err or by anything it wraps,
// 1 for any other error and 0 for nil.
func GetExitCode(err error) ExitCode {
	if err == nil {
		return 0
	}
	for e := err; e != nil; {
		if ec, ok := e.(*ExitCodeError); ok {
			return ec.GetExitCode()
		}
		causer, ok := e.(interface{ Cause() error })
		if !ok {
			break
		}
		e = causer.Cause()
	}
	return 1
}
