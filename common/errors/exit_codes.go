package errors

type ExitCode int

const (
	// The command line was malformed, e.g. a missing or invalid ticket id.
	UsageExitCode ExitCode = 64

	// A ticket store operation failed.
	StorageFailureExitCode ExitCode = 70

	// The experiment lock could not be taken before the deadline.
	LockUnavailableExitCode ExitCode = 75
)
