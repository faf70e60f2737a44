package errors

import "github.com/pkg/errors"

var (
	// common errors
	ErrShuttingDown   = errors.New("engine is shutting down")
	ErrNotRunning     = errors.New("engine is not running")
	ErrSessionClosed  = errors.New("imap session is closed")

	// account errors
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrEmailMissing    = errors.New("account email is missing")

	// credential errors
	ErrCredentialNotFound = errors.New("credential reference could not be resolved")

	// search errors
	ErrSearchUnsupported = errors.New("server-side search not supported")
)
