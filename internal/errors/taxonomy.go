package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type ConnectKind string

const (
	ConnectDNS     ConnectKind = "dns"
	ConnectTCP     ConnectKind = "tcp"
	ConnectTLS     ConnectKind = "tls"
	ConnectTimeout ConnectKind = "timeout"
)

// ConnectError is a transport-level failure before or while establishing a
// session. Transient: callers retry with backoff.
type ConnectError struct {
	Kind ConnectKind
	Addr string
	Err  error
}

func NewConnectError(kind ConnectKind, addr string, err error) *ConnectError {
	return &ConnectError{Kind: kind, Addr: addr, Err: err}
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError is a rejected login. Not auto-retried beyond a small bounded
// count; surfaced as a persistent account-level error.
type AuthError struct {
	Username string
	Err      error
}

func NewAuthError(username string, err error) *AuthError {
	return &AuthError{Username: username, Err: err}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError is a failed or malformed IMAP exchange after authentication.
// The current fetch cycle aborts without advancing the cursor.
type ProtocolError struct {
	Op     string
	Folder string
	Err    error
}

func NewProtocolError(op, folder string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Folder: folder, Err: err}
}

func (e *ProtocolError) Error() string {
	if e.Folder != "" {
		return fmt.Sprintf("imap %s [%s]: %v", e.Op, e.Folder, e.Err)
	}
	return fmt.Sprintf("imap %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CacheCorruptionError marks an unreadable cache file. Contained to the
// affected account; the store degrades to an empty cache.
type CacheCorruptionError struct {
	AccountID string
	Path      string
	Err       error
}

func NewCacheCorruptionError(accountID, path string, err error) *CacheCorruptionError {
	return &CacheCorruptionError{AccountID: accountID, Path: path, Err: err}
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache corrupt for account %s at %s: %v", e.AccountID, e.Path, e.Err)
}

func (e *CacheCorruptionError) Unwrap() error { return e.Err }

func IsConnectError(err error) bool {
	var target *ConnectError
	return errors.As(err, &target)
}

func IsAuthError(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

func IsProtocolError(err error) bool {
	var target *ProtocolError
	return errors.As(err, &target)
}

func IsCacheCorruption(err error) bool {
	var target *CacheCorruptionError
	return errors.As(err, &target)
}

// IsTimeout reports whether the failure was a dial or read/write deadline.
func IsTimeout(err error) bool {
	var connErr *ConnectError
	if errors.As(err, &connErr) {
		return connErr.Kind == ConnectTimeout
	}
	return false
}

// IsConnectionLost reports whether an error means the underlying session is
// dead and the whole connection must be rebuilt, as opposed to a single
// command failing on a live session.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if IsConnectError(err) {
		return true
	}

	errorMsg := err.Error()
	return strings.Contains(errorMsg, "connection closed") ||
		strings.Contains(errorMsg, "i/o timeout") ||
		strings.Contains(errorMsg, "EOF") ||
		strings.Contains(errorMsg, "connection reset") ||
		strings.Contains(errorMsg, "broken pipe") ||
		strings.Contains(errorMsg, "use of closed network connection")
}
