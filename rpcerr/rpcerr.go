// Package rpcerr defines the error taxonomy shared by the codec, the request
// tracker and the peer.
//
// Sentinel errors are compared with errors.Is. Errors that travel back from the
// remote side are reconstructed as *RemoteError, which matches
// ErrRemoteFailure when a user handler failed and ErrProtocol when the remote
// framework itself failed.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfiguration reports a missing optional dependency, e.g. a compressed
	// frame with no compressor configured.
	ErrConfiguration = errors.New("configuration error")
	// ErrProtocol reports a fault inside the RPC layer rather than user code.
	ErrProtocol = errors.New("protocol error")
	// ErrRemoteFailure is matched by replies carrying a user handler failure.
	ErrRemoteFailure = errors.New("remote handler failure")
	ErrTimeout       = errors.New("request timed out")
	ErrCancelled     = errors.New("request cancelled")
	// ErrHandlerNotFound is only ever reported to the remote caller.
	ErrHandlerNotFound  = errors.New("handler not found")
	ErrClosed           = errors.New("peer closed")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrMetadataMismatch = errors.New("metadata does not match message type")
	ErrDuplicateRequest = errors.New("duplicate in-flight request id")
)

// Reply kinds carried by RemoteError. They mirror the FAILURE and ERROR message
// type values without importing the message package.
const (
	KindFailure = 3
	KindError   = 4
)

// RemoteError is the local representation of a FAILURE or ERROR reply.
type RemoteError struct {
	Kind      int
	Method    string
	Name      string
	Traceback string
}

func (e *RemoteError) Error() string {
	if e.Kind == KindFailure {
		return fmt.Sprintf("remote failure in %q: %s", e.Method, e.Name)
	}
	return fmt.Sprintf("remote protocol error in %q: %s", e.Method, e.Name)
}

// Is lets errors.Is tell a handler failure from a framework error.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrRemoteFailure:
		return e.Kind == KindFailure
	case ErrProtocol:
		return e.Kind == KindError
	}
	return false
}

// IsRemoteFailure reports whether err came from a FAILURE reply.
func IsRemoteFailure(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindFailure
}

// IsProtocolError reports whether err is a local or remote protocol error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}

type internalError struct {
	cause error
}

func (e *internalError) Error() string { return e.cause.Error() }
func (e *internalError) Unwrap() error { return e.cause }
func (e *internalError) Cause() error  { return e.cause }

// Internal marks err as raised by the RPC layer so that the dispatcher replies
// with ERROR instead of FAILURE.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &internalError{cause: err}
}

// IsInternal reports whether err, or anything it wraps, was marked by Internal.
func IsInternal(err error) bool {
	var ie *internalError
	return errors.As(err, &ie)
}

type namedError struct {
	name  string
	cause error
}

func (e *namedError) Error() string { return e.cause.Error() }
func (e *namedError) Unwrap() error { return e.cause }
func (e *namedError) Name() string  { return e.name }

// Named attaches the kind name reported in ErrorMetadata.Name.
func Named(name string, err error) error {
	if err == nil {
		return nil
	}
	return &namedError{name: name, cause: err}
}

// HandlerNotFound builds the error sent back for an unregistered method.
func HandlerNotFound(kind, method string) error {
	return Internal(Named("HandlerNotFound",
		errors.Wrapf(ErrHandlerNotFound, "no %s handler registered for %q", kind, method)))
}
