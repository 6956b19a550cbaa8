package errorx

import (
	"errors"
	"fmt"
)

// GENERAL ERROR:

// GeneralError - General App Error.
type GeneralError struct {
	message string
	err     error
}

// NewGeneralError - GeneralError constructor.
func NewGeneralError(msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewGeneralErrorWrapper - GeneralError constructor for wrapper of another error.
func NewGeneralErrorWrapper(err error, msg string, args ...any) *GeneralError {
	return &GeneralError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *GeneralError) Error() string {
	if ge.err != nil {
		return fmt.Errorf("%s: %w", ge.message, ge.err).Error()
	}

	return ge.message
}

func (ge *GeneralError) Unwrap() error {
	return ge.err
}

// DATABASE ERROR

// DatabaseError - error raised by the database layer.
type DatabaseError struct {
	message string
	err     error
}

// NewDatabaseError - DatabaseError constructor.
func NewDatabaseError(msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: nil}
}

// NewDatabaseErrorWrapper - DatabaseError constructor for wrapper of another error.
func NewDatabaseErrorWrapper(err error, msg string, args ...any) *DatabaseError {
	return &DatabaseError{message: fmt.Sprintf(msg, args...), err: err}
}

// Error - return the error string.
func (ge *DatabaseError) Error() string {
	if ge.err != nil {
		return fmt.Errorf("%s: %w", ge.message, ge.err).Error()
	}

	return ge.message
}

func (ge *DatabaseError) Unwrap() error {
	return ge.err
}

// BRIDGE ERROR

// Kind classifies failures of the tunnel/pool bridge.
type Kind string

const (
	KindUnknown              Kind = ""
	KindDnsResolution        Kind = "DNS_RESOLUTION"
	KindTunnelStart          Kind = "TUNNEL_START"
	KindLocalPortUnreachable Kind = "LOCAL_PORT_UNREACHABLE"
	KindTunnelDown           Kind = "TUNNEL_DOWN"
	KindPoolConnect          Kind = "POOL_CONNECT"
	KindQueryExecution       Kind = "QUERY_EXECUTION"
)

// BridgeError - error raised while establishing the tunnel or the pool behind it.
type BridgeError struct {
	kind    Kind
	message string
	err     error
}

// NewBridgeError - BridgeError constructor.
func NewBridgeError(kind Kind, msg string, args ...any) *BridgeError {
	return &BridgeError{kind: kind, message: fmt.Sprintf(msg, args...)}
}

// NewBridgeErrorWrapper - BridgeError constructor for wrapper of another error.
func NewBridgeErrorWrapper(kind Kind, err error, msg string, args ...any) *BridgeError {
	return &BridgeError{kind: kind, message: fmt.Sprintf(msg, args...), err: err}
}

func (be *BridgeError) Error() string {
	if be.err != nil {
		return fmt.Sprintf("%s: %s: %v", be.kind, be.message, be.err)
	}

	return fmt.Sprintf("%s: %s", be.kind, be.message)
}

func (be *BridgeError) Unwrap() error {
	return be.err
}

// Kind returns the failure kind.
func (be *BridgeError) Kind() Kind {
	return be.kind
}

// Message returns the message without the kind prefix and the wrapped cause.
func (be *BridgeError) Message() string {
	return be.message
}

// KindOf returns the Kind of the first BridgeError in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.kind
	}

	return KindUnknown
}

// IsKind reports whether err carries a BridgeError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
